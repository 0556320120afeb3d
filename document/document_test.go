package document

import (
	"reflect"
	"testing"
)

func TestMetadataRoundTrip(t *testing.T) {
	c := Chunk{
		ID:            "c1",
		Content:       "body",
		DocumentID:    "d1",
		DocumentTitle: "Lecture 3",
		SectionHeader: "Recurrences",
		ChunkIndex:    2,
		TotalChunks:   7,
		TokenCount:    180,
		HasFormula:    true,
		TopicTag:      "complexity",
	}

	got := ChunkFromMetadata(c.ID, c.Content, c.Metadata())
	if !reflect.DeepEqual(got, c) {
		t.Errorf("round trip changed the chunk:\n got %+v\nwant %+v", got, c)
	}
}

func TestMetadataOmitsEmptyFields(t *testing.T) {
	m := Chunk{ID: "c1", DocumentID: "d1", ChunkIndex: 0, TotalChunks: 1}.Metadata()
	for _, key := range []string{"document_title", "document_url", "section_header", "topic_tag", "token_count", "has_code", "has_formula", "has_table"} {
		if _, ok := m[key]; ok {
			t.Errorf("empty field %q must not appear in metadata", key)
		}
	}
	if m["document_id"] != "d1" {
		t.Error("document_id missing")
	}
}

func TestChunkFromMetadataDecoding(t *testing.T) {
	t.Run("json numbers arrive as float64", func(t *testing.T) {
		c := ChunkFromMetadata("c1", "x", map[string]any{
			"chunk_index":  float64(4),
			"total_chunks": float64(9),
			"token_count":  int64(120),
		})
		if c.ChunkIndex != 4 || c.TotalChunks != 9 || c.TokenCount != 120 {
			t.Errorf("numeric decode wrong: %+v", c)
		}
	})

	t.Run("wrong types fall back to zero values", func(t *testing.T) {
		c := ChunkFromMetadata("c1", "x", map[string]any{
			"document_title": 42,
			"chunk_index":    "three",
			"has_code":       "yes",
		})
		if c.DocumentTitle != "" || c.ChunkIndex != 0 || c.HasCode {
			t.Errorf("mistyped fields must decode to zero values: %+v", c)
		}
	})

	t.Run("nil metadata keeps id and content", func(t *testing.T) {
		c := ChunkFromMetadata("c1", "body", nil)
		if c.ID != "c1" || c.Content != "body" {
			t.Errorf("unexpected chunk %+v", c)
		}
	})
}
