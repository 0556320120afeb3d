package citation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/studyhall-ai/studyhall/rerank"
)

func sampleRanked() []rerank.RankedResult {
	return []rerank.RankedResult{
		{
			ChunkID:     "c1",
			Content:     "Dijkstra's algorithm computes shortest paths. It needs non-negative weights.",
			RerankScore: 0.91,
			Metadata:    map[string]any{"document_title": "Graphs", "document_url": "https://example.edu/graphs"},
		},
		{
			ChunkID:     "c2",
			Content:     "Bellman-Ford handles negative weights at higher cost.",
			RerankScore: 0.74,
			Metadata:    map[string]any{"document_title": "Graphs"},
		},
	}
}

func TestCreate(t *testing.T) {
	citations := Create(sampleRanked(), 300)
	if len(citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(citations))
	}
	if citations[0].ID != "[1]" || citations[1].ID != "[2]" {
		t.Errorf("ids not 1-origin contiguous: %s, %s", citations[0].ID, citations[1].ID)
	}
	if citations[0].DocumentTitle != "Graphs" || citations[0].DocumentURL != "https://example.edu/graphs" {
		t.Errorf("document fields not carried: %+v", citations[0])
	}
	if citations[0].RelevanceScore != 0.91 {
		t.Errorf("relevance score not carried: %f", citations[0].RelevanceScore)
	}
}

func TestSnippet(t *testing.T) {
	t.Run("short content unchanged", func(t *testing.T) {
		if got := Snippet("short text", 300); got != "short text" {
			t.Errorf("unexpected change: %q", got)
		}
	})

	t.Run("cuts at sentence boundary", func(t *testing.T) {
		content := "First sentence here. Second sentence is much longer and will not fit in the window."
		got := Snippet(content, 40)
		if got != "First sentence here." {
			t.Errorf("expected sentence cut, got %q", got)
		}
	})

	t.Run("falls back to word boundary with ellipsis", func(t *testing.T) {
		content := "no sentence terminators anywhere in this long run of words"
		got := Snippet(content, 30)
		if !strings.HasSuffix(got, "...") {
			t.Errorf("expected ellipsis, got %q", got)
		}
		if len(got) > 33 {
			t.Errorf("snippet too long: %d chars", len(got))
		}
	})

	t.Run("never splits a multibyte rune", func(t *testing.T) {
		content := strings.Repeat("é", 40)
		for limit := 1; limit < 12; limit++ {
			got := Snippet(content, limit)
			if !utf8.ValidString(got) {
				t.Errorf("limit %d produced invalid UTF-8: %q", limit, got)
			}
		}

		mixed := "Über die Lösung: die Erklärung der Primärliteratur folgt später im Anhang"
		got := Snippet(mixed, 21)
		if !utf8.ValidString(got) {
			t.Errorf("mixed content produced invalid UTF-8: %q", got)
		}
	})
}

func TestFilterUsed(t *testing.T) {
	citations := Create(sampleRanked(), 300)
	answer := "Use Dijkstra [1] when weights are non-negative."
	used := FilterUsed(citations, answer)
	if len(used) != 1 || used[0].ChunkID != "c1" {
		t.Errorf("expected only [1] kept, got %v", used)
	}
}

func TestRenumber(t *testing.T) {
	t.Run("compresses to first-appearance order", func(t *testing.T) {
		citations := []Citation{
			{ID: "[1]", ChunkID: "c1"},
			{ID: "[2]", ChunkID: "c2"},
			{ID: "[3]", ChunkID: "c3"},
		}
		answer := "See [3] and then [1]. Again [3]."
		rewritten, ordered := Renumber(answer, citations)
		if rewritten != "See [1] and then [2]. Again [1]." {
			t.Errorf("unexpected rewrite: %q", rewritten)
		}
		if len(ordered) != 2 || ordered[0].ChunkID != "c3" || ordered[1].ChunkID != "c1" {
			t.Errorf("unexpected citation order: %v", ordered)
		}
	})

	t.Run("unknown markers left untouched", func(t *testing.T) {
		citations := []Citation{{ID: "[1]", ChunkID: "c1"}}
		answer := "Known [1] and invented [7]."
		rewritten, ordered := Renumber(answer, citations)
		if !strings.Contains(rewritten, "[7]") {
			t.Errorf("unknown marker rewritten: %q", rewritten)
		}
		if len(ordered) != 1 {
			t.Errorf("unknown marker must not produce a citation: %v", ordered)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		citations := []Citation{
			{ID: "[1]", ChunkID: "c1"},
			{ID: "[2]", ChunkID: "c2"},
		}
		answer := "See [2] then [1]."
		once, onceCits := Renumber(answer, citations)
		twice, twiceCits := Renumber(once, onceCits)
		if once != twice {
			t.Errorf("not idempotent: %q vs %q", once, twice)
		}
		if len(onceCits) != len(twiceCits) {
			t.Errorf("citation list changed on second pass")
		}
	})
}

func TestValidate(t *testing.T) {
	citations := []Citation{{ID: "[1]"}, {ID: "[2]"}}

	v := Validate("All claims cite [1] and [2].", citations)
	if !v.Valid {
		t.Errorf("expected valid, got missing %v", v.Missing)
	}

	v = Validate("Cites [1] and unknown [9], twice [9].", citations)
	if v.Valid {
		t.Error("expected invalid")
	}
	if len(v.Missing) != 1 || v.Missing[0] != "[9]" {
		t.Errorf("expected deduplicated missing [9], got %v", v.Missing)
	}
}

func TestMarkerIDs(t *testing.T) {
	ids := MarkerIDs("start [2] middle [1] repeat [2] end")
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 1 {
		t.Errorf("expected [2 1], got %v", ids)
	}
	if got := MarkerIDs("no markers here"); len(got) != 0 {
		t.Errorf("expected none, got %v", got)
	}
}
