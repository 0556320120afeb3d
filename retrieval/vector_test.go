package retrieval

import (
	"context"
	"errors"
	"testing"
)

type stubIndex struct {
	hits       []VectorHit
	err        error
	collection string
	filter     *ScalarFilter
	k          int
}

func (s *stubIndex) Query(ctx context.Context, collection string, vector []float32, k int, filter *ScalarFilter, outputFields []string) ([]VectorHit, error) {
	s.collection = collection
	s.filter = filter
	s.k = k
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

func (s *stubIndex) Health(ctx context.Context) bool { return s.err == nil }

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func TestVectorRetriever(t *testing.T) {
	t.Run("maps hits to results", func(t *testing.T) {
		index := &stubIndex{hits: []VectorHit{
			{ID: "c1", Score: 0.93, Fields: map[string]any{
				"content":        "chunk text",
				"document_title": "Notes",
			}},
		}}
		r := NewVectorRetriever(index, &stubEmbedder{}, DefaultVectorConfig())

		results, err := r.Search(context.Background(), "question", 5)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		res := results[0]
		if res.ChunkID != "c1" || res.Content != "chunk text" || res.Source != SourceVector {
			t.Errorf("result mapping wrong: %+v", res)
		}
		if _, ok := res.Metadata["content"]; ok {
			t.Error("content must not leak into metadata")
		}
		if res.Metadata["document_title"] != "Notes" {
			t.Error("payload field lost")
		}
		if index.collection != "chunks" || index.k != 5 {
			t.Errorf("query params wrong: collection=%s k=%d", index.collection, index.k)
		}
	})

	t.Run("topic filter reaches the index", func(t *testing.T) {
		index := &stubIndex{}
		r := NewVectorRetriever(index, &stubEmbedder{}, DefaultVectorConfig())

		if _, err := r.SearchFiltered(context.Background(), "q", 5, "sorting"); err != nil {
			t.Fatalf("filtered search failed: %v", err)
		}
		if index.filter == nil || index.filter.Field != "topic_tag" || index.filter.Value != "sorting" {
			t.Errorf("filter not propagated: %+v", index.filter)
		}
	})

	t.Run("embedding failure wraps as backend error", func(t *testing.T) {
		r := NewVectorRetriever(&stubIndex{}, &stubEmbedder{err: errors.New("api down")}, DefaultVectorConfig())
		_, err := r.Search(context.Background(), "q", 5)
		var be *BackendError
		if !errors.As(err, &be) || be.Backend != "embedding" {
			t.Errorf("expected embedding backend error, got %v", err)
		}
	})

	t.Run("index failure wraps as backend error", func(t *testing.T) {
		index := &stubIndex{err: errors.New("timeout")}
		r := NewVectorRetriever(index, &stubEmbedder{}, DefaultVectorConfig())
		_, err := r.Search(context.Background(), "q", 5)
		var be *BackendError
		if !errors.As(err, &be) || be.Backend != "vector" {
			t.Errorf("expected vector backend error, got %v", err)
		}
	})

	t.Run("json metadata payload expands", func(t *testing.T) {
		index := &stubIndex{hits: []VectorHit{
			{ID: "c1", Score: 0.5, Fields: map[string]any{
				"content":  "text",
				"metadata": `{"chunk_index": 3, "topic_tag": "graphs"}`,
			}},
		}}
		r := NewVectorRetriever(index, &stubEmbedder{}, DefaultVectorConfig())
		results, err := r.Search(context.Background(), "q", 5)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if results[0].Metadata["topic_tag"] != "graphs" {
			t.Errorf("nested metadata not expanded: %+v", results[0].Metadata)
		}
	})
}

func TestStrategyFor(t *testing.T) {
	cases := []struct {
		vector, graph int
		want          Strategy
	}{
		{3, 2, StrategyHybrid},
		{3, 0, StrategyVectorOnly},
		{0, 2, StrategyGraphOnly},
		{0, 0, StrategyDegraded},
	}
	for _, tc := range cases {
		if got := StrategyFor(tc.vector, tc.graph); got != tc.want {
			t.Errorf("StrategyFor(%d, %d) = %s, want %s", tc.vector, tc.graph, got, tc.want)
		}
	}
}
