package retrieval

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
)

type stubGraphStore struct {
	fulltext    []ConceptMatch
	fulltextErr error
	keyword     []ConceptMatch
	depths      map[string]int
	mentions    []ChunkMention

	fulltextCalls int
	keywordCalls  int
	seenSeeds     []string
	seenKeywords  []string
	seenMaxDepth  int
}

func (s *stubGraphStore) FindConcepts(ctx context.Context, query string, limit int) ([]ConceptMatch, error) {
	s.fulltextCalls++
	if s.fulltextErr != nil {
		return nil, s.fulltextErr
	}
	return s.fulltext, nil
}

func (s *stubGraphStore) MatchConceptsByKeyword(ctx context.Context, keywords []string, limit int) ([]ConceptMatch, error) {
	s.keywordCalls++
	s.seenKeywords = keywords
	return s.keyword, nil
}

func (s *stubGraphStore) TraverseRelated(ctx context.Context, seeds []string, relationshipTypes []string, maxDepth int) (map[string]int, error) {
	s.seenSeeds = seeds
	s.seenMaxDepth = maxDepth
	return s.depths, nil
}

func (s *stubGraphStore) ChunksDiscussing(ctx context.Context, concepts []string) ([]ChunkMention, error) {
	return s.mentions, nil
}

func (s *stubGraphStore) Health(ctx context.Context) bool { return true }

func TestGraphRetriever(t *testing.T) {
	t.Run("scores chunks by inverse depth", func(t *testing.T) {
		store := &stubGraphStore{
			fulltext: []ConceptMatch{{Name: "Quicksort", Score: 2.1}},
			depths:   map[string]int{"Quicksort": 0, "Partitioning": 1},
			mentions: []ChunkMention{
				{ChunkID: "both", Content: "a", Concepts: []string{"Quicksort", "Partitioning"}},
				{ChunkID: "deep", Content: "b", Concepts: []string{"Partitioning"}},
			},
		}
		r := NewGraphRetriever(store, DefaultGraphConfig())

		results, err := r.Search(context.Background(), "explain quicksort", 10)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		if results[0].ChunkID != "both" {
			t.Errorf("chunk discussing more concepts must rank first, got %s", results[0].ChunkID)
		}
		// 1/(1+0) + 1/(1+1) = 1.5, squashed through sigmoid(0.5).
		want := 1.0 / (1.0 + math.Exp(-0.5))
		if math.Abs(results[0].Score-want) > 1e-9 {
			t.Errorf("score = %f, want %f", results[0].Score, want)
		}
		if results[0].Source != SourceGraph {
			t.Errorf("source = %s, want %s", results[0].Source, SourceGraph)
		}
		if store.seenMaxDepth != 2 {
			t.Errorf("traversal depth = %d, want default 2", store.seenMaxDepth)
		}
	})

	t.Run("duplicate concept mentions count once", func(t *testing.T) {
		store := &stubGraphStore{
			fulltext: []ConceptMatch{{Name: "Heaps"}},
			depths:   map[string]int{"Heaps": 0},
			mentions: []ChunkMention{
				{ChunkID: "c1", Concepts: []string{"Heaps", "Heaps", "Heaps"}},
			},
		}
		r := NewGraphRetriever(store, DefaultGraphConfig())

		results, err := r.Search(context.Background(), "heaps", 10)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		want := 1.0 / (1.0 + math.Exp(0))
		if math.Abs(results[0].Score-want) > 1e-9 {
			t.Errorf("repeated concept inflated the score: %f, want %f", results[0].Score, want)
		}
	})

	t.Run("chunks with no reached concepts drop out", func(t *testing.T) {
		store := &stubGraphStore{
			fulltext: []ConceptMatch{{Name: "Trees"}},
			depths:   map[string]int{"Trees": 0},
			mentions: []ChunkMention{
				{ChunkID: "kept", Concepts: []string{"Trees"}},
				{ChunkID: "stray", Concepts: []string{"Unrelated"}},
			},
		}
		r := NewGraphRetriever(store, DefaultGraphConfig())

		results, err := r.Search(context.Background(), "trees", 10)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if len(results) != 1 || results[0].ChunkID != "kept" {
			t.Errorf("expected only the reachable chunk, got %+v", results)
		}
	})

	t.Run("falls back to keyword seeding", func(t *testing.T) {
		store := &stubGraphStore{
			fulltext: nil,
			keyword:  []ConceptMatch{{Name: "Recursion"}},
			depths:   map[string]int{"Recursion": 0},
			mentions: []ChunkMention{{ChunkID: "c1", Concepts: []string{"Recursion"}}},
		}
		r := NewGraphRetriever(store, DefaultGraphConfig())

		results, err := r.Search(context.Background(), "what is recursion?", 10)
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if store.fulltextCalls != 1 || store.keywordCalls != 1 {
			t.Errorf("expected fulltext then keyword, got %d/%d calls", store.fulltextCalls, store.keywordCalls)
		}
		if len(results) != 1 {
			t.Errorf("fallback seeding produced no results")
		}
		if !reflect.DeepEqual(store.seenSeeds, []string{"Recursion"}) {
			t.Errorf("traversal seeds = %v", store.seenSeeds)
		}
	})

	t.Run("fulltext error is a backend error", func(t *testing.T) {
		store := &stubGraphStore{fulltextErr: errors.New("index missing")}
		r := NewGraphRetriever(store, DefaultGraphConfig())

		_, err := r.Search(context.Background(), "graphs", 10)
		var be *BackendError
		if !errors.As(err, &be) || be.Backend != "graph" {
			t.Errorf("expected graph backend error, got %v", err)
		}
	})

	t.Run("no seeds means empty result, not an error", func(t *testing.T) {
		store := &stubGraphStore{}
		r := NewGraphRetriever(store, DefaultGraphConfig())

		results, err := r.Search(context.Background(), "???", 10)
		if err != nil {
			t.Fatalf("expected graceful empty result, got %v", err)
		}
		if len(results) != 0 {
			t.Errorf("expected no results, got %d", len(results))
		}
	})
}

func TestKeywordTokens(t *testing.T) {
	got := KeywordTokens("How does the Quicksort algorithm sort, sort?", 3)
	want := []string{"does", "quicksort", "algorithm"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("KeywordTokens = %v, want %v", got, want)
	}

	if got := KeywordTokens("a an it", 5); len(got) != 0 {
		t.Errorf("short tokens must be dropped, got %v", got)
	}
}
