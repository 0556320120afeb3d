package fusion

import (
	"math"
	"testing"

	"github.com/studyhall-ai/studyhall/retrieval"
)

func vecResult(id string) retrieval.Result {
	return retrieval.Result{ChunkID: id, Content: "content " + id, Source: retrieval.SourceVector}
}

func graphResult(id string) retrieval.Result {
	return retrieval.Result{ChunkID: id, Content: "content " + id, Source: retrieval.SourceGraph}
}

func TestFuse(t *testing.T) {
	t.Run("single list preserves order with rrf scores", func(t *testing.T) {
		fused := Fuse(60, []retrieval.Result{vecResult("a"), vecResult("b"), vecResult("c")})
		if len(fused) != 3 {
			t.Fatalf("expected 3 results, got %d", len(fused))
		}
		if fused[0].ChunkID != "a" || fused[1].ChunkID != "b" || fused[2].ChunkID != "c" {
			t.Errorf("order not preserved: %v", fused)
		}
		want := 1.0 / 61.0
		if math.Abs(fused[0].FusedScore-want) > 1e-12 {
			t.Errorf("expected top score %f, got %f", want, fused[0].FusedScore)
		}
	})

	t.Run("chunk in both lists outranks single-source chunks", func(t *testing.T) {
		vector := []retrieval.Result{vecResult("solo-v"), vecResult("both")}
		graph := []retrieval.Result{graphResult("solo-g"), graphResult("both")}

		fused := Fuse(60, vector, graph)
		if fused[0].ChunkID != "both" {
			t.Fatalf("expected overlapping chunk first, got %s", fused[0].ChunkID)
		}
		want := 1.0/62.0 + 1.0/62.0
		if math.Abs(fused[0].FusedScore-want) > 1e-12 {
			t.Errorf("expected fused score %f, got %f", want, fused[0].FusedScore)
		}
		if fused[0].VectorRank != 2 || fused[0].GraphRank != 2 {
			t.Errorf("expected both ranks recorded, got vector=%d graph=%d",
				fused[0].VectorRank, fused[0].GraphRank)
		}
	})

	t.Run("equal scores break ties on chunk id", func(t *testing.T) {
		fused := Fuse(60, []retrieval.Result{vecResult("b")}, []retrieval.Result{graphResult("a")})
		if fused[0].ChunkID != "a" || fused[1].ChunkID != "b" {
			t.Errorf("expected lexicographic tiebreak, got %s then %s", fused[0].ChunkID, fused[1].ChunkID)
		}
	})

	t.Run("zero k falls back to default", func(t *testing.T) {
		fused := Fuse(0, []retrieval.Result{vecResult("a")})
		want := 1.0 / float64(DefaultK+1)
		if math.Abs(fused[0].FusedScore-want) > 1e-12 {
			t.Errorf("expected default-k score %f, got %f", want, fused[0].FusedScore)
		}
	})

	t.Run("empty graph leg keeps content from vector leg", func(t *testing.T) {
		withContent := vecResult("a")
		fused := Fuse(60, []retrieval.Result{withContent}, nil)
		if fused[0].Content != withContent.Content {
			t.Errorf("content lost in fusion: %q", fused[0].Content)
		}
	})
}

func TestOverlapCount(t *testing.T) {
	vector := []retrieval.Result{vecResult("a"), vecResult("b")}
	graph := []retrieval.Result{graphResult("b"), graphResult("c")}
	fused := Fuse(60, vector, graph)

	if got := OverlapCount(fused); got != 1 {
		t.Errorf("expected overlap 1, got %d", got)
	}
	if got := OverlapCount(Fuse(60, vector, nil)); got != 0 {
		t.Errorf("expected overlap 0 for single leg, got %d", got)
	}
}
