package retrieval

import (
	"context"
	"fmt"

	"github.com/studyhall-ai/studyhall/document"
)

// Source identifies which first-stage backend produced a result.
type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
)

// Strategy records which sources actually produced results for a query.
type Strategy string

const (
	StrategyHybrid     Strategy = "hybrid"
	StrategyVectorOnly Strategy = "vector_only"
	StrategyGraphOnly  Strategy = "graph_only"
	StrategyDegraded   Strategy = "degraded"
)

// StrategyFor maps the per-source outcome onto a Strategy tag.
func StrategyFor(vectorHits, graphHits int) Strategy {
	switch {
	case vectorHits > 0 && graphHits > 0:
		return StrategyHybrid
	case vectorHits > 0:
		return StrategyVectorOnly
	case graphHits > 0:
		return StrategyGraphOnly
	default:
		return StrategyDegraded
	}
}

// Result is a single ranked hit from one retrieval backend. Score semantics
// differ by source (cosine similarity vs. normalized depth aggregate) and are
// never compared across sources; fusion operates on ranks.
type Result struct {
	ChunkID  string         `json:"chunk_id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Source   Source         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk reconstitutes the structural document fields from the result metadata.
func (r Result) Chunk() document.Chunk {
	return document.ChunkFromMetadata(r.ChunkID, r.Content, r.Metadata)
}

// Retriever is the contract both first-stage backends satisfy.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]Result, error)
}

// BackendError wraps a transport or backend failure from a retrieval leg.
// Callers treat it as an empty result set and degrade the strategy tag.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("retrieval backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Embedder converts query text into dense vectors. The dimension is fixed per
// model; callers must not assume a specific value.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
