// Package metrics records one observability row per query, covering stage
// timings, retrieval score distributions and the final outcome.
package metrics

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/studyhall-ai/studyhall/retrieval"
)

// QueryMetrics is the per-query row. One row is recorded per query whether it
// completes, degrades or fails; absent measurements stay at their zero value.
type QueryMetrics struct {
	QueryID   string    `json:"query_id"`
	StartedAt time.Time `json:"started_at"`

	// Stage durations.
	EmbeddingDuration    time.Duration `json:"embedding_duration"`
	VectorSearchDuration time.Duration `json:"vector_search_duration"`
	GraphSearchDuration  time.Duration `json:"graph_search_duration"`
	FusionDuration       time.Duration `json:"fusion_duration"`
	RerankDuration       time.Duration `json:"rerank_duration"`
	GenerationDuration   time.Duration `json:"generation_duration"`
	TotalDuration        time.Duration `json:"total_duration"`

	// Retrieval shape.
	Strategy          retrieval.Strategy `json:"strategy"`
	VectorResultCount int                `json:"vector_result_count"`
	GraphResultCount  int                `json:"graph_result_count"`
	OverlapCount      int                `json:"overlap_count"`
	FusedResultCount  int                `json:"fused_result_count"`

	// Score distribution over the reranked results.
	TopScore    float64 `json:"top_score"`
	AvgScore    float64 `json:"avg_score"`
	MinScore    float64 `json:"min_score"`
	ScoreStdDev float64 `json:"score_std_dev"`

	ConfidenceThresholdMet bool `json:"confidence_threshold_met"`
	FinalContextTokens     int  `json:"final_context_tokens"`
	CitationCount          int  `json:"citation_count"`
	AnswerChars            int  `json:"answer_chars"`

	// Failure detail. A per-side retrieval error does not fail the query.
	VectorError       string `json:"vector_error,omitempty"`
	GraphError        string `json:"graph_error,omitempty"`
	RerankError       string `json:"rerank_error,omitempty"`
	GenerationError   string `json:"generation_error,omitempty"`
	CancellationCause string `json:"cancellation_cause,omitempty"`
}

// NewQueryMetrics starts a row for a fresh query.
func NewQueryMetrics() QueryMetrics {
	return QueryMetrics{
		QueryID:   uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// ObserveScores fills the score-distribution fields from the reranked scores.
func (m *QueryMetrics) ObserveScores(scores []float64) {
	if len(scores) == 0 {
		return
	}
	top, min, sum := scores[0], scores[0], 0.0
	for _, s := range scores {
		if s > top {
			top = s
		}
		if s < min {
			min = s
		}
		sum += s
	}
	avg := sum / float64(len(scores))
	variance := 0.0
	for _, s := range scores {
		d := s - avg
		variance += d * d
	}
	m.TopScore = top
	m.MinScore = min
	m.AvgScore = avg
	m.ScoreStdDev = math.Sqrt(variance / float64(len(scores)))
}

// Sink persists query rows. Implementations live under contrib/metricsink.
type Sink interface {
	Write(ctx context.Context, row QueryMetrics) error
}
