// Package rerank scores (query, candidate) pairs with an external
// cross-encoder and derives the confidence classification for the answer.
package rerank

import (
	"context"
	"fmt"
	"sort"

	"github.com/studyhall-ai/studyhall/fusion"
)

// DefaultTopN is how many candidates survive reranking.
const DefaultTopN = 5

// Score is one scored index from the cross-encoder collaborator. The
// collaborator preserves the subset of indices it scored.
type Score struct {
	Index int
	Score float64
}

// Scorer is the narrow contract over the cross-encoder collaborator. Scores
// are in [0, 1].
type Scorer interface {
	Rerank(ctx context.Context, query string, documents []string) ([]Score, error)
	Health(ctx context.Context) bool
}

// Item is one reranked document: its index into the input list, its content,
// and whether its score cleared the confidence threshold. Items that do not
// clear the threshold are kept anyway; the classifier handles the
// insufficient-evidence decision separately.
type Item struct {
	Index          int     `json:"index"`
	Content        string  `json:"content"`
	Score          float64 `json:"score"`
	AboveThreshold bool    `json:"above_threshold"`
}

// RankedResult is the canonical best-evidence record the rest of the pipeline
// consumes. RerankScore is monotone non-increasing over a ranked list.
type RankedResult struct {
	ChunkID            string         `json:"chunk_id"`
	Content            string         `json:"content"`
	RerankScore        float64        `json:"rerank_score"`
	OriginalFusedScore float64        `json:"original_fused_score"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Reranker calls the cross-encoder, sorts descending, truncates to topN, and
// marks each survivor against the confidence threshold.
type Reranker struct {
	scorer    Scorer
	topN      int
	threshold float64
}

// New builds a Reranker. Zero values fall back to topN=5, threshold=0.6.
func New(scorer Scorer, topN int, threshold float64) *Reranker {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Reranker{scorer: scorer, topN: topN, threshold: threshold}
}

// Rerank scores the documents against the query. Backend errors propagate;
// the caller decides whether to degrade.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]Item, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	scores, err := r.scorer.Rerank(ctx, query, documents)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	items := make([]Item, 0, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(documents) {
			continue
		}
		items = append(items, Item{
			Index:          s.Index,
			Content:        documents[s.Index],
			Score:          s.Score,
			AboveThreshold: s.Score >= r.threshold,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > r.topN {
		items = items[:r.topN]
	}
	return items, nil
}

// RankFused reranks fused results by content and maps the survivors back to
// RankedResults by index.
func (r *Reranker) RankFused(ctx context.Context, query string, fused []fusion.Result) ([]RankedResult, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	documents := make([]string, len(fused))
	for i, f := range fused {
		documents[i] = f.Content
	}
	items, err := r.Rerank(ctx, query, documents)
	if err != nil {
		return nil, err
	}
	ranked := make([]RankedResult, 0, len(items))
	for _, item := range items {
		src := fused[item.Index]
		ranked = append(ranked, RankedResult{
			ChunkID:            src.ChunkID,
			Content:            src.Content,
			RerankScore:        item.Score,
			OriginalFusedScore: src.FusedScore,
			Metadata:           src.Metadata,
		})
	}
	return ranked, nil
}

// TopScore returns the leading rerank score, or 0 for an empty list.
func TopScore(ranked []RankedResult) float64 {
	if len(ranked) == 0 {
		return 0
	}
	return ranked[0].RerankScore
}
