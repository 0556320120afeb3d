// Package fusion merges ranked retrieval lists with Reciprocal Rank Fusion.
package fusion

import (
	"sort"

	"github.com/studyhall-ai/studyhall/retrieval"
)

// DefaultK is the standard RRF constant balancing rank positions.
const DefaultK = 60

// Result is a chunk after fusion. FusedScore is the sum of the RRF
// contributions from each source list the chunk appeared in; either rank may
// be absent (zero means the chunk did not appear under that source).
type Result struct {
	ChunkID    string         `json:"chunk_id"`
	Content    string         `json:"content"`
	FusedScore float64        `json:"fused_score"`
	VectorRank int            `json:"vector_rank,omitempty"`
	GraphRank  int            `json:"graph_rank,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Fuse merges the ranked lists: each result at 1-origin rank r contributes
// 1/(k+r) to its chunk's fused score. Identity is the chunk ID. The output is
// sorted by fused score descending, ties broken lexicographically on chunk ID
// so fusion is deterministic given the same inputs.
func Fuse(k int, lists ...[]retrieval.Result) []Result {
	if k <= 0 {
		k = DefaultK
	}

	order := make([]string, 0)
	fused := make(map[string]*Result)

	for _, list := range lists {
		for i, item := range list {
			rank := i + 1
			entry, ok := fused[item.ChunkID]
			if !ok {
				entry = &Result{
					ChunkID:  item.ChunkID,
					Content:  item.Content,
					Metadata: item.Metadata,
				}
				fused[item.ChunkID] = entry
				order = append(order, item.ChunkID)
			}
			entry.FusedScore += 1.0 / float64(k+rank)
			switch item.Source {
			case retrieval.SourceVector:
				entry.VectorRank = rank
			case retrieval.SourceGraph:
				entry.GraphRank = rank
			}
			if entry.Content == "" {
				entry.Content = item.Content
			}
		}
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		out = append(out, *fused[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// OverlapCount reports how many fused results carried ranks from at least two
// sources.
func OverlapCount(results []Result) int {
	n := 0
	for _, r := range results {
		if r.VectorRank > 0 && r.GraphRank > 0 {
			n++
		}
	}
	return n
}
