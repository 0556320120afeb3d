package retrieval

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/studyhall-ai/studyhall/pkg/logging"
)

// Default relationship allow-list for concept traversal.
var DefaultRelationshipTypes = []string{
	"PREREQUISITE", "RELATED_TO", "COMPARED_TO", "PART_OF", "DISCUSSES",
}

// ConceptMatch is a concept node matched while seeding the traversal.
type ConceptMatch struct {
	Name  string
	Score float64
}

// ChunkMention is a chunk reached through DISCUSSES edges, together with the
// concepts it discusses.
type ChunkMention struct {
	ChunkID  string
	Content  string
	Metadata map[string]any
	Concepts []string
}

// GraphStore is the narrow contract over the property-graph collaborator. All
// implementations must issue parameterized queries; user input never reaches
// a query string directly.
type GraphStore interface {
	// FindConcepts matches concept nodes against the fulltext name index.
	FindConcepts(ctx context.Context, query string, limit int) ([]ConceptMatch, error)
	// MatchConceptsByKeyword is the fallback seed search on lowercase name
	// containment.
	MatchConceptsByKeyword(ctx context.Context, keywords []string, limit int) ([]ConceptMatch, error)
	// TraverseRelated walks from the seed concepts along the allow-listed
	// relationship types and reports each reached concept with the minimum
	// depth at which it was reached. Seeds appear at depth 0.
	TraverseRelated(ctx context.Context, seeds []string, relationshipTypes []string, maxDepth int) (map[string]int, error)
	// ChunksDiscussing gathers chunks attached to the reached concepts via
	// DISCUSSES edges.
	ChunksDiscussing(ctx context.Context, concepts []string) ([]ChunkMention, error)
	Health(ctx context.Context) bool
}

// GraphConfig holds the recognized graph retrieval options.
type GraphConfig struct {
	MaxDepth          int
	TopK              int
	RelationshipTypes []string
	UseFulltextSearch bool
	SeedLimit         int
}

// DefaultGraphConfig returns the graph retriever defaults.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		MaxDepth:          2,
		TopK:              20,
		RelationshipTypes: DefaultRelationshipTypes,
		UseFulltextSearch: true,
		SeedLimit:         5,
	}
}

// GraphRetriever matches the query to concept nodes, traverses typed
// relationships up to a bounded depth, and scores chunks by inverse depth of
// the concepts they discuss. Scores land in (0, 1] after normalization.
type GraphRetriever struct {
	store  GraphStore
	cfg    GraphConfig
	logger *slog.Logger
}

// NewGraphRetriever wires a graph store into a retriever.
func NewGraphRetriever(store GraphStore, cfg GraphConfig) *GraphRetriever {
	def := DefaultGraphConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if len(cfg.RelationshipTypes) == 0 {
		cfg.RelationshipTypes = def.RelationshipTypes
	}
	if cfg.SeedLimit <= 0 {
		cfg.SeedLimit = def.SeedLimit
	}
	return &GraphRetriever{
		store:  store,
		cfg:    cfg,
		logger: logging.WithComponent("graph_retriever"),
	}
}

// Search implements the Retriever contract.
func (r *GraphRetriever) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	seeds, err := r.seedConcepts(ctx, query)
	if err != nil {
		return nil, &BackendError{Backend: "graph", Err: err}
	}
	if len(seeds) == 0 {
		r.logger.Debug("no seed concepts matched", "query_len", len(query))
		return nil, nil
	}

	depths, err := r.store.TraverseRelated(ctx, seeds, r.cfg.RelationshipTypes, r.cfg.MaxDepth)
	if err != nil {
		return nil, &BackendError{Backend: "graph", Err: err}
	}
	if len(depths) == 0 {
		return nil, nil
	}

	reached := make([]string, 0, len(depths))
	for name := range depths {
		reached = append(reached, name)
	}
	mentions, err := r.store.ChunksDiscussing(ctx, reached)
	if err != nil {
		return nil, &BackendError{Backend: "graph", Err: err}
	}

	results := scoreMentions(mentions, depths)
	if len(results) > topK {
		results = results[:topK]
	}
	r.logger.Debug("graph search complete",
		"seeds", len(seeds), "reached_concepts", len(depths), "hits", len(results))
	return results, nil
}

func (r *GraphRetriever) seedConcepts(ctx context.Context, query string) ([]string, error) {
	if r.cfg.UseFulltextSearch {
		matches, err := r.store.FindConcepts(ctx, query, r.cfg.SeedLimit)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return conceptNames(matches), nil
		}
	}
	keywords := KeywordTokens(query, r.cfg.SeedLimit)
	if len(keywords) == 0 {
		return nil, nil
	}
	matches, err := r.store.MatchConceptsByKeyword(ctx, keywords, r.cfg.SeedLimit)
	if err != nil {
		return nil, err
	}
	return conceptNames(matches), nil
}

func conceptNames(matches []ConceptMatch) []string {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Name)
	}
	return names
}

// KeywordTokens extracts lowercase fallback keywords: tokens of at least four
// characters, capped at limit.
func KeywordTokens(query string, limit int) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, limit)
	for _, tok := range fields {
		tok = strings.Trim(tok, `.,;:!?"'()[]{}`)
		if len(tok) < 4 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == limit {
			break
		}
	}
	return out
}

// scoreMentions sums 1/(1+depth) over the distinct reached concepts each
// chunk discusses, then squashes the aggregate through a sigmoid centred at 1
// so scores land in (0, 1).
func scoreMentions(mentions []ChunkMention, depths map[string]int) []Result {
	results := make([]Result, 0, len(mentions))
	for _, m := range mentions {
		var agg float64
		counted := make(map[string]struct{}, len(m.Concepts))
		for _, concept := range m.Concepts {
			depth, ok := depths[concept]
			if !ok {
				continue
			}
			if _, dup := counted[concept]; dup {
				continue
			}
			counted[concept] = struct{}{}
			agg += 1.0 / float64(1+depth)
		}
		if agg == 0 {
			continue
		}
		results = append(results, Result{
			ChunkID:  m.ChunkID,
			Content:  m.Content,
			Score:    sigmoid(agg - 1),
			Source:   SourceGraph,
			Metadata: m.Metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
