package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/studyhall-ai/studyhall/pkg/logging"
)

// VectorHit is one scored record returned by a vector index query.
type VectorHit struct {
	ID     string
	Score  float64
	Fields map[string]any
}

// ScalarFilter is an equality filter on one payload field.
type ScalarFilter struct {
	Field string
	Value string
}

// VectorIndex is the narrow contract over the vector store collaborator:
// cosine kNN over a named collection with an optional scalar filter.
type VectorIndex interface {
	Query(ctx context.Context, collection string, vector []float32, k int, filter *ScalarFilter, outputFields []string) ([]VectorHit, error)
	Health(ctx context.Context) bool
}

// VectorConfig holds the recognized vector retrieval options.
type VectorConfig struct {
	CollectionName string
	TopK           int
	VectorField    string
	OutputFields   []string
	SearchParams   map[string]any
}

// DefaultVectorConfig returns the vector retriever defaults.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		CollectionName: "chunks",
		TopK:           20,
		VectorField:    "embedding",
		OutputFields: []string{
			"content", "document_id", "document_title", "document_url",
			"section_header", "chunk_index", "total_chunks", "token_count", "topic_tag",
		},
	}
}

// VectorRetriever embeds the query and performs cosine kNN over the chunk
// collection. It is stateless and safe for concurrent use.
type VectorRetriever struct {
	index    VectorIndex
	embedder Embedder
	cfg      VectorConfig
	logger   *slog.Logger
}

// NewVectorRetriever wires a vector index and an embedder into a retriever.
func NewVectorRetriever(index VectorIndex, embedder Embedder, cfg VectorConfig) *VectorRetriever {
	if cfg.CollectionName == "" {
		cfg.CollectionName = DefaultVectorConfig().CollectionName
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultVectorConfig().TopK
	}
	if len(cfg.OutputFields) == 0 {
		cfg.OutputFields = DefaultVectorConfig().OutputFields
	}
	return &VectorRetriever{
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		logger:   logging.WithComponent("vector_retriever"),
	}
}

// Search implements the Retriever contract with an unfiltered query.
func (r *VectorRetriever) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	return r.SearchFiltered(ctx, query, topK, "")
}

// SearchFiltered additionally applies an equality filter on the topic_tag
// payload field when topicFilter is non-empty. Results keep the backend's
// descending score order; an empty backend response is not an error.
func (r *VectorRetriever) SearchFiltered(ctx context.Context, query string, topK int, topicFilter string) ([]Result, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &BackendError{Backend: "embedding", Err: err}
	}

	var filter *ScalarFilter
	if topicFilter != "" {
		filter = &ScalarFilter{Field: "topic_tag", Value: topicFilter}
	}

	hits, err := r.index.Query(ctx, r.cfg.CollectionName, vec, topK, filter, r.cfg.OutputFields)
	if err != nil {
		return nil, &BackendError{Backend: "vector", Err: err}
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		meta := decodeFields(hit.Fields)
		content, _ := meta["content"].(string)
		delete(meta, "content")
		results = append(results, Result{
			ChunkID:  hit.ID,
			Content:  content,
			Score:    hit.Score,
			Source:   SourceVector,
			Metadata: meta,
		})
	}
	r.logger.Debug("vector search complete", "hits", len(results), "top_k", topK, "filtered", filter != nil)
	return results, nil
}

// decodeFields copies the payload map, expanding any metadata that arrived as
// a JSON-encoded string.
func decodeFields(fields map[string]any) map[string]any {
	meta := make(map[string]any, len(fields))
	for k, v := range fields {
		meta[k] = v
	}
	if raw, ok := meta["metadata"].(string); ok {
		var nested map[string]any
		if err := json.Unmarshal([]byte(raw), &nested); err == nil {
			delete(meta, "metadata")
			for k, v := range nested {
				if _, exists := meta[k]; !exists {
					meta[k] = v
				}
			}
		}
	}
	return meta
}
