// Package pipeline orchestrates the full query flow: admission, parallel
// retrieval, rank fusion, cross-encoder rerank, confidence classification,
// prompt assembly, and grounded generation.
package pipeline

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/studyhall-ai/studyhall/citation"
	"github.com/studyhall-ai/studyhall/fusion"
	"github.com/studyhall-ai/studyhall/generate"
	"github.com/studyhall-ai/studyhall/metrics"
	"github.com/studyhall-ai/studyhall/pkg/logging"
	"github.com/studyhall-ai/studyhall/prompt"
	"github.com/studyhall-ai/studyhall/rerank"
	"github.com/studyhall-ai/studyhall/retrieval"
	"github.com/studyhall-ai/studyhall/throttle"
)

// DefaultQueryTimeout bounds a complete query, streaming included.
const DefaultQueryTimeout = 120 * time.Second

// DefaultRetrievalTopK is how many candidates each retrieval leg returns.
const DefaultRetrievalTopK = 20

// TokenCounter counts model tokens in assembled context. Implementations live
// under contrib/tokenizer.
type TokenCounter interface {
	Count(text string) int
}

// Orchestrator wires the stages together. All collaborators are injected;
// the orchestrator holds no backend specifics and is safe for concurrent use.
type Orchestrator struct {
	vector    retrieval.Retriever
	graph     retrieval.Retriever
	reranker  *rerank.Reranker
	assembler *prompt.Assembler
	generator *generate.Client

	limiter   *throttle.Throttle
	collector *metrics.Collector
	tokens    TokenCounter

	retrievalTopK    int
	rerankTopN       int
	threshold        float64
	rrfK             int
	includeGraph     bool
	maxSnippetLength int
	queryTimeout     time.Duration

	logger *slog.Logger
	tracer trace.Tracer
}

// Option customises the orchestrator.
type Option func(*Orchestrator)

// WithRetrievalTopK sets how many candidates each leg retrieves.
func WithRetrievalTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.retrievalTopK = k
		}
	}
}

// WithRerankTopN sets how many candidates survive reranking.
func WithRerankTopN(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.rerankTopN = n
		}
	}
}

// WithConfidenceThreshold sets the insufficient-evidence threshold.
func WithConfidenceThreshold(t float64) Option {
	return func(o *Orchestrator) {
		if t > 0 && t < 1 {
			o.threshold = t
		}
	}
}

// WithRRFK sets the reciprocal-rank-fusion constant.
func WithRRFK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.rrfK = k
		}
	}
}

// WithIncludeGraph toggles the graph retrieval leg. Disabled, every query
// runs vector-only.
func WithIncludeGraph(enabled bool) Option {
	return func(o *Orchestrator) { o.includeGraph = enabled }
}

// WithThrottle gates queries through the admission controller.
func WithThrottle(t *throttle.Throttle) Option {
	return func(o *Orchestrator) { o.limiter = t }
}

// WithCollector records a metrics row per query.
func WithCollector(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithTokenCounter enables context token accounting in the metadata.
func WithTokenCounter(tc TokenCounter) Option {
	return func(o *Orchestrator) { o.tokens = tc }
}

// WithMaxSnippetLength bounds citation snippets.
func WithMaxSnippetLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSnippetLength = n
		}
	}
}

// WithQueryTimeout overrides the whole-query deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.queryTimeout = d
		}
	}
}

// New builds an orchestrator. vector and generator scorer are required; graph
// may be nil, which forces vector-only strategies.
func New(vector retrieval.Retriever, graph retrieval.Retriever, scorer rerank.Scorer, generator *generate.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		vector:           vector,
		graph:            graph,
		generator:        generator,
		retrievalTopK:    DefaultRetrievalTopK,
		rerankTopN:       rerank.DefaultTopN,
		threshold:        rerank.DefaultThreshold,
		rrfK:             fusion.DefaultK,
		includeGraph:     graph != nil,
		maxSnippetLength: citation.DefaultMaxSnippetLength,
		queryTimeout:     DefaultQueryTimeout,
		logger:           logging.WithComponent("pipeline"),
		tracer:           otel.Tracer("studyhall/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.reranker = rerank.New(scorer, o.rerankTopN, o.threshold)
	o.assembler = prompt.NewAssembler(o.threshold)
	if o.graph == nil {
		o.includeGraph = false
	}
	return o
}
