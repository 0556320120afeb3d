package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/studyhall-ai/studyhall/citation"
	"github.com/studyhall-ai/studyhall/fusion"
	"github.com/studyhall-ai/studyhall/metrics"
	"github.com/studyhall-ai/studyhall/pkg/telemetry"
	"github.com/studyhall-ai/studyhall/prompt"
	"github.com/studyhall-ai/studyhall/rerank"
	"github.com/studyhall-ai/studyhall/retrieval"
)

// evidence is the query's state after the retrieval half of the pipeline:
// everything generation needs, plus the partially filled metrics row.
type evidence struct {
	strategy     retrieval.Strategy
	ranked       []rerank.RankedResult
	level        rerank.Level
	insufficient bool
	topScore     float64
	citations    []citation.Citation
	assembled    prompt.Assembled
	tokens       int
	row          metrics.QueryMetrics
}

// retrieve runs both legs in parallel, fuses, reranks, classifies confidence,
// registers citations and assembles the prompt. A single failing leg degrades
// the strategy instead of failing the query; only prompt assembly can error.
func (o *Orchestrator) retrieve(ctx context.Context, question string) (_ *evidence, err error) {
	ev := &evidence{row: metrics.NewQueryMetrics()}
	logger := o.logger.With("query_id", ev.row.QueryID)

	ctx, span := o.tracer.Start(ctx, "pipeline.retrieve",
		trace.WithAttributes(attribute.String("query.id", ev.row.QueryID)))
	defer func() { telemetry.End(span, err) }()

	var (
		vectorResults, graphResults []retrieval.Result
		vectorErr, graphErr         error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		vectorResults, vectorErr = o.vector.Search(gctx, question, o.retrievalTopK)
		ev.row.VectorSearchDuration = time.Since(start)
		return nil
	})
	if o.includeGraph {
		g.Go(func() error {
			start := time.Now()
			graphResults, graphErr = o.graph.Search(gctx, question, o.retrievalTopK)
			ev.row.GraphSearchDuration = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if vectorErr != nil {
		logger.Error("vector retrieval failed", "error", vectorErr)
		ev.row.VectorError = vectorErr.Error()
		vectorResults = nil
	}
	if graphErr != nil {
		logger.Error("graph retrieval failed", "error", graphErr)
		ev.row.GraphError = graphErr.Error()
		graphResults = nil
	}

	ev.strategy = retrieval.StrategyFor(len(vectorResults), len(graphResults))
	ev.row.Strategy = ev.strategy
	ev.row.VectorResultCount = len(vectorResults)
	ev.row.GraphResultCount = len(graphResults)

	fuseStart := time.Now()
	fused := fusion.Fuse(o.rrfK, vectorResults, graphResults)
	ev.row.FusionDuration = time.Since(fuseStart)
	ev.row.FusedResultCount = len(fused)
	ev.row.OverlapCount = fusion.OverlapCount(fused)

	rerankStart := time.Now()
	ranked, err := o.reranker.RankFused(ctx, question, fused)
	ev.row.RerankDuration = time.Since(rerankStart)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Degrade to fusion order rather than failing the query. Fused
		// scores are not comparable to cross-encoder scores, so the
		// confidence bands do not apply; classify conservatively as low.
		logger.Error("rerank failed, degrading to fusion order", "error", err)
		ev.row.RerankError = err.Error()
		ranked = fallbackRanked(fused, o.rerankTopN)
	}
	ev.ranked = ranked

	ev.topScore = rerank.TopScore(ranked)
	if ev.row.RerankError == "" {
		ev.level = rerank.LevelFor(ev.topScore)
		ev.insufficient = rerank.InsufficientEvidence(ev.topScore, o.threshold)
	} else {
		ev.level = rerank.LevelLow
		ev.insufficient = len(ranked) == 0
		ev.topScore = 0
	}
	ev.row.ConfidenceThresholdMet = !ev.insufficient
	scores := make([]float64, 0, len(ranked))
	for _, r := range ranked {
		scores = append(scores, r.RerankScore)
	}
	if ev.row.RerankError == "" {
		ev.row.ObserveScores(scores)
	}

	ev.citations = citation.Create(ranked, o.maxSnippetLength)
	ev.row.CitationCount = len(ev.citations)

	ev.assembled, err = o.assembler.Assemble(question, ranked, ev.level, ev.insufficient)
	if err != nil {
		return nil, err
	}
	if o.tokens != nil {
		for _, m := range ev.assembled.Messages {
			ev.tokens += o.tokens.Count(m.Content)
		}
		ev.row.FinalContextTokens = ev.tokens
	}

	span.SetAttributes(
		attribute.String("retrieval.strategy", string(ev.strategy)),
		attribute.Int("retrieval.fused", len(fused)),
		attribute.Int("rerank.survivors", len(ranked)),
		attribute.String("confidence.level", string(ev.level)),
		attribute.String("prompt.variant", string(ev.assembled.Variant)),
	)
	return ev, nil
}

// fallbackRanked converts the fused head into ranked results when the
// cross-encoder is down. Rerank scores stay zero; they must never be mistaken
// for cross-encoder confidence.
func fallbackRanked(fused []fusion.Result, topN int) []rerank.RankedResult {
	if len(fused) > topN {
		fused = fused[:topN]
	}
	ranked := make([]rerank.RankedResult, 0, len(fused))
	for _, f := range fused {
		ranked = append(ranked, rerank.RankedResult{
			ChunkID:            f.ChunkID,
			Content:            f.Content,
			OriginalFusedScore: f.FusedScore,
			Metadata:           f.Metadata,
		})
	}
	return ranked
}

// release frees the throttle slot, if one was taken.
func (o *Orchestrator) release() {
	if o.limiter != nil {
		o.limiter.Release()
	}
}

// admit gates the query through the throttle.
func (o *Orchestrator) admit(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Acquire(ctx)
}

// record finalizes and persists the metrics row.
func (o *Orchestrator) record(row metrics.QueryMetrics) {
	row.TotalDuration = time.Since(row.StartedAt)
	if o.collector != nil {
		o.collector.Record(row)
	}
}
