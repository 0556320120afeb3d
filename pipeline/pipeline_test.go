package pipeline

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	apperrors "github.com/studyhall-ai/studyhall/errors"
	"github.com/studyhall-ai/studyhall/generate"
	"github.com/studyhall-ai/studyhall/metrics"
	"github.com/studyhall-ai/studyhall/rerank"
	"github.com/studyhall-ai/studyhall/retrieval"
	"github.com/studyhall-ai/studyhall/stream"
	"github.com/studyhall-ai/studyhall/throttle"
)

type stubRetriever struct {
	results []retrieval.Result
	err     error
}

func (s *stubRetriever) Search(ctx context.Context, query string, topK int) ([]retrieval.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

// descendingScorer scores every document, best first in input order.
type descendingScorer struct {
	top float64
	err error
}

func (s *descendingScorer) Rerank(ctx context.Context, query string, documents []string) ([]rerank.Score, error) {
	if s.err != nil {
		return nil, s.err
	}
	scores := make([]rerank.Score, len(documents))
	for i := range documents {
		scores[i] = rerank.Score{Index: i, Score: s.top - 0.05*float64(i)}
	}
	return scores, nil
}

func (s *descendingScorer) Health(ctx context.Context) bool { return s.err == nil }

type stubProvider struct {
	answer string
}

func (p *stubProvider) Complete(ctx context.Context, messages []generate.Message) (string, error) {
	return p.answer, nil
}

func (p *stubProvider) Stream(ctx context.Context, messages []generate.Message) iter.Seq2[generate.Chunk, error] {
	return func(yield func(generate.Chunk, error) bool) {
		if !yield(generate.Chunk{Content: p.answer}, nil) {
			return
		}
		yield(generate.Chunk{FinishReason: generate.FinishStop}, nil)
	}
}

func (p *stubProvider) Health(ctx context.Context) bool { return true }

type memorySink struct {
	mu   sync.Mutex
	rows []metrics.QueryMetrics
}

func (s *memorySink) Write(ctx context.Context, row metrics.QueryMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

func (s *memorySink) snapshot() []metrics.QueryMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metrics.QueryMetrics(nil), s.rows...)
}

func vectorResults() []retrieval.Result {
	return []retrieval.Result{
		{ChunkID: "c1", Content: "Merge sort splits the input in half.", Score: 0.91, Source: retrieval.SourceVector},
		{ChunkID: "c2", Content: "Quicksort partitions around a pivot.", Score: 0.84, Source: retrieval.SourceVector},
	}
}

func graphResults() []retrieval.Result {
	return []retrieval.Result{
		{ChunkID: "c2", Content: "Quicksort partitions around a pivot.", Score: 0.7, Source: retrieval.SourceGraph},
		{ChunkID: "c3", Content: "Divide and conquer is a recursive strategy.", Score: 0.6, Source: retrieval.SourceGraph},
	}
}

func newTestOrchestrator(vector, graph retrieval.Retriever, scorer rerank.Scorer, answer string, extra ...Option) (*Orchestrator, *memorySink) {
	sink := &memorySink{}
	opts := append([]Option{
		WithCollector(metrics.NewCollector([]metrics.Sink{sink})),
	}, extra...)
	client := generate.NewClient(&stubProvider{answer: answer})
	return New(vector, graph, scorer, client, opts...), sink
}

func TestQuery(t *testing.T) {
	t.Run("hybrid success", func(t *testing.T) {
		orch, sink := newTestOrchestrator(
			&stubRetriever{results: vectorResults()},
			&stubRetriever{results: graphResults()},
			&descendingScorer{top: 0.9},
			"Merge sort is divide and conquer [1].",
		)

		res, err := orch.Query(context.Background(), "how does merge sort work?")
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if res.Strategy != retrieval.StrategyHybrid {
			t.Errorf("strategy = %s, want hybrid", res.Strategy)
		}
		if res.ConfidenceLevel != rerank.LevelHigh || res.InsufficientEvidence {
			t.Errorf("confidence = %s insufficient=%v, want high/false", res.ConfidenceLevel, res.InsufficientEvidence)
		}
		if len(res.Citations) != 1 || res.Citations[0].ID != "[1]" {
			t.Errorf("citations must be filtered to used markers: %+v", res.Citations)
		}
		if res.QueryID == "" {
			t.Error("query id missing")
		}

		orch.collector.Flush()
		rows := sink.snapshot()
		if len(rows) != 1 {
			t.Fatalf("expected exactly one metrics row, got %d", len(rows))
		}
		row := rows[0]
		if row.VectorResultCount != 2 || row.GraphResultCount != 2 || row.OverlapCount != 1 {
			t.Errorf("retrieval shape wrong: %+v", row)
		}
		if !row.ConfidenceThresholdMet || row.TotalDuration <= 0 {
			t.Errorf("row not finalized: %+v", row)
		}
	})

	t.Run("graph failure degrades to vector only", func(t *testing.T) {
		orch, sink := newTestOrchestrator(
			&stubRetriever{results: vectorResults()},
			&stubRetriever{err: &retrieval.BackendError{Backend: "graph", Err: errors.New("down")}},
			&descendingScorer{top: 0.9},
			"Answer [1].",
		)

		res, err := orch.Query(context.Background(), "q")
		if err != nil {
			t.Fatalf("a failing leg must not fail the query: %v", err)
		}
		if res.Strategy != retrieval.StrategyVectorOnly {
			t.Errorf("strategy = %s, want vector_only", res.Strategy)
		}

		orch.collector.Flush()
		row := sink.snapshot()[0]
		if row.GraphError == "" || row.VectorError != "" {
			t.Errorf("graph error must be recorded: %+v", row)
		}
	})

	t.Run("both legs failing yields degraded insufficient answer", func(t *testing.T) {
		orch, _ := newTestOrchestrator(
			&stubRetriever{err: errors.New("vector down")},
			&stubRetriever{err: errors.New("graph down")},
			&descendingScorer{top: 0.9},
			"I could not find relevant material.",
		)

		res, err := orch.Query(context.Background(), "q")
		if err != nil {
			t.Fatalf("degraded query must still answer: %v", err)
		}
		if res.Strategy != retrieval.StrategyDegraded {
			t.Errorf("strategy = %s, want degraded", res.Strategy)
		}
		if !res.InsufficientEvidence || res.TopScore != 0 {
			t.Errorf("no evidence must classify as insufficient: %+v", res)
		}
		if len(res.Citations) != 0 {
			t.Errorf("no evidence, no citations: %+v", res.Citations)
		}
	})

	t.Run("rerank failure degrades to fusion order", func(t *testing.T) {
		orch, sink := newTestOrchestrator(
			&stubRetriever{results: vectorResults()},
			&stubRetriever{results: graphResults()},
			&descendingScorer{err: errors.New("cross-encoder down")},
			"Answer [1].",
		)

		res, err := orch.Query(context.Background(), "q")
		if err != nil {
			t.Fatalf("rerank failure must not fail the query: %v", err)
		}
		if res.ConfidenceLevel != rerank.LevelLow {
			t.Errorf("degraded rerank must classify low, got %s", res.ConfidenceLevel)
		}
		if res.TopScore != 0 {
			t.Errorf("fused scores must not pose as rerank confidence: %f", res.TopScore)
		}
		if res.InsufficientEvidence {
			t.Error("evidence exists, only its ranking degraded")
		}

		orch.collector.Flush()
		row := sink.snapshot()[0]
		if row.RerankError == "" {
			t.Error("rerank error missing from the row")
		}
		if row.AvgScore != 0 || row.TopScore != 0 {
			t.Errorf("score distribution must stay empty on degrade: %+v", row)
		}
	})

	t.Run("blank question is rejected before admission", func(t *testing.T) {
		orch, sink := newTestOrchestrator(
			&stubRetriever{results: vectorResults()},
			nil,
			&descendingScorer{top: 0.9},
			"Answer.",
		)

		if _, err := orch.Query(context.Background(), "   "); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
		orch.collector.Flush()
		if rows := sink.snapshot(); len(rows) != 0 {
			t.Errorf("rejected input must not record a row, got %d", len(rows))
		}
	})

	t.Run("fallback wrapper swallows admission errors", func(t *testing.T) {
		th := throttle.New(throttle.Config{Name: "q", MaxConcurrent: 1, MaxQueueSize: 0, QueueTimeout: time.Second})
		if err := th.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		orch, _ := newTestOrchestrator(
			&stubRetriever{results: vectorResults()},
			nil,
			&descendingScorer{top: 0.9},
			"Answer.",
			WithThrottle(th),
		)

		res := orch.QueryWithFallback(context.Background(), "q")
		if res.Answer == "" {
			t.Error("fallback result must carry a friendly message")
		}
		if res.QueryID != "" {
			t.Error("rejected query must not fabricate a result")
		}
	})
}

func TestStream(t *testing.T) {
	t.Run("event order and single metrics row", func(t *testing.T) {
		orch, sink := newTestOrchestrator(
			&stubRetriever{results: vectorResults()},
			&stubRetriever{results: graphResults()},
			&descendingScorer{top: 0.9},
			"Covered in [1] and [2].",
		)

		seq, err := orch.Stream(context.Background(), "q")
		if err != nil {
			t.Fatalf("stream failed: %v", err)
		}
		var events []stream.Event
		for ev := range seq {
			events = append(events, ev)
		}

		if events[0].Type != stream.EventConfidence {
			t.Errorf("first event = %s, want confidence", events[0].Type)
		}
		if events[len(events)-1].Type != stream.EventDone {
			t.Errorf("last event = %s, want done", events[len(events)-1].Type)
		}
		metaCount := 0
		for _, ev := range events {
			if ev.Type == stream.EventMetadata {
				metaCount++
				if ev.Metadata.Strategy != retrieval.StrategyHybrid {
					t.Errorf("metadata strategy = %s", ev.Metadata.Strategy)
				}
			}
		}
		if metaCount != 1 {
			t.Errorf("expected exactly one metadata event, got %d", metaCount)
		}

		orch.collector.Flush()
		if rows := sink.snapshot(); len(rows) != 1 {
			t.Errorf("expected one metrics row for the stream, got %d", len(rows))
		}
	})

	t.Run("abandoned stream still records and releases", func(t *testing.T) {
		th := throttle.New(throttle.Config{Name: "q", MaxConcurrent: 1, MaxQueueSize: 0, QueueTimeout: time.Second})
		orch, sink := newTestOrchestrator(
			&stubRetriever{results: vectorResults()},
			nil,
			&descendingScorer{top: 0.9},
			"Long answer [1].",
			WithThrottle(th),
		)

		seq, err := orch.Stream(context.Background(), "q")
		if err != nil {
			t.Fatalf("stream failed: %v", err)
		}
		for range seq {
			break // walk away after the first event
		}

		orch.collector.Flush()
		rows := sink.snapshot()
		if len(rows) != 1 {
			t.Fatalf("abandoned stream must still record its row, got %d", len(rows))
		}
		if rows[0].CancellationCause == "" {
			t.Errorf("row must note the abandonment: %+v", rows[0])
		}
		if err := th.Acquire(context.Background()); err != nil {
			t.Errorf("throttle slot not released: %v", err)
		}
	})

	t.Run("throttle slot is released after draining", func(t *testing.T) {
		th := throttle.New(throttle.Config{Name: "q", MaxConcurrent: 1, MaxQueueSize: 0, QueueTimeout: time.Second})
		orch, _ := newTestOrchestrator(
			&stubRetriever{results: vectorResults()},
			nil,
			&descendingScorer{top: 0.9},
			"Answer.",
			WithThrottle(th),
		)

		for i := 0; i < 2; i++ {
			seq, err := orch.Stream(context.Background(), "q")
			if err != nil {
				t.Fatalf("stream %d rejected, slot leaked: %v", i, err)
			}
			for range seq {
			}
		}
	})
}
