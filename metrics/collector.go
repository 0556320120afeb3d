package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/studyhall-ai/studyhall/pkg/logging"
)

// writeTimeout bounds how long a background sink write may take.
const writeTimeout = 5 * time.Second

// Collector records query rows off the hot path. Record never blocks the
// caller and a failing sink never fails the query; write errors are logged
// and dropped.
type Collector struct {
	sinks  []Sink
	logger *slog.Logger
	wg     sync.WaitGroup

	stageSeconds *prometheus.HistogramVec
	queriesTotal *prometheus.CounterVec
}

// CollectorOption customises a collector.
type CollectorOption func(*Collector)

// WithCollectorRegisterer registers the per-stage latency histogram and the
// query outcome counter.
func WithCollectorRegisterer(reg prometheus.Registerer) CollectorOption {
	return func(c *Collector) {
		c.stageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studyhall_query_stage_seconds",
			Help:    "Per-stage query latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"})
		c.queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhall_queries_total",
			Help: "Queries by retrieval strategy and outcome.",
		}, []string{"strategy", "outcome"})
		reg.MustRegister(c.stageSeconds, c.queriesTotal)
	}
}

// NewCollector builds a collector over zero or more sinks.
func NewCollector(sinks []Sink, opts ...CollectorOption) *Collector {
	c := &Collector{
		sinks:  sinks,
		logger: logging.WithComponent("metrics"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record persists the row asynchronously and updates the prometheus
// instruments. It is detached from the query's context so cancellation of
// the query does not lose its row.
func (c *Collector) Record(row QueryMetrics) {
	c.observe(row)
	for _, sink := range c.sinks {
		sink := sink
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := sink.Write(ctx, row); err != nil {
				c.logger.Error("metrics sink write failed",
					"query_id", row.QueryID, "error", err)
			}
		}()
	}
}

// Flush waits for in-flight sink writes. Call on shutdown.
func (c *Collector) Flush() {
	c.wg.Wait()
}

func (c *Collector) observe(row QueryMetrics) {
	if c.stageSeconds != nil {
		for stage, d := range map[string]time.Duration{
			"embedding":     row.EmbeddingDuration,
			"vector_search": row.VectorSearchDuration,
			"graph_search":  row.GraphSearchDuration,
			"fusion":        row.FusionDuration,
			"rerank":        row.RerankDuration,
			"generation":    row.GenerationDuration,
			"total":         row.TotalDuration,
		} {
			if d > 0 {
				c.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
			}
		}
	}
	if c.queriesTotal != nil {
		outcome := "ok"
		switch {
		case row.CancellationCause != "":
			outcome = "cancelled"
		case row.GenerationError != "":
			outcome = "error"
		case !row.ConfidenceThresholdMet:
			outcome = "insufficient"
		}
		c.queriesTotal.WithLabelValues(string(row.Strategy), outcome).Inc()
	}
}
