// Package postgres persists per-query metrics rows to a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/studyhall-ai/studyhall/metrics"
)

// Sink implements metrics.Sink over a query_metrics table.
type Sink struct {
	db *sql.DB
}

// New opens the connection and creates the table if needed.
func New(dsn string) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Sink{db: db}
	if err := s.setup(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) setup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS query_metrics (
		query_id VARCHAR(64) PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		strategy TEXT NOT NULL,
		embedding_ms BIGINT NOT NULL,
		vector_search_ms BIGINT NOT NULL,
		graph_search_ms BIGINT NOT NULL,
		fusion_ms BIGINT NOT NULL,
		rerank_ms BIGINT NOT NULL,
		generation_ms BIGINT NOT NULL,
		total_ms BIGINT NOT NULL,
		vector_result_count INT NOT NULL,
		graph_result_count INT NOT NULL,
		overlap_count INT NOT NULL,
		fused_result_count INT NOT NULL,
		top_score DOUBLE PRECISION NOT NULL,
		avg_score DOUBLE PRECISION NOT NULL,
		min_score DOUBLE PRECISION NOT NULL,
		score_std_dev DOUBLE PRECISION NOT NULL,
		confidence_threshold_met BOOLEAN NOT NULL,
		final_context_tokens INT NOT NULL,
		citation_count INT NOT NULL,
		answer_chars INT NOT NULL,
		vector_error TEXT,
		graph_error TEXT,
		rerank_error TEXT,
		generation_error TEXT,
		cancellation_cause TEXT
	)`)
	if err != nil {
		return fmt.Errorf("create query_metrics table: %w", err)
	}
	return nil
}

// Write implements metrics.Sink.
func (s *Sink) Write(ctx context.Context, row metrics.QueryMetrics) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO query_metrics (
		query_id, started_at, strategy,
		embedding_ms, vector_search_ms, graph_search_ms, fusion_ms, rerank_ms, generation_ms, total_ms,
		vector_result_count, graph_result_count, overlap_count, fused_result_count,
		top_score, avg_score, min_score, score_std_dev,
		confidence_threshold_met, final_context_tokens, citation_count, answer_chars,
		vector_error, graph_error, rerank_error, generation_error, cancellation_cause
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24, $25, $26, $27
	) ON CONFLICT (query_id) DO NOTHING`,
		row.QueryID, row.StartedAt, string(row.Strategy),
		row.EmbeddingDuration.Milliseconds(),
		row.VectorSearchDuration.Milliseconds(),
		row.GraphSearchDuration.Milliseconds(),
		row.FusionDuration.Milliseconds(),
		row.RerankDuration.Milliseconds(),
		row.GenerationDuration.Milliseconds(),
		row.TotalDuration.Milliseconds(),
		row.VectorResultCount, row.GraphResultCount, row.OverlapCount, row.FusedResultCount,
		row.TopScore, row.AvgScore, row.MinScore, row.ScoreStdDev,
		row.ConfidenceThresholdMet, row.FinalContextTokens, row.CitationCount, row.AnswerChars,
		nullable(row.VectorError), nullable(row.GraphError), nullable(row.RerankError),
		nullable(row.GenerationError), nullable(row.CancellationCause))
	if err != nil {
		return fmt.Errorf("insert query metrics: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
