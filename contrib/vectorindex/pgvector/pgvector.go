// Package pgvector backs the vector index contract with PostgreSQL and the
// pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"

	apperrors "github.com/studyhall-ai/studyhall/errors"
	"github.com/studyhall-ai/studyhall/retrieval"
)

// identPattern restricts table names to plain identifiers; collection names
// are interpolated into DDL and must never carry user input.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config holds pgvector connection settings.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Dimension int
}

// DefaultConfig returns the local-development defaults with the common
// 1536-wide embedding.
func DefaultConfig() Config {
	return Config{
		Host:      "127.0.0.1",
		Port:      5432,
		User:      "postgres",
		Password:  "postgres",
		DBName:    "studyhall",
		SSLMode:   "disable",
		Dimension: 1536,
	}
}

// Index implements retrieval.VectorIndex over pgvector. Each collection maps
// to one table holding id, content, embedding, and a JSONB metadata column.
type Index struct {
	db        *sql.DB
	dimension int
}

// New opens the connection and verifies the pgvector extension is available.
func New(cfg Config) (*Index, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultConfig().Dimension
	}
	return &Index{db: db, dimension: cfg.Dimension}, nil
}

// EnsureCollection creates the collection table and its cosine HNSW index.
func (x *Index) EnsureCollection(ctx context.Context, collection string) error {
	if err := validIdent(collection); err != nil {
		return err
	}
	createSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		content TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		topic_tag TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, collection, x.dimension)
	if _, err := x.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	indexSQL := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)",
		collection, collection)
	if _, err := x.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("create hnsw index on %s: %w", collection, err)
	}
	return nil
}

// Record is one chunk row for ingestion.
type Record struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
	TopicTag string
}

// Upsert inserts or replaces chunk rows.
func (x *Index) Upsert(ctx context.Context, collection string, records []Record) error {
	if err := validIdent(collection); err != nil {
		return err
	}
	query := fmt.Sprintf(`
	INSERT INTO %s (id, content, embedding, metadata, topic_tag)
	VALUES ($1, $2, $3::vector, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata,
		topic_tag = EXCLUDED.topic_tag,
		created_at = CURRENT_TIMESTAMP
	`, collection)

	for _, rec := range records {
		if len(rec.Vector) != x.dimension {
			return fmt.Errorf("chunk %s: dimension mismatch, expected %d got %d",
				rec.ID, x.dimension, len(rec.Vector))
		}
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", rec.ID, err)
		}
		if _, err := x.db.ExecContext(ctx, query,
			rec.ID, rec.Content, vectorToString(rec.Vector), meta, nullable(rec.TopicTag)); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", rec.ID, err)
		}
	}
	return nil
}

// Query implements retrieval.VectorIndex: cosine kNN with an optional scalar
// equality filter. Score is cosine similarity, descending.
func (x *Index) Query(ctx context.Context, collection string, vector []float32, k int, filter *retrieval.ScalarFilter, outputFields []string) ([]retrieval.VectorHit, error) {
	if err := validIdent(collection); err != nil {
		return nil, err
	}
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: expected %d, got %d", x.dimension, len(vector))
	}
	if k <= 0 {
		k = 10
	}

	where := ""
	args := []any{vectorToString(vector), k}
	if filter != nil {
		if filter.Field == "topic_tag" {
			where = "WHERE topic_tag = $3"
		} else {
			where = "WHERE metadata->>$4 = $3"
		}
		args = append(args, filter.Value)
		if filter.Field != "topic_tag" {
			args = append(args, filter.Field)
		}
	}

	query := fmt.Sprintf(`
	SELECT id, content, metadata, topic_tag, 1 - (embedding <=> $1::vector) AS score
	FROM %s
	%s
	ORDER BY embedding <=> $1::vector
	LIMIT $2
	`, collection, where)

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []retrieval.VectorHit
	for rows.Next() {
		var (
			id, content string
			rawMeta     []byte
			topic       sql.NullString
			score       float64
		)
		if err := rows.Scan(&id, &content, &rawMeta, &topic, &score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		fields := map[string]any{"content": content}
		var meta map[string]any
		if err := json.Unmarshal(rawMeta, &meta); err == nil {
			for k, v := range meta {
				fields[k] = v
			}
		}
		if topic.Valid {
			fields["topic_tag"] = topic.String
		}
		hits = append(hits, retrieval.VectorHit{ID: id, Score: score, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// Health pings the database.
func (x *Index) Health(ctx context.Context) bool {
	return x.db.PingContext(ctx) == nil
}

// Close closes the connection pool.
func (x *Index) Close() error {
	return x.db.Close()
}

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: collection name %q", apperrors.ErrInvalidInput, name)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func vectorToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
