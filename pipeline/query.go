package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/studyhall-ai/studyhall/citation"
	apperrors "github.com/studyhall-ai/studyhall/errors"
	"github.com/studyhall-ai/studyhall/generate"
	"github.com/studyhall-ai/studyhall/rerank"
	"github.com/studyhall-ai/studyhall/retrieval"
)

// Result is a completed blocking query.
type Result struct {
	QueryID              string              `json:"query_id"`
	Answer               string              `json:"answer"`
	Citations            []citation.Citation `json:"citations,omitempty"`
	ConfidenceLevel      rerank.Level        `json:"confidence_level"`
	InsufficientEvidence bool                `json:"insufficient_evidence"`
	TopScore             float64             `json:"top_score"`
	Strategy             retrieval.Strategy  `json:"strategy"`
	ContextTokens        int                 `json:"context_tokens,omitempty"`
	Duration             time.Duration       `json:"duration_ms"`
}

// Query runs the whole pipeline and blocks until the answer is complete.
// Citations are filtered to the markers the model actually used and
// renumbered contiguously. Generation failures surface as classified errors;
// the metrics row is recorded on every path.
func (o *Orchestrator) Query(ctx context.Context, question string) (Result, error) {
	if err := validateQuestion(question); err != nil {
		return Result{}, err
	}
	if err := o.admit(ctx); err != nil {
		return Result{}, err
	}
	defer o.release()

	ctx, cancel := context.WithTimeout(ctx, o.queryTimeout)
	defer cancel()

	ev, err := o.retrieve(ctx, question)
	if err != nil {
		if ev != nil {
			ev.row.CancellationCause = cancelCause(ctx, err)
			o.record(ev.row)
		}
		return Result{}, err
	}

	genStart := time.Now()
	raw, err := o.generator.Complete(ctx, ev.assembled.Messages)
	ev.row.GenerationDuration = time.Since(genStart)
	if err != nil {
		ev.row.GenerationError = err.Error()
		ev.row.CancellationCause = cancelCause(ctx, err)
		o.record(ev.row)
		return Result{}, err
	}

	answer, used := citation.Renumber(raw, citation.FilterUsed(ev.citations, raw))
	if v := citation.Validate(answer, used); !v.Valid {
		o.logger.Warn("answer cites unknown sources",
			"query_id", ev.row.QueryID, "markers", v.Missing)
	}

	ev.row.CitationCount = len(used)
	ev.row.AnswerChars = len(answer)
	o.record(ev.row)

	return Result{
		QueryID:              ev.row.QueryID,
		Answer:               answer,
		Citations:            used,
		ConfidenceLevel:      ev.level,
		InsufficientEvidence: ev.insufficient,
		TopScore:             ev.topScore,
		Strategy:             ev.strategy,
		ContextTokens:        ev.tokens,
		Duration:             time.Since(ev.row.StartedAt),
	}, nil
}

// QueryWithFallback traps generation failures and substitutes the friendly
// message for the error kind, so callers always have something to show.
func (o *Orchestrator) QueryWithFallback(ctx context.Context, question string) Result {
	res, err := o.Query(ctx, question)
	if err != nil {
		return Result{Answer: generate.FallbackMessage(err)}
	}
	return res
}

// validateQuestion rejects blank questions before a throttle slot is taken.
func validateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("%w: question is empty", apperrors.ErrInvalidInput)
	}
	return nil
}

// cancelCause labels the metrics row when the context ended the query.
func cancelCause(ctx context.Context, err error) string {
	if ctx.Err() == nil {
		return ""
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause.Error()
	}
	return err.Error()
}
