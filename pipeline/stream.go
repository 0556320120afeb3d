package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/studyhall-ai/studyhall/stream"
)

// Stream runs the pipeline and returns the typed event sequence: confidence
// first, then tokens with inline citations, one metadata event, and a
// terminal done or error. A retrieval-half failure is returned as an error
// before any event flows; generation failures surface inside the stream as
// fallback content so the consumer still gets a well-formed sequence.
//
// The throttle slot and the query deadline are held until the sequence
// finishes. Callers must start iterating the returned sequence; breaking out
// early is fine (cleanup runs when the loop exits), but a sequence that is
// never ranged over leaks its slot until the process exits.
func (o *Orchestrator) Stream(ctx context.Context, question string) (iter.Seq[stream.Event], error) {
	if err := validateQuestion(question); err != nil {
		return nil, err
	}
	if err := o.admit(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.queryTimeout)

	ev, err := o.retrieve(ctx, question)
	if err != nil {
		if ev != nil {
			ev.row.CancellationCause = cancelCause(ctx, err)
			o.record(ev.row)
		}
		cancel()
		o.release()
		return nil, err
	}

	conf := stream.Confidence{
		Level:                   ev.level,
		HasInsufficientEvidence: ev.insufficient,
		TopScore:                ev.topScore,
	}

	genStart := time.Now()
	recorded := false
	mux := stream.NewMultiplexer(conf, ev.citations, func(answer string, citationsEmitted int) stream.Metadata {
		row := ev.row
		row.GenerationDuration = time.Since(genStart)
		row.CitationCount = citationsEmitted
		row.AnswerChars = len(answer)
		o.record(row)
		recorded = true
		return stream.Metadata{
			Strategy:      ev.strategy,
			CitationCount: citationsEmitted,
			ContextTokens: ev.tokens,
			AnswerChars:   len(answer),
			DurationMs:    time.Since(ev.row.StartedAt).Milliseconds(),
		}
	})

	chunks := o.generator.StreamWithFallback(ctx, ev.assembled.Messages)
	events := mux.Events(ctx, chunks)

	return func(yield func(stream.Event) bool) {
		defer cancel()
		defer o.release()
		terminal := false
		var failure string
		for e := range events {
			terminal = e.Terminal()
			if e.Type == stream.EventError && e.Error != nil {
				failure = e.Error.Message
			}
			if !yield(e) {
				break
			}
		}
		// Exactly one row per query, whichever way the stream ended.
		if !recorded {
			row := ev.row
			switch {
			case failure != "":
				row.GenerationError = failure
				row.CancellationCause = cancelCause(ctx, nil)
			case !terminal:
				row.CancellationCause = "consumer abandoned stream"
			}
			o.record(row)
		}
	}, nil
}
