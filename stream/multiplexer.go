package stream

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/studyhall-ai/studyhall/citation"
	"github.com/studyhall-ai/studyhall/generate"
	"github.com/studyhall-ai/studyhall/pkg/logging"
)

// scanWindow caps the rolling buffer the citation scanner keeps. Markers are
// a handful of characters, so a split marker always survives the trim.
const scanWindow = 100

// Multiplexer converts generator chunks into the typed event stream. Per
// query: exactly one confidence event first, token events with inline
// citation detection, one metadata event, then a terminal done or error.
type Multiplexer struct {
	confidence Confidence
	citations  map[int]citation.Citation
	finalize   func(answer string, citationsEmitted int) Metadata
	logger     *slog.Logger
}

// NewMultiplexer prepares a multiplexer for one query. finalize computes the
// metadata payload from the accumulated answer; it may be nil.
func NewMultiplexer(conf Confidence, citations []citation.Citation, finalize func(answer string, citationsEmitted int) Metadata) *Multiplexer {
	byNumber := make(map[int]citation.Citation, len(citations))
	for _, c := range citations {
		for _, id := range citation.MarkerIDs(c.ID) {
			byNumber[id] = c
		}
	}
	return &Multiplexer{
		confidence: conf,
		citations:  byNumber,
		finalize:   finalize,
		logger:     logging.WithComponent("stream_multiplexer"),
	}
}

// Events pulls from the generator sequence and yields typed events. The
// sequence is consumer-driven, so backpressure propagates to the generator
// naturally; the producer never runs ahead of the consumer.
func (m *Multiplexer) Events(ctx context.Context, chunks iter.Seq2[generate.Chunk, error]) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !yield(ConfidenceEvent(m.confidence)) {
			return
		}

		var (
			answer  strings.Builder
			buffer  string
			emitted = make(map[int]struct{})
			stopped bool
		)

		for chunk, err := range chunks {
			if ctx.Err() != nil {
				yield(ErrorEvent(ctx.Err().Error()))
				return
			}
			if err != nil {
				m.logger.Error("generator stream failed", "error", err)
				yield(ErrorEvent(generate.FallbackMessage(err)))
				return
			}

			if chunk.Content != "" {
				answer.WriteString(chunk.Content)
				if !yield(TokenEvent(chunk.Content)) {
					return
				}

				buffer += chunk.Content
				for _, id := range citation.MarkerIDs(buffer) {
					if _, done := emitted[id]; done {
						continue
					}
					cit, known := m.citations[id]
					if !known {
						// Model invented a marker; never fabricate a citation.
						m.logger.Warn("unknown citation marker in stream", "marker", id)
						emitted[id] = struct{}{}
						continue
					}
					emitted[id] = struct{}{}
					if !yield(CitationEvent(cit)) {
						return
					}
				}
				if len(buffer) > scanWindow {
					buffer = buffer[len(buffer)-scanWindow:]
				}
			}

			if chunk.FinishReason != generate.FinishNone {
				stopped = true
				break
			}
		}
		_ = stopped

		if m.finalize != nil {
			known := 0
			for id := range emitted {
				if _, ok := m.citations[id]; ok {
					known++
				}
			}
			if !yield(MetadataEvent(m.finalize(answer.String(), known))) {
				return
			}
		}
		yield(DoneEvent())
	}
}
