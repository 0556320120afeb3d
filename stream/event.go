// Package stream turns the generator's token stream into the typed event
// stream consumers see, detecting citation markers inline and enforcing the
// event-ordering contract.
package stream

import (
	"github.com/studyhall-ai/studyhall/citation"
	"github.com/studyhall-ai/studyhall/rerank"
	"github.com/studyhall-ai/studyhall/retrieval"
)

// EventType names the stream event variants; the values double as SSE event
// names on the wire.
type EventType string

const (
	EventConfidence EventType = "confidence"
	EventToken      EventType = "token"
	EventCitation   EventType = "citation"
	EventMetadata   EventType = "metadata"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Confidence is the first event of every stream.
type Confidence struct {
	Level                   rerank.Level `json:"level"`
	HasInsufficientEvidence bool         `json:"has_insufficient_evidence"`
	TopScore                float64      `json:"top_score"`
}

// Token carries one generated text delta.
type Token struct {
	Content string `json:"content"`
}

// Metadata summarizes the completed generation; emitted exactly once, before
// done.
type Metadata struct {
	Strategy      retrieval.Strategy `json:"strategy"`
	CitationCount int                `json:"citation_count"`
	ContextTokens int                `json:"context_tokens,omitempty"`
	AnswerChars   int                `json:"answer_chars"`
	DurationMs    int64              `json:"duration_ms"`
}

// ErrorInfo carries the terminal failure message.
type ErrorInfo struct {
	Message string `json:"message"`
}

// Event is the tagged union flowing to the consumer. Exactly one payload
// field matching Type is set.
type Event struct {
	Type       EventType          `json:"type"`
	Confidence *Confidence        `json:"confidence,omitempty"`
	Token      *Token             `json:"token,omitempty"`
	Citation   *citation.Citation `json:"citation,omitempty"`
	Metadata   *Metadata          `json:"metadata,omitempty"`
	Error      *ErrorInfo         `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// ConfidenceEvent builds a confidence event.
func ConfidenceEvent(c Confidence) Event {
	return Event{Type: EventConfidence, Confidence: &c}
}

// TokenEvent builds a token event.
func TokenEvent(content string) Event {
	return Event{Type: EventToken, Token: &Token{Content: content}}
}

// CitationEvent builds a citation event.
func CitationEvent(c citation.Citation) Event {
	return Event{Type: EventCitation, Citation: &c}
}

// MetadataEvent builds a metadata event.
func MetadataEvent(m Metadata) Event {
	return Event{Type: EventMetadata, Metadata: &m}
}

// DoneEvent builds the terminal done event.
func DoneEvent() Event { return Event{Type: EventDone} }

// ErrorEvent builds the terminal error event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Error: &ErrorInfo{Message: message}}
}
