// Package generate defines the chat-completion contract used for grounded
// answer synthesis, with classified errors, bounded retry, and fallback
// messages so the event stream always terminates cleanly.
package generate

import (
	"context"
	"iter"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn handed to the generator.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user-role message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// FinishReason reports why the model stopped producing tokens.
type FinishReason string

const (
	FinishNone   FinishReason = ""
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
)

// Chunk is one streamed delta from the generator.
type Chunk struct {
	Content      string
	FinishReason FinishReason
}

// Generator is the contract provider adapters implement. Stream terminates on
// stop or upstream close; both modes honor context cancellation.
type Generator interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message) iter.Seq2[Chunk, error]
	Health(ctx context.Context) bool
}
