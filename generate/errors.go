package generate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies generator failures. Connection, timeout, rate-limit, and
// service-unavailable failures are retryable; the rest fail immediately.
type Kind string

const (
	KindConnection         Kind = "connection"
	KindTimeout            Kind = "timeout"
	KindRateLimit          Kind = "rate_limit"
	KindServiceUnavailable Kind = "service_unavailable"
	KindContextLength      Kind = "context_length"
	KindModelNotFound      Kind = "model_not_found"
	KindUnknown            Kind = "unknown"
)

// Retryable reports whether a bounded internal retry is worthwhile.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnection, KindTimeout, KindRateLimit, KindServiceUnavailable:
		return true
	}
	return false
}

// Error is a classified generator failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generator %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the underlying kind is retryable.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// NewError wraps err under the given kind. A nil err returns nil.
func NewError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Classify normalizes an arbitrary provider error into a classified Error.
// Already-classified errors pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	return &Error{Kind: kindOf(err), Err: err}
}

// KindOf extracts the kind of a classified error, defaulting to unknown.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return kindOf(err)
}

func kindOf(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return KindRateLimit
	case strings.Contains(msg, "service unavailable") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "overloaded") || strings.Contains(msg, "502"):
		return KindServiceUnavailable
	case strings.Contains(msg, "context length") || strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "too many tokens"):
		return KindContextLength
	case strings.Contains(msg, "model not found") || strings.Contains(msg, "model_not_found") ||
		strings.Contains(msg, "unknown model"):
		return KindModelNotFound
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "broken pipe"):
		return KindConnection
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	}
	return KindUnknown
}

// fallbackMessages are the user-facing substitutes emitted when retries are
// exhausted or the failure is not retryable.
var fallbackMessages = map[Kind]string{
	KindConnection:         "I couldn't reach the language model just now. Please try your question again in a moment.",
	KindTimeout:            "The model took too long to respond. Please try again; shorter questions usually help.",
	KindRateLimit:          "The tutoring service is handling a lot of questions right now. Please retry shortly.",
	KindServiceUnavailable: "The language model is temporarily unavailable. Please try again in a minute.",
	KindContextLength:      "Your question plus the study material exceeded the model's context window. Try a narrower question.",
	KindModelNotFound:      "The configured model isn't available. Please contact the course staff.",
	KindUnknown:            "Something went wrong while generating the answer. Please try again.",
}

// FallbackMessage returns the user-friendly substitute for a failure.
func FallbackMessage(err error) string {
	return fallbackMessages[KindOf(err)]
}
