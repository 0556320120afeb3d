package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
)

// payload extracts the JSON body for an event's data: line.
func payload(ev Event) any {
	switch ev.Type {
	case EventConfidence:
		return ev.Confidence
	case EventToken:
		return ev.Token
	case EventCitation:
		return ev.Citation
	case EventMetadata:
		return ev.Metadata
	case EventError:
		return ev.Error
	default:
		return struct{}{}
	}
}

// WriteSSE encodes one event in Server-Sent-Events framing: the event name
// is the variant tag and the data line is the JSON payload.
func WriteSSE(w io.Writer, ev Event) error {
	body, err := json.Marshal(payload(ev))
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, body); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	return nil
}

// ServeSSE streams events to an HTTP response, flushing after every event.
// It stops on the terminal event, a write failure, or context cancellation.
func ServeSSE(ctx context.Context, w http.ResponseWriter, events iter.Seq[Event]) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	for ev := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := WriteSSE(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		if ev.Terminal() {
			break
		}
	}
	return nil
}

// Bridge runs the event sequence on a producer goroutine feeding a bounded
// channel, for consumers that cannot pull. The small capacity keeps
// backpressure: when the consumer stalls, the producer blocks and the
// generator stops being pulled. The channel closes after the terminal event
// or when ctx is cancelled.
func Bridge(ctx context.Context, events iter.Seq[Event], capacity int) <-chan Event {
	if capacity <= 0 || capacity > 4 {
		capacity = 4
	}
	out := make(chan Event, capacity)
	go func() {
		defer close(out)
		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}()
	return out
}
