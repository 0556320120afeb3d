package generate

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/studyhall-ai/studyhall/pkg/logging"
)

// RetryConfig bounds the internal retry loop around retryable failures.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the standard exponential backoff: base 1s,
// factor 2, cap 10s, at most 3 retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffFactor)
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Client wraps a provider adapter with retry, error classification, and
// fallback behavior. It is safe for concurrent use.
type Client struct {
	provider Generator
	retry    RetryConfig
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// ClientOption customises the client.
type ClientOption func(*Client)

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(c *Client) {
		if cfg.MaxRetries >= 0 && cfg.InitialDelay > 0 {
			c.retry = cfg
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// withSleep replaces the backoff sleeper; test hook.
func withSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// NewClient wraps a provider adapter.
func NewClient(provider Generator, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		retry:    DefaultRetryConfig(),
		logger:   logging.WithComponent("generator"),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Health probes the underlying provider.
func (c *Client) Health(ctx context.Context) bool {
	return c.provider.Health(ctx)
}

// Complete runs a blocking completion, retrying retryable failures with
// exponential backoff. Non-retryable kinds fail immediately.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.delay(attempt - 1)
			c.logger.Warn("retrying completion", "attempt", attempt, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return "", Classify(err)
			}
		}
		answer, err := c.provider.Complete(ctx, messages)
		if err == nil {
			return answer, nil
		}
		lastErr = Classify(err)
		if !KindOf(lastErr).Retryable() || ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

// CompleteWithFallback traps completion failures and substitutes the
// user-friendly message for the error kind.
func (c *Client) CompleteWithFallback(ctx context.Context, messages []Message) string {
	answer, err := c.Complete(ctx, messages)
	if err != nil {
		c.logger.Error("completion failed, using fallback", "kind", KindOf(err), "error", err)
		return FallbackMessage(err)
	}
	return answer
}

// Stream opens a streaming completion. Failures before the first delta are
// retried under the same policy as Complete; once content has flowed, errors
// propagate to the consumer.
func (c *Client) Stream(ctx context.Context, messages []Message) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		var lastErr error
		for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
			if attempt > 0 {
				delay := c.retry.delay(attempt - 1)
				c.logger.Warn("retrying stream", "attempt", attempt, "delay", delay, "error", lastErr)
				if err := c.sleep(ctx, delay); err != nil {
					yield(Chunk{}, Classify(err))
					return
				}
			}

			delivered := false
			failed := false
			for chunk, err := range c.provider.Stream(ctx, messages) {
				if err != nil {
					lastErr = Classify(err)
					failed = true
					break
				}
				delivered = true
				if !yield(chunk, nil) {
					return
				}
			}
			if !failed {
				return
			}
			// Mid-stream failures and non-retryable kinds surface immediately;
			// only a failure to establish the stream is retried.
			if delivered || !KindOf(lastErr).Retryable() || ctx.Err() != nil {
				yield(Chunk{}, lastErr)
				return
			}
		}
		yield(Chunk{}, lastErr)
	}
}

// StreamWithFallback wraps Stream so the sequence always ends with a stop
// chunk: on failure it emits the fallback message as a single content chunk
// followed by a terminal stop.
func (c *Client) StreamWithFallback(ctx context.Context, messages []Message) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		stopped := false
		for chunk, err := range c.Stream(ctx, messages) {
			if err != nil {
				c.logger.Error("stream failed, using fallback", "kind", KindOf(err), "error", err)
				if !yield(Chunk{Content: FallbackMessage(err)}, nil) {
					return
				}
				yield(Chunk{FinishReason: FinishStop}, nil)
				return
			}
			if chunk.FinishReason != FinishNone {
				stopped = true
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if !stopped {
			yield(Chunk{FinishReason: FinishStop}, nil)
		}
	}
}
