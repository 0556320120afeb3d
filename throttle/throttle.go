// Package throttle admits requests under bounded concurrency with a bounded
// FIFO wait queue and per-waiter deadlines.
package throttle

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/studyhall-ai/studyhall/pkg/logging"
)

var (
	// ErrQueueFull is returned synchronously when both the slots and the
	// wait queue are exhausted. Surfaces as an overloaded (503-equivalent)
	// state.
	ErrQueueFull = errors.New("throttle: queue full")

	// ErrQueueTimeout is returned when a waiter's deadline elapses before a
	// slot frees up. Surfaces as a timed-out (504-equivalent) state.
	ErrQueueTimeout = errors.New("throttle: queue timeout")
)

// Config sizes a throttle for one logical endpoint.
type Config struct {
	Name          string
	MaxConcurrent int
	MaxQueueSize  int
	QueueTimeout  time.Duration
}

// QueryDefaults returns the query-endpoint sizing.
func QueryDefaults() Config {
	return Config{Name: "query", MaxConcurrent: 10, MaxQueueSize: 30, QueueTimeout: 60 * time.Second}
}

// IngestionDefaults returns the ingestion-endpoint sizing.
func IngestionDefaults() Config {
	return Config{Name: "ingestion", MaxConcurrent: 3, MaxQueueSize: 10, QueueTimeout: 300 * time.Second}
}

type waiter struct {
	ready    chan struct{}
	enqueued time.Time
	claimed  bool
}

// Stats is a point-in-time snapshot of the throttle counters.
type Stats struct {
	Active         int
	Queued         int
	TotalRequests  int64
	TotalAdmitted  int64
	TotalEnqueued  int64
	TotalRejected  int64
	TotalTimedOut  int64
	TotalCancelled int64
	Completed      int64
	AvgQueueWait   time.Duration
	PeakActive     int
	PeakQueue      int
}

// Throttle is a bounded-concurrency admission controller. Waiters are
// resumed in strict FIFO order; a release transfers the slot directly to the
// head waiter. Construct one per logical endpoint and pass it in explicitly.
type Throttle struct {
	cfg    Config
	logger *slog.Logger

	mu        chan struct{} // 1-slot semaphore guarding all state below
	active    int
	queue     *list.List
	requests  int64
	admitted  int64
	enqueued  int64
	rejected  int64
	timedOut  int64
	cancelled int64
	completed int64
	waitTotal time.Duration
	waitCount int64
	peakAct   int
	peakQueue int

	promWaits prometheus.Observer
}

// Option customises a throttle.
type Option func(*Throttle)

// WithRegisterer registers prometheus instruments (active/queue gauges,
// outcome counters, wait histogram) labeled with the endpoint name.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Throttle) { t.register(reg) }
}

// New builds a throttle from the config. Zero or negative values fall back
// to the query-endpoint defaults.
func New(cfg Config, opts ...Option) *Throttle {
	def := QueryDefaults()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxQueueSize < 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = def.QueueTimeout
	}
	t := &Throttle{
		cfg:    cfg,
		logger: logging.WithComponent("throttle").With("endpoint", cfg.Name),
		mu:     make(chan struct{}, 1),
		queue:  list.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Throttle) lock()   { t.mu <- struct{}{} }
func (t *Throttle) unlock() { <-t.mu }

// Acquire admits the caller or suspends it in the FIFO queue. It fails
// synchronously with ErrQueueFull when the queue is at capacity, with
// ErrQueueTimeout when the waiter's deadline elapses, or with ctx.Err() when
// the caller cancels while queued. Exactly one of wake or timeout wins.
func (t *Throttle) Acquire(ctx context.Context) error {
	t.lock()
	t.requests++
	if t.active < t.cfg.MaxConcurrent {
		t.active++
		t.admitted++
		if t.active > t.peakAct {
			t.peakAct = t.active
		}
		t.unlock()
		return nil
	}
	if t.queue.Len() >= t.cfg.MaxQueueSize {
		t.rejected++
		t.unlock()
		t.logger.Warn("request rejected, queue full",
			"active", t.cfg.MaxConcurrent, "queue", t.cfg.MaxQueueSize)
		return ErrQueueFull
	}

	w := &waiter{ready: make(chan struct{}), enqueued: time.Now()}
	elem := t.queue.PushBack(w)
	t.enqueued++
	if t.queue.Len() > t.peakQueue {
		t.peakQueue = t.queue.Len()
	}
	t.unlock()

	timer := time.NewTimer(t.cfg.QueueTimeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return nil
	case <-timer.C:
		if t.claim(elem, w) {
			t.lock()
			t.timedOut++
			t.unlock()
			t.logger.Warn("queued request timed out", "waited", t.cfg.QueueTimeout)
			return ErrQueueTimeout
		}
		// Release won the race; the slot is ours.
		<-w.ready
		return nil
	case <-ctx.Done():
		if t.claim(elem, w) {
			t.lock()
			t.cancelled++
			t.unlock()
			return ctx.Err()
		}
		<-w.ready
		return nil
	}
}

// claim atomically removes the waiter from the queue if it has not already
// been claimed by a concurrent Release. Reports whether the caller won.
func (t *Throttle) claim(elem *list.Element, w *waiter) bool {
	t.lock()
	defer t.unlock()
	if w.claimed {
		return false
	}
	w.claimed = true
	t.queue.Remove(elem)
	return true
}

// Release completes the caller's admission: the slot transfers to the head
// waiter if one is queued, otherwise the active count drops. Release never
// suspends.
func (t *Throttle) Release() {
	t.lock()
	t.completed++
	for {
		elem := t.queue.Front()
		if elem == nil {
			t.active--
			t.unlock()
			return
		}
		t.queue.Remove(elem)
		w := elem.Value.(*waiter)
		if w.claimed {
			// Lost the race to its own timeout; skip to the next waiter.
			continue
		}
		w.claimed = true
		wait := time.Since(w.enqueued)
		t.waitTotal += wait
		t.waitCount++
		t.admitted++
		if t.promWaits != nil {
			t.promWaits.Observe(wait.Seconds())
		}
		close(w.ready)
		t.unlock()
		return
	}
}

// Stats returns a snapshot of the counters.
func (t *Throttle) Stats() Stats {
	t.lock()
	defer t.unlock()
	s := Stats{
		Active:         t.active,
		Queued:         t.queue.Len(),
		TotalRequests:  t.requests,
		TotalAdmitted:  t.admitted,
		TotalEnqueued:  t.enqueued,
		TotalRejected:  t.rejected,
		TotalTimedOut:  t.timedOut,
		TotalCancelled: t.cancelled,
		Completed:      t.completed,
		PeakActive:     t.peakAct,
		PeakQueue:      t.peakQueue,
	}
	if t.waitCount > 0 {
		s.AvgQueueWait = t.waitTotal / time.Duration(t.waitCount)
	}
	return s
}

func (t *Throttle) register(reg prometheus.Registerer) {
	labels := prometheus.Labels{"endpoint": t.cfg.Name}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "studyhall_throttle_active", Help: "Requests currently admitted.", ConstLabels: labels,
	}, func() float64 { return float64(t.Stats().Active) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "studyhall_throttle_queued", Help: "Requests currently waiting.", ConstLabels: labels,
	}, func() float64 { return float64(t.Stats().Queued) }))
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "studyhall_throttle_rejected_total", Help: "Requests rejected with queue full.", ConstLabels: labels,
	}, func() float64 { return float64(t.Stats().TotalRejected) }))
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "studyhall_throttle_timeout_total", Help: "Queued requests that timed out.", ConstLabels: labels,
	}, func() float64 { return float64(t.Stats().TotalTimedOut) }))
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "studyhall_throttle_admitted_total", Help: "Requests admitted to the pipeline.", ConstLabels: labels,
	}, func() float64 { return float64(t.Stats().TotalAdmitted) }))
	waits := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "studyhall_throttle_queue_wait_seconds", Help: "Time spent in the wait queue.",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	reg.MustRegister(waits)
	t.promWaits = waits
}
