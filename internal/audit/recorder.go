package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"sysaccess.org/internal/ids"
	"sysaccess.org/internal/obs"
)

const defaultQueueSize = 1024

// Recorder fans audit entries out to sinks from a background worker.
// Record never blocks the caller and never fails it: a full queue drops the
// entry and sink errors are logged. A nil *Recorder is a valid disabled recorder.
type Recorder struct {
	sinks []Sink
	queue chan Entry
	now   func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithQueueSize sets the buffer size of pending entries.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Entry, n)
		}
	}
}

// WithClock overrides the time source for OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder starts a recorder writing to sinks.
func NewRecorder(sinks []Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sinks: sinks,
		queue: make(chan Entry, defaultQueueSize),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record enqueues e, filling ID, OccurredAt and RequestID when unset.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		obs.ObserveAudit("dropped")
		return
	}
	select {
	case r.queue <- e:
	default:
		obs.ObserveAudit("dropped")
		obs.Logger().Warn("audit queue full, entry dropped", "action", e.Action, "target", e.Target)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e Entry) {
	// Sinks get their own deadline so a cancelled caller cannot lose the entry.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Write(ctx, e); err != nil {
			obs.ObserveAudit("failed")
			obs.Logger().Error("audit write failed", "action", e.Action, "target", e.Target, "error", err)
			continue
		}
		obs.ObserveAudit("written")
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("audit queue not drained"), ctx.Err())
	}
}
