package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"vecsync/internal/apperr"
	"vecsync/internal/middleware"
	"vecsync/internal/source"
)

type State string

const (
	StateStopped      State = "stopped"
	StateConnecting   State = "connecting"
	StateWatching     State = "watching"
	StateError        State = "error"
	StateReconnecting State = "reconnecting"
)

const (
	DefaultMaxAttempts  = 10
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
)

var ErrAlreadyRunning = errors.New("watcher already running")

type WatcherOptions struct {
	Mapping FieldMapping
	// MaxAttempts bounds consecutive failed connection attempts. The counter
	// resets only once a subscription proves healthy: it delivered an event
	// or stayed up for at least MaxDelay.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (o WatcherOptions) withDefaults() WatcherOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	return o
}

// Status is a point-in-time view of the watcher for health checks.
type Status struct {
	State           State      `json:"state"`
	Running         bool       `json:"running"`
	Attempts        int        `json:"attempts"`
	Failed          bool       `json:"failed"`
	LastError       string     `json:"last_error,omitempty"`
	EventsProcessed int64      `json:"events_processed"`
	EventErrors     int64      `json:"event_errors"`
	LastEventAt     *time.Time `json:"last_event_at,omitempty"`
}

// Watcher follows a change feed and reconciles each event in arrival order.
// Feed failures move it through Error and Reconnecting back to Connecting
// until the attempt budget runs out, after which it stops and reports Failed.
type Watcher struct {
	engine *Engine
	feed   source.ChangeFeed
	opts   WatcherOptions

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWatcher(engine *Engine, feed source.ChangeFeed, opts WatcherOptions) *Watcher {
	return &Watcher{
		engine: engine,
		feed:   feed,
		opts:   opts.withDefaults(),
		status: Status{State: StateStopped},
	}
}

// Start launches the watch loop and returns immediately. The loop ends when
// ctx is cancelled, Stop is called or reconnect attempts are exhausted.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.opts.Mapping.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.Running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.status = Status{State: StateConnecting, Running: true}

	go func() {
		w.run(runCtx, done)
		cancel()
	}()
	return nil
}

// Stop cancels the loop and waits for the subscription to be released. It
// is safe to call repeatedly and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	if s.LastEventAt != nil {
		t := *s.LastEventAt
		s.LastEventAt = &t
	}
	return s
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := &backoff.ExponentialBackOff{
		InitialInterval:     w.opts.InitialDelay,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         w.opts.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	attempts := 0
	for {
		w.setState(StateConnecting)
		sub, err := w.feed.Subscribe(ctx)
		if err == nil {
			w.update(func(s *Status) { s.State = StateWatching })
			slog.InfoContext(ctx, "change feed subscribed", "attempt", attempts)

			subscribedAt := time.Now()
			var delivered bool
			delivered, err = w.consume(ctx, sub)
			if cerr := sub.Close(); cerr != nil {
				slog.WarnContext(ctx, "failed to close subscription", "error", cerr)
			}
			if delivered || time.Since(subscribedAt) >= w.opts.MaxDelay {
				attempts = 0
				b.Reset()
			}
		}
		if ctx.Err() != nil {
			w.finish(nil)
			return
		}

		attempts++
		w.update(func(s *Status) {
			s.State = StateError
			s.Attempts = attempts
			s.LastError = err.Error()
		})
		slog.WarnContext(ctx, "change feed error", "error", err, "attempt", attempts, "max_attempts", w.opts.MaxAttempts)

		if attempts >= w.opts.MaxAttempts {
			slog.ErrorContext(ctx, "change feed reconnect attempts exhausted, watcher stopped", "error", err, "attempts", attempts)
			w.finish(err)
			return
		}

		delay := b.NextBackOff()
		w.setState(StateReconnecting)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.finish(nil)
			return
		case <-timer.C:
		}
	}
}

// consume dispatches events until the subscription breaks or ctx ends. It
// reports whether at least one event was delivered.
func (w *Watcher) consume(ctx context.Context, sub source.Subscription) (bool, error) {
	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case err, ok := <-sub.Errors():
			if !ok || err == nil {
				return delivered, fmt.Errorf("%w: subscription closed", apperr.ErrFeed)
			}
			return delivered, err
		case ev, ok := <-sub.Events():
			if !ok {
				return delivered, fmt.Errorf("%w: event stream closed", apperr.ErrFeed)
			}
			delivered = true
			w.dispatch(ctx, ev)
		}
	}
}

// dispatch applies one event. Failures are logged and recorded but never
// stop the feed.
func (w *Watcher) dispatch(ctx context.Context, ev source.ChangeEvent) {
	ctx = middleware.WithCorrelationID(ctx, uuid.NewString())

	var err error
	switch ev.Operation {
	case source.OpDelete:
		err = w.engine.DeleteDocument(ctx, ev.DocumentID)
	case source.OpInsert, source.OpUpdate:
		doc := source.Document{ID: ev.DocumentID}
		if ev.Document != nil {
			doc = *ev.Document
			doc.ID = ev.DocumentID
		}
		_, err = w.engine.ReconcileDocument(ctx, doc, w.opts.Mapping)
	default:
		err = fmt.Errorf("%w: unsupported operation %q", apperr.ErrInput, ev.Operation)
	}

	now := time.Now()
	w.update(func(s *Status) {
		s.EventsProcessed++
		s.LastEventAt = &now
		if err != nil {
			s.EventErrors++
		}
	})
	if err != nil {
		slog.ErrorContext(ctx, "change event failed", "error", err, "op", ev.Operation, "doc_id", ev.DocumentID)
		w.engine.recordFailure(ctx, ev.DocumentID, ev.Operation, err)
	}
}

func (w *Watcher) setState(st State) {
	w.update(func(s *Status) { s.State = st })
}

func (w *Watcher) update(fn func(*Status)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.status)
}

// finish moves the watcher to Stopped. A non-nil cause marks it Failed.
func (w *Watcher) finish(cause error) {
	w.update(func(s *Status) {
		s.State = StateStopped
		s.Running = false
		if cause != nil {
			s.Failed = true
			s.LastError = cause.Error()
		}
	})
}
