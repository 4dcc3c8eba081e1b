// Package scheduler runs a periodic reconciliation job on a cron schedule so
// changes missed while the feed was down are eventually picked up.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vecsync/internal/apperr"
)

// Job is one scheduled run.
type Job func(ctx context.Context) error

type Status struct {
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	Runs      int        `json:"runs"`
	Skipped   int        `json:"skipped"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// Scheduler fires Job on a cron schedule. A run that comes due while the
// previous one is still going is skipped.
type Scheduler struct {
	spec string
	job  Job
	cron *cron.Cron

	mu      sync.Mutex
	busy    bool
	started bool
	entry   cron.EntryID
	status  Status
	ctx     context.Context
	cancel  context.CancelFunc
}

// New parses spec in the standard five-field format (descriptors such as
// "@hourly" and "@every 15m" included).
func New(spec string, job Job) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", apperr.ErrInput, spec, err)
	}
	logger := slogLogger{}
	return &Scheduler{
		spec:   spec,
		job:    job,
		cron:   cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger))),
		status: Status{Schedule: spec},
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	id, err := s.cron.AddFunc(s.spec, func() { s.RunNow(s.ctx) })
	if err != nil {
		s.cancel()
		return fmt.Errorf("schedule job: %w", err)
	}
	s.entry = id
	s.started = true
	s.cron.Start()
	slog.InfoContext(ctx, "reconcile scheduler started", "schedule", s.spec)
	return nil
}

// Stop halts the schedule, cancels a run in progress and waits up to 30s for
// it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	select {
	case <-s.cron.Stop().Done():
		slog.Info("reconcile scheduler stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("reconcile scheduler stop timed out")
	}
}

// RunNow runs the job unless a run is already in progress. It reports
// whether the job ran.
func (s *Scheduler) RunNow(ctx context.Context) bool {
	s.mu.Lock()
	if s.busy {
		s.status.Skipped++
		s.mu.Unlock()
		slog.WarnContext(ctx, "previous reconcile run still in progress, skipping")
		return false
	}
	s.busy = true
	s.mu.Unlock()

	start := time.Now()
	err := s.job(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.status.Runs++
	s.status.LastRun = &start
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
		slog.ErrorContext(ctx, "scheduled reconcile failed", "error", err, "duration", time.Since(start))
	} else {
		slog.InfoContext(ctx, "scheduled reconcile finished", "duration", time.Since(start))
	}
	return true
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.busy
	if st.LastRun != nil {
		t := *st.LastRun
		st.LastRun = &t
	}
	if s.started {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

// slogLogger adapts cron's logger interface to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
