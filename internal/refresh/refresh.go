// Package refresh re-imports the configured ICS sources on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "confsched/internal/log"
)

// ErrBusy is returned by RunOnce while another cycle is still running.
var ErrBusy = errors.New("refresh: a cycle is already running")

// Func performs one refresh cycle.
type Func func(ctx context.Context) error

// Status describes the last completed cycle.
type Status struct {
	Running  bool
	LastRun  time.Time
	Duration time.Duration
	LastErr  error
	Runs     int
}

// Scheduler runs Func on a cron schedule. Cycles never overlap: a tick
// that fires while a cycle is still running is skipped.
type Scheduler struct {
	spec string
	loc  *time.Location
	fn   Func

	runMu sync.Mutex

	mu     sync.Mutex
	status Status
}

// New validates spec (standard five-field cron or a descriptor such as
// "@every 10m") and returns a scheduler for fn.
func New(spec string, loc *time.Location, fn Func) (*Scheduler, error) {
	if fn == nil {
		return nil, errors.New("refresh: nil func")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("refresh: schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{spec: spec, loc: loc, fn: fn}, nil
}

// RunOnce runs a single cycle and returns its error. It returns ErrBusy
// without running when a cycle is in progress.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.runMu.TryLock() {
		appLog.Info("refresh skipped; previous cycle still running")
		return ErrBusy
	}
	defer s.runMu.Unlock()

	s.mu.Lock()
	s.status.Running = true
	s.mu.Unlock()

	start := time.Now()
	err := s.fn(ctx)
	took := time.Since(start)

	s.mu.Lock()
	s.status = Status{
		LastRun:  start,
		Duration: took,
		LastErr:  err,
		Runs:     s.status.Runs + 1,
	}
	s.mu.Unlock()

	if err != nil {
		appLog.Error("refresh cycle failed", err, "took", took.String())
	} else {
		appLog.Info("refresh cycle completed", "took", took.String())
	}
	return err
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start runs a cycle immediately and then on every tick until ctx is
// cancelled. It waits for a running cycle to finish before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	if _, err := c.AddFunc(s.spec, func() { _ = s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("refresh: schedule %q: %w", s.spec, err)
	}

	appLog.Info("refresh scheduler started", "schedule", s.spec, "timezone", s.loc.String())
	_ = s.RunOnce(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	appLog.Info("refresh scheduler stopped")
	return nil
}

// cronLogger routes cron's own logging into the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
