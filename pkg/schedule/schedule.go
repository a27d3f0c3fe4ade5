// Package schedule runs background jobs on a fixed interval with robfig/cron.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrAlreadyStarted = errors.New("schedule already started")

// Job is one scheduled unit of work. ctx is cancelled by Stop.
type Job func(ctx context.Context)

// Schedule runs a job every interval. A run still in progress when the next
// tick fires is skipped, and panics are recovered and logged.
type Schedule struct {
	name     string
	interval time.Duration
	job      Job
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func New(name string, interval time.Duration, job Job, logger *slog.Logger) (*Schedule, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("schedule %s: interval must be positive, got %s", name, interval)
	}

	return &Schedule{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger.With("schedule", name),
	}, nil
}

// Spec returns the cron expression of the schedule.
func (s *Schedule) Spec() string {
	return "@every " + s.interval.String()
}

func (s *Schedule) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := cronLogger{s.logger}

	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	if _, err := c.AddFunc(s.Spec(), func() { s.job(ctx) }); err != nil {
		cancel()

		return fmt.Errorf("failed to add cron job for %s: %w", s.name, err)
	}

	c.Start()

	s.cron = c
	s.cancel = cancel

	s.logger.Info("Schedule started", "spec", s.Spec())

	return nil
}

// Stop prevents further runs, cancels the job context and waits for a running
// job to return.
func (s *Schedule) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}

	done := s.cron.Stop()
	s.cancel()
	<-done.Done()

	s.cron = nil
	s.cancel = nil

	s.logger.Info("Schedule stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
