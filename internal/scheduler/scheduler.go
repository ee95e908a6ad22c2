// Package scheduler runs recurring Onebit jobs, such as the daily anchor
// reminder, on standard 5-field cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrEmptySchedule is returned for a blank cron expression.
var ErrEmptySchedule = errors.New("cron expression cannot be empty")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a scheduled task. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler wraps a cron runner whose jobs share one context.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
}

// New creates a stopped scheduler evaluating expressions in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, stop := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{cron: c, ctx: ctx, stop: stop}
}

// Validate reports whether expr is a schedule the scheduler accepts.
func Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return ErrEmptySchedule
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// AddJob schedules job under expr. name only labels log lines.
func (s *Scheduler) AddJob(expr, name string, job Job) error {
	if err := Validate(expr); err != nil {
		return err
	}
	_, err := s.cron.AddFunc(expr, func() {
		slog.Debug("Scheduler: running job", "job", name)
		job(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "schedule", expr)
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	s.stop()
	<-s.cron.Stop().Done()
	slog.Debug("Scheduler.Run: stopped")
}
