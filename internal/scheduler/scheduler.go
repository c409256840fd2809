// Package scheduler runs the monitor pipeline on a fixed half-hour cadence
// aligned to wall-clock boundaries.
package scheduler

import (
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// minWait avoids a degenerate zero or negative sleep when the loop wakes
// exactly on a boundary.
const minWait = time.Second

// Runner invokes one pipeline run and returns its combined output. The
// production runner execs a child process so a crashed or hung run cannot
// take the scheduler down with it.
type Runner interface {
	Run(ctx context.Context) ([]byte, error)
}

// ExecRunner runs the pipeline as a child process.
type ExecRunner struct {
	path string
	args []string
}

// NewExecRunner builds a Runner that executes path with args.
func NewExecRunner(path string, args ...string) *ExecRunner {
	return &ExecRunner{path: path, args: args}
}

// Run executes the child process and returns its combined stdout/stderr.
func (r *ExecRunner) Run(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.path, r.args...)
	return cmd.CombinedOutput()
}

// NextBoundary returns the next top-of-hour or half-hour instant at or after
// now. Exactly on a boundary the boundary itself is returned; WaitDuration
// clamps the resulting zero wait.
func NextBoundary(now time.Time) time.Time {
	topOfHour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	halfPast := topOfHour.Add(30 * time.Minute)
	switch {
	case now.Equal(topOfHour):
		return topOfHour
	case now.Before(halfPast) || now.Equal(halfPast):
		return halfPast
	default:
		return topOfHour.Add(time.Hour)
	}
}

// WaitDuration returns how long to sleep until the next boundary, clamped to
// a one-second minimum.
func WaitDuration(now time.Time) time.Duration {
	wait := NextBoundary(now).Sub(now)
	if wait < minWait {
		return minWait
	}
	return wait
}

// Scheduler owns the indefinite wait-then-spawn loop.
type Scheduler struct {
	runner Runner
	logger *zap.Logger

	// Injection points for tests.
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Scheduler around the given runner.
func New(runner Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger,
		clock:  time.Now,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loops forever: sleep to the next boundary, spawn one pipeline run,
// wait for it to finish, repeat. Runs are never overlapped. The loop only
// returns when ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started")
	for {
		now := s.clock()
		next := NextBoundary(now)
		wait := WaitDuration(now)
		s.logger.Info("next run scheduled",
			zap.Time("scheduled_at", next),
			zap.Duration("wait", wait))

		if err := s.sleep(ctx, wait); err != nil {
			s.logger.Info("scheduler stopped", zap.Error(err))
			return err
		}

		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.logger.Info("spawning monitor run")
	started := s.clock()
	output, err := s.runner.Run(ctx)
	elapsed := s.clock().Sub(started)

	if err != nil {
		s.logger.Error("monitor run failed",
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		s.logger.Info("monitor run succeeded", zap.Duration("elapsed", elapsed))
	}
	if len(output) > 0 {
		// Child output is logged verbatim; it already carries its own
		// timestamps and levels.
		s.logger.Info("monitor run output", zap.ByteString("output", output))
	}
}
