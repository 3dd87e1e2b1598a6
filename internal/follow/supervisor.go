package follow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrRestartBudget = errors.New("worker restart budget exhausted")

// Supervisor keeps a worker running for as long as ctx lives, restarting it
// after it returns or panics.
type Supervisor struct {
	Name        string
	MaxRestarts int // 0 means unlimited
	Backoff     time.Duration
	Clock       Clock
	Logger      *slog.Logger

	restarts int
}

func (s *Supervisor) Run(ctx context.Context, worker func(context.Context) error) error {
	for {
		err := s.runOnce(ctx, worker)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.restarts++
		workerRestarts.WithLabelValues(s.Name).Inc()
		if s.MaxRestarts > 0 && s.restarts > s.MaxRestarts {
			return fmt.Errorf("%w: %s restarted %d times, last error: %v", ErrRestartBudget, s.Name, s.MaxRestarts, err)
		}

		s.Logger.Warn("worker exited, restarting", "worker", s.Name, "restarts", s.restarts, "error", err, "backoff", s.Backoff)
		if err := s.Clock.Sleep(ctx, s.Backoff); err != nil {
			return err
		}
	}
}

func (s *Supervisor) Restarts() int {
	return s.restarts
}

func (s *Supervisor) runOnce(ctx context.Context, worker func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	err = worker(ctx)
	if err == nil {
		err = errors.New("worker returned")
	}
	return err
}
