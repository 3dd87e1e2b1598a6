package follow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"

	"github.com/google/uuid"
)

// RecoveryPolicy is what the driver does with an iteration that fails: wait
// Cooldown, then start the next iteration.
type RecoveryPolicy struct {
	Cooldown time.Duration
}

type DriverConfig struct {
	Recovery RecoveryPolicy
	// IdleWait is slept when a batch is empty or yields no follow.
	IdleWait time.Duration
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Recovery: RecoveryPolicy{Cooldown: 5 * time.Minute},
		IdleWait: time.Hour,
	}
}

// Deps are the collaborators of the cycle driver.
type Deps struct {
	Remote  *Remote
	Filter  *Filter
	Rate    *RateController
	Sweeper *Sweeper
	Ledger  ports.Ledger
	Clock   Clock
	Logger  *slog.Logger
}

// Driver is the follow cycle: sweep, fetch, filter, follow, pace.
type Driver struct {
	Deps
	cfg     DriverConfig
	shuffle func([]domain.Account)
}

func NewDriver(deps Deps, cfg DriverConfig) *Driver {
	return &Driver{
		Deps: deps,
		cfg:  cfg,
		shuffle: func(accts []domain.Account) {
			rand.Shuffle(len(accts), func(i, j int) { accts[i], accts[j] = accts[j], accts[i] })
		},
	}
}

// Run iterates until ctx is done. A failed iteration never ends the loop.
func (d *Driver) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cycleID := uuid.NewString()
		err := d.RunIteration(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cycleErrors.Inc()
		level := slog.LevelError
		if errors.Is(err, domain.ErrRateLimited) {
			level = slog.LevelWarn
		}
		d.Logger.Log(ctx, level, "follow cycle error", "cycle_id", cycleID, "error", err, "cooldown", d.cfg.Recovery.Cooldown)
		if err := d.Clock.Sleep(ctx, d.cfg.Recovery.Cooldown); err != nil {
			return err
		}
	}
}

// RunIteration performs one pass. Panics are returned as errors.
func (d *Driver) RunIteration(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("follow cycle panic: %v", r)
		}
	}()

	if d.Rate.Roll(d.Clock.Now()) {
		d.Logger.Info("follow cycle window rolled over")
	}

	res, err := d.Sweeper.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.Logger.Error("unfollow sweep failed", "error", err)
	} else if res.Due > 0 {
		d.Logger.Info("unfollow sweep done", "due", res.Due, "unfollowed", res.Unfollowed, "failed", res.Failed)
	}

	if d.Rate.QuotaExhausted() {
		return d.waitForNextCycle(ctx)
	}

	batch, err := d.Remote.FetchSuggestions(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		d.Logger.Warn("no follow suggestions available", "sleep", d.cfg.IdleWait)
		return d.Clock.Sleep(ctx, d.cfg.IdleWait)
	}

	d.shuffle(batch)

	followed := 0
	for _, acct := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Filter.IsEligible(ctx, acct) {
			continue
		}
		ok, err := d.follow(ctx, acct)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		followed++

		delay := d.Rate.NextDelay()
		d.Logger.Info("sleeping before next follow", "minutes", int(delay/time.Minute))
		if err := d.Clock.Sleep(ctx, delay); err != nil {
			return err
		}
		if d.Rate.QuotaExhausted() {
			break
		}
	}

	if followed == 0 {
		d.Logger.Info("no eligible accounts in batch", "batch", len(batch), "sleep", d.cfg.IdleWait)
		return d.Clock.Sleep(ctx, d.cfg.IdleWait)
	}
	return nil
}

// follow reports whether the account was followed. Rate-limit exhaustion and
// ledger write failures are returned; other remote failures skip the account.
func (d *Driver) follow(ctx context.Context, acct domain.Account) (bool, error) {
	if err := d.Remote.Follow(ctx, acct); err != nil {
		if errors.Is(err, domain.ErrRateLimited) || ctx.Err() != nil {
			return false, err
		}
		d.Logger.Error("error following account", "handle", acct.Handle, "error", err)
		return false, nil
	}

	d.Rate.OnFollowSuccess()
	followsTotal.Inc()

	err := d.Ledger.RecordFollow(ctx, acct.ID, acct.Handle, d.Clock.Now())
	switch {
	case err == nil:
		d.Logger.Info("successfully followed", "handle", acct.Handle, "count", d.Rate.State().FollowCount, "limit", d.Rate.DailyLimit)
	case errors.Is(err, domain.ErrDuplicateKey):
		d.Logger.Error("followed an account that is already active in the ledger", "handle", acct.Handle, "account", acct.ID, "defect", true)
	default:
		return true, fmt.Errorf("ledger write after follow of %s: %w", acct.Handle, err)
	}
	return true, nil
}

func (d *Driver) waitForNextCycle(ctx context.Context) error {
	wait := d.Rate.WaitForNextCycle(d.Clock.Now())
	d.Logger.Info("daily follow limit reached", "limit", d.Rate.DailyLimit, "sleep_seconds", int(wait.Seconds()))
	if err := d.Clock.Sleep(ctx, wait); err != nil {
		return err
	}
	d.Rate.Reset(d.Clock.Now())
	return nil
}
