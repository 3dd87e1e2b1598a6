package follow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often one remote operation is attempted.
type RetryPolicy struct {
	Attempts    int
	Interval    time.Duration // first wait, or every wait when not Exponential
	MaxInterval time.Duration
	Exponential bool
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	var b backoff.BackOff
	if p.Exponential {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.Interval
		exp.RandomizationFactor = 0
		exp.Multiplier = 2
		exp.MaxInterval = p.MaxInterval
		if exp.MaxInterval < p.Interval {
			exp.MaxInterval = p.Interval
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	} else {
		b = backoff.NewConstantBackOff(p.Interval)
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// Policies holds one RetryPolicy per remote operation.
type Policies struct {
	Suggestions RetryPolicy
	Follow      RetryPolicy
	Unfollow    RetryPolicy
	Login       RetryPolicy
	Publish     RetryPolicy
}

func DefaultPolicies() Policies {
	return Policies{
		Suggestions: RetryPolicy{Attempts: 3, Interval: time.Second, MaxInterval: 30 * time.Second, Exponential: true},
		// a failed follow is cheap to skip; it comes back on a later page
		Follow:   RetryPolicy{Attempts: 2, Interval: time.Second, MaxInterval: 30 * time.Second, Exponential: true},
		Unfollow: RetryPolicy{Attempts: 3, Interval: time.Second, MaxInterval: 30 * time.Second, Exponential: true},
		Login:    RetryPolicy{Attempts: 3, Interval: 10 * time.Second},
		Publish:  RetryPolicy{Attempts: 3, Interval: 5 * time.Second, MaxInterval: time.Minute, Exponential: true},
	}
}

// Remote applies the retry policies to every call into the account client.
// Rate-limit failures are retried like any other and, once the attempts run
// out, returned wrapping domain.ErrRateLimited.
type Remote struct {
	Client   ports.AccountClient
	Policies Policies
	// Clock paces the waits between attempts.
	Clock  Clock
	Logger *slog.Logger
}

func NewRemote(client ports.AccountClient, policies Policies, logger *slog.Logger) *Remote {
	return &Remote{Client: client, Policies: policies, Clock: SystemClock{}, Logger: logger}
}

func (r *Remote) Login(ctx context.Context, handle, secret string) error {
	err := r.call(ctx, "login", r.Policies.Login, func(ctx context.Context) error {
		return r.Client.Login(ctx, handle, secret)
	})
	if err == nil {
		r.Logger.Info("successfully logged in", "site", r.Client.Name(), "handle", handle)
	}
	return err
}

func (r *Remote) FetchSuggestions(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	err := r.call(ctx, "get_suggestions", r.Policies.Suggestions, func(ctx context.Context) error {
		var err error
		accounts, err = r.Client.FetchSuggestedAccounts(ctx)
		return err
	})
	return accounts, err
}

func (r *Remote) Follow(ctx context.Context, acct domain.Account) error {
	return r.call(ctx, "follow", r.Policies.Follow, func(ctx context.Context) error {
		return r.Client.Follow(ctx, acct.ID)
	}, "handle", acct.Handle)
}

func (r *Remote) Unfollow(ctx context.Context, rec domain.FollowRecord) error {
	return r.call(ctx, "unfollow", r.Policies.Unfollow, func(ctx context.Context) error {
		return r.Client.Unfollow(ctx, rec.AccountID)
	}, "handle", rec.Handle)
}

func (r *Remote) Publish(ctx context.Context, text string) (string, error) {
	var uri string
	err := r.call(ctx, "publish", r.Policies.Publish, func(ctx context.Context) error {
		var err error
		uri, err = r.Client.PublishPost(ctx, text)
		return err
	})
	return uri, err
}

func (r *Remote) call(ctx context.Context, op string, policy RetryPolicy, fn func(context.Context) error, attrs ...any) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}

		args := append([]any{"op", op, "attempt", attempt, "error", err}, attrs...)
		switch {
		case isPermanent(err):
			return backoff.Permanent(err)
		case errors.Is(err, domain.ErrRateLimited):
			remoteFailures.WithLabelValues(op, "rate_limited").Inc()
			r.Logger.Warn("rate limit hit", args...)
		default:
			remoteFailures.WithLabelValues(op, "transient").Inc()
			r.Logger.Error("remote call failed", args...)
		}
		return err
	}

	timer := &clockTimer{clock: r.Clock, ctx: ctx}
	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(policy.newBackOff(), ctx), nil, timer)
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		return err
	}
	return fmt.Errorf("%s failed after %d attempt(s): %w", op, attempt, err)
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrAuth) ||
		errors.Is(err, domain.ErrNotFollowing) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// clockTimer is a backoff.Timer that waits on a Clock. Start blocks until
// the wait is over or ctx is done; in the latter case C never fires and the
// retry loop returns ctx.Err().
type clockTimer struct {
	clock Clock
	ctx   context.Context
	c     chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	t.c = make(chan time.Time, 1)
	if err := t.clock.Sleep(t.ctx, d); err == nil {
		t.c <- t.clock.Now()
	}
}

func (t *clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
