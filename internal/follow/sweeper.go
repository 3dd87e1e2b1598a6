package follow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"
)

type SweepResult struct {
	Due        int
	Unfollowed int
	Failed     int
}

// Sweeper unfollows accounts followed at least Cooldown ago. Failed
// unfollows stay active in the ledger and come up again on the next sweep.
type Sweeper struct {
	Ledger   ports.Ledger
	Remote   *Remote
	Cooldown time.Duration
	Clock    Clock
	Logger   *slog.Logger
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	due, err := s.Ledger.DueForUnfollow(ctx, s.Cooldown, s.Clock.Now())
	if err != nil {
		return res, err
	}
	res.Due = len(due)

	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		err := s.Remote.Unfollow(ctx, rec)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFollowing):
			s.Logger.Info("follow record already gone remotely", "account", rec.AccountID, "handle", rec.Handle)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return res, err
		default:
			res.Failed++
			s.Logger.Error("unfollow failed, will retry next sweep", "account", rec.AccountID, "handle", rec.Handle, "error", err)
			if errors.Is(err, domain.ErrRateLimited) {
				// the rest stays due; no point hammering a throttled API
				return res, nil
			}
			continue
		}

		if err := s.Ledger.MarkUnfollowed(ctx, rec.AccountID); err != nil {
			res.Failed++
			s.Logger.Error("failed to mark unfollowed", "account", rec.AccountID, "error", err)
			continue
		}
		res.Unfollowed++
		unfollowsTotal.Inc()
		s.Logger.Info("successfully unfollowed", "handle", rec.Handle, "followed_at", rec.FollowedAt)
	}
	return res, nil
}
