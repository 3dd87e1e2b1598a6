package follow

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"
)

// CycleLength is the quota window, anchored to when the cycle began.
const CycleLength = 24 * time.Hour

// RateController owns the daily follow count and the pacing between follows.
// It is used from the single follow worker only.
type RateController struct {
	DailyLimit int
	MinDelay   time.Duration
	MaxDelay   time.Duration

	state  domain.CycleState
	store  ports.StateStore
	logger *slog.Logger
}

func NewRateController(limit int, minDelay, maxDelay time.Duration, now time.Time) *RateController {
	return &RateController{
		DailyLimit: limit,
		MinDelay:   minDelay,
		MaxDelay:   maxDelay,
		state:      domain.CycleState{CycleStart: now},
	}
}

// Persist loads a saved window from store (if one exists) and saves every
// later change to it.
func (r *RateController) Persist(store ports.StateStore, logger *slog.Logger) error {
	r.store = store
	r.logger = logger
	st, ok, err := store.LoadCycleState()
	if err != nil {
		return err
	}
	if ok {
		r.state = st
	}
	quotaUsed.Set(float64(r.state.FollowCount))
	return nil
}

// NextDelay draws a whole number of seconds uniformly from [MinDelay, MaxDelay].
func (r *RateController) NextDelay() time.Duration {
	lo := int64(r.MinDelay / time.Second)
	hi := int64(r.MaxDelay / time.Second)
	if hi <= lo {
		return time.Duration(lo) * time.Second
	}
	return time.Duration(lo+rand.Int64N(hi-lo+1)) * time.Second
}

func (r *RateController) QuotaExhausted() bool {
	return r.state.FollowCount >= r.DailyLimit
}

func (r *RateController) OnFollowSuccess() {
	r.state.FollowCount++
	r.changed()
}

// WaitForNextCycle is the time left until CycleStart+24h, never negative.
func (r *RateController) WaitForNextCycle(now time.Time) time.Duration {
	left := r.state.CycleStart.Add(CycleLength).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func (r *RateController) Reset(now time.Time) {
	r.state = domain.CycleState{CycleStart: now}
	r.changed()
}

// Roll starts a new window if the current one has run its 24 hours.
func (r *RateController) Roll(now time.Time) bool {
	if now.Before(r.state.CycleStart.Add(CycleLength)) {
		return false
	}
	r.Reset(now)
	return true
}

func (r *RateController) State() domain.CycleState {
	return r.state
}

func (r *RateController) changed() {
	quotaUsed.Set(float64(r.state.FollowCount))
	if r.store == nil {
		return
	}
	if err := r.store.SaveCycleState(r.state); err != nil && r.logger != nil {
		r.logger.Error("failed to save cycle state", "error", err)
	}
}
