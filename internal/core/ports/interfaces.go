package ports

import (
	"context"
	"time"

	"sky-agent/internal/core/domain"
)

// AccountClient is the social-network side of the agent.
type AccountClient interface {
	Name() string
	Login(ctx context.Context, handle, secret string) error
	FetchSuggestedAccounts(ctx context.Context) ([]domain.Account, error)
	Follow(ctx context.Context, accountID string) error
	Unfollow(ctx context.Context, accountID string) error
	PublishPost(ctx context.Context, text string) (string, error)
}

type Brain interface {
	// Generate returns post text. history holds recently published posts, newest first.
	Generate(ctx context.Context, systemPrompt, userPrompt string, history []string) (string, error)
}

// Ledger is the durable record of follow actions. Every mutating call is
// committed before it returns.
type Ledger interface {
	RecordFollow(ctx context.Context, accountID, handle string, at time.Time) error
	IsActive(ctx context.Context, accountID string) (bool, error)
	HasRecord(ctx context.Context, accountID string) (bool, error)
	DueForUnfollow(ctx context.Context, cooldown time.Duration, now time.Time) ([]domain.FollowRecord, error)
	MarkUnfollowed(ctx context.Context, accountID string) error
	Stats(ctx context.Context, cooldown time.Duration, now time.Time) (domain.LedgerStats, error)
}

type PostHistory interface {
	SavePost(ctx context.Context, post domain.PublishedPost) error
	RecentPosts(ctx context.Context, limit int) ([]domain.PublishedPost, error)
}

type Store interface {
	Ledger
	PostHistory
	Close() error
}

// StateStore persists the follow-rate controller window across restarts.
type StateStore interface {
	LoadCycleState() (domain.CycleState, bool, error)
	SaveCycleState(state domain.CycleState) error
}

type UserAction string

const (
	ActionApprove    UserAction = "approve"
	ActionRegenerate UserAction = "regenerate"
	ActionSkip       UserAction = "skip"
)

type Interaction interface {
	Confirm(ctx context.Context, title, body string) (UserAction, error)
}
