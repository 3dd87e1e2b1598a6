package domain

import "errors"

var (
	// ErrRateLimited means the remote service throttled us.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient covers network and service failures worth retrying.
	ErrTransient = errors.New("transient remote failure")
	// ErrAuth is a credential failure. Never retried.
	ErrAuth = errors.New("authentication failed")
	// ErrDuplicateKey means an active ledger row already exists for the account.
	ErrDuplicateKey = errors.New("duplicate ledger key")
	// ErrGenerationFailed means the text generator produced nothing usable.
	ErrGenerationFailed = errors.New("text generation failed")
	// ErrNotFollowing is returned by unfollow when no follow record exists remotely.
	ErrNotFollowing = errors.New("not following")
)
