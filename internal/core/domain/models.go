package domain

import "time"

// Account is a social-network identity as returned by the suggestion feed.
type Account struct {
	ID     string // stable identifier (a DID on Bluesky)
	Handle string
}

// FollowRecord is one row of the follow ledger.
type FollowRecord struct {
	AccountID  string
	Handle     string // informational, captured at follow time
	FollowedAt time.Time
	Unfollowed bool
}

// PublishedPost is a generated post that made it onto the network.
type PublishedPost struct {
	ID          string
	Text        string
	URI         string
	PublishedAt time.Time
}

// LedgerStats summarizes the ledger for status output.
type LedgerStats struct {
	Total      int
	Active     int
	Unfollowed int
	Due        int
}

// CycleState is the follow-rate controller's window: how many follows were
// made since CycleStart.
type CycleState struct {
	FollowCount int       `json:"follow_count"`
	CycleStart  time.Time `json:"cycle_start"`
}
