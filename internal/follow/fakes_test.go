package follow

import (
	"context"
	"sync"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/logging"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int, d time.Duration)
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook(n, d)
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeClient is an AccountClient driven by per-test hooks.
type fakeClient struct {
	mu sync.Mutex

	fetch    func(call int) ([]domain.Account, error)
	follow   func(id string, call int) error
	unfollow func(id string) error
	login    func(call int) error

	fetchCalls  int
	loginCalls  int
	followCalls map[string]int
	followed    []string
	unfollowed  []string
	posts       []string
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Login(ctx context.Context, handle, secret string) error {
	c.mu.Lock()
	c.loginCalls++
	n := c.loginCalls
	c.mu.Unlock()
	if c.login != nil {
		return c.login(n)
	}
	return nil
}

func (c *fakeClient) FetchSuggestedAccounts(ctx context.Context) ([]domain.Account, error) {
	c.mu.Lock()
	c.fetchCalls++
	n := c.fetchCalls
	c.mu.Unlock()
	if c.fetch == nil {
		return nil, nil
	}
	accts, err := c.fetch(n)
	// callers shuffle in place
	return append([]domain.Account(nil), accts...), err
}

func (c *fakeClient) Follow(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.followCalls == nil {
		c.followCalls = map[string]int{}
	}
	c.followCalls[id]++
	n := c.followCalls[id]
	c.mu.Unlock()
	if c.follow != nil {
		if err := c.follow(id, n); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.followed = append(c.followed, id)
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Unfollow(ctx context.Context, id string) error {
	if c.unfollow != nil {
		if err := c.unfollow(id); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.unfollowed = append(c.unfollowed, id)
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) PublishPost(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, text)
	return "at://did:plc:me/app.bsky.feed.post/1", nil
}

// memLedger is an in-memory Ledger with the same semantics as the SQL stores.
type memLedger struct {
	mu      sync.Mutex
	rows    map[string]*domain.FollowRecord
	records int
	err     error
}

func newMemLedger() *memLedger { return &memLedger{rows: map[string]*domain.FollowRecord{}} }

func (l *memLedger) RecordFollow(ctx context.Context, id, handle string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.rows[id]; ok && !r.Unfollowed {
		return domain.ErrDuplicateKey
	}
	l.rows[id] = &domain.FollowRecord{AccountID: id, Handle: handle, FollowedAt: at}
	l.records++
	return nil
}

func (l *memLedger) IsActive(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	r, ok := l.rows[id]
	return ok && !r.Unfollowed, nil
}

func (l *memLedger) HasRecord(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	_, ok := l.rows[id]
	return ok, nil
}

func (l *memLedger) DueForUnfollow(ctx context.Context, cooldown time.Duration, now time.Time) ([]domain.FollowRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []domain.FollowRecord
	for _, r := range l.rows {
		if !r.Unfollowed && !r.FollowedAt.After(now.Add(-cooldown)) {
			due = append(due, *r)
		}
	}
	return due, nil
}

func (l *memLedger) MarkUnfollowed(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.rows[id]; ok {
		r.Unfollowed = true
	}
	return nil
}

func (l *memLedger) Stats(ctx context.Context, cooldown time.Duration, now time.Time) (domain.LedgerStats, error) {
	return domain.LedgerStats{}, nil
}

func (l *memLedger) active(id string) bool {
	ok, _ := l.IsActive(context.Background(), id)
	return ok
}

func quickPolicies() Policies {
	p := RetryPolicy{Attempts: 3, Interval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Exponential: true}
	follow := p
	follow.Attempts = 2
	login := RetryPolicy{Attempts: 3, Interval: time.Millisecond}
	return Policies{Suggestions: p, Follow: follow, Unfollow: p, Login: login, Publish: p}
}

func accounts(prefix string, n int) []domain.Account {
	out := make([]domain.Account, n)
	for i := range out {
		out[i] = domain.Account{
			ID:     "did:plc:" + prefix + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Handle: prefix + string(rune('a'+i%26)) + string(rune('a'+i/26)) + ".bsky.social",
		}
	}
	return out
}

type harness struct {
	clock  *fakeClock
	client *fakeClient
	ledger *memLedger
	rate   *RateController
	driver *Driver
}

func newHarness(limit int, delay time.Duration) *harness {
	h := &harness{
		clock:  newFakeClock(),
		client: &fakeClient{},
		ledger: newMemLedger(),
	}
	logger := logging.Discard()
	remote := NewRemote(h.client, quickPolicies(), logger)
	remote.Clock = h.clock
	h.rate = NewRateController(limit, delay, delay, h.clock.Now())
	h.driver = NewDriver(Deps{
		Remote: remote,
		Filter: NewFilter([]string{"bsky", "sky"}, false, h.ledger, logger),
		Rate:   h.rate,
		Sweeper: &Sweeper{
			Ledger:   h.ledger,
			Remote:   remote,
			Cooldown: 5 * 24 * time.Hour,
			Clock:    h.clock,
			Logger:   logger,
		},
		Ledger: h.ledger,
		Clock:  h.clock,
		Logger: logger,
	}, DefaultDriverConfig())
	h.driver.shuffle = func([]domain.Account) {}
	return h
}
