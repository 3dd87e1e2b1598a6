package posting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"
	"sky-agent/internal/follow"
	"sky-agent/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

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
	c.mu.Unlock()
	if c.onSleep != nil {
		c.onSleep(n)
	}
	return ctx.Err()
}

type fakeBrain struct {
	outputs []string
	errs    []error
	calls   int
	history [][]string
}

func (b *fakeBrain) Generate(ctx context.Context, system, user string, history []string) (string, error) {
	i := b.calls
	b.calls++
	b.history = append(b.history, history)
	if i < len(b.errs) && b.errs[i] != nil {
		return "", b.errs[i]
	}
	if i < len(b.outputs) {
		return b.outputs[i], nil
	}
	return "fallback post", nil
}

type fakeApprover struct {
	actions []ports.UserAction
	titles  []string
}

func (a *fakeApprover) Confirm(ctx context.Context, title, body string) (ports.UserAction, error) {
	a.titles = append(a.titles, title)
	act := a.actions[0]
	a.actions = a.actions[1:]
	return act, nil
}

type memHistory struct {
	posts []domain.PublishedPost
}

func (h *memHistory) SavePost(ctx context.Context, p domain.PublishedPost) error {
	h.posts = append([]domain.PublishedPost{p}, h.posts...)
	return nil
}

func (h *memHistory) RecentPosts(ctx context.Context, limit int) ([]domain.PublishedPost, error) {
	if len(h.posts) > limit {
		return h.posts[:limit], nil
	}
	return h.posts, nil
}

type postClient struct {
	posts []string
	fail  error
}

func (c *postClient) Name() string {
	return "fake"
}

func (c *postClient) Login(ctx context.Context, h, s string) error {
	return nil
}

func (c *postClient) Follow(ctx context.Context, id string) error {
	return nil
}

func (c *postClient) Unfollow(ctx context.Context, id string) error {
	return nil
}

func (c *postClient) FetchSuggestedAccounts(context.Context) ([]domain.Account, error) {
	return nil, nil
}

func (c *postClient) PublishPost(ctx context.Context, text string) (string, error) {
	if c.fail != nil {
		return "", c.fail
	}
	c.posts = append(c.posts, text)
	return "at://did:plc:me/app.bsky.feed.post/" + string(rune('a'+len(c.posts))), nil
}

type fixture struct {
	clock   *fakeClock
	brain   *fakeBrain
	client  *postClient
	history *memHistory
	sched   *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	schedule, err := ParseSchedule("0 9 * * *", loc)
	require.NoError(t, err)

	f := &fixture{
		// 08:00 IST
		clock:   &fakeClock{now: time.Date(2025, 3, 1, 2, 30, 0, 0, time.UTC)},
		brain:   &fakeBrain{},
		client:  &postClient{},
		history: &memHistory{},
	}
	quick := follow.RetryPolicy{Attempts: 3, Interval: time.Millisecond}
	logger := logging.Discard()
	f.sched = &Scheduler{
		Brain:        f.brain,
		Remote:       follow.NewRemote(f.client, follow.Policies{Publish: quick}, logger),
		History:      f.history,
		Schedule:     schedule,
		Clock:        f.clock,
		Logger:       logger,
		SystemPrompt: "sys",
		UserPrompt:   "user",
	}
	return f
}

func TestPublishOnceStoresPost(t *testing.T) {
	f := newFixture(t)
	f.brain.outputs = []string{"  " + strings.Repeat("x", 320) + "  "}

	post, err := f.sched.PublishOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Len(t, post.Text, 300)
	assert.NotEmpty(t, post.ID)
	assert.Equal(t, f.clock.now, post.PublishedAt)
	assert.Equal(t, []string{post.Text}, f.client.posts)
	require.Len(t, f.history.posts, 1)
}

func TestPublishOncePassesHistory(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 7; i++ {
		require.NoError(t, f.history.SavePost(context.Background(), domain.PublishedPost{Text: string(rune('a' + i))}))
	}

	_, err := f.sched.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, f.brain.history, 1)
	assert.Equal(t, []string{"g", "f", "e", "d", "c"}, f.brain.history[0])
}

func TestPublishOnceGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.brain.errs = []error{errors.New("quota")}

	_, err := f.sched.PublishOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Empty(t, f.client.posts)
	assert.Empty(t, f.history.posts)
}

func TestPublishOnceEmptyOutputIsFailure(t *testing.T) {
	f := newFixture(t)
	f.brain.outputs = []string{"   "}

	_, err := f.sched.PublishOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
}

func TestPublishOncePublishFailureIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	f.client.fail = domain.ErrTransient

	_, err := f.sched.PublishOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Empty(t, f.history.posts)
}

func TestApprovalFlow(t *testing.T) {
	tests := []struct {
		name      string
		actions   []ports.UserAction
		published bool
		drafts    int
	}{
		{"approve", []ports.UserAction{ports.ActionApprove}, true, 1},
		{"regenerate then approve", []ports.UserAction{ports.ActionRegenerate, ports.ActionApprove}, true, 2},
		{"skip", []ports.UserAction{ports.ActionSkip}, false, 1},
		{"regenerate until limit", []ports.UserAction{ports.ActionRegenerate, ports.ActionRegenerate, ports.ActionRegenerate}, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			approver := &fakeApprover{actions: tt.actions}
			f.sched.Approver = approver
			f.brain.outputs = []string{"draft one", "draft two", "draft three"}

			post, err := f.sched.PublishOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.published, post != nil)
			assert.Equal(t, tt.drafts, f.brain.calls)
			assert.Empty(t, approver.actions)
			if tt.published {
				assert.Equal(t, f.brain.outputs[tt.drafts-1], post.Text)
			} else {
				assert.Empty(t, f.client.posts)
			}
		})
	}
}

func TestRunWaitsForSlotAndRetriesGeneration(t *testing.T) {
	f := newFixture(t)
	f.brain.errs = []error{domain.ErrGenerationFailed}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.onSleep = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	err := f.sched.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, f.clock.sleeps, 3)
	assert.Equal(t, time.Hour, f.clock.sleeps[0], "08:00 IST to 09:00 IST")
	assert.Equal(t, time.Hour, f.clock.sleeps[1], "retry after failed generation")
	assert.Equal(t, 23*time.Hour, f.clock.sleeps[2], "10:00 IST to next 09:00 IST")
	assert.Len(t, f.client.posts, 1)
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	_, err := ParseSchedule("every morning", time.UTC)
	assert.Error(t, err)
}
