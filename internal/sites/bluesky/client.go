package bluesky

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultHost = "https://bsky.social"

	followCollection = "app.bsky.graph.follow"
	postCollection   = "app.bsky.feed.post"

	suggestionPageSize = 50
	followCacheSize    = 4096
)

// Client is the Bluesky adapter. It implements ports.AccountClient over the
// AT Protocol XRPC API.
type Client struct {
	host    string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	// subject DID -> follow record URI
	follows *lru.Cache[string, string]

	mu     sync.Mutex
	xrpc   *xrpc.Client // replaced, never mutated, when the session changes
	did    string
	cursor string

	// credentials for a new session once the refresh token is rejected
	identifier string
	secret     string

	refreshMu sync.Mutex
}

type Options struct {
	Host       string
	HTTPClient *http.Client
	// RatePerSec caps outgoing calls. Zero means unlimited.
	RatePerSec float64
}

func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	cache, err := lru.New[string, string](followCacheSize)
	if err != nil {
		return nil, err
	}
	return &Client{
		host:    opts.Host,
		http:    opts.HTTPClient,
		xrpc:    &xrpc.Client{Client: opts.HTTPClient, Host: opts.Host},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		follows: cache,
	}, nil
}

var _ ports.AccountClient = (*Client)(nil)

func (c *Client) Name() string {
	return "bluesky"
}

func (c *Client) Login(ctx context.Context, handle, secret string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.createSession(ctx, handle, secret); err != nil {
		return err
	}
	c.mu.Lock()
	c.identifier, c.secret = handle, secret
	c.mu.Unlock()
	return nil
}

func (c *Client) createSession(ctx context.Context, handle, secret string) error {
	out, err := comatproto.ServerCreateSession(ctx, c.anonymous(), &comatproto.ServerCreateSession_Input{
		Identifier: handle,
		Password:   secret,
	})
	if err != nil {
		return classify("create session", err, true)
	}
	c.setSession(out.AccessJwt, out.RefreshJwt, out.Handle, out.Did)
	return nil
}

func (c *Client) setSession(access, refresh, handle, did string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.xrpc = &xrpc.Client{
		Client: c.http,
		Host:   c.host,
		Auth: &xrpc.AuthInfo{
			AccessJwt:  access,
			RefreshJwt: refresh,
			Handle:     handle,
			Did:        did,
		},
	}
	c.did = did
}

func (c *Client) anonymous() *xrpc.Client {
	return &xrpc.Client{Client: c.http, Host: c.host}
}

func (c *Client) session() *xrpc.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.xrpc
}

// FetchSuggestedAccounts returns the next page of suggestions. Paging starts
// over once the service stops returning a cursor.
func (c *Client) FetchSuggestedAccounts(ctx context.Context) ([]domain.Account, error) {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	var out *bsky.ActorGetSuggestions_Output
	err := c.do(ctx, "get suggestions", func(xc *xrpc.Client) error {
		var err error
		out, err = bsky.ActorGetSuggestions(ctx, xc, cursor, suggestionPageSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cursor = ""
	if out.Cursor != nil {
		c.cursor = *out.Cursor
	}
	c.mu.Unlock()

	accounts := make([]domain.Account, 0, len(out.Actors))
	for _, a := range out.Actors {
		if a == nil || a.Did == "" {
			continue
		}
		accounts = append(accounts, domain.Account{ID: a.Did, Handle: a.Handle})
	}
	return accounts, nil
}

func (c *Client) Follow(ctx context.Context, accountID string) error {
	repo, err := c.repo()
	if err != nil {
		return err
	}
	var out *comatproto.RepoCreateRecord_Output
	err = c.do(ctx, "follow", func(xc *xrpc.Client) error {
		var err error
		out, err = comatproto.RepoCreateRecord(ctx, xc, &comatproto.RepoCreateRecord_Input{
			Collection: followCollection,
			Repo:       repo,
			Record: &lexutil.LexiconTypeDecoder{Val: &bsky.GraphFollow{
				LexiconTypeID: followCollection,
				CreatedAt:     time.Now().UTC().Format(time.RFC3339),
				Subject:       accountID,
			}},
		})
		return err
	})
	if err != nil {
		return err
	}
	c.follows.Add(accountID, out.Uri)
	return nil
}

// Unfollow deletes the follow record for accountID. It returns
// domain.ErrNotFollowing when there is no such record.
func (c *Client) Unfollow(ctx context.Context, accountID string) error {
	repo, err := c.repo()
	if err != nil {
		return err
	}

	uri, ok := c.follows.Get(accountID)
	if !ok {
		var profile *bsky.ActorDefs_ProfileViewDetailed
		err := c.do(ctx, "get profile", func(xc *xrpc.Client) error {
			var err error
			profile, err = bsky.ActorGetProfile(ctx, xc, accountID)
			return err
		})
		if err != nil {
			return err
		}
		if profile.Viewer == nil || profile.Viewer.Following == nil {
			return fmt.Errorf("%w: %s", domain.ErrNotFollowing, accountID)
		}
		uri = *profile.Viewer.Following
	}

	aturi, err := syntax.ParseATURI(uri)
	if err != nil {
		return fmt.Errorf("parse follow uri %q: %w", uri, err)
	}
	err = c.do(ctx, "unfollow", func(xc *xrpc.Client) error {
		_, err := comatproto.RepoDeleteRecord(ctx, xc, &comatproto.RepoDeleteRecord_Input{
			Collection: followCollection,
			Repo:       repo,
			Rkey:       aturi.RecordKey().String(),
		})
		return err
	})
	if err != nil {
		return err
	}
	c.follows.Remove(accountID)
	return nil
}

func (c *Client) PublishPost(ctx context.Context, text string) (string, error) {
	repo, err := c.repo()
	if err != nil {
		return "", err
	}
	var out *comatproto.RepoCreateRecord_Output
	err = c.do(ctx, "publish", func(xc *xrpc.Client) error {
		var err error
		out, err = comatproto.RepoCreateRecord(ctx, xc, &comatproto.RepoCreateRecord_Input{
			Collection: postCollection,
			Repo:       repo,
			Record: &lexutil.LexiconTypeDecoder{Val: &bsky.FeedPost{
				LexiconTypeID: postCollection,
				Text:          text,
				CreatedAt:     time.Now().UTC().Format(time.RFC3339),
			}},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return out.Uri, nil
}

func (c *Client) repo() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.did == "" {
		return "", fmt.Errorf("%w: not logged in", domain.ErrAuth)
	}
	return c.did, nil
}

// do runs one authenticated call. An expired access token is refreshed once
// and the call repeated.
func (c *Client) do(ctx context.Context, op string, fn func(xc *xrpc.Client) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	xc := c.session()
	err := fn(xc)
	if err != nil && isExpiredToken(err) {
		c.logger.Info("session expired, refreshing", "op", op)
		if rerr := c.refresh(ctx, xc); rerr != nil {
			return rerr
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err = fn(c.session())
	}
	if err != nil {
		return classify(op, err, false)
	}
	return nil
}

// refresh replaces the session stale was using. refreshSession is
// authenticated with the refresh JWT; when that is rejected a new session is
// created from the stored credentials.
func (c *Client) refresh(ctx context.Context, stale *xrpc.Client) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.session() != stale {
		// another caller already refreshed
		return nil
	}
	if stale.Auth == nil {
		return fmt.Errorf("%w: not logged in", domain.ErrAuth)
	}

	rc := &xrpc.Client{
		Client: c.http,
		Host:   c.host,
		Auth: &xrpc.AuthInfo{
			AccessJwt:  stale.Auth.RefreshJwt,
			RefreshJwt: stale.Auth.RefreshJwt,
			Handle:     stale.Auth.Handle,
			Did:        stale.Auth.Did,
		},
	}
	out, err := comatproto.ServerRefreshSession(ctx, rc)
	if err == nil {
		c.setSession(out.AccessJwt, out.RefreshJwt, out.Handle, out.Did)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.logger.Warn("session refresh rejected, logging in again", "error", err)
	c.mu.Lock()
	identifier, secret := c.identifier, c.secret
	c.mu.Unlock()
	if identifier == "" {
		return classify("refresh session", err, true)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.createSession(ctx, identifier, secret)
}

func isExpiredToken(err error) bool {
	var xerr *xrpc.Error
	if !errors.As(err, &xerr) {
		return false
	}
	if xerr.StatusCode == http.StatusUnauthorized {
		return true
	}
	var body *xrpc.XRPCError
	return xerr.StatusCode == http.StatusBadRequest && errors.As(xerr.Wrapped, &body) && body.ErrStr == "ExpiredToken"
}

// classify maps a transport failure onto the domain error kinds.
func classify(op string, err error, session bool) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var xerr *xrpc.Error
	if errors.As(err, &xerr) {
		switch {
		case xerr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s: %v", domain.ErrRateLimited, op, err)
		case xerr.StatusCode == http.StatusUnauthorized,
			session && xerr.StatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: %s: %v", domain.ErrAuth, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrTransient, op, err)
}
