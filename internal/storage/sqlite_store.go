package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default local ledger. Every statement runs in its own
// implicit transaction, so a returned nil means the row is on disk.
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps the PRAGMAs below in force and serializes writers.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordFollow inserts a ledger row. A row that was previously unfollowed is
// reactivated; an active row yields domain.ErrDuplicateKey.
func (s *SQLiteStore) RecordFollow(ctx context.Context, accountID, handle string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO followed_users (account_id, handle, followed_at, unfollowed) VALUES (?, ?, ?, 0)
		ON CONFLICT(account_id) DO UPDATE SET
		  handle = excluded.handle, followed_at = excluded.followed_at, unfollowed = 0
		WHERE followed_users.unfollowed = 1`,
		accountID, handle, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record follow %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, accountID)
	}
	return nil
}

func (s *SQLiteStore) IsActive(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM followed_users WHERE account_id = ? AND unfollowed = 0)",
		accountID).Scan(&exists)
	return exists, err
}

func (s *SQLiteStore) HasRecord(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM followed_users WHERE account_id = ?)", accountID).Scan(&exists)
	return exists, err
}

func (s *SQLiteStore) DueForUnfollow(ctx context.Context, cooldown time.Duration, now time.Time) ([]domain.FollowRecord, error) {
	cutoff := now.Add(-cooldown).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, handle, followed_at, unfollowed FROM followed_users
		WHERE unfollowed = 0 AND followed_at <= ?
		ORDER BY followed_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.FollowRecord
	for rows.Next() {
		var r domain.FollowRecord
		var ms int64
		if err := rows.Scan(&r.AccountID, &r.Handle, &ms, &r.Unfollowed); err != nil {
			return nil, err
		}
		r.FollowedAt = time.UnixMilli(ms).UTC()
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) MarkUnfollowed(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE followed_users SET unfollowed = 1 WHERE account_id = ? AND unfollowed = 0", accountID)
	if err != nil {
		return fmt.Errorf("mark unfollowed %s: %w", accountID, err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context, cooldown time.Duration, now time.Time) (domain.LedgerStats, error) {
	var st domain.LedgerStats
	cutoff := now.Add(-cooldown).UnixMilli()
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		  COALESCE(SUM(CASE WHEN unfollowed = 0 THEN 1 ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN unfollowed = 1 THEN 1 ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN unfollowed = 0 AND followed_at <= ? THEN 1 ELSE 0 END), 0)
		FROM followed_users`, cutoff).Scan(&st.Total, &st.Active, &st.Unfollowed, &st.Due)
	return st, err
}

func (s *SQLiteStore) SavePost(ctx context.Context, p domain.PublishedPost) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO published_posts (id, text, uri, published_at) VALUES (?, ?, ?, ?)",
		p.ID, p.Text, p.URI, p.PublishedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) RecentPosts(ctx context.Context, limit int) ([]domain.PublishedPost, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, uri, published_at FROM published_posts ORDER BY published_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.PublishedPost
	for rows.Next() {
		var p domain.PublishedPost
		var ms int64
		if err := rows.Scan(&p.ID, &p.Text, &p.URI, &ms); err != nil {
			return nil, err
		}
		p.PublishedAt = time.UnixMilli(ms).UTC()
		res = append(res, p)
	}
	return res, rows.Err()
}
