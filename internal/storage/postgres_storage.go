package storage

import (
	"context"
	"fmt"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the ledger in Postgres when DATABASE_URL is set.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

var _ ports.Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	s := &PostgresStore{Pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	for _, q := range postgresSchema {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}

func (s *PostgresStore) RecordFollow(ctx context.Context, accountID, handle string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx,
		`INSERT INTO followed_users (account_id, handle, followed_at, unfollowed) VALUES ($1, $2, $3, FALSE)
		 ON CONFLICT (account_id) DO UPDATE SET
		 handle = EXCLUDED.handle, followed_at = EXCLUDED.followed_at, unfollowed = FALSE
		 WHERE followed_users.unfollowed`,
		accountID, handle, at)
	if err != nil {
		return fmt.Errorf("record follow %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, accountID)
	}
	return nil
}

func (s *PostgresStore) IsActive(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM followed_users WHERE account_id=$1 AND NOT unfollowed)", accountID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) HasRecord(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM followed_users WHERE account_id=$1)", accountID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) DueForUnfollow(ctx context.Context, cooldown time.Duration, now time.Time) ([]domain.FollowRecord, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT account_id, handle, followed_at, unfollowed FROM followed_users
		 WHERE NOT unfollowed AND followed_at <= $1 ORDER BY followed_at`, now.Add(-cooldown))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.FollowRecord
	for rows.Next() {
		var r domain.FollowRecord
		if err := rows.Scan(&r.AccountID, &r.Handle, &r.FollowedAt, &r.Unfollowed); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *PostgresStore) MarkUnfollowed(ctx context.Context, accountID string) error {
	_, err := s.Pool.Exec(ctx,
		"UPDATE followed_users SET unfollowed = TRUE WHERE account_id = $1 AND NOT unfollowed", accountID)
	if err != nil {
		return fmt.Errorf("mark unfollowed %s: %w", accountID, err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context, cooldown time.Duration, now time.Time) (domain.LedgerStats, error) {
	var st domain.LedgerStats
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*),
		   COUNT(*) FILTER (WHERE NOT unfollowed),
		   COUNT(*) FILTER (WHERE unfollowed),
		   COUNT(*) FILTER (WHERE NOT unfollowed AND followed_at <= $1)
		 FROM followed_users`, now.Add(-cooldown)).Scan(&st.Total, &st.Active, &st.Unfollowed, &st.Due)
	return st, err
}

func (s *PostgresStore) SavePost(ctx context.Context, p domain.PublishedPost) error {
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO published_posts (id, text, uri, published_at) VALUES ($1, $2, $3, $4)",
		p.ID, p.Text, p.URI, p.PublishedAt)
	return err
}

func (s *PostgresStore) RecentPosts(ctx context.Context, limit int) ([]domain.PublishedPost, error) {
	rows, err := s.Pool.Query(ctx,
		"SELECT id, text, uri, published_at FROM published_posts ORDER BY published_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.PublishedPost
	for rows.Next() {
		var p domain.PublishedPost
		if err := rows.Scan(&p.ID, &p.Text, &p.URI, &p.PublishedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
