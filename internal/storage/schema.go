package storage

const sqliteSchema = `
-- One row per account ever followed. Rows are never deleted.
CREATE TABLE IF NOT EXISTS followed_users (
  account_id TEXT PRIMARY KEY,          -- DID
  handle TEXT NOT NULL,                 -- handle at follow time
  followed_at INTEGER NOT NULL,         -- unix ms, set on confirmed follow
  unfollowed INTEGER NOT NULL DEFAULT 0 -- set once by the unfollow sweep
);

CREATE INDEX IF NOT EXISTS idx_followed_users_due ON followed_users(unfollowed, followed_at);

CREATE TABLE IF NOT EXISTS published_posts (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  uri TEXT NOT NULL DEFAULT '',
  published_at INTEGER NOT NULL         -- unix ms
);

CREATE INDEX IF NOT EXISTS idx_published_posts_at ON published_posts(published_at);
`

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS followed_users (
		account_id TEXT PRIMARY KEY,
		handle TEXT NOT NULL,
		followed_at TIMESTAMPTZ NOT NULL,
		unfollowed BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_followed_users_due ON followed_users(unfollowed, followed_at)`,
	`CREATE TABLE IF NOT EXISTS published_posts (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL
	)`,
}
