package store

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

const schemaSQLite = `
PRAGMA busy_timeout = 5000;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	username TEXT,
	full_name TEXT,
	last_seen_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(LOWER(username)) WHERE username <> '';

CREATE TABLE IF NOT EXISTS user_answers (
	user_id TEXT PRIMARY KEY REFERENCES users(user_id) ON DELETE CASCADE,
	answers_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS matches (
	user1_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	user2_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	similarity_score REAL NOT NULL,
	matched_at INTEGER NOT NULL,
	PRIMARY KEY (user1_id, user2_id)
);

CREATE TABLE IF NOT EXISTS valentines (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	recipient_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	message TEXT NOT NULL,
	photo_url TEXT NOT NULL DEFAULT '',
	anonymous INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_valentines_recipient ON valentines(recipient_id, created_at);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	username TEXT,
	full_name TEXT,
	last_seen_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(LOWER(username)) WHERE username <> '';

CREATE TABLE IF NOT EXISTS user_answers (
	user_id TEXT PRIMARY KEY REFERENCES users(user_id) ON DELETE CASCADE,
	answers_json TEXT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS matches (
	user1_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	user2_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	similarity_score DOUBLE PRECISION NOT NULL,
	matched_at BIGINT NOT NULL,
	PRIMARY KEY (user1_id, user2_id)
);

CREATE TABLE IF NOT EXISTS valentines (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	recipient_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	message TEXT NOT NULL,
	photo_url TEXT NOT NULL DEFAULT '',
	anonymous INTEGER NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_valentines_recipient ON valentines(recipient_id, created_at);
`
