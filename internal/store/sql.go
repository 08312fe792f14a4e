package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"github.com/matchbot/matchbot/internal/domain"
	"github.com/matchbot/matchbot/internal/shared"
)

// Options configures Open.
type Options struct {
	Driver Driver
	// DSN is passed to the driver as-is. For SQLite it may be left empty,
	// in which case Path is used.
	DSN   string
	Path  string
	Retry shared.RetryPolicy
}

// SQLStore implements Repository on database/sql. Queries use $n
// placeholders, which both the SQLite and Postgres drivers accept.
type SQLStore struct {
	db     *sql.DB
	driver Driver
	retry  shared.RetryPolicy
}

// Open connects to the configured database and ensures the schema exists.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	var drvName, dsn string
	switch opts.Driver {
	case DriverSQLite, "":
		opts.Driver = DriverSQLite
		drvName = "sqlite"
		dsn = opts.DSN
		if dsn == "" {
			if opts.Path == "" {
				return nil, errors.New("sqlite requires a DSN or a database path")
			}
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
			dsn = "file:" + opts.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx"
		dsn = opts.DSN
		if dsn == "" {
			return nil, errors.New("postgres requires a DSN")
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", opts.Driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: opts.Driver, retry: opts.Retry}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// exec runs a write with conflict retries.
func (s *SQLStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := shared.Retry(ctx, s.retry, op, func(ctx context.Context) error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const userColumns = `user_id, username, full_name, last_seen_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var username, fullName sql.NullString
	var lastSeen, createdAt, updatedAt int64

	if err := row.Scan(&user.UserID, &username, &fullName, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	user.Username = username.String
	user.FullName = fullName.String
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username, case-insensitively.
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	username = domain.CleanUsername(username)
	if username == "" {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users
		WHERE LOWER(username) = LOWER(CAST($1 AS TEXT))
		LIMIT 1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// UpsertUser creates or updates a user record. Empty names never
// overwrite known ones.
func (s *SQLStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, full_name, last_seen_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT(user_id) DO UPDATE SET
		username = COALESCE(NULLIF(excluded.username, ''), users.username),
		full_name = COALESCE(NULLIF(excluded.full_name, ''), users.full_name),
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	now := time.Now()
	createdAt, lastSeen := user.CreatedAt, user.LastSeenAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if lastSeen.IsZero() {
		lastSeen = now
	}

	_, err := s.exec(ctx, "upsert user", query,
		user.UserID, domain.CleanUsername(user.Username), user.FullName,
		lastSeen.Unix(), createdAt.Unix(), now.Unix(),
	)
	if shared.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchUsers finds named users by a substring of their username or full name.
func (s *SQLStore) SearchUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(domain.CleanUsername(query))) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE username <> ''
			AND (LOWER(username) LIKE $1 ESCAPE '\'
				OR LOWER(COALESCE(full_name, '')) LIKE $2 ESCAPE '\')
		ORDER BY last_seen_at DESC, user_id
		LIMIT $3`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, *user)
	}
	return out, rows.Err()
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = $1 WHERE user_id = $2`
	result, err := s.exec(ctx, "update last_seen", query, lastSeen.Unix(), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// CountUsers returns the number of registered users.
func (s *SQLStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// CountUsersWithAnswers returns the number of users who completed the quiz.
func (s *SQLStore) CountUsersWithAnswers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_answers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return n, nil
}

// PutAnswers stores the serialized answers of a user.
func (s *SQLStore) PutAnswers(ctx context.Context, userID, blob string) error {
	query := `
	INSERT INTO user_answers (user_id, answers_json, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT(user_id) DO UPDATE SET
		answers_json = excluded.answers_json,
		updated_at = excluded.updated_at`

	_, err := s.exec(ctx, "put answers", query, userID, blob, time.Now().Unix())
	return err
}

// GetAnswers returns the serialized answers of a user.
func (s *SQLStore) GetAnswers(ctx context.Context, userID string) (string, bool, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT answers_json FROM user_answers WHERE user_id = $1`, userID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get answers: %w", err)
	}
	return blob, true, nil
}

// ListAllWithAnswers returns every user that has stored answers.
func (s *SQLStore) ListAllWithAnswers(ctx context.Context) ([]domain.StoredAnswers, error) {
	query := `
		SELECT a.user_id, u.username, u.full_name, a.answers_json, a.updated_at
		FROM user_answers a
		JOIN users u ON u.user_id = a.user_id
		ORDER BY a.updated_at, a.user_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close answers rows", "error", closeErr)
		}
	}()

	var out []domain.StoredAnswers
	for rows.Next() {
		var sa domain.StoredAnswers
		var username, fullName sql.NullString
		var updatedAt int64
		if err := rows.Scan(&sa.UserID, &username, &fullName, &sa.Blob, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan answers row: %w", err)
		}
		sa.Username = username.String
		sa.FullName = fullName.String
		sa.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

// SaveMatch caches a pair score. The pair is stored once regardless of
// argument order.
func (s *SQLStore) SaveMatch(ctx context.Context, userA, userB string, score float64) error {
	if userA == userB {
		return fmt.Errorf("save match: cannot match %s with themselves", userA)
	}
	if userB < userA {
		userA, userB = userB, userA
	}
	query := `
	INSERT INTO matches (user1_id, user2_id, similarity_score, matched_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT(user1_id, user2_id) DO UPDATE SET
		similarity_score = excluded.similarity_score,
		matched_at = excluded.matched_at`

	_, err := s.exec(ctx, "save match", query, userA, userB, score, time.Now().Unix())
	return err
}

// ListMatches returns cached matches of a user, best first.
func (s *SQLStore) ListMatches(ctx context.Context, userID string, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT u.user_id, u.username, u.full_name, m.similarity_score, m.matched_at
		FROM matches m
		JOIN users u ON u.user_id = CASE WHEN m.user1_id = $1 THEN m.user2_id ELSE m.user1_id END
		WHERE m.user1_id = $1 OR m.user2_id = $1
		ORDER BY m.similarity_score DESC, m.matched_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close matches rows", "error", closeErr)
		}
	}()

	var out []domain.MatchRecord
	for rows.Next() {
		var m domain.MatchRecord
		var username, fullName sql.NullString
		var matchedAt int64
		if err := rows.Scan(&m.UserID, &username, &fullName, &m.Score, &matchedAt); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		m.Username = username.String
		m.FullName = fullName.String
		m.MatchedAt = time.Unix(matchedAt, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}

// CleanupStaleMatches removes cached matches older than ttl.
func (s *SQLStore) CleanupStaleMatches(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.exec(ctx, "cleanup stale matches", `DELETE FROM matches WHERE matched_at < $1`, threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SaveValentine stores a valentine.
func (s *SQLStore) SaveValentine(ctx context.Context, v *domain.Valentine) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	anonymous := 0
	if v.Anonymous {
		anonymous = 1
	}
	query := `
	INSERT INTO valentines (id, sender_id, recipient_id, message, photo_url, anonymous, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.exec(ctx, "save valentine", query,
		v.ID, v.SenderID, v.RecipientID, v.Text, v.PhotoURL, anonymous, v.CreatedAt.Unix(),
	)
	return err
}

// ListValentines returns the newest valentines received by a user. The
// sender name is filled in even for anonymous valentines; callers showing
// them to the recipient must use Valentine.ForRecipient.
func (s *SQLStore) ListValentines(ctx context.Context, recipientID string, limit int) ([]domain.Valentine, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT v.id, v.sender_id, v.recipient_id, u.username, u.full_name,
		       v.message, v.photo_url, v.anonymous, v.created_at
		FROM valentines v
		LEFT JOIN users u ON u.user_id = v.sender_id
		WHERE v.recipient_id = $1
		ORDER BY v.created_at DESC, v.id
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query valentines: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close valentines rows", "error", closeErr)
		}
	}()

	var out []domain.Valentine
	for rows.Next() {
		var v domain.Valentine
		var username, fullName sql.NullString
		var anonymous, createdAt int64
		if err := rows.Scan(&v.ID, &v.SenderID, &v.RecipientID, &username, &fullName,
			&v.Text, &v.PhotoURL, &anonymous, &createdAt); err != nil {
			return nil, fmt.Errorf("scan valentine row: %w", err)
		}
		sender := domain.User{UserID: v.SenderID, Username: username.String, FullName: fullName.String}
		v.SenderName = sender.DisplayName()
		v.Anonymous = anonymous != 0
		v.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate valentines: %w", err)
	}
	return out, nil
}
