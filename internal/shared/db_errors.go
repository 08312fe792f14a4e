// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsPostgresConflictError reports serialization failures, deadlocks and
// lock timeouts raised by Postgres.
func IsPostgresConflictError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch strings.TrimSpace(pgErr.Code) {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint failure
// from either SQLite or Postgres.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsRetryable reports whether a storage error is a transient concurrency
// conflict that warrants another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err) || IsPostgresConflictError(err)
}

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. Delays double on each attempt.
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) error) error {
	attempts := max(policy.MaxAttempts, 1)
	var err error
	for i := range attempts {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := policy.BaseDelay * time.Duration(1<<i)
		slog.Debug("storage conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
