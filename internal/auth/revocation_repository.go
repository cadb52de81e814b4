package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RevocationRepository defines the interface for the durable token
// deny-list. Entries survive restarts; once a token hash is present the
// token stays rejected until it ages out past its own expiry.
type RevocationRepository interface {
	Revoke(ctx context.Context, entry RevokedToken) error
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteRevocationRepository implements RevocationRepository using SQLite.
type SQLiteRevocationRepository struct {
	db *sql.DB
}

// NewRevocationRepository creates a new SQLite-backed revocation repository.
func NewRevocationRepository(db *sql.DB) *SQLiteRevocationRepository {
	return &SQLiteRevocationRepository{db: db}
}

// Revoke records a token hash on the deny-list. Revoking the same token
// twice is a no-op, not an error.
func (r *SQLiteRevocationRepository) Revoke(ctx context.Context, entry RevokedToken) error {
	revokedAt := entry.RevokedAt
	if revokedAt.IsZero() {
		revokedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (token_hash, expires_at, revoked_at)
		 VALUES (?, ?, ?)`,
		entry.TokenHash,
		entry.ExpiresAt.UTC().Format(time.RFC3339),
		revokedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token hash is on the deny-list. A lookup
// failure is returned as an error so callers can fail closed rather than
// admit a possibly revoked token.
func (r *SQLiteRevocationRepository) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM revoked_tokens WHERE token_hash = ?", tokenHash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return true, nil
}

// PruneExpired deletes deny-list entries whose tokens have expired on
// their own. An expired token is rejected by signature validation anyway,
// so dropping its entry changes nothing observable.
func (r *SQLiteRevocationRepository) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE expires_at <= ?",
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning revoked tokens: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}
