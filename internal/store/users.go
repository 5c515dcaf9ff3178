package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UserStore reads and updates user records. Account CRUD is owned by the
// HTTP collaborators; this store covers what the real-time layer needs.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a user store backed by the given database handle.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// TouchLastSeen records the user's last-seen timestamp. Best-effort telemetry
// for the presence layer; callers log and swallow failures.
func (s *UserStore) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("store: touch last seen %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: user %s not found", userID)
	}
	return nil
}

// GetRef returns the denormalized identity of a user. Returns nil when the
// user does not exist.
func (s *UserStore) GetRef(ctx context.Context, userID string) (*UserRef, error) {
	const query = `SELECT id, email, first_name, last_name, image, color
		FROM users WHERE id = $1`

	var u UserRef
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Image, &u.Color)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read user %s: %w", userID, err)
	}
	return &u, nil
}
