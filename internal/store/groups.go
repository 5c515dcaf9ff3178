package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// GroupStore persists group conversations, their membership, and the
// denormalized last-message cache.
type GroupStore struct {
	db *sql.DB
}

// NewGroupStore creates a group store backed by the given database handle.
func NewGroupStore(db *sql.DB) *GroupStore {
	return &GroupStore{db: db}
}

// Get loads a group and its member list. Returns nil when the group does not
// exist.
func (s *GroupStore) Get(ctx context.Context, groupID string) (*Group, error) {
	const query = `SELECT id, name, owner_id FROM groups WHERE id = $1`

	var g Group
	err := s.db.QueryRowContext(ctx, query, groupID).Scan(&g.ID, &g.Name, &g.OwnerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read group %s: %w", groupID, err)
	}

	members, err := s.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	g.Members = members
	return &g, nil
}

// Members returns the current member list of the group.
func (s *GroupStore) Members(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: group members %s: %w", groupID, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("store: group members %s: %w", groupID, err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: group members %s: %w", groupID, err)
	}
	return members, nil
}

// AppendMessage associates a persisted message with the group and overwrites
// the group's last-message snapshot in a single transaction, so the cache is
// updated atomically with the append from the caller's perspective. The cache
// is last-writer-wins: concurrent appends may interleave and no version check
// is performed.
func (s *GroupStore) AppendMessage(ctx context.Context, groupID, messageID string, last LastMessage) error {
	snapshot, err := json.Marshal(last)
	if err != nil {
		return fmt.Errorf("store: marshal last message: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_messages (group_id, message_id) VALUES ($1, $2)`,
		groupID, messageID); err != nil {
		return fmt.Errorf("store: append message %s to group %s: %w", messageID, groupID, err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE groups SET last_message = $2, updated_at = NOW() WHERE id = $1`,
		groupID, snapshot)
	if err != nil {
		return fmt.Errorf("store: update last message for group %s: %w", groupID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: group %s not found", groupID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// Create inserts a group with its member set. Used by the HTTP collaborators
// that own group CRUD; the socket layer only announces creations.
func (s *GroupStore) Create(ctx context.Context, g *Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: create group: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO groups (id, name, owner_id) VALUES ($1, $2, $3)`,
		g.ID, g.Name, g.OwnerID); err != nil {
		return fmt.Errorf("store: create group %s: %w", g.ID, err)
	}
	for _, m := range g.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			g.ID, m); err != nil {
			return fmt.Errorf("store: add member %s to group %s: %w", m, g.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: create group: %w", err)
	}
	return nil
}
