package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageStore persists message entities, read receipts, and reactions.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a message store backed by the given database handle.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Create inserts a new message and returns it with the generated ID and
// timestamp filled in. A zero Timestamp defaults to now.
func (s *MessageStore) Create(ctx context.Context, m *Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	const query = `
		INSERT INTO messages (id, sender_id, recipient_id, message_type, content, file_url, ts)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.SenderID, m.RecipientID, m.MessageType, m.Content, m.FileURL, m.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}
	return m, nil
}

// GetExpanded re-reads a persisted message with sender and recipient identity
// expanded for the transport payload.
func (s *MessageStore) GetExpanded(ctx context.Context, id string) (*ExpandedMessage, error) {
	const query = `
		SELECT m.id, m.sender_id, COALESCE(m.recipient_id, ''), m.message_type,
		       m.content, m.file_url, m.ts, m.edited, m.deleted,
		       su.email, su.first_name, su.last_name, su.image, su.color,
		       COALESCE(ru.email, ''), COALESCE(ru.first_name, ''),
		       COALESCE(ru.last_name, ''), COALESCE(ru.image, ''), COALESCE(ru.color, 0)
		FROM messages m
		JOIN users su ON su.id = m.sender_id
		LEFT JOIN users ru ON ru.id = m.recipient_id
		WHERE m.id = $1`

	var (
		em   ExpandedMessage
		rcpt UserRef
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&em.ID, &em.SenderID, &em.RecipientID, &em.MessageType,
		&em.Content, &em.FileURL, &em.Timestamp, &em.Edited, &em.Deleted,
		&em.Sender.Email, &em.Sender.FirstName, &em.Sender.LastName,
		&em.Sender.Image, &em.Sender.Color,
		&rcpt.Email, &rcpt.FirstName, &rcpt.LastName, &rcpt.Image, &rcpt.Color,
	)
	if err != nil {
		return nil, fmt.Errorf("store: read message %s: %w", id, err)
	}

	em.Sender.ID = em.SenderID
	if em.RecipientID != "" {
		rcpt.ID = em.RecipientID
		em.Recipient = &rcpt
	}
	return &em, nil
}

// SenderOf returns the sender of the given message.
func (s *MessageStore) SenderOf(ctx context.Context, id string) (string, error) {
	var sender string
	err := s.db.QueryRowContext(ctx,
		`SELECT sender_id FROM messages WHERE id = $1`, id).Scan(&sender)
	if err != nil {
		return "", fmt.Errorf("store: sender of %s: %w", id, err)
	}
	return sender, nil
}

// AddReadReceipt records that the user has read the message. Set semantics on
// (message, user): re-adding an existing receipt is a no-op. Returns whether
// a new receipt was recorded.
func (s *MessageStore) AddReadReceipt(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	const query = `
		INSERT INTO message_read_receipts (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, messageID, userID, at)
	if err != nil {
		return false, fmt.Errorf("store: add receipt %s/%s: %w", messageID, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: add receipt %s/%s: %w", messageID, userID, err)
	}
	return n > 0, nil
}

// AddReaction records an emoji reaction. Set semantics on
// (message, user, emoji).
func (s *MessageStore) AddReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) error {
	const query = `
		INSERT INTO message_reactions (message_id, user_id, emoji, ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, messageID, userID, emoji, at); err != nil {
		return fmt.Errorf("store: add reaction %s/%s: %w", messageID, userID, err)
	}
	return nil
}

// Edit replaces the content of a message owned by senderID and marks it
// edited. Deleted messages cannot be edited. Returns sql.ErrNoRows when no
// matching editable message exists.
func (s *MessageStore) Edit(ctx context.Context, messageID, senderID, content string) error {
	const query = `
		UPDATE messages
		SET content = $3, edited = TRUE, edited_at = NOW()
		WHERE id = $1 AND sender_id = $2 AND NOT deleted`

	res, err := s.db.ExecContext(ctx, query, messageID, senderID, content)
	if err != nil {
		return fmt.Errorf("store: edit message %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDelete flags a message owned by senderID as deleted and blanks its
// content. The row is never erased.
func (s *MessageStore) SoftDelete(ctx context.Context, messageID, senderID string) error {
	const query = `
		UPDATE messages
		SET deleted = TRUE, content = 'This message was deleted'
		WHERE id = $1 AND sender_id = $2`

	res, err := s.db.ExecContext(ctx, query, messageID, senderID)
	if err != nil {
		return fmt.Errorf("store: delete message %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
