// Package store provides PostgreSQL-backed persistence for users, messages,
// and groups. It owns the durable side of the chat data model: message
// entities with read receipts and reactions, group membership, and the
// denormalized last-message snapshot cached on each group.
package store

import "time"

// Message is the durable message entity. Recipient is empty for group
// messages; group association lives in the group_messages table.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string // empty for group messages
	Content     string
	MessageType string // text | file | voice
	FileURL     string
	Timestamp   time.Time
	Edited      bool
	Deleted     bool
}

// UserRef is the denormalized identity of a user, expanded into delivered
// message payloads.
type UserRef struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Image     string
	Color     int
}

// ExpandedMessage is a message re-read after persistence with sender and
// recipient identity expanded for the transport payload.
type ExpandedMessage struct {
	Message
	Sender    UserRef
	Recipient *UserRef // nil for group messages
}

// Group is a group conversation with its member set.
type Group struct {
	ID      string
	Name    string
	OwnerID string
	Members []string
}

// LastMessage is the denormalized snapshot cached on a group, overwritten
// whenever a group message is accepted. Advisory read-optimization only;
// the messages table remains the source of truth.
type LastMessage struct {
	Content     string    `json:"content,omitempty"`
	MessageType string    `json:"messageType"`
	Timestamp   time.Time `json:"timestamp"`
	FileURL     string    `json:"fileUrl,omitempty"`
}
