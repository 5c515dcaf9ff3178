// Package protocol defines the WebSocket event types and structures exchanged
// between chat clients and the server. All events are serialized as JSON and
// follow a consistent envelope format with an "event" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Client -> Server event names.
const (
	EventSendMessage       = "sendMessage"
	EventSendGroupMessage  = "sendGroupMessage"
	EventSendFriendRequest = "sendFriendRequest"
	EventCreateGroup       = "createGroup"
	EventTyping            = "typing"
	EventStopTyping        = "stopTyping"
	EventMarkAsRead        = "markAsRead"
	EventAddReaction       = "addReaction"
	EventPing              = "ping"
)

// Server -> Client event names.
const (
	EventReceiveMessage       = "receiveMessage"
	EventReceiveGroupMessage  = "receiveGroupMessage"
	EventReceiveFriendRequest = "receiveFriendRequest"
	EventReceiveGroupCreation = "receiveGroupCreation"
	EventUserTyping           = "userTyping"
	EventUserStopTyping       = "userStopTyping"
	EventUserOnline           = "userOnline"
	EventUserOffline          = "userOffline"
	EventOnlineUsers          = "onlineUsers"
	EventMessageRead          = "messageRead"
	EventMessageReaction      = "messageReaction"
	EventError                = "error"
	EventPong                 = "pong"
)

// Message types carried by SendMessageEvent / SendGroupMessageEvent.
const (
	MessageTypeText  = "text"
	MessageTypeFile  = "file"
	MessageTypeVoice = "voice"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the event discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event name and the raw JSON payload for deferred parsing
// into a concrete struct.
type Envelope struct {
	Event string          `json:"event"`
	Raw   json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "event"
// field so the rest of the payload can be decoded later into the appropriate
// concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Event == "" {
		return fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	e.Event = partial.Event
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// SendMessageEvent is a direct message addressed to a single recipient.
// Content is required for text messages; FileURL for file and voice messages.
type SendMessageEvent struct {
	Event       string `json:"event"`
	Sender      string `json:"sender" validate:"required"`
	Recipient   string `json:"recipient" validate:"required"`
	Content     string `json:"content" validate:"required_if=MessageType text"`
	MessageType string `json:"messageType" validate:"required,oneof=text file voice"`
	FileURL     string `json:"fileUrl,omitempty" validate:"required_unless=MessageType text"`
}

// SendGroupMessageEvent is a message addressed to every member of a group.
type SendGroupMessageEvent struct {
	Event       string `json:"event"`
	GroupID     string `json:"groupId" validate:"required"`
	Sender      string `json:"sender" validate:"required"`
	Content     string `json:"content" validate:"required_if=MessageType text"`
	MessageType string `json:"messageType" validate:"required,oneof=text file voice"`
	FileURL     string `json:"fileUrl,omitempty" validate:"required_unless=MessageType text"`
}

// SendFriendRequestEvent carries a friend request to a target user. The
// friendRequest payload is opaque to the server and relayed verbatim.
type SendFriendRequestEvent struct {
	Event         string          `json:"event"`
	Target        string          `json:"target" validate:"required"`
	FriendRequest json.RawMessage `json:"friendRequest" validate:"required"`
}

// CreateGroupEvent announces a newly created group to its members.
type CreateGroupEvent struct {
	Event   string   `json:"event"`
	GroupID string   `json:"groupId" validate:"required"`
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Members []string `json:"members" validate:"required,min=1"`
}

// TypingEvent signals that a user started or stopped typing in a direct or
// group conversation. RecipientID is set for direct conversations, GroupID
// (with IsGroup) for group conversations.
type TypingEvent struct {
	Event       string `json:"event"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId,omitempty"`
	IsGroup     bool   `json:"isGroup,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
}

// MarkAsReadEvent records read receipts for a batch of messages.
type MarkAsReadEvent struct {
	Event      string   `json:"event"`
	MessageIDs []string `json:"messageIds" validate:"required,min=1"`
	UserID     string   `json:"userId" validate:"required"`
}

// AddReactionEvent attaches an emoji reaction to a message. RecipientID or
// GroupID identifies the conversation to notify.
type AddReactionEvent struct {
	Event       string `json:"event"`
	MessageID   string `json:"messageId" validate:"required"`
	UserID      string `json:"userId" validate:"required"`
	Emoji       string `json:"emoji" validate:"required"`
	RecipientID string `json:"recipientId,omitempty"`
	IsGroup     bool   `json:"isGroup,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
}

// PingEvent is a client-initiated keepalive ping.
type PingEvent struct {
	Event string `json:"event"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// UserRef is the denormalized user identity embedded in delivered messages.
type UserRef struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Image     string `json:"image,omitempty"`
	Color     int    `json:"color,omitempty"`
}

// MessagePayload is the expanded message delivered on receiveMessage and
// receiveGroupMessage. Sender and Recipient carry denormalized identity so
// clients can render without a second lookup.
type MessagePayload struct {
	Event       string   `json:"event"`
	ID          string   `json:"id"`
	Sender      UserRef  `json:"sender"`
	Recipient   *UserRef `json:"recipient,omitempty"`
	Content     string   `json:"content,omitempty"`
	MessageType string   `json:"messageType"`
	FileURL     string   `json:"fileUrl,omitempty"`
	Timestamp   int64    `json:"timestamp"`
	GroupID     string   `json:"groupId,omitempty"`
	Edited      bool     `json:"edited,omitempty"`
	Deleted     bool     `json:"deleted,omitempty"`
}

// GroupCreationPayload announces a new group to a member.
type GroupCreationPayload struct {
	Event   string   `json:"event"`
	GroupID string   `json:"groupId"`
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
}

// TypingPayload relays a typing indicator to interested parties.
type TypingPayload struct {
	Event       string `json:"event"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId,omitempty"`
	IsGroup     bool   `json:"isGroup,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
}

// PresencePayload announces a user's online/offline transition.
type PresencePayload struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
}

// OnlineUsersPayload is the presence seed snapshot delivered to a freshly
// connected session.
type OnlineUsersPayload struct {
	Event   string   `json:"event"`
	UserIDs []string `json:"userIds"`
}

// MessageReadPayload notifies a message's sender that it has been read.
type MessageReadPayload struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	ReadAt    int64  `json:"readAt"`
}

// MessageReactionPayload notifies conversation participants of a reaction.
type MessageReactionPayload struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload communicates an error condition to the client.
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongPayload is the server's response to a client ping.
type PongPayload struct {
	Event string `json:"event"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client event. It
// returns the event name, the decoded struct, and any error encountered. An
// error is returned for unknown or server-only event names.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Event {
	case EventSendMessage:
		var m SendMessageEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventSendGroupMessage:
		var m SendGroupMessageEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventSendFriendRequest:
		var m SendFriendRequestEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventCreateGroup:
		var m CreateGroupEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventTyping, EventStopTyping:
		var m TypingEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventMarkAsRead:
		var m MarkAsReadEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventAddReaction:
		var m AddReactionEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case EventPing:
		var m PingEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Event, nil, fmt.Errorf("protocol: unknown client event: %q", env.Event)
	}

	if err != nil {
		return env.Event, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Event, err)
	}
	return env.Event, msg, nil
}

// NewServerEvent creates a JSON-encoded byte slice for a server event. The
// event name is injected into the payload under the "event" key. The payload
// should be one of the *Payload structs above.
func NewServerEvent(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["event"] = event

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}

// RawFriendRequestPayload wraps an opaque friend request body for delivery on
// receiveFriendRequest. The server never inspects the body.
func RawFriendRequestPayload(body json.RawMessage) ([]byte, error) {
	var m map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("protocol: friend request body is not an object: %w", err)
		}
	}
	if m == nil {
		m = make(map[string]interface{})
	}
	m["event"] = EventReceiveFriendRequest
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal friend request: %w", err)
	}
	return out, nil
}
