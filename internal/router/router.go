// Package router resolves message addressing to live connections and fans
// messages out: persist first, then deliver to every connection resolved for
// the addressed user or group membership. Offline parties are skipped — the
// message remains visible through historical fetch, no queuing exists.
package router

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/converse/chat-app/internal/metrics"
	"github.com/converse/chat-app/internal/protocol"
	"github.com/converse/chat-app/internal/registry"
	"github.com/converse/chat-app/internal/store"
)

// Content limits for text messages.
const (
	MaxContentBytes = 4096
	MaxContentChars = 2000
)

// MessageStore is the persistence surface the router needs for messages.
type MessageStore interface {
	Create(ctx context.Context, m *store.Message) (*store.Message, error)
	GetExpanded(ctx context.Context, id string) (*store.ExpandedMessage, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) error
}

// GroupStore is the persistence surface the router needs for groups.
type GroupStore interface {
	Get(ctx context.Context, groupID string) (*store.Group, error)
	AppendMessage(ctx context.Context, groupID, messageID string, last store.LastMessage) error
}

// Router persists and fans out messages.
type Router struct {
	messages MessageStore
	groups   GroupStore
	deliver  *registry.Deliverer
	validate *validator.Validate
}

// New creates a Router over the given stores and deliverer.
func New(messages MessageStore, groups GroupStore, deliver *registry.Deliverer) *Router {
	return &Router{
		messages: messages,
		groups:   groups,
		deliver:  deliver,
		validate: validator.New(),
	}
}

// RouteDirect persists a direct message and delivers the expanded payload to
// both the recipient's and the sender's live connections. Absence of either
// party's connection is not an error. Returns the expanded message on
// success.
func (r *Router) RouteDirect(ctx context.Context, ev protocol.SendMessageEvent) (*store.ExpandedMessage, error) {
	if err := r.validate.Struct(ev); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if err := checkContent(ev.MessageType, ev.Content); err != nil {
		return nil, err
	}

	start := time.Now()

	created, err := r.messages.Create(ctx, &store.Message{
		SenderID:    ev.Sender,
		RecipientID: ev.Recipient,
		Content:     ev.Content,
		MessageType: ev.MessageType,
		FileURL:     ev.FileURL,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "persist direct message", Err: err}
	}

	expanded, err := r.messages.GetExpanded(ctx, created.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "expand direct message", Err: err}
	}

	data, err := protocol.NewServerEvent(protocol.EventReceiveMessage, payloadFor(expanded, ""))
	if err != nil {
		return nil, fmt.Errorf("router: encode direct message: %w", err)
	}

	// Fan out to recipient and sender; the sender relies on this echo for
	// its own UI update.
	n := r.deliver.ToUser(ev.Recipient, data)
	if ev.Sender != ev.Recipient {
		n += r.deliver.ToUser(ev.Sender, data)
	}

	metrics.MessagesRouted.WithLabelValues("direct").Inc()
	metrics.DeliveriesTotal.Add(float64(n))
	metrics.RouteDuration.Observe(time.Since(start).Seconds())
	log.Printf("[router] direct message id=%s sender=%s recipient=%s delivered=%d",
		created.ID, ev.Sender, ev.Recipient, n)
	return expanded, nil
}

// RouteGroup persists a group message, appends it to the group with the
// last-message cache updated in the same store call, then delivers the
// expanded payload to every member's connections, including the sender's.
func (r *Router) RouteGroup(ctx context.Context, ev protocol.SendGroupMessageEvent) (*store.ExpandedMessage, error) {
	if err := r.validate.Struct(ev); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if err := checkContent(ev.MessageType, ev.Content); err != nil {
		return nil, err
	}

	start := time.Now()

	created, err := r.messages.Create(ctx, &store.Message{
		SenderID:    ev.Sender,
		Content:     ev.Content,
		MessageType: ev.MessageType,
		FileURL:     ev.FileURL,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "persist group message", Err: err}
	}

	if err := r.groups.AppendMessage(ctx, ev.GroupID, created.ID, store.LastMessage{
		Content:     created.Content,
		MessageType: created.MessageType,
		Timestamp:   created.Timestamp,
		FileURL:     created.FileURL,
	}); err != nil {
		return nil, &PersistenceError{Op: "append group message", Err: err}
	}

	group, err := r.groups.Get(ctx, ev.GroupID)
	if err != nil {
		return nil, &PersistenceError{Op: "load group", Err: err}
	}
	if group == nil {
		return nil, &ValidationError{Reason: "group " + ev.GroupID + " not found"}
	}

	expanded, err := r.messages.GetExpanded(ctx, created.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "expand group message", Err: err}
	}

	data, err := protocol.NewServerEvent(protocol.EventReceiveGroupMessage, payloadFor(expanded, group.ID))
	if err != nil {
		return nil, fmt.Errorf("router: encode group message: %w", err)
	}

	n := 0
	for _, member := range group.Members {
		n += r.deliver.ToUser(member, data)
	}

	metrics.MessagesRouted.WithLabelValues("group").Inc()
	metrics.DeliveriesTotal.Add(float64(n))
	metrics.RouteDuration.Observe(time.Since(start).Seconds())
	log.Printf("[router] group message id=%s group=%s sender=%s members=%d delivered=%d",
		created.ID, group.ID, ev.Sender, len(group.Members), n)
	return expanded, nil
}

// RouteFriendRequest relays a friend request to the target's connections.
// Nothing is persisted here; the contact workflow owns durability.
func (r *Router) RouteFriendRequest(ctx context.Context, ev protocol.SendFriendRequestEvent) error {
	if err := r.validate.Struct(ev); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	data, err := protocol.RawFriendRequestPayload(ev.FriendRequest)
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	n := r.deliver.ToUser(ev.Target, data)
	log.Printf("[router] friend request target=%s delivered=%d", ev.Target, n)
	return nil
}

// RouteGroupCreation announces a new group to every member's connections.
func (r *Router) RouteGroupCreation(ctx context.Context, ev protocol.CreateGroupEvent) error {
	if err := r.validate.Struct(ev); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	data, err := protocol.NewServerEvent(protocol.EventReceiveGroupCreation, protocol.GroupCreationPayload{
		GroupID: ev.GroupID,
		Name:    ev.Name,
		Owner:   ev.Owner,
		Members: ev.Members,
	})
	if err != nil {
		return fmt.Errorf("router: encode group creation: %w", err)
	}

	n := 0
	for _, member := range ev.Members {
		n += r.deliver.ToUser(member, data)
	}
	log.Printf("[router] group creation group=%s members=%d delivered=%d",
		ev.GroupID, len(ev.Members), n)
	return nil
}

// RouteReaction persists an emoji reaction and notifies the conversation:
// the direct counterpart and the reactor for direct chats, every group member
// for group chats.
func (r *Router) RouteReaction(ctx context.Context, ev protocol.AddReactionEvent) error {
	if err := r.validate.Struct(ev); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	at := time.Now().UTC()
	if err := r.messages.AddReaction(ctx, ev.MessageID, ev.UserID, ev.Emoji, at); err != nil {
		return &PersistenceError{Op: "persist reaction", Err: err}
	}

	data, err := protocol.NewServerEvent(protocol.EventMessageReaction, protocol.MessageReactionPayload{
		MessageID: ev.MessageID,
		UserID:    ev.UserID,
		Emoji:     ev.Emoji,
		Timestamp: at.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("router: encode reaction: %w", err)
	}

	if ev.IsGroup && ev.GroupID != "" {
		group, err := r.groups.Get(ctx, ev.GroupID)
		if err != nil || group == nil {
			log.Printf("[router] reaction group=%s lookup failed: %v", ev.GroupID, err)
			return nil
		}
		for _, member := range group.Members {
			r.deliver.ToUser(member, data)
		}
		return nil
	}

	r.deliver.ToUser(ev.UserID, data)
	if ev.RecipientID != "" && ev.RecipientID != ev.UserID {
		r.deliver.ToUser(ev.RecipientID, data)
	}
	return nil
}

// checkContent enforces the text content limits. File and voice messages
// carry their payload out of band.
func checkContent(messageType, content string) error {
	if messageType != protocol.MessageTypeText {
		return nil
	}
	if len(content) > MaxContentBytes {
		return &ValidationError{Reason: fmt.Sprintf("content exceeds %d byte limit", MaxContentBytes)}
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return &ValidationError{Reason: fmt.Sprintf("content exceeds %d character limit", MaxContentChars)}
	}
	if !utf8.ValidString(content) {
		return &ValidationError{Reason: "content contains invalid UTF-8"}
	}
	return nil
}

// payloadFor converts an expanded message into the wire payload.
func payloadFor(em *store.ExpandedMessage, groupID string) protocol.MessagePayload {
	p := protocol.MessagePayload{
		ID: em.ID,
		Sender: protocol.UserRef{
			ID:        em.Sender.ID,
			Email:     em.Sender.Email,
			FirstName: em.Sender.FirstName,
			LastName:  em.Sender.LastName,
			Image:     em.Sender.Image,
			Color:     em.Sender.Color,
		},
		Content:     em.Content,
		MessageType: em.MessageType,
		FileURL:     em.FileURL,
		Timestamp:   em.Timestamp.UnixMilli(),
		GroupID:     groupID,
		Edited:      em.Edited,
		Deleted:     em.Deleted,
	}
	if em.Recipient != nil {
		p.Recipient = &protocol.UserRef{
			ID:        em.Recipient.ID,
			Email:     em.Recipient.Email,
			FirstName: em.Recipient.FirstName,
			LastName:  em.Recipient.LastName,
			Image:     em.Recipient.Image,
			Color:     em.Recipient.Color,
		}
	}
	return p
}
