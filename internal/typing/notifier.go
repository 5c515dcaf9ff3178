package typing

import (
	"context"
	"log"

	"github.com/converse/chat-app/internal/protocol"
	"github.com/converse/chat-app/internal/registry"
)

// GroupResolver looks up the current member list of a group. Implemented by
// the Postgres group store.
type GroupResolver interface {
	Members(ctx context.Context, groupID string) ([]string, error)
}

// Notifier applies typing events to the Tracker and delivers the resulting
// userTyping/userStopTyping notifications. Direct indicators go only to the
// recipient; group indicators go only to current group members, never to the
// sender's own sessions.
type Notifier struct {
	Tracker *Tracker
	Deliver *registry.Deliverer
	Groups  GroupResolver
}

// Start records the typing mark and notifies the interested parties. The
// mutation is idempotent; notification is sent on every event so that clients
// reconnecting mid-indicator still converge.
func (n *Notifier) Start(ctx context.Context, ev protocol.TypingEvent) {
	n.Tracker.Start(convKey(ev), ev.SenderID)
	n.send(ctx, protocol.EventUserTyping, ev.SenderID, ev)
}

// Stop clears the typing mark and notifies the interested parties.
func (n *Notifier) Stop(ctx context.Context, ev protocol.TypingEvent) {
	n.Tracker.Stop(convKey(ev), ev.SenderID)
	n.send(ctx, protocol.EventUserStopTyping, ev.SenderID, ev)
}

// DisconnectCleanup removes the user from every typing set and emits a
// stop-typing notice to each affected conversation. Invoked by the presence
// tracker on last-disconnect.
func (n *Notifier) DisconnectCleanup(ctx context.Context, userID string) {
	for _, key := range n.Tracker.ClearUser(userID) {
		ev := protocol.TypingEvent{SenderID: userID}
		if groupID, ok := IsGroupKey(key); ok {
			ev.IsGroup = true
			ev.GroupID = groupID
		} else if a, b, ok := DirectKeyUsers(key); ok {
			ev.RecipientID = a
			if a == userID {
				ev.RecipientID = b
			}
		}
		n.send(ctx, protocol.EventUserStopTyping, userID, ev)
	}
}

func (n *Notifier) send(ctx context.Context, event, senderID string, ev protocol.TypingEvent) {
	payload := protocol.TypingPayload{
		SenderID:    ev.SenderID,
		RecipientID: ev.RecipientID,
		IsGroup:     ev.IsGroup,
		GroupID:     ev.GroupID,
	}
	data, err := protocol.NewServerEvent(event, payload)
	if err != nil {
		log.Printf("[typing] build %s: %v", event, err)
		return
	}

	if ev.IsGroup && ev.GroupID != "" {
		members, err := n.Groups.Members(ctx, ev.GroupID)
		if err != nil {
			log.Printf("[typing] members group=%s: %v", ev.GroupID, err)
			return
		}
		for _, m := range members {
			if m == senderID {
				continue
			}
			n.Deliver.ToUser(m, data)
		}
		return
	}

	if ev.RecipientID != "" {
		n.Deliver.ToUser(ev.RecipientID, data)
	}
}

func convKey(ev protocol.TypingEvent) string {
	if ev.IsGroup && ev.GroupID != "" {
		return GroupKey(ev.GroupID)
	}
	return DirectKey(ev.SenderID, ev.RecipientID)
}
