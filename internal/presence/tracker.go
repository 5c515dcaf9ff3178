// Package presence derives online/offline transitions from connection
// registry mutations, persists last-seen timestamps, and broadcasts presence
// events. Presence is treated as public: online/offline notifications go to
// every connected session.
package presence

import (
	"context"
	"log"
	"time"

	"github.com/converse/chat-app/internal/metrics"
	"github.com/converse/chat-app/internal/protocol"
	"github.com/converse/chat-app/internal/registry"
	"github.com/converse/chat-app/internal/typing"
)

// UserStore persists last-seen timestamps.
type UserStore interface {
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
}

// Tracker reacts to registry transitions. All persistence here is
// best-effort: a failed lastSeen write is logged and swallowed, and the
// presence broadcast proceeds regardless.
type Tracker struct {
	Registry *registry.Registry
	Deliver  *registry.Deliverer
	Users    UserStore
	Typing   *typing.Notifier
	Mirror   *Store // optional Redis presence mirror
}

// Connected registers the handle for the user and performs the presence side
// effects: on the user's first handle, broadcast userOnline; in every case,
// deliver the current online snapshot to the new session only.
func (t *Tracker) Connected(ctx context.Context, userID, handleID string) {
	first := t.Registry.Register(userID, handleID)
	metrics.OnlineUsers.Set(float64(t.Registry.CountUsers()))

	t.touchLastSeen(ctx, userID)
	if t.Mirror != nil {
		if err := t.Mirror.SetOnline(ctx, userID); err != nil {
			log.Printf("[presence] mirror online user=%s: %v", userID, err)
		}
	}

	if first {
		data, err := protocol.NewServerEvent(protocol.EventUserOnline, protocol.PresencePayload{UserID: userID})
		if err != nil {
			log.Printf("[presence] build userOnline: %v", err)
		} else {
			t.Deliver.BroadcastAll(data)
		}
	}

	seed, err := protocol.NewServerEvent(protocol.EventOnlineUsers, protocol.OnlineUsersPayload{
		UserIDs: t.Registry.ListOnline(),
	})
	if err != nil {
		log.Printf("[presence] build onlineUsers: %v", err)
		return
	}
	if err := t.Deliver.ToHandle(handleID, seed); err != nil {
		log.Printf("[presence] seed handle=%s: %v", handleID, err)
	}

	log.Printf("[presence] connected user=%s handle=%s first=%v", userID, handleID, first)
}

// Disconnected unregisters the handle. When the user's last handle goes away,
// lastSeen is persisted, typing state is cascade-cleared, and userOffline is
// broadcast. A stale handle (already superseded or never registered) is a
// no-op.
func (t *Tracker) Disconnected(ctx context.Context, handleID string) {
	userID, last, ok := t.Registry.Unregister(handleID)
	if !ok {
		return
	}
	metrics.OnlineUsers.Set(float64(t.Registry.CountUsers()))

	if !last {
		log.Printf("[presence] disconnected user=%s handle=%s (other sessions remain)", userID, handleID)
		return
	}

	t.touchLastSeen(ctx, userID)
	if t.Mirror != nil {
		if err := t.Mirror.SetOffline(ctx, userID); err != nil {
			log.Printf("[presence] mirror offline user=%s: %v", userID, err)
		}
	}

	if t.Typing != nil {
		t.Typing.DisconnectCleanup(ctx, userID)
	}

	data, err := protocol.NewServerEvent(protocol.EventUserOffline, protocol.PresencePayload{UserID: userID})
	if err != nil {
		log.Printf("[presence] build userOffline: %v", err)
		return
	}
	t.Deliver.BroadcastAll(data)

	log.Printf("[presence] offline user=%s", userID)
}

func (t *Tracker) touchLastSeen(ctx context.Context, userID string) {
	if t.Users == nil {
		return
	}
	if err := t.Users.TouchLastSeen(ctx, userID, time.Now().UTC()); err != nil {
		// Best-effort telemetry; presence notification proceeds regardless.
		log.Printf("[presence] lastSeen user=%s: %v", userID, err)
	}
}
