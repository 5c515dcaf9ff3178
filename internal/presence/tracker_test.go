package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/converse/chat-app/internal/protocol"
	"github.com/converse/chat-app/internal/registry"
	"github.com/converse/chat-app/internal/router"
	"github.com/converse/chat-app/internal/store"
	"github.com/converse/chat-app/internal/typing"
)

// presenceSender records targeted frames per handle and broadcasts.
type presenceSender struct {
	sent       map[string][][]byte
	broadcasts [][]byte
}

func newPresenceSender() *presenceSender {
	return &presenceSender{sent: make(map[string][][]byte)}
}

func (p *presenceSender) Send(handleID string, data []byte) error {
	p.sent[handleID] = append(p.sent[handleID], data)
	return nil
}

func (p *presenceSender) Broadcast(data []byte) {
	p.broadcasts = append(p.broadcasts, data)
}

func (p *presenceSender) broadcastEvents(t *testing.T) []string {
	t.Helper()
	var events []string
	for _, b := range p.broadcasts {
		var m map[string]interface{}
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("bad broadcast frame: %v", err)
		}
		events = append(events, m["event"].(string))
	}
	return events
}

// flakyUsers fails TouchLastSeen on demand.
type flakyUsers struct {
	touched []string
	err     error
}

func (f *flakyUsers) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.touched = append(f.touched, userID)
	return nil
}

func newTestTracker(users *flakyUsers) (*Tracker, *presenceSender) {
	reg := registry.New()
	sender := newPresenceSender()
	deliver := &registry.Deliverer{Registry: reg, Sender: sender}
	return &Tracker{
		Registry: reg,
		Deliver:  deliver,
		Users:    users,
	}, sender
}

// ---------------------------------------------------------------------------
// Test: First connection broadcasts userOnline and seeds the new session
// ---------------------------------------------------------------------------

func TestConnected_FirstHandle(t *testing.T) {
	users := &flakyUsers{}
	tracker, sender := newTestTracker(users)
	ctx := context.Background()

	tracker.Connected(ctx, "alice", "ha")

	events := sender.broadcastEvents(t)
	if len(events) != 1 || events[0] != protocol.EventUserOnline {
		t.Fatalf("expected one userOnline broadcast, got %v", events)
	}

	if len(sender.sent["ha"]) != 1 {
		t.Fatalf("expected the online snapshot seeded to the new session, got %d frames", len(sender.sent["ha"]))
	}
	var seed map[string]interface{}
	if err := json.Unmarshal(sender.sent["ha"][0], &seed); err != nil {
		t.Fatalf("bad seed frame: %v", err)
	}
	if seed["event"] != protocol.EventOnlineUsers {
		t.Fatalf("expected onlineUsers seed, got %v", seed["event"])
	}

	if len(users.touched) != 1 || users.touched[0] != "alice" {
		t.Fatalf("expected lastSeen touched on connect, got %v", users.touched)
	}
}

// ---------------------------------------------------------------------------
// Test: Additional handles seed without re-broadcasting userOnline
// ---------------------------------------------------------------------------

func TestConnected_SecondHandle(t *testing.T) {
	tracker, sender := newTestTracker(&flakyUsers{})
	ctx := context.Background()

	tracker.Connected(ctx, "alice", "ha1")
	tracker.Connected(ctx, "alice", "ha2")

	events := sender.broadcastEvents(t)
	if len(events) != 1 {
		t.Fatalf("expected a single userOnline for two handles, got %v", events)
	}
	if len(sender.sent["ha2"]) != 1 {
		t.Fatalf("every new session must still get the online seed")
	}
}

// ---------------------------------------------------------------------------
// Test: The online seed reflects all currently online users
// ---------------------------------------------------------------------------

func TestConnected_SeedContents(t *testing.T) {
	tracker, sender := newTestTracker(&flakyUsers{})
	ctx := context.Background()

	tracker.Connected(ctx, "alice", "ha")
	tracker.Connected(ctx, "bob", "hb")

	var seed struct {
		UserIDs []string `json:"userIds"`
	}
	if err := json.Unmarshal(sender.sent["hb"][0], &seed); err != nil {
		t.Fatalf("bad seed frame: %v", err)
	}
	sort.Strings(seed.UserIDs)
	if len(seed.UserIDs) != 2 || seed.UserIDs[0] != "alice" || seed.UserIDs[1] != "bob" {
		t.Fatalf("expected seed [alice bob], got %v", seed.UserIDs)
	}
}

// ---------------------------------------------------------------------------
// Test: userOffline fires only when the last handle disconnects
// ---------------------------------------------------------------------------

func TestDisconnected_LastHandleOnly(t *testing.T) {
	users := &flakyUsers{}
	tracker, sender := newTestTracker(users)
	ctx := context.Background()

	tracker.Connected(ctx, "alice", "ha1")
	tracker.Connected(ctx, "alice", "ha2")
	users.touched = nil
	sender.broadcasts = nil

	tracker.Disconnected(ctx, "ha1")
	if len(sender.broadcasts) != 0 {
		t.Fatalf("no offline broadcast expected while a handle remains")
	}

	tracker.Disconnected(ctx, "ha2")
	events := sender.broadcastEvents(t)
	if len(events) != 1 || events[0] != protocol.EventUserOffline {
		t.Fatalf("expected one userOffline broadcast, got %v", events)
	}
	if len(users.touched) != 1 {
		t.Fatalf("expected lastSeen touched once on final disconnect, got %v", users.touched)
	}
}

// ---------------------------------------------------------------------------
// Test: A stale handle disconnect is a no-op
// ---------------------------------------------------------------------------

func TestDisconnected_StaleHandle(t *testing.T) {
	tracker, sender := newTestTracker(&flakyUsers{})
	ctx := context.Background()

	tracker.Connected(ctx, "alice", "ha")
	sender.broadcasts = nil

	tracker.Disconnected(ctx, "never-registered")
	if len(sender.broadcasts) != 0 {
		t.Fatalf("stale disconnect must not broadcast, got %d frames", len(sender.broadcasts))
	}
	if !tracker.Registry.Online("alice") {
		t.Fatalf("stale disconnect must not take alice offline")
	}
}

// ---------------------------------------------------------------------------
// Test: A lastSeen persistence failure never blocks presence notification
// ---------------------------------------------------------------------------

func TestLastSeenFailureSwallowed(t *testing.T) {
	users := &flakyUsers{err: errors.New("db down")}
	tracker, sender := newTestTracker(users)
	ctx := context.Background()

	tracker.Connected(ctx, "alice", "ha")
	events := sender.broadcastEvents(t)
	if len(events) != 1 || events[0] != protocol.EventUserOnline {
		t.Fatalf("presence broadcast must proceed despite lastSeen failure, got %v", events)
	}

	tracker.Disconnected(ctx, "ha")
	events = sender.broadcastEvents(t)
	if len(events) != 2 || events[1] != protocol.EventUserOffline {
		t.Fatalf("offline broadcast must proceed despite lastSeen failure, got %v", events)
	}
}

// memMessages is a minimal message store for the lifecycle scenario.
type memMessages struct {
	created []*store.Message
}

func (m *memMessages) Create(ctx context.Context, msg *store.Message) (*store.Message, error) {
	out := *msg
	out.ID = "m1"
	out.Timestamp = time.Now().UTC()
	m.created = append(m.created, &out)
	return &out, nil
}

func (m *memMessages) GetExpanded(ctx context.Context, id string) (*store.ExpandedMessage, error) {
	msg := m.created[len(m.created)-1]
	return &store.ExpandedMessage{
		Message:   *msg,
		Sender:    store.UserRef{ID: msg.SenderID},
		Recipient: &store.UserRef{ID: msg.RecipientID},
	}, nil
}

func (m *memMessages) AddReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) error {
	return nil
}

type memGroups struct{}

func (memGroups) Get(ctx context.Context, groupID string) (*store.Group, error) { return nil, nil }
func (memGroups) AppendMessage(ctx context.Context, groupID, messageID string, last store.LastMessage) error {
	return nil
}

// ---------------------------------------------------------------------------
// Test: Full session lifecycle: connect, message exchange, disconnect
// ---------------------------------------------------------------------------

func TestLifecycleScenario(t *testing.T) {
	users := &flakyUsers{}
	tracker, sender := newTestTracker(users)
	messages := &memMessages{}
	rtr := router.New(messages, memGroups{}, tracker.Deliver)
	ctx := context.Background()

	// A connects: registry shows A online, userOnline broadcast to all.
	tracker.Connected(ctx, "A", "hA")
	if !tracker.Registry.Online("A") {
		t.Fatalf("expected A online after connect")
	}
	events := sender.broadcastEvents(t)
	if len(events) != 1 || events[0] != protocol.EventUserOnline {
		t.Fatalf("expected userOnline broadcast, got %v", events)
	}

	// B connects: B's seed lists both A and B.
	tracker.Connected(ctx, "B", "hB")
	var seed struct {
		UserIDs []string `json:"userIds"`
	}
	if err := json.Unmarshal(sender.sent["hB"][0], &seed); err != nil {
		t.Fatalf("bad seed frame: %v", err)
	}
	sort.Strings(seed.UserIDs)
	if len(seed.UserIDs) != 2 || seed.UserIDs[0] != "A" || seed.UserIDs[1] != "B" {
		t.Fatalf("expected seed [A B], got %v", seed.UserIDs)
	}

	// A sends "hi" to B: persisted, delivered to both parties.
	_, err := rtr.RouteDirect(ctx, protocol.SendMessageEvent{
		Sender: "A", Recipient: "B", Content: "hi", MessageType: protocol.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("unexpected routing error: %v", err)
	}
	if len(messages.created) != 1 {
		t.Fatalf("expected the message persisted")
	}
	var delivered map[string]interface{}
	if err := json.Unmarshal(sender.sent["hB"][len(sender.sent["hB"])-1], &delivered); err != nil {
		t.Fatalf("bad frame to B: %v", err)
	}
	if delivered["event"] != protocol.EventReceiveMessage || delivered["content"] != "hi" {
		t.Fatalf("expected receiveMessage with content hi, got %v", delivered)
	}
	var echoed map[string]interface{}
	if err := json.Unmarshal(sender.sent["hA"][len(sender.sent["hA"])-1], &echoed); err != nil {
		t.Fatalf("bad frame to A: %v", err)
	}
	if echoed["event"] != protocol.EventReceiveMessage {
		t.Fatalf("expected sender echo, got %v", echoed)
	}

	// A disconnects: userOffline broadcast, A no longer resolvable.
	tracker.Disconnected(ctx, "hA")
	events = sender.broadcastEvents(t)
	if events[len(events)-1] != protocol.EventUserOffline {
		t.Fatalf("expected userOffline broadcast, got %v", events)
	}
	if tracker.Registry.Resolve("A") != nil {
		t.Fatalf("expected no handles for A after disconnect")
	}
}

// ---------------------------------------------------------------------------
// Test: Last disconnect cascade-clears typing state with stop notices
// ---------------------------------------------------------------------------

func TestDisconnected_TypingCascade(t *testing.T) {
	tracker, sender := newTestTracker(&flakyUsers{})
	tracker.Typing = &typing.Notifier{
		Tracker: typing.NewTracker(),
		Deliver: tracker.Deliver,
	}
	ctx := context.Background()

	tracker.Connected(ctx, "alice", "ha")
	tracker.Connected(ctx, "bob", "hb")
	tracker.Typing.Start(ctx, protocol.TypingEvent{SenderID: "alice", RecipientID: "bob"})

	frames := len(sender.sent["hb"])
	tracker.Disconnected(ctx, "ha")

	if len(sender.sent["hb"]) != frames+1 {
		t.Fatalf("expected a stop-typing notice to bob on alice's disconnect")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(sender.sent["hb"][len(sender.sent["hb"])-1], &m); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if m["event"] != protocol.EventUserStopTyping || m["senderId"] != "alice" {
		t.Fatalf("unexpected cascade notice: %v", m)
	}
}
