package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid sendMessage event
// ---------------------------------------------------------------------------

func TestParseClientEvent_SendMessage(t *testing.T) {
	input := []byte(`{"event":"sendMessage","sender":"u1","recipient":"u2","content":"hello","messageType":"text"}`)

	event, msg, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != EventSendMessage {
		t.Fatalf("expected event %q, got %q", EventSendMessage, event)
	}

	sm, ok := msg.(SendMessageEvent)
	if !ok {
		t.Fatalf("expected SendMessageEvent, got %T", msg)
	}
	if sm.Sender != "u1" || sm.Recipient != "u2" {
		t.Errorf("expected sender u1 recipient u2, got %q %q", sm.Sender, sm.Recipient)
	}
	if sm.Content != "hello" || sm.MessageType != MessageTypeText {
		t.Errorf("unexpected content=%q messageType=%q", sm.Content, sm.MessageType)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a sendGroupMessage event
// ---------------------------------------------------------------------------

func TestParseClientEvent_SendGroupMessage(t *testing.T) {
	input := []byte(`{"event":"sendGroupMessage","groupId":"g1","sender":"u1","content":"hi all","messageType":"text"}`)

	event, msg, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != EventSendGroupMessage {
		t.Fatalf("expected event %q, got %q", EventSendGroupMessage, event)
	}

	gm, ok := msg.(SendGroupMessageEvent)
	if !ok {
		t.Fatalf("expected SendGroupMessageEvent, got %T", msg)
	}
	if gm.GroupID != "g1" || gm.Sender != "u1" {
		t.Errorf("expected groupId g1 sender u1, got %q %q", gm.GroupID, gm.Sender)
	}
}

// ---------------------------------------------------------------------------
// Test: typing and stopTyping both decode to TypingEvent
// ---------------------------------------------------------------------------

func TestParseClientEvent_Typing(t *testing.T) {
	for _, name := range []string{EventTyping, EventStopTyping} {
		input := []byte(`{"event":"` + name + `","senderId":"u1","recipientId":"u2"}`)

		event, msg, err := ParseClientEvent(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if event != name {
			t.Fatalf("expected event %q, got %q", name, event)
		}

		te, ok := msg.(TypingEvent)
		if !ok {
			t.Fatalf("%s: expected TypingEvent, got %T", name, msg)
		}
		if te.SenderID != "u1" || te.RecipientID != "u2" {
			t.Errorf("%s: unexpected fields %+v", name, te)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a markAsRead event with a batch of IDs
// ---------------------------------------------------------------------------

func TestParseClientEvent_MarkAsRead(t *testing.T) {
	input := []byte(`{"event":"markAsRead","messageIds":["m1","m2"],"userId":"u2"}`)

	_, msg, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mr, ok := msg.(MarkAsReadEvent)
	if !ok {
		t.Fatalf("expected MarkAsReadEvent, got %T", msg)
	}
	if len(mr.MessageIDs) != 2 || mr.MessageIDs[0] != "m1" {
		t.Errorf("unexpected messageIds %v", mr.MessageIDs)
	}
	if mr.UserID != "u2" {
		t.Errorf("expected userId u2, got %q", mr.UserID)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown events and malformed envelopes are rejected
// ---------------------------------------------------------------------------

func TestParseClientEvent_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"unknown event", `{"event":"selfDestruct"}`},
		{"server-only event", `{"event":"receiveMessage"}`},
		{"missing event field", `{"sender":"u1"}`},
		{"not json", `hello`},
	}

	for _, tc := range cases {
		if _, _, err := ParseClientEvent([]byte(tc.input)); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerEvent injects the event discriminator
// ---------------------------------------------------------------------------

func TestNewServerEvent(t *testing.T) {
	data, err := NewServerEvent(EventUserOnline, PresencePayload{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["event"] != EventUserOnline {
		t.Errorf("expected event %q, got %v", EventUserOnline, m["event"])
	}
	if m["userId"] != "u1" {
		t.Errorf("expected userId u1, got %v", m["userId"])
	}
}

// ---------------------------------------------------------------------------
// Test: Friend request bodies are relayed verbatim with the event injected
// ---------------------------------------------------------------------------

func TestRawFriendRequestPayload(t *testing.T) {
	body := json.RawMessage(`{"from":"u1","note":"hey"}`)

	data, err := RawFriendRequestPayload(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["event"] != EventReceiveFriendRequest {
		t.Errorf("expected event %q, got %v", EventReceiveFriendRequest, m["event"])
	}
	if m["from"] != "u1" || m["note"] != "hey" {
		t.Errorf("body fields not preserved: %v", m)
	}

	if _, err := RawFriendRequestPayload(json.RawMessage(`[1,2]`)); err == nil {
		t.Errorf("expected an error for a non-object body")
	}
}
