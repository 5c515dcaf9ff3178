package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/converse/chat-app/internal/protocol"
	"github.com/converse/chat-app/internal/registry"
)

// receiptStore is an in-memory MessageStore for receipt tests.
type receiptStore struct {
	senders  map[string]string   // message ID -> sender
	receipts map[string]struct{} // "<messageID>/<userID>"
	failIDs  map[string]bool
}

func newReceiptStore(senders map[string]string) *receiptStore {
	return &receiptStore{
		senders:  senders,
		receipts: make(map[string]struct{}),
		failIDs:  make(map[string]bool),
	}
}

func (s *receiptStore) AddReadReceipt(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	if s.failIDs[messageID] {
		return false, errors.New("write failed")
	}
	key := messageID + "/" + userID
	if _, dup := s.receipts[key]; dup {
		return false, nil
	}
	s.receipts[key] = struct{}{}
	return true, nil
}

func (s *receiptStore) SenderOf(ctx context.Context, messageID string) (string, error) {
	sender, ok := s.senders[messageID]
	if !ok {
		return "", errors.New("message not found")
	}
	return sender, nil
}

// receiptSender records frames per handle.
type receiptSender struct {
	sent map[string][][]byte
}

func (r *receiptSender) Send(handleID string, data []byte) error {
	r.sent[handleID] = append(r.sent[handleID], data)
	return nil
}

func (r *receiptSender) Broadcast(data []byte) {}

func newTestPropagator(senders map[string]string) (*Propagator, *registry.Registry, *receiptSender, *receiptStore) {
	reg := registry.New()
	sender := &receiptSender{sent: make(map[string][][]byte)}
	store := newReceiptStore(senders)
	p := &Propagator{
		Messages: store,
		Deliver:  &registry.Deliverer{Registry: reg, Sender: sender},
	}
	return p, reg, sender, store
}

// ---------------------------------------------------------------------------
// Test: A connected sender gets exactly one messageRead per message
// ---------------------------------------------------------------------------

func TestMarkRead_NotifiesSender(t *testing.T) {
	p, reg, sender, store := newTestPropagator(map[string]string{"m1": "alice"})
	reg.Register("alice", "ha")

	p.MarkRead(context.Background(), []string{"m1"}, "bob")

	if _, ok := store.receipts["m1/bob"]; !ok {
		t.Fatalf("expected receipt recorded for m1/bob")
	}
	if len(sender.sent["ha"]) != 1 {
		t.Fatalf("expected 1 messageRead to alice, got %d", len(sender.sent["ha"]))
	}

	var m map[string]interface{}
	if err := json.Unmarshal(sender.sent["ha"][0], &m); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if m["event"] != protocol.EventMessageRead || m["messageId"] != "m1" || m["userId"] != "bob" {
		t.Fatalf("unexpected messageRead frame: %v", m)
	}
}

// ---------------------------------------------------------------------------
// Test: Receipts have set semantics per (message, user)
// ---------------------------------------------------------------------------

func TestMarkRead_Idempotent(t *testing.T) {
	p, _, _, store := newTestPropagator(map[string]string{"m1": "alice"})

	p.MarkRead(context.Background(), []string{"m1"}, "bob")
	p.MarkRead(context.Background(), []string{"m1"}, "bob")

	if len(store.receipts) != 1 {
		t.Fatalf("expected a single receipt, got %d", len(store.receipts))
	}
}

// ---------------------------------------------------------------------------
// Test: An offline sender is skipped without error
// ---------------------------------------------------------------------------

func TestMarkRead_OfflineSender(t *testing.T) {
	p, _, sender, store := newTestPropagator(map[string]string{"m1": "alice"})

	p.MarkRead(context.Background(), []string{"m1"}, "bob")

	if _, ok := store.receipts["m1/bob"]; !ok {
		t.Fatalf("receipt must persist even when the sender is offline")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no frames expected for an offline sender, got %v", sender.sent)
	}
}

// ---------------------------------------------------------------------------
// Test: A failing ID never blocks the rest of the batch
// ---------------------------------------------------------------------------

func TestMarkRead_PartialBatch(t *testing.T) {
	p, reg, sender, store := newTestPropagator(map[string]string{
		"m1": "alice",
		"m2": "alice",
		"m3": "carol",
	})
	store.failIDs["m2"] = true
	reg.Register("alice", "ha")
	reg.Register("carol", "hc")

	p.MarkRead(context.Background(), []string{"m1", "m2", "m3"}, "bob")

	if _, ok := store.receipts["m1/bob"]; !ok {
		t.Errorf("expected receipt for m1")
	}
	if _, ok := store.receipts["m3/bob"]; !ok {
		t.Errorf("expected receipt for m3 despite m2 failing")
	}
	if len(sender.sent["ha"]) != 1 {
		t.Errorf("expected 1 notification to alice (m1 only), got %d", len(sender.sent["ha"]))
	}
	if len(sender.sent["hc"]) != 1 {
		t.Errorf("expected 1 notification to carol (m3), got %d", len(sender.sent["hc"]))
	}
}
