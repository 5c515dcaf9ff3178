// Package receipts records read receipts for batches of messages and
// notifies each message's original sender when connected.
package receipts

import (
	"context"
	"log"
	"time"

	"github.com/converse/chat-app/internal/metrics"
	"github.com/converse/chat-app/internal/protocol"
	"github.com/converse/chat-app/internal/registry"
)

// MessageStore is the persistence surface for receipts.
type MessageStore interface {
	// AddReadReceipt records a receipt with set semantics on
	// (message, user). Returns whether a new receipt was stored.
	AddReadReceipt(ctx context.Context, messageID, userID string, at time.Time) (bool, error)
	SenderOf(ctx context.Context, messageID string) (string, error)
}

// Propagator persists read receipts and pushes messageRead notifications.
type Propagator struct {
	Messages MessageStore
	Deliver  *registry.Deliverer
}

// MarkRead records a receipt for each message in the batch on behalf of
// reader. Updates are per-message: a failure on one ID never prevents the
// others from being recorded. For every successfully updated message the
// original sender's connections receive a targeted messageRead notification;
// an offline sender is skipped.
func (p *Propagator) MarkRead(ctx context.Context, messageIDs []string, reader string) {
	now := time.Now().UTC()

	for _, id := range messageIDs {
		added, err := p.Messages.AddReadReceipt(ctx, id, reader, now)
		if err != nil {
			log.Printf("[receipts] add receipt message=%s reader=%s: %v", id, reader, err)
			continue
		}
		if added {
			metrics.ReadReceipts.Inc()
		}

		sender, err := p.Messages.SenderOf(ctx, id)
		if err != nil {
			log.Printf("[receipts] sender lookup message=%s: %v", id, err)
			continue
		}

		data, err := protocol.NewServerEvent(protocol.EventMessageRead, protocol.MessageReadPayload{
			MessageID: id,
			UserID:    reader,
			ReadAt:    now.UnixMilli(),
		})
		if err != nil {
			log.Printf("[receipts] encode messageRead message=%s: %v", id, err)
			continue
		}
		p.Deliver.ToUser(sender, data)
	}
}
