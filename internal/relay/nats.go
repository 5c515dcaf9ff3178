// Package relay mirrors outbound frames across chat server instances over
// NATS, so a message routed on one instance reaches a user whose connections
// live on another. Every published frame is tagged with the origin server
// name; an instance ignores its own publishes.
package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used by the relay.
const (
	SubjectUserPrefix = "chat.fanout.user." // + <user_id>
	SubjectBroadcast  = "chat.fanout.broadcast"
)

// Frame is the envelope published to NATS: the raw server event bytes plus
// the originating server name.
type Frame struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client/server name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "chat-server",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Relay wraps the NATS connection with per-user and broadcast mirroring.
type Relay struct {
	conn *nats.Conn
	name string

	mu   sync.Mutex
	subs map[string]*nats.Subscription // user_id -> subscription
}

// Connect establishes the NATS connection and returns a ready Relay.
func Connect(config Config) (*Relay, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[relay] disconnected: %v", err)
			} else {
				log.Printf("[relay] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[relay] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[relay] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay: nats connect: %w", err)
	}

	log.Printf("[relay] connected to %s as %s", nc.ConnectedUrl(), config.Name)

	return &Relay{
		conn: nc,
		name: config.Name,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishUser mirrors a user-addressed frame to peer instances. Implements
// registry.Mirror.
func (r *Relay) PublishUser(userID string, data []byte) error {
	return r.publish(SubjectUserPrefix+userID, data)
}

// PublishBroadcast mirrors a broadcast frame to peer instances. Implements
// registry.Mirror.
func (r *Relay) PublishBroadcast(data []byte) error {
	return r.publish(SubjectBroadcast, data)
}

func (r *Relay) publish(subject string, data []byte) error {
	frame, err := json.Marshal(Frame{Origin: r.name, Data: data})
	if err != nil {
		return fmt.Errorf("relay: marshal frame: %w", err)
	}
	return r.conn.Publish(subject, frame)
}

// SubscribeUser starts forwarding peer-published frames for the given user to
// handler. Called when a user's first local connection registers. Frames
// originating from this instance are filtered out.
func (r *Relay) SubscribeUser(userID string, handler func(data []byte)) error {
	subject := SubjectUserPrefix + userID
	sub, err := r.conn.Subscribe(subject, r.filtered(handler))
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", subject, err)
	}

	r.mu.Lock()
	if old, ok := r.subs[userID]; ok {
		_ = old.Unsubscribe()
	}
	r.subs[userID] = sub
	r.mu.Unlock()
	return nil
}

// UnsubscribeUser stops forwarding frames for the user. Called when the
// user's last local connection goes away.
func (r *Relay) UnsubscribeUser(userID string) error {
	r.mu.Lock()
	sub, ok := r.subs[userID]
	delete(r.subs, userID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("relay: unsubscribe user %s: %w", userID, err)
	}
	return nil
}

// SubscribeBroadcast forwards peer-published broadcast frames to handler.
func (r *Relay) SubscribeBroadcast(handler func(data []byte)) error {
	if _, err := r.conn.Subscribe(SubjectBroadcast, r.filtered(handler)); err != nil {
		return fmt.Errorf("relay: subscribe broadcast: %w", err)
	}
	return nil
}

// filtered wraps a handler, dropping frames published by this instance.
func (r *Relay) filtered(handler func(data []byte)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var frame Frame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			log.Printf("[relay] unmarshal frame on %s: %v", msg.Subject, err)
			return
		}
		if frame.Origin == r.name {
			return
		}
		handler(frame.Data)
	}
}

// Close drains all subscriptions and closes the NATS connection.
func (r *Relay) Close() {
	r.mu.Lock()
	for userID, sub := range r.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[relay] drain user %s: %v", userID, err)
		}
	}
	r.subs = make(map[string]*nats.Subscription)
	r.mu.Unlock()

	if err := r.conn.Drain(); err != nil {
		log.Printf("[relay] connection drain: %v", err)
	}
	log.Printf("[relay] closed")
}
