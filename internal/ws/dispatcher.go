package ws

import (
	"log"
	"time"

	"github.com/converse/chat-app/internal/protocol"
)

// EventHandler is the callback signature for handling a parsed client event.
// The msg parameter is the concrete struct returned by
// protocol.ParseClientEvent (e.g., protocol.SendMessageEvent).
type EventHandler func(conn *Connection, msg interface{})

// EventDispatcher routes incoming WebSocket frames to registered handlers
// based on the event name. It handles the built-in ping/pong keepalive
// internally and sends structured error responses for malformed or
// unsupported events.
type EventDispatcher struct {
	handlers map[string]EventHandler
}

// NewEventDispatcher creates an empty EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string]EventHandler),
	}
}

// Register associates an EventHandler with an event name. If a handler was
// already registered for the given event, it is silently replaced.
func (d *EventDispatcher) Register(event string, handler EventHandler) {
	d.handlers[event] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed event, handles ping internally, and routes all other events
// to the registered handler. Parse errors and unregistered events result in
// an error frame sent back to the client.
func (d *EventDispatcher) Dispatch(conn *Connection, data []byte) {
	event, msg, err := protocol.ParseClientEvent(data)
	if err != nil {
		log.Printf("ws: dispatch parse error handle=%s: %v", conn.ID, err)
		d.sendError(conn, "parse_error", "invalid event format")
		return
	}

	// Built-in ping handler — respond immediately without requiring registration.
	if event == protocol.EventPing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[event]
	if !ok {
		log.Printf("ws: unsupported event=%q handle=%s", event, conn.ID)
		d.sendError(conn, "unsupported_event", "unsupported event")
		return
	}

	handler(conn, msg)
}

// sendError sends a structured error frame back to the client. Errors during
// construction or transmission are logged but not propagated.
func (d *EventDispatcher) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerEvent(protocol.EventError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error frame handle=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error frame handle=%s: %v", conn.ID, err)
	}
}

// sendPong responds to a client ping with a pong event and refreshes the
// connection's LastPing timestamp.
func (d *EventDispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewServerEvent(protocol.EventPong, protocol.PongPayload{})
	if err != nil {
		log.Printf("ws: failed to build pong handle=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send pong handle=%s: %v", conn.ID, err)
	}
}
