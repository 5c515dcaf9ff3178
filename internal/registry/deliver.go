package registry

import "log"

// Sender writes a frame to a single connection or to every connection on this
// server instance. Implemented by the WebSocket server.
type Sender interface {
	Send(handleID string, data []byte) error
	Broadcast(data []byte)
}

// Mirror republishes frames to peer server instances. Implemented by the NATS
// relay; nil when running single-instance.
type Mirror interface {
	PublishUser(userID string, data []byte) error
	PublishBroadcast(data []byte) error
}

// Deliverer fans a frame out to the resolved connections for a user, or to
// every connection. Individual send failures (a handle that went stale
// between resolve and write) are logged and swallowed so that one bad
// connection never aborts delivery to the rest.
type Deliverer struct {
	Registry *Registry
	Sender   Sender
	Mirror   Mirror // optional
}

// ToUser delivers data to every live handle of the user on this instance and
// mirrors the frame to peer instances. Returns the number of local handles
// written successfully; zero is a normal outcome for an offline user.
func (d *Deliverer) ToUser(userID string, data []byte) int {
	n := d.ToUserLocal(userID, data)
	if d.Mirror != nil {
		if err := d.Mirror.PublishUser(userID, data); err != nil {
			log.Printf("[deliver] mirror publish user=%s: %v", userID, err)
		}
	}
	return n
}

// ToUserLocal delivers data to the user's handles on this instance only.
// Used by the relay's inbound path to avoid republishing.
func (d *Deliverer) ToUserLocal(userID string, data []byte) int {
	n := 0
	for _, h := range d.Registry.Resolve(userID) {
		if err := d.Sender.Send(h, data); err != nil {
			log.Printf("[deliver] send user=%s handle=%s: %v", userID, h, err)
			continue
		}
		n++
	}
	return n
}

// ToHandle delivers data to one specific connection.
func (d *Deliverer) ToHandle(handleID string, data []byte) error {
	return d.Sender.Send(handleID, data)
}

// BroadcastAll delivers data to every connection on this instance and mirrors
// the frame to peer instances.
func (d *Deliverer) BroadcastAll(data []byte) {
	d.Sender.Broadcast(data)
	if d.Mirror != nil {
		if err := d.Mirror.PublishBroadcast(data); err != nil {
			log.Printf("[deliver] mirror broadcast: %v", err)
		}
	}
}

// BroadcastLocal delivers data to every connection on this instance without
// mirroring.
func (d *Deliverer) BroadcastLocal(data []byte) {
	d.Sender.Broadcast(data)
}
