// Package registry maintains the live mapping from user identity to active
// WebSocket connection handles. A user may hold several handles at once (one
// per device); presence transitions fire only on the empty/non-empty boundary
// of a user's handle set.
package registry

import "sync"

// Registry is a thread-safe, process-local map of users to their live
// connection handles. Handle IDs are opaque strings owned by the transport
// layer for the lifetime of a connection.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]map[string]struct{} // user_id -> set of handle IDs
	owners  map[string]string              // handle ID -> user_id

	onFirst []func(userID string)
	onLast  []func(userID string)
}

// New creates an empty Registry ready for use.
func New() *Registry {
	return &Registry{
		handles: make(map[string]map[string]struct{}),
		owners:  make(map[string]string),
	}
}

// OnFirstConnect registers a hook invoked when a user's handle set grows from
// zero to one. Hooks run synchronously on the registering goroutine, after
// the registry mutation is visible. Must be called before the registry is in
// use; hook registration is not synchronized with mutations.
func (r *Registry) OnFirstConnect(fn func(userID string)) {
	r.onFirst = append(r.onFirst, fn)
}

// OnLastDisconnect registers a hook invoked when a user's handle set shrinks
// to zero.
func (r *Registry) OnLastDisconnect(fn func(userID string)) {
	r.onLast = append(r.onLast, fn)
}

// Register inserts the mapping user -> handle. It cannot fail; registering
// the same handle twice is a no-op. Returns true if this is the user's first
// live handle.
func (r *Registry) Register(userID, handleID string) bool {
	r.mu.Lock()
	set, ok := r.handles[userID]
	if !ok {
		set = make(map[string]struct{})
		r.handles[userID] = set
	}
	set[handleID] = struct{}{}
	r.owners[handleID] = userID
	first := !ok
	r.mu.Unlock()

	if first {
		for _, fn := range r.onFirst {
			fn(userID)
		}
	}
	return first
}

// Unregister removes the given handle from its owner's set. A handle that was
// never registered, or that has already been removed, is a no-op: it must not
// disturb any newer handle the same user registered since. Returns the owning
// user and whether this was the user's last handle.
func (r *Registry) Unregister(handleID string) (userID string, last bool, ok bool) {
	r.mu.Lock()
	userID, ok = r.owners[handleID]
	if !ok {
		r.mu.Unlock()
		return "", false, false
	}
	delete(r.owners, handleID)
	set := r.handles[userID]
	delete(set, handleID)
	if len(set) == 0 {
		delete(r.handles, userID)
		last = true
	}
	r.mu.Unlock()

	if last {
		for _, fn := range r.onLast {
			fn(userID)
		}
	}
	return userID, last, true
}

// Resolve returns a snapshot of the user's live handle IDs. The slice is nil
// when the user has no connections. Never blocks on I/O.
func (r *Registry) Resolve(userID string) []string {
	r.mu.RLock()
	set := r.handles[userID]
	var out []string
	if len(set) > 0 {
		out = make([]string, 0, len(set))
		for h := range set {
			out = append(out, h)
		}
	}
	r.mu.RUnlock()
	return out
}

// Online reports whether the user has at least one live handle.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	_, ok := r.handles[userID]
	r.mu.RUnlock()
	return ok
}

// ListOnline returns a snapshot of all users with at least one live handle.
// Used to seed a fresh connection's presence view.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handles))
	for u := range r.handles {
		out = append(out, u)
	}
	r.mu.RUnlock()
	return out
}

// Owner returns the user owning the given handle, if any.
func (r *Registry) Owner(handleID string) (string, bool) {
	r.mu.RLock()
	u, ok := r.owners[handleID]
	r.mu.RUnlock()
	return u, ok
}

// CountUsers returns the number of users currently online.
func (r *Registry) CountUsers() int {
	r.mu.RLock()
	n := len(r.handles)
	r.mu.RUnlock()
	return n
}
