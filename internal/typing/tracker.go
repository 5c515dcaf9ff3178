// Package typing tracks the ephemeral set of users currently typing in each
// conversation. Nothing here is persisted; entries are bounded by explicit
// stop-typing events and by the connection lifecycle (a user's entries are
// cascade-cleared when their last connection closes).
package typing

import (
	"sort"
	"strings"
	"sync"
)

// Conversation keys. A direct conversation is keyed by the unordered user
// pair so both participants address the same set; a group conversation is
// keyed by its group ID.
const (
	directPrefix = "dm:"
	groupPrefix  = "group:"
)

// DirectKey returns the conversation key for a direct chat between two users,
// independent of argument order.
func DirectKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return directPrefix + pair[0] + "|" + pair[1]
}

// GroupKey returns the conversation key for a group chat.
func GroupKey(groupID string) string {
	return groupPrefix + groupID
}

// IsGroupKey reports whether the key addresses a group conversation and, if
// so, returns the group ID.
func IsGroupKey(key string) (string, bool) {
	if strings.HasPrefix(key, groupPrefix) {
		return key[len(groupPrefix):], true
	}
	return "", false
}

// DirectKeyUsers returns the two participants of a direct conversation key.
func DirectKeyUsers(key string) (string, string, bool) {
	if !strings.HasPrefix(key, directPrefix) {
		return "", "", false
	}
	a, b, ok := strings.Cut(key[len(directPrefix):], "|")
	if !ok {
		return "", "", false
	}
	return a, b, true
}

// Tracker is the in-memory typing state, safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	byConv map[string]map[string]struct{} // conversation key -> typing users
	byUser map[string]map[string]struct{} // user -> conversation keys
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byConv: make(map[string]map[string]struct{}),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Start marks the user as typing in the conversation. Idempotent; returns
// false if the user was already marked.
func (t *Tracker) Start(convKey, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv, ok := t.byConv[convKey]
	if !ok {
		conv = make(map[string]struct{})
		t.byConv[convKey] = conv
	}
	if _, dup := conv[userID]; dup {
		return false
	}
	conv[userID] = struct{}{}

	convs, ok := t.byUser[userID]
	if !ok {
		convs = make(map[string]struct{})
		t.byUser[userID] = convs
	}
	convs[convKey] = struct{}{}
	return true
}

// Stop clears the user's typing mark in the conversation. Idempotent; returns
// false if the user was not marked.
func (t *Tracker) Stop(convKey, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(convKey, userID)
}

// ClearUser removes the user from every conversation they appear in and
// returns the affected conversation keys. Called on last-disconnect so a
// departed user never lingers as "typing".
func (t *Tracker) ClearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	convs := t.byUser[userID]
	if len(convs) == 0 {
		return nil
	}
	out := make([]string, 0, len(convs))
	for key := range convs {
		out = append(out, key)
	}
	for _, key := range out {
		t.remove(key, userID)
	}
	return out
}

// Typing returns a snapshot of the users currently typing in the conversation.
func (t *Tracker) Typing(convKey string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv := t.byConv[convKey]
	if len(conv) == 0 {
		return nil
	}
	out := make([]string, 0, len(conv))
	for u := range conv {
		out = append(out, u)
	}
	return out
}

// remove deletes one (conversation, user) entry and prunes empty sets.
// Caller holds t.mu.
func (t *Tracker) remove(convKey, userID string) bool {
	conv, ok := t.byConv[convKey]
	if !ok {
		return false
	}
	if _, present := conv[userID]; !present {
		return false
	}
	delete(conv, userID)
	if len(conv) == 0 {
		delete(t.byConv, convKey)
	}
	if convs := t.byUser[userID]; convs != nil {
		delete(convs, convKey)
		if len(convs) == 0 {
			delete(t.byUser, userID)
		}
	}
	return true
}
