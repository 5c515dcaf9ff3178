package registry

import (
	"sort"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: First registration reports the zero-to-one transition
// ---------------------------------------------------------------------------

func TestRegister_FirstHandle(t *testing.T) {
	r := New()

	if first := r.Register("alice", "h1"); !first {
		t.Fatalf("expected first=true for alice's first handle")
	}
	if first := r.Register("alice", "h2"); first {
		t.Fatalf("expected first=false for alice's second handle")
	}
	if !r.Online("alice") {
		t.Fatalf("expected alice to be online")
	}
}

// ---------------------------------------------------------------------------
// Test: Resolve returns every live handle for a user
// ---------------------------------------------------------------------------

func TestResolve_MultipleHandles(t *testing.T) {
	r := New()
	r.Register("alice", "h1")
	r.Register("alice", "h2")
	r.Register("bob", "h3")

	handles := r.Resolve("alice")
	sort.Strings(handles)
	if len(handles) != 2 || handles[0] != "h1" || handles[1] != "h2" {
		t.Fatalf("expected [h1 h2], got %v", handles)
	}

	if got := r.Resolve("carol"); got != nil {
		t.Fatalf("expected nil for unknown user, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Unregister reports last-handle transitions
// ---------------------------------------------------------------------------

func TestUnregister_LastHandle(t *testing.T) {
	r := New()
	r.Register("alice", "h1")
	r.Register("alice", "h2")

	userID, last, ok := r.Unregister("h1")
	if !ok || userID != "alice" {
		t.Fatalf("expected ok unregister for alice, got user=%q ok=%v", userID, ok)
	}
	if last {
		t.Fatalf("expected last=false while h2 remains")
	}

	_, last, ok = r.Unregister("h2")
	if !ok || !last {
		t.Fatalf("expected last=true on final handle, got last=%v ok=%v", last, ok)
	}
	if r.Online("alice") {
		t.Fatalf("expected alice offline after final unregister")
	}
}

// ---------------------------------------------------------------------------
// Test: Unregistering a stale handle is a no-op
// ---------------------------------------------------------------------------

func TestUnregister_StaleHandle(t *testing.T) {
	r := New()
	r.Register("alice", "h1")

	if _, _, ok := r.Unregister("never-registered"); ok {
		t.Fatalf("expected ok=false for unknown handle")
	}

	// Unregister then unregister again: the second call must not disturb a
	// newer handle registered in between.
	r.Unregister("h1")
	r.Register("alice", "h2")
	if _, _, ok := r.Unregister("h1"); ok {
		t.Fatalf("expected ok=false for already-removed handle")
	}
	if !r.Online("alice") {
		t.Fatalf("stale unregister must not take alice offline")
	}
}

// ---------------------------------------------------------------------------
// Test: Edge hooks fire only on the empty/non-empty boundary
// ---------------------------------------------------------------------------

func TestEdgeHooks(t *testing.T) {
	r := New()

	var firsts, lasts []string
	r.OnFirstConnect(func(u string) { firsts = append(firsts, u) })
	r.OnLastDisconnect(func(u string) { lasts = append(lasts, u) })

	r.Register("alice", "h1")
	r.Register("alice", "h2")
	r.Unregister("h1")
	r.Unregister("h2")
	r.Register("alice", "h3")

	if len(firsts) != 2 || firsts[0] != "alice" || firsts[1] != "alice" {
		t.Fatalf("expected two first-connect events, got %v", firsts)
	}
	if len(lasts) != 1 || lasts[0] != "alice" {
		t.Fatalf("expected one last-disconnect event, got %v", lasts)
	}
}

// ---------------------------------------------------------------------------
// Test: ListOnline and CountUsers reflect live users only
// ---------------------------------------------------------------------------

func TestListOnline(t *testing.T) {
	r := New()
	r.Register("alice", "h1")
	r.Register("bob", "h2")
	r.Register("bob", "h3")
	r.Unregister("h1")

	online := r.ListOnline()
	if len(online) != 1 || online[0] != "bob" {
		t.Fatalf("expected [bob], got %v", online)
	}
	if n := r.CountUsers(); n != 1 {
		t.Fatalf("expected 1 online user, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Test: Owner resolves a handle back to its user
// ---------------------------------------------------------------------------

func TestOwner(t *testing.T) {
	r := New()
	r.Register("alice", "h1")

	if u, ok := r.Owner("h1"); !ok || u != "alice" {
		t.Fatalf("expected alice for h1, got %q ok=%v", u, ok)
	}
	if _, ok := r.Owner("h9"); ok {
		t.Fatalf("expected ok=false for unknown handle")
	}
}
