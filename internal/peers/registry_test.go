package peers

import (
	"testing"
	"time"

	"github.com/pulsemesh/pulsemesh/internal/testutil/testlog"
)

func TestObserveUpsertsLatest(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry("self")
	r.Observe("peer.a", 100.0)
	r.Observe("peer.a", 104.5)

	active := r.ActivePeers(105.0, 15*time.Second)
	if len(active) != 1 {
		t.Fatalf("unexpected active set: %+v", active)
	}
	if active["peer.a"] != 104.5 {
		t.Fatalf("unexpected last seen: %v", active["peer.a"])
	}
}

func TestObserveIgnoresSelfAndBlank(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry("self")
	r.Observe("self", 100.0)
	r.Observe("", 100.0)
	if n := r.Count(100.0, 15*time.Second); n != 0 {
		t.Fatalf("expected empty registry, got %d", n)
	}
}

func TestActivePeersStalenessBoundary(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry("self")
	r.Observe("fresh", 100.0)
	r.Observe("edge", 90.0)
	r.Observe("stale", 80.0)

	// Staleness is strict: now - last_seen must be < timeout.
	active := r.ActivePeers(105.0, 15*time.Second)
	if _, ok := active["fresh"]; !ok {
		t.Fatalf("fresh peer missing: %+v", active)
	}
	if _, ok := active["edge"]; ok {
		t.Fatalf("boundary peer should be stale: %+v", active)
	}
	if _, ok := active["stale"]; ok {
		t.Fatalf("stale peer should be filtered: %+v", active)
	}
	if n := r.Count(105.0, 15*time.Second); n != 1 {
		t.Fatalf("unexpected count: %d", n)
	}
}

func TestActivePeersDoesNotEvict(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry("self")
	r.Observe("quiet", 50.0)

	if n := r.Count(100.0, 15*time.Second); n != 0 {
		t.Fatalf("expected no active peers, got %d", n)
	}
	// A stale peer that speaks again is active again.
	r.Observe("quiet", 99.0)
	if n := r.Count(100.0, 15*time.Second); n != 1 {
		t.Fatalf("expected revived peer, got %d", n)
	}
}

func TestPruneEvictsOnlyOldEntries(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry("self")
	r.Observe("old", 40.0)
	r.Observe("recent", 95.0)

	removed := r.Prune(100.0, 30*time.Second)
	if removed != 1 {
		t.Fatalf("unexpected prune count: %d", removed)
	}
	ids := r.Identities()
	if len(ids) != 1 || ids[0] != "recent" {
		t.Fatalf("unexpected survivors: %+v", ids)
	}
	// Pruning at a horizon past the liveness timeout never changes the
	// active view.
	if n := r.Count(100.0, 15*time.Second); n != 1 {
		t.Fatalf("unexpected count after prune: %d", n)
	}
}

func TestIdentitiesSorted(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry("self")
	r.Observe("charlie", 1.0)
	r.Observe("alpha", 2.0)
	r.Observe("bravo", 3.0)
	ids := r.Identities()
	if len(ids) != 3 || ids[0] != "alpha" || ids[1] != "bravo" || ids[2] != "charlie" {
		t.Fatalf("unexpected order: %+v", ids)
	}
}
