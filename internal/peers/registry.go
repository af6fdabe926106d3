// Package peers tracks last-observed times for non-self participants.
package peers

import (
	"sort"
	"sync"
	"time"
)

// Registry is one participant's local view of who has been heard from.
// Entries are upserted on every observed broadcast and filtered for
// staleness at read time; Prune bounds growth without changing what
// ActivePeers reports as long as the prune horizon covers the liveness
// timeout.
type Registry struct {
	self string

	mu   sync.RWMutex
	seen map[string]float64
}

func NewRegistry(self string) *Registry {
	return &Registry{
		self: self,
		seen: make(map[string]float64),
	}
}

// Observe upserts one participant's last-observed timestamp (the
// issuer's stamp, not arrival time). Observations of the registry's
// own identity or a blank identity are discarded: a participant never
// lists itself as a peer.
func (r *Registry) Observe(identity string, ts float64) {
	if identity == "" || identity == r.self {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[identity] = ts
}

// ActivePeers returns every entry with now - last_seen < timeout.
// The underlying map is never mutated here.
func (r *Registry) ActivePeers(now float64, timeout time.Duration) map[string]float64 {
	horizon := timeout.Seconds()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64)
	for identity, lastSeen := range r.seen {
		if now-lastSeen < horizon {
			out[identity] = lastSeen
		}
	}
	return out
}

// Count reports the cardinality of ActivePeers without building the map.
func (r *Registry) Count(now float64, timeout time.Duration) int {
	horizon := timeout.Seconds()
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, lastSeen := range r.seen {
		if now-lastSeen < horizon {
			n++
		}
	}
	return n
}

// Identities returns all tracked identities, active or stale, sorted.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.seen))
	for identity := range r.seen {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// Prune evicts entries older than maxAge and reports how many were
// removed.
func (r *Registry) Prune(now float64, maxAge time.Duration) int {
	horizon := maxAge.Seconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for identity, lastSeen := range r.seen {
		if now-lastSeen >= horizon {
			delete(r.seen, identity)
			removed++
		}
	}
	return removed
}
