package executor

import (
	"sync"
	"time"
)

// ReplayGuard drops signal IDs that were already admitted within a TTL
// window, so a replayed stream entry or a client retry cannot open a second
// session. It is safe for concurrent use.
type ReplayGuard struct {
	seen map[string]time.Time // signal ID -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewReplayGuard creates a guard that treats an ID as a replay when it was
// seen less than ttl ago.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether id was recorded within the TTL window. Unseen or
// expired IDs are recorded and false is returned. Empty IDs are never
// considered replays.
func (g *ReplayGuard) Seen(id string) bool {
	if id == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if first, ok := g.seen[id]; ok && now.Sub(first) < g.ttl {
		return true
	}
	g.seen[id] = now
	return false
}

// Cleanup removes expired entries and returns how many were dropped. Call it
// periodically to bound memory.
func (g *ReplayGuard) Cleanup() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := 0
	for id, ts := range g.seen {
		if now.Sub(ts) >= g.ttl {
			delete(g.seen, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked IDs.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
