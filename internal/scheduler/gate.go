package scheduler

import "sync"

// Gate implements the per-key staleness guard: each fetch for a resource key
// takes a monotonically increasing sequence at issue time, and its response
// is applied only if no newer request has been issued for that key since.
// Late responses to superseded requests are discarded, not aborted.
type Gate struct {
	mu     sync.Mutex
	latest map[string]uint64
}

func NewGate() *Gate {
	return &Gate{latest: make(map[string]uint64)}
}

// Issue registers a new request for key and returns its sequence number.
func (g *Gate) Issue(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latest[key]++
	return g.latest[key]
}

// Apply runs fn only if seq is still the most recent sequence issued for
// key, holding the gate lock so a concurrent Issue cannot interleave with
// the publication. Returns whether fn ran.
func (g *Gate) Apply(key string, seq uint64, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latest[key] != seq {
		incStaleDiscarded()
		return false
	}
	fn()
	return true
}

// Forget drops the counter for a key whose resource went away (for example
// messages of a deselected conversation).
func (g *Gate) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.latest, key)
}
