package sync

import "sync"

// Gate serializes sync invocations across triggers. The HTTP run endpoint
// and the cron scheduler share one Gate so only a single sync runs against
// the dataset at a time, whatever started it.
type Gate struct {
	mu   sync.Mutex
	busy bool
}

// TryAcquire claims the gate without blocking. It returns false when a sync
// already holds it.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	return true
}

// Release frees the gate for the next caller.
func (g *Gate) Release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}
