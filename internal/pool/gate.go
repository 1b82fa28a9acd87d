package pool

import "sync"

// Gate is the single synchronized accessor for the live concurrency limit and
// the active worker count. It is the only state shared between the pool's
// dispatch loop and the throttle controller; all reads and mutations take the
// same mutex.
type Gate struct {
	mu     sync.Mutex
	limit  int
	max    int
	active int
	pinned bool
	notify chan struct{}
}

// NewGate creates a gate with the given starting limit and ceiling. The limit
// is clamped into [1, max].
func NewGate(limit, max int) *Gate {
	if max < 1 {
		max = 1
	}
	if limit < 1 {
		limit = 1
	}
	if limit > max {
		limit = max
	}
	return &Gate{
		limit:  limit,
		max:    max,
		notify: make(chan struct{}, 1),
	}
}

// Limit returns the current concurrency limit.
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// Max returns the limit ceiling.
func (g *Gate) Max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

// Active returns the number of workers currently holding a slot.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// SetLimit moves the limit to n, clamped into [1, max]. Pinned gates ignore
// the call. Lowering the limit only gates new acquisitions; slots already
// held are unaffected.
func (g *Gate) SetLimit(n int) {
	g.mu.Lock()
	if g.pinned {
		g.mu.Unlock()
		return
	}
	if n < 1 {
		n = 1
	}
	if n > g.max {
		n = g.max
	}
	changed := n != g.limit
	g.limit = n
	g.mu.Unlock()

	if changed {
		concurrencyLimit.Set(float64(n))
		g.signal()
	}
}

// Adjust shifts the limit by delta and returns the resulting limit.
func (g *Gate) Adjust(delta int) int {
	g.SetLimit(g.Limit() + delta)
	return g.Limit()
}

// Pin freezes the limit at its current value. Used for forced sequential
// execution; SetLimit becomes a no-op.
func (g *Gate) Pin() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pinned = true
}

// TryAcquire claims a worker slot if one is free under the current limit.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active >= g.limit {
		return false
	}
	g.active++
	activeWorkers.Set(float64(g.active))
	return true
}

// Release returns a worker slot.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
	activeWorkers.Set(float64(g.active))
}

// Changed returns a channel that receives a signal after the limit moves,
// so the dispatch loop can wake up and fill newly opened slots.
func (g *Gate) Changed() <-chan struct{} {
	return g.notify
}

func (g *Gate) signal() {
	select {
	case g.notify <- struct{}{}:
	default:
	}
}
