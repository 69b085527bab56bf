package modal

import "sync/atomic"

// Guard marks handlers that drive the step themselves. While any handler holds
// it, the reactive derivation leaves the step alone.
//
// It is an in-progress counter, not a lock: Begin is called synchronously at
// the start of the handler, before its first suspension point, and End only
// after all of its work including cleanup.
type Guard struct {
	n atomic.Int32
}

// Begin marks a handler as running
func (g *Guard) Begin() {
	g.n.Add(1)
}

// End marks a handler as finished
func (g *Guard) End() {
	if g.n.Add(-1) < 0 {
		panic("modal: Guard.End without Begin")
	}
}

// Active reports whether a handler is running
func (g *Guard) Active() bool {
	return g.n.Load() > 0
}
