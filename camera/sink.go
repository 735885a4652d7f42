package camera

import "sync"

// sinkGuard is the registration handed to the backend for frame delivery.
// The driver thread calls Frame concurrently with the control thread
// installing or uninstalling the registration; the guard guarantees the
// wrapped sink is never invoked after Uninstall returns, and that
// Uninstall waits for deliveries already in flight.
//
// Frames arriving after removal are counted rather than silently dropped;
// the session exposes the counter for diagnostics.
type sinkGuard struct {
	mu       sync.Mutex
	cond     *sync.Cond
	sink     FrameSink
	inflight int
	removed  bool
	dropped  uint64
}

func newSinkGuard(sink FrameSink) *sinkGuard {
	g := &sinkGuard{sink: sink}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Frame satisfies FrameSink; it is the trampoline the backend invokes from
// the driver thread.
func (g *sinkGuard) Frame(data []byte, width, height int) {
	g.mu.Lock()
	if g.removed {
		g.dropped++
		g.mu.Unlock()
		return
	}
	g.inflight++
	sink := g.sink
	g.mu.Unlock()

	sink.Frame(data, width, height)

	g.mu.Lock()
	g.inflight--
	if g.removed && g.inflight == 0 {
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

// Uninstall marks the registration removed and blocks until in-flight
// deliveries complete.  After it returns the backend may still hold the
// trampoline pointer, but the wrapped sink is unreachable.
func (g *sinkGuard) Uninstall() {
	g.mu.Lock()
	g.removed = true
	for g.inflight > 0 {
		g.cond.Wait()
	}
	g.sink = nil
	g.mu.Unlock()
}

// Dropped returns the number of frames that arrived after removal.
func (g *sinkGuard) Dropped() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
