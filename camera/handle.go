package camera

import "sync"

// HandleGuard wraps a native device handle and enforces the acquisition
// contract the vendor SDKs do not: exactly one live handle at a time,
// acquisition is a no-op when a handle is already held, and release is
// idempotent and safe on a zero handle.  Double-init of the native layer
// leaks a device context that only a process restart gets back.
type HandleGuard struct {
	mu     sync.Mutex
	handle Handle
	held   bool
}

// Acquire returns the held handle, calling init only when none is held.
// A zero handle or non-OK code from init is an InitFailed failure and
// leaves the guard empty.
func (g *HandleGuard) Acquire(init func() (Handle, int)) (Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return g.handle, nil
	}
	h, code := init()
	if code != OK || h == 0 {
		return 0, fail(InitFailed, code)
	}
	g.handle = h
	g.held = true
	return h, nil
}

// Release returns the handle to the native layer.  Calling Release when
// no handle is held is a no-op; the uninit return code is discarded since
// teardown must never be blocked on a misbehaving driver.
func (g *HandleGuard) Release(uninit func(Handle) int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held || g.handle == 0 {
		g.held = false
		g.handle = 0
		return
	}
	uninit(g.handle)
	g.handle = 0
	g.held = false
}

// Handle returns the held handle and whether one is held.
func (g *HandleGuard) Handle() (Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handle, g.held
}
