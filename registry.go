package vkframe

import "sync"

// SurfaceHandle identifies a presentation surface to window callbacks
// without giving them a pointer into the renderer.
type SurfaceHandle uint64

// SurfaceRegistry carries resize notifications from window callbacks to the
// render loop. It is the one core object that is safe for concurrent use.
type SurfaceRegistry struct {
	mu    sync.Mutex
	next  SurfaceHandle
	stale map[SurfaceHandle]bool
}

func NewSurfaceRegistry() *SurfaceRegistry {
	return &SurfaceRegistry{stale: map[SurfaceHandle]bool{}}
}

// Register returns a new handle. Handles are never zero.
func (r *SurfaceRegistry) Register() SurfaceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.stale[r.next] = false
	return r.next
}

func (r *SurfaceRegistry) Unregister(h SurfaceHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stale, h)
}

// MarkStale flags the surface for recreation. Unknown handles are ignored.
func (r *SurfaceRegistry) MarkStale(h SurfaceHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stale[h]; ok {
		r.stale[h] = true
	}
}

// TakeStale reports whether the surface was marked since the last call and
// clears the mark.
func (r *SurfaceRegistry) TakeStale(h SurfaceHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stale[h]
	if s {
		r.stale[h] = false
	}
	return s
}
