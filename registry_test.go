package vkframe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSurfaceRegistry(t *testing.T) {
	r := NewSurfaceRegistry()
	a, b := r.Register(), r.Register()
	assert.NotEqual(t, a, b)
	assert.NotZero(t, a)

	assert.False(t, r.TakeStale(a))
	r.MarkStale(a)
	assert.True(t, r.TakeStale(a))
	assert.False(t, r.TakeStale(a), "the mark is cleared once taken")
	assert.False(t, r.TakeStale(b))

	r.MarkStale(SurfaceHandle(999))
	assert.False(t, r.TakeStale(SurfaceHandle(999)))

	r.Unregister(b)
	r.MarkStale(b)
	assert.False(t, r.TakeStale(b))
}

func TestSurfaceRegistryConcurrentCallbacks(t *testing.T) {
	r := NewSurfaceRegistry()
	h := r.Register()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.MarkStale(h)
			}
		}()
	}
	wg.Wait()
	assert.True(t, r.TakeStale(h))
	assert.False(t, r.TakeStale(h))
}
