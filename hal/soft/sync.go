package soft

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

type Fence struct {
	object
	mu       sync.Mutex
	signaled bool
	pending  bool
	ch       chan struct{}
}

func newFence(signaled bool) *Fence {
	f := &Fence{ch: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.ch)
	}
	return f
}

func (f *Fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
}

func (f *Fence) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
}

// arm marks the fence as owned by a submission. It fails when the fence is
// still signaled or already owned, which an explicit API forbids.
func (f *Fence) arm() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return errors.Wrap(hal.ErrInvalidState, "soft: submitted with a signaled fence")
	}
	if f.pending {
		return errors.Wrap(hal.ErrInvalidState, "soft: fence already owned by a submission")
	}
	f.pending = true
	return nil
}

func (f *Fence) isPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *Fence) isSignaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *Fence) wait(timeout time.Duration) error {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	if timeout <= 0 {
		select {
		case <-ch:
			return nil
		default:
			return errors.Wrap(hal.ErrTimeout, "soft: fence")
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-t.C:
		return errors.Wrap(hal.ErrTimeout, "soft: fence")
	}
}

func (f *Fence) Destroy() {
	f.release(func() {
		if f.isPending() {
			f.dev.violate("fence destroyed while its submission is pending")
		}
	})
}

// Semaphore is a binary semaphore: one signal satisfies exactly one wait.
type Semaphore struct {
	object
	ch chan struct{}
}

func (s *Semaphore) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
		s.dev.violate("semaphore signaled while already signaled")
	}
}

func (s *Semaphore) wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	}
}

func (s *Semaphore) Destroy() {
	s.release(nil)
}
