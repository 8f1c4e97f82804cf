package soft

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// Queue executes work in submission order on its own goroutine, so the
// caller returns from Submit and Present before the work is done.
type Queue struct {
	dev    *Device
	family uint32

	mu     sync.Mutex
	cond   *sync.Cond
	ops    []func()
	busy   bool
	closed bool
}

func newQueue(d *Device, family uint32) *Queue {
	q := &Queue{dev: d, family: family}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *Queue) Family() uint32 { return q.family }

func (q *Queue) loop() {
	for {
		q.mu.Lock()
		for len(q.ops) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.ops) == 0 {
			q.mu.Unlock()
			return
		}
		op := q.ops[0]
		q.ops = q.ops[1:]
		q.busy = true
		q.mu.Unlock()

		op()

		q.mu.Lock()
		q.busy = false
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

func (q *Queue) enqueue(op func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Wrap(hal.ErrDeviceLost, "soft: queue closed")
	}
	q.ops = append(q.ops, op)
	q.cond.Broadcast()
	return nil
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) WaitIdle() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (len(q.ops) > 0 || q.busy) && !q.closed {
		q.cond.Wait()
	}
	return nil
}

func (q *Queue) Submit(submits []hal.SubmitInfo, fence hal.Fence) error {
	var f *Fence
	if fence != nil {
		var ok bool
		if f, ok = fence.(*Fence); !ok {
			return errors.Wrap(hal.ErrInvalidState, "soft: foreign fence")
		}
	}
	type batch struct {
		waits   []*Semaphore
		cmds    []*CommandBuffer
		signals []*Semaphore
	}
	batches := make([]batch, len(submits))
	for i, s := range submits {
		if len(s.WaitStages) != len(s.WaitSemaphores) {
			return errors.Wrap(hal.ErrInvalidState, "soft: every wait semaphore needs a stage")
		}
		for _, hs := range s.WaitSemaphores {
			sem, ok := hs.(*Semaphore)
			if !ok || sem.destroyed() {
				return errors.Wrap(hal.ErrInvalidState, "soft: invalid wait semaphore")
			}
			batches[i].waits = append(batches[i].waits, sem)
		}
		for _, hs := range s.SignalSemaphores {
			sem, ok := hs.(*Semaphore)
			if !ok || sem.destroyed() {
				return errors.Wrap(hal.ErrInvalidState, "soft: invalid signal semaphore")
			}
			batches[i].signals = append(batches[i].signals, sem)
		}
		for _, hc := range s.CommandBuffers {
			cb, ok := hc.(*CommandBuffer)
			if !ok {
				return errors.Wrap(hal.ErrInvalidState, "soft: foreign command buffer")
			}
			batches[i].cmds = append(batches[i].cmds, cb)
		}
	}
	for _, b := range batches {
		for _, cb := range b.cmds {
			if err := cb.markPending(); err != nil {
				q.dev.violate("%v", err)
				return err
			}
		}
	}
	if f != nil {
		if err := f.arm(); err != nil {
			q.dev.violate("%v", err)
			return err
		}
	}
	return q.enqueue(func() {
		if !q.dev.gate.pass() {
			return
		}
		if lat := time.Duration(q.dev.latency.Load()); lat > 0 {
			time.Sleep(lat)
		}
		for _, b := range batches {
			for _, sem := range b.waits {
				if !sem.wait(semaphoreWaitLimit) {
					q.dev.violate("queue %d waited on a semaphore that was never signaled", q.family)
				}
			}
			for _, cb := range b.cmds {
				cb.execute()
			}
			for _, sem := range b.signals {
				sem.signal()
			}
		}
		q.dev.mu.Lock()
		q.dev.submissions++
		q.dev.mu.Unlock()
		if f != nil {
			f.signal()
		}
	})
}

func (q *Queue) Present(info hal.PresentInfo) error {
	sc, ok := info.Swapchain.(*Swapchain)
	if !ok || sc.destroyed() {
		return errors.Wrap(hal.ErrInvalidState, "soft: present to an invalid swap chain")
	}
	if int(info.ImageIndex) >= len(sc.images) || !sc.isAcquired(info.ImageIndex) {
		q.dev.violate("present of image %d that was not acquired", info.ImageIndex)
		return errors.Wrap(hal.ErrInvalidState, "soft: image not acquired")
	}
	var waits []*Semaphore
	for _, hs := range info.WaitSemaphores {
		sem, ok := hs.(*Semaphore)
		if !ok || sem.destroyed() {
			return errors.Wrap(hal.ErrInvalidState, "soft: invalid present semaphore")
		}
		waits = append(waits, sem)
	}

	var result error
	if injected, err := q.dev.nextPresentResult(); injected {
		result = err
	} else if sc.isRetired() || q.dev.adapter.inst.window.extent() != sc.extent {
		result = hal.ErrOutOfDate
	}
	show := result == nil || errors.Is(result, hal.ErrSuboptimal)
	idx := info.ImageIndex

	if err := q.enqueue(func() {
		for _, sem := range waits {
			if !sem.wait(semaphoreWaitLimit) {
				q.dev.violate("present waited on a semaphore that was never signaled")
			}
		}
		img := sc.images[idx]
		img.mu.Lock()
		layout := img.layout
		pixels := append([]byte(nil), img.data...)
		img.mu.Unlock()
		if layout != hal.LayoutPresentSrc {
			q.dev.violate("presented image %d is in layout %s", idx, layout)
		}
		if show {
			q.dev.mu.Lock()
			q.dev.presented = append(q.dev.presented, PresentRecord{Swapchain: sc.serial, Image: idx, Extent: sc.extent})
			q.dev.lastPresented = pixels
			q.dev.mu.Unlock()
		}
		sc.releaseImage(idx)
	}); err != nil {
		return err
	}
	if result != nil {
		return errors.Wrap(result, "soft: present")
	}
	return nil
}
