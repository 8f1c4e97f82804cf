package vkframe

import (
	"time"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// FenceManager owns one fence per frame slot. Fences start signaled so the
// first wait on each slot returns immediately.
// The manager is not thread-safe; it belongs to the render goroutine.
type FenceManager struct {
	device hal.Device
	fences []hal.Fence
}

func NewFenceManager(device hal.Device, count int) (*FenceManager, error) {
	f := &FenceManager{device: device}
	for i := 0; i < count; i++ {
		fence, err := device.CreateFence(true)
		if err != nil {
			f.Destroy()
			return nil, errors.Wrap(err, "create fence")
		}
		f.fences = append(f.fences, fence)
	}
	return f, nil
}

// Wait blocks until the GPU has signaled fence i or timeout expires.
// After Wait returns nil it is safe to reuse everything the slot's last
// submission touched.
func (f *FenceManager) Wait(i int, timeout time.Duration) error {
	return f.device.WaitForFences(f.fences[i:i+1], timeout)
}

// Reset returns fence i to the unsignaled state so it can be handed to the
// next submission.
func (f *FenceManager) Reset(i int) error {
	return f.device.ResetFences(f.fences[i : i+1])
}

func (f *FenceManager) Fence(i int) hal.Fence { return f.fences[i] }

func (f *FenceManager) Len() int { return len(f.fences) }

func (f *FenceManager) Destroy() {
	for _, fence := range f.fences {
		fence.Destroy()
	}
	f.fences = nil
}

// CommandBufferManager allocates command buffers and recycles them.
// Reset marks every buffer as reusable; the caller guarantees the GPU is
// done with them, which for a frame slot means its fence was waited on.
// The manager is not thread-safe.
type CommandBufferManager struct {
	pool    hal.CommandPool
	buffers []hal.CommandBuffer
	count   int
}

// NewCommandBufferManager creates a pool on the given queue family.
func NewCommandBufferManager(device hal.Device, family uint32) (*CommandBufferManager, error) {
	pool, err := device.CreateCommandPool(family)
	if err != nil {
		return nil, errors.Wrap(err, "create command pool")
	}
	return &CommandBufferManager{pool: pool}, nil
}

// Reset makes all managed command buffers available again.
func (c *CommandBufferManager) Reset() {
	c.count = 0
}

// NewCommandBuffer returns a recycled command buffer in the reset state, or a
// freshly allocated one.
func (c *CommandBufferManager) NewCommandBuffer() (hal.CommandBuffer, error) {
	if c.count < len(c.buffers) {
		buf := c.buffers[c.count]
		if err := buf.Reset(); err != nil {
			return nil, errors.Wrap(err, "reset command buffer")
		}
		c.count++
		return buf, nil
	}
	bufs, err := c.pool.Allocate(1)
	if err != nil {
		return nil, errors.Wrap(err, "allocate command buffer")
	}
	c.buffers = append(c.buffers, bufs[0])
	c.count++
	return bufs[0], nil
}

// Free releases buf back to the pool immediately. Used for one-shot buffers.
func (c *CommandBufferManager) Free(buf hal.CommandBuffer) {
	for i, b := range c.buffers {
		if b == buf {
			c.buffers = append(c.buffers[:i], c.buffers[i+1:]...)
			if i < c.count {
				c.count--
			}
			break
		}
	}
	c.pool.Free([]hal.CommandBuffer{buf})
}

func (c *CommandBufferManager) Destroy() {
	if c.pool == nil {
		return
	}
	if len(c.buffers) > 0 {
		c.pool.Free(c.buffers)
	}
	c.pool.Destroy()
	c.pool = nil
	c.buffers = nil
}
