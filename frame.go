package vkframe

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// perFrameCtx is one slot of the ring: the objects a frame in flight owns
// until its fence signals.
type perFrameCtx struct {
	index          int
	acquired       hal.Semaphore
	finished       hal.Semaphore
	commandManager *CommandBufferManager
	// lastFrame is the number of the last frame submitted from this slot,
	// -1 before the first.
	lastFrame int64
}

// Frame is handed out by BeginFrame and given back to EndFrame.
type Frame struct {
	Number     int64
	Slot       int
	ImageIndex uint32
	Cmd        hal.CommandBuffer
	// WaitedOn is the frame whose fence BeginFrame waited on, -1 if the slot
	// was unused.
	WaitedOn int64

	ctx *perFrameCtx
}

// FrameRing runs the acquire, submit and present protocol over a fixed
// number of frame slots. Frame k uses slot k mod N and, before touching the
// slot, waits for the fence of frame k-N.
type FrameRing struct {
	dc     *DeviceContext
	sc     *SwapchainManager
	logger *slog.Logger

	fences  *FenceManager
	slots   []*perFrameCtx
	current int
	next    int64
	active  *Frame
}

func NewFrameRing(dc *DeviceContext, sc *SwapchainManager, framesInFlight int) (*FrameRing, error) {
	if framesInFlight < 1 {
		return nil, errors.Errorf("frames in flight must be at least 1, got %d", framesInFlight)
	}
	fences, err := NewFenceManager(dc.Device(), framesInFlight)
	if err != nil {
		return nil, err
	}
	r := &FrameRing{dc: dc, sc: sc, logger: dc.Logger(), fences: fences}
	for i := 0; i < framesInFlight; i++ {
		m, err := NewCommandBufferManager(dc.Device(), dc.GraphicsFamily())
		if err != nil {
			r.Destroy()
			return nil, err
		}
		p := &perFrameCtx{index: i, commandManager: m, lastFrame: -1}
		r.slots = append(r.slots, p)
		if err := r.createSemaphores(p); err != nil {
			r.Destroy()
			return nil, err
		}
	}
	sc.OnRecreate(r.OnSwapchainRecreated)
	return r, nil
}

func (r *FrameRing) createSemaphores(p *perFrameCtx) error {
	var err error
	if p.acquired, err = r.dc.Device().CreateSemaphore(); err != nil {
		return errors.Wrap(err, "create semaphore")
	}
	if p.finished, err = r.dc.Device().CreateSemaphore(); err != nil {
		return errors.Wrap(err, "create semaphore")
	}
	return nil
}

func (p *perFrameCtx) destroySemaphores() {
	if p.acquired != nil {
		p.acquired.Destroy()
		p.acquired = nil
	}
	if p.finished != nil {
		p.finished.Destroy()
		p.finished = nil
	}
}

// BeginFrame waits for the current slot, acquires a swap chain image and
// returns a command buffer ready for recording. When the swap chain is stale
// it marks it for recreation and returns ErrFrameSkipped; the slot is left
// untouched so the next attempt can wait on the same fence.
func (r *FrameRing) BeginFrame(ctx context.Context) (*Frame, error) {
	if r.active != nil {
		return nil, errors.New("BeginFrame called before EndFrame")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := r.slots[r.current]
	if err := r.fences.Wait(p.index, r.dc.fenceTimeout); err != nil {
		return nil, errors.Wrapf(err, "wait for frame %d on slot %d", p.lastFrame, p.index)
	}

	imageIndex, err := r.sc.acquire(p.acquired)
	if err != nil {
		if hal.IsStale(err) {
			r.sc.MarkStale()
			r.logger.Warn("swap chain stale on acquire", "frame", r.next, "err", err)
			return nil, errors.WithStack(ErrFrameSkipped)
		}
		return nil, errors.Wrap(err, "acquire swap chain image")
	}

	// The fence is reset only once the frame is certain to be submitted.
	if err := r.fences.Reset(p.index); err != nil {
		return nil, errors.Wrap(err, "reset fence")
	}
	p.commandManager.Reset()
	cmd, err := p.commandManager.NewCommandBuffer()
	if err != nil {
		return nil, err
	}
	r.active = &Frame{
		Number:     r.next,
		Slot:       p.index,
		ImageIndex: imageIndex,
		Cmd:        cmd,
		WaitedOn:   p.lastFrame,
		ctx:        p,
	}
	r.logger.Debug("frame begin", "frame", r.next, "slot", p.index, "image", imageIndex, "waited_on", p.lastFrame)
	return r.active, nil
}

// EndFrame submits the recorded command buffer and presents the image. It
// returns whether the image reached the presentation engine; a stale
// present marks the swap chain for recreation and is not an error.
func (r *FrameRing) EndFrame(f *Frame) (bool, error) {
	if f == nil || f != r.active {
		return false, errors.New("EndFrame with a frame that is not active")
	}
	r.active = nil
	p := f.ctx

	err := r.dc.GraphicsQueue().Submit([]hal.SubmitInfo{{
		WaitSemaphores:   []hal.Semaphore{p.acquired},
		WaitStages:       []hal.PipelineStage{hal.StageColorAttachmentOutput},
		CommandBuffers:   []hal.CommandBuffer{f.Cmd},
		SignalSemaphores: []hal.Semaphore{p.finished},
	}}, r.fences.Fence(p.index))
	if err != nil {
		return false, errors.Wrapf(err, "submit frame %d", f.Number)
	}
	p.lastFrame = f.Number
	r.next++
	r.current = (r.current + 1) % len(r.slots)

	err = r.dc.PresentQueue().Present(hal.PresentInfo{
		WaitSemaphores: []hal.Semaphore{p.finished},
		Swapchain:      r.sc.Chain(),
		ImageIndex:     f.ImageIndex,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, hal.ErrSuboptimal):
		r.sc.MarkStale()
		return true, nil
	case hal.IsStale(err):
		r.sc.MarkStale()
		r.logger.Warn("swap chain stale on present", "frame", f.Number, "err", err)
		return false, nil
	default:
		return false, errors.Wrapf(err, "present frame %d", f.Number)
	}
}

// InFrame reports whether a frame is between BeginFrame and EndFrame.
func (r *FrameRing) InFrame() bool { return r.active != nil }

// OnSwapchainRecreated replaces the semaphores of every slot. A frame skipped
// after a suboptimal acquire leaves its acquire semaphore signaled with no
// waiter, so the old ones cannot be reused. The device is idle here.
func (r *FrameRing) OnSwapchainRecreated() error {
	for _, p := range r.slots {
		p.destroySemaphores()
		if err := r.createSemaphores(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *FrameRing) FramesInFlight() int { return len(r.slots) }

// Current is the slot the next frame will use.
func (r *FrameRing) Current() int { return r.current }

// NextFrame is the number the next submitted frame will carry.
func (r *FrameRing) NextFrame() int64 { return r.next }

// SlotState is a snapshot of one ring slot.
type SlotState struct {
	Index     int
	LastFrame int64
}

// Slots returns the state of every slot in ring order.
func (r *FrameRing) Slots() []SlotState {
	out := make([]SlotState, len(r.slots))
	for i, p := range r.slots {
		out[i] = SlotState{Index: p.index, LastFrame: p.lastFrame}
	}
	return out
}

// LastFrame returns the last frame submitted from slot, -1 if none.
func (r *FrameRing) LastFrame(slot int) int64 { return r.slots[slot].lastFrame }

// Destroy waits for the device to go idle and releases every slot.
func (r *FrameRing) Destroy() {
	if err := r.dc.WaitIdle(); err != nil {
		r.logger.Warn("wait idle before destroying frame ring", "err", err)
	}
	for _, p := range r.slots {
		p.destroySemaphores()
		p.commandManager.Destroy()
	}
	r.slots = nil
	if r.fences != nil {
		r.fences.Destroy()
		r.fences = nil
	}
}
