package soft

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

type CommandPool struct {
	object
	family uint32

	mu   sync.Mutex
	cmds []*CommandBuffer
}

func (p *CommandPool) Allocate(count int) ([]hal.CommandBuffer, error) {
	if p.destroyed() {
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: pool destroyed")
	}
	out := make([]hal.CommandBuffer, count)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range out {
		cb := &CommandBuffer{pool: p}
		cb.init(p.dev)
		p.cmds = append(p.cmds, cb)
		out[i] = cb
	}
	return out, nil
}

func (p *CommandPool) Free(cmds []hal.CommandBuffer) {
	for _, hc := range cmds {
		cb, ok := hc.(*CommandBuffer)
		if !ok {
			continue
		}
		if cb.state() == cbPending {
			p.dev.violate("command buffer freed while pending")
		}
		cb.release(nil)
	}
}

func (p *CommandPool) Destroy() {
	p.release(func() {
		p.mu.Lock()
		cmds := p.cmds
		p.cmds = nil
		p.mu.Unlock()
		for _, cb := range cmds {
			if cb.state() == cbPending {
				p.dev.violate("command pool destroyed while a command buffer is pending")
			}
			cb.release(nil)
		}
	})
}

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbPending
	cbInvalid
)

// execState is the render state a command buffer carries while it runs.
type execState struct {
	dev      *Device
	pass     *RenderPass
	fb       *Framebuffer
	pipeline *Pipeline
	vertex   *Buffer
	index    *Buffer
	set      *BindingSet
}

type command func(x *execState)

type CommandBuffer struct {
	object
	pool *CommandPool

	mu       sync.Mutex
	st       cbState
	oneTime  bool
	cmds     []command
	err      error
	inPass   bool
	pipeline bool
}

func (c *CommandBuffer) state() cbState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *CommandBuffer) Begin(usage hal.CommandBufferUsage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed() {
		return errors.Wrap(hal.ErrInvalidState, "soft: command buffer freed")
	}
	if c.st == cbPending {
		c.dev.violate("command buffer re-recorded while its previous submission is pending")
		return errors.Wrap(hal.ErrInvalidState, "soft: command buffer pending")
	}
	c.st = cbRecording
	c.oneTime = usage&hal.UsageOneTimeSubmit != 0
	c.cmds = c.cmds[:0]
	c.err = nil
	c.inPass = false
	c.pipeline = false
	return nil
}

func (c *CommandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != cbRecording {
		return errors.Wrap(hal.ErrInvalidState, "soft: End outside recording")
	}
	if c.inPass {
		c.fail(errors.New("soft: command buffer ended inside a render pass"))
	}
	if c.err != nil {
		c.st = cbInvalid
		return c.err
	}
	c.st = cbExecutable
	return nil
}

func (c *CommandBuffer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == cbPending {
		c.dev.violate("command buffer reset while pending")
		return errors.Wrap(hal.ErrInvalidState, "soft: command buffer pending")
	}
	c.st = cbInitial
	c.cmds = nil
	c.err = nil
	return nil
}

func (c *CommandBuffer) markPending() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.st {
	case cbExecutable:
		c.st = cbPending
		return nil
	case cbPending:
		return errors.Wrap(hal.ErrInvalidState, "soft: command buffer submitted while pending")
	default:
		return errors.Wrap(hal.ErrInvalidState, "soft: command buffer is not executable")
	}
}

func (c *CommandBuffer) execute() {
	c.mu.Lock()
	cmds := c.cmds
	c.mu.Unlock()
	x := &execState{dev: c.dev}
	for _, cmd := range cmds {
		cmd(x)
	}
	c.mu.Lock()
	if c.oneTime {
		c.st = cbInvalid
	} else {
		c.st = cbExecutable
	}
	c.mu.Unlock()
}

// record appends cmd; the caller holds c.mu.
func (c *CommandBuffer) record(cmd command) {
	if c.st != cbRecording {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: command recorded outside Begin/End"))
		return
	}
	c.cmds = append(c.cmds, cmd)
}

func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *CommandBuffer) PipelineBarrier(src, dst hal.PipelineStage, buffers []hal.BufferBarrier, images []hal.ImageBarrier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range buffers {
		if _, ok := b.Buffer.(*Buffer); !ok {
			c.fail(errors.Wrap(hal.ErrInvalidState, "soft: barrier on a foreign buffer"))
			return
		}
	}
	targets := make([]*Image, len(images))
	for i, b := range images {
		img, ok := b.Image.(*Image)
		if !ok {
			c.fail(errors.Wrap(hal.ErrInvalidState, "soft: barrier on a foreign image"))
			return
		}
		targets[i] = img
	}
	barriers := append([]hal.ImageBarrier(nil), images...)
	c.record(func(x *execState) {
		for i, b := range barriers {
			img := targets[i]
			img.mu.Lock()
			if b.OldLayout != hal.LayoutUndefined && b.OldLayout != img.layout {
				x.dev.violate("barrier expects layout %s, image is in %s", b.OldLayout, img.layout)
			}
			img.layout = b.NewLayout
			img.mu.Unlock()
		}
	})
}

func (c *CommandBuffer) CopyBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok1 := src.(*Buffer)
	d, ok2 := dst.(*Buffer)
	if !ok1 || !ok2 {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: copy with a foreign buffer"))
		return
	}
	if s.desc.Usage&hal.BufferUsageTransferSrc == 0 || d.desc.Usage&hal.BufferUsageTransferDst == 0 {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: copy needs transfer usage on both buffers"))
		return
	}
	regions = append([]hal.BufferCopy(nil), regions...)
	c.record(func(x *execState) {
		for _, r := range regions {
			if r.SrcOffset+r.Size > s.desc.Size || r.DstOffset+r.Size > d.desc.Size {
				x.dev.violate("buffer copy of %d bytes out of bounds", r.Size)
				continue
			}
			s.mu.Lock()
			chunk := append([]byte(nil), s.data[r.SrcOffset:r.SrcOffset+r.Size]...)
			s.mu.Unlock()
			d.mu.Lock()
			copy(d.data[r.DstOffset:], chunk)
			d.mu.Unlock()
		}
	})
}

func (c *CommandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image, layout hal.ImageLayout, regions []hal.BufferImageCopy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok1 := src.(*Buffer)
	img, ok2 := dst.(*Image)
	if !ok1 || !ok2 {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: copy with a foreign resource"))
		return
	}
	if layout != hal.LayoutTransferDst && layout != hal.LayoutGeneral {
		c.fail(errors.Errorf("soft: buffer to image copy with destination layout %s", layout))
		return
	}
	regions = append([]hal.BufferImageCopy(nil), regions...)
	c.record(func(x *execState) {
		img.mu.Lock()
		defer img.mu.Unlock()
		if img.layout != layout {
			x.dev.violate("copy into image in layout %s, expected %s", img.layout, layout)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, r := range regions {
			copyRegion(x.dev, b.data, img, r, true)
		}
	})
}

func (c *CommandBuffer) CopyImageToBuffer(src hal.Image, layout hal.ImageLayout, dst hal.Buffer, regions []hal.BufferImageCopy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok1 := src.(*Image)
	b, ok2 := dst.(*Buffer)
	if !ok1 || !ok2 {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: copy with a foreign resource"))
		return
	}
	if layout != hal.LayoutTransferSrc && layout != hal.LayoutGeneral {
		c.fail(errors.Errorf("soft: image to buffer copy with source layout %s", layout))
		return
	}
	regions = append([]hal.BufferImageCopy(nil), regions...)
	c.record(func(x *execState) {
		img.mu.Lock()
		defer img.mu.Unlock()
		if img.layout != layout {
			x.dev.violate("copy from image in layout %s, expected %s", img.layout, layout)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, r := range regions {
			copyRegion(x.dev, b.data, img, r, false)
		}
	})
}

// copyRegion moves texels between a linear buffer and an image. Both locks
// are held by the caller.
func copyRegion(d *Device, buf []byte, img *Image, r hal.BufferImageCopy, toImage bool) {
	bpp := uint64(img.desc.Format.BytesPerPixel())
	rowLength := uint64(r.BufferRowLength)
	if rowLength == 0 {
		rowLength = uint64(r.ImageExtent.Width)
	}
	ext := img.desc.Extent
	if r.ImageOffset.X < 0 || r.ImageOffset.Y < 0 ||
		uint64(r.ImageOffset.X)+uint64(r.ImageExtent.Width) > uint64(ext.Width) ||
		uint64(r.ImageOffset.Y)+uint64(r.ImageExtent.Height) > uint64(ext.Height) {
		d.violate("image copy region out of bounds")
		return
	}
	rowBytes := uint64(r.ImageExtent.Width) * bpp
	for y := uint64(0); y < uint64(r.ImageExtent.Height); y++ {
		bufOff := r.BufferOffset + y*rowLength*bpp
		imgOff := ((uint64(r.ImageOffset.Y)+y)*uint64(ext.Width) + uint64(r.ImageOffset.X)) * bpp
		if bufOff+rowBytes > uint64(len(buf)) {
			d.violate("image copy reads past the end of the buffer")
			return
		}
		if toImage {
			copy(img.data[imgOff:imgOff+rowBytes], buf[bufOff:bufOff+rowBytes])
		} else {
			copy(buf[bufOff:bufOff+rowBytes], img.data[imgOff:imgOff+rowBytes])
		}
	}
}

func (c *CommandBuffer) BeginRenderPass(begin hal.RenderPassBegin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rp, ok1 := begin.RenderPass.(*RenderPass)
	fb, ok2 := begin.Framebuffer.(*Framebuffer)
	if !ok1 || !ok2 {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: render pass begin with foreign objects"))
		return
	}
	if c.inPass {
		c.fail(errors.New("soft: nested render pass"))
		return
	}
	c.inPass = true
	c.record(func(x *execState) {
		x.pass, x.fb = rp, fb
		color := fb.views[0].image
		color.mu.Lock()
		if rp.desc.ColorInitialLayout != hal.LayoutUndefined && color.layout != rp.desc.ColorInitialLayout {
			x.dev.violate("render pass expects color attachment in %s, image is in %s", rp.desc.ColorInitialLayout, color.layout)
		}
		if rp.desc.ColorLoad == hal.LoadOpClear {
			fillColor(color, begin.ClearColor)
		}
		color.layout = hal.LayoutColorAttachment
		color.mu.Unlock()
		if len(fb.views) > 1 {
			depth := fb.views[1].image
			depth.mu.Lock()
			fillDepth(depth, begin.ClearDepth)
			depth.layout = hal.LayoutDepthStencilAttachment
			depth.mu.Unlock()
		}
	})
}

func (c *CommandBuffer) EndRenderPass() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inPass {
		c.fail(errors.New("soft: EndRenderPass outside a render pass"))
		return
	}
	c.inPass = false
	c.record(func(x *execState) {
		if x.fb == nil {
			return
		}
		color := x.fb.views[0].image
		color.mu.Lock()
		color.layout = x.pass.desc.ColorFinalLayout
		color.mu.Unlock()
		x.pass, x.fb = nil, nil
	})
}

func (c *CommandBuffer) BindPipeline(p hal.Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sp, ok := p.(*Pipeline)
	if !ok {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: foreign pipeline"))
		return
	}
	c.pipeline = true
	c.record(func(x *execState) { x.pipeline = sp })
}

func (c *CommandBuffer) BindBindingSet(p hal.Pipeline, set hal.BindingSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := set.(*BindingSet)
	if !ok {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: foreign binding set"))
		return
	}
	c.record(func(x *execState) { x.set = s })
}

func (c *CommandBuffer) BindVertexBuffer(buf hal.Buffer, offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := buf.(*Buffer)
	if !ok || b.desc.Usage&hal.BufferUsageVertex == 0 {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: vertex buffer without vertex usage"))
		return
	}
	c.record(func(x *execState) { x.vertex = b })
}

func (c *CommandBuffer) BindIndexBuffer(buf hal.Buffer, offset uint64, indexType hal.IndexType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := buf.(*Buffer)
	if !ok || b.desc.Usage&hal.BufferUsageIndex == 0 {
		c.fail(errors.Wrap(hal.ErrInvalidState, "soft: index buffer without index usage"))
		return
	}
	c.record(func(x *execState) { x.index = b })
}

func (c *CommandBuffer) SetViewport(v hal.Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(func(*execState) {})
}

func (c *CommandBuffer) SetScissor(r hal.Rect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(func(*execState) {})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.draw(false)
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.draw(true)
}

// draw does not rasterize; it checks the state a draw needs and counts it.
func (c *CommandBuffer) draw(indexed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inPass || !c.pipeline {
		c.fail(errors.New("soft: draw outside a render pass or without a pipeline"))
		return
	}
	c.record(func(x *execState) {
		if indexed && x.index == nil {
			x.dev.violate("indexed draw without an index buffer")
		}
		x.dev.mu.Lock()
		x.dev.draws++
		x.dev.mu.Unlock()
	})
}

func unorm8(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}

func fillColor(img *Image, c [4]float32) {
	var px []byte
	switch img.desc.Format {
	case hal.FormatB8G8R8A8Unorm, hal.FormatB8G8R8A8Srgb:
		px = []byte{unorm8(c[2]), unorm8(c[1]), unorm8(c[0]), unorm8(c[3])}
	case hal.FormatR8G8B8A8Unorm, hal.FormatR8G8B8A8Srgb:
		px = []byte{unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])}
	default:
		return
	}
	for i := 0; i+len(px) <= len(img.data); i += len(px) {
		copy(img.data[i:], px)
	}
}

func fillDepth(img *Image, depth float32) {
	if img.desc.Format != hal.FormatD32Sfloat {
		return
	}
	bits := math.Float32bits(depth)
	for i := 0; i+4 <= len(img.data); i += 4 {
		binary.LittleEndian.PutUint32(img.data[i:], bits)
	}
}
