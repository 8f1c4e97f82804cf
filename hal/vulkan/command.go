package vulkan

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

type CommandPool struct {
	dev    *Device
	pool   vk.CommandPool
	family uint32
}

func (p *CommandPool) Allocate(count int) ([]hal.CommandBuffer, error) {
	if count < 1 {
		return nil, nil
	}
	cmds := make([]vk.CommandBuffer, count)
	ret := vk.AllocateCommandBuffers(p.dev.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}, cmds)
	if err := newError(ret); err != nil {
		return nil, err
	}
	out := make([]hal.CommandBuffer, count)
	for i, c := range cmds {
		out[i] = &CommandBuffer{pool: p, cmd: c}
	}
	return out, nil
}

func (p *CommandPool) Free(cmds []hal.CommandBuffer) {
	list := make([]vk.CommandBuffer, 0, len(cmds))
	for _, c := range cmds {
		if vc, ok := c.(*CommandBuffer); ok {
			list = append(list, vc.cmd)
		}
	}
	if len(list) > 0 {
		vk.FreeCommandBuffers(p.dev.device, p.pool, uint32(len(list)), list)
	}
}

func (p *CommandPool) Destroy() {
	vk.DestroyCommandPool(p.dev.device, p.pool, nil)
}

// CommandBuffer keeps the first recording error for End, so a frame can be
// recorded without checking every call.
type CommandBuffer struct {
	pool     *CommandPool
	cmd      vk.CommandBuffer
	err      error
	pipeline *Pipeline
}

func (c *CommandBuffer) fail(err error) {
	if c.err == nil && err != nil {
		c.err = err
	}
}

func (c *CommandBuffer) Begin(usage hal.CommandBufferUsage) error {
	c.err, c.pipeline = nil, nil
	ret := vk.BeginCommandBuffer(c.cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: toVkCommandBufferUsage(usage),
	})
	return newError(ret)
}

func (c *CommandBuffer) End() error {
	ret := vk.EndCommandBuffer(c.cmd)
	if c.err != nil {
		return c.err
	}
	return newError(ret)
}

func (c *CommandBuffer) Reset() error {
	c.err, c.pipeline = nil, nil
	return newError(vk.ResetCommandBuffer(c.cmd, 0))
}

func (c *CommandBuffer) PipelineBarrier(src, dst hal.PipelineStage, buffers []hal.BufferBarrier, images []hal.ImageBarrier) {
	bufBarriers := make([]vk.BufferMemoryBarrier, 0, len(buffers))
	for _, b := range buffers {
		buf, err := as[*Buffer](b.Buffer, "barrier buffer")
		if err != nil {
			c.fail(err)
			return
		}
		size := vk.DeviceSize(b.Size)
		if size == 0 {
			size = vk.DeviceSize(buf.size - b.Offset)
		}
		bufBarriers = append(bufBarriers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       toVkAccess(b.SrcAccess),
			DstAccessMask:       toVkAccess(b.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              buf.buffer,
			Offset:              vk.DeviceSize(b.Offset),
			Size:                size,
		})
	}
	imgBarriers := make([]vk.ImageMemoryBarrier, 0, len(images))
	for _, b := range images {
		img, err := as[*Image](b.Image, "barrier image")
		if err != nil {
			c.fail(err)
			return
		}
		imgBarriers = append(imgBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       toVkAccess(b.SrcAccess),
			DstAccessMask:       toVkAccess(b.DstAccess),
			OldLayout:           toVkLayout(b.OldLayout),
			NewLayout:           toVkLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: toVkAspect(b.Aspect),
				LevelCount: 1,
				LayerCount: 1,
			},
		})
	}
	vk.CmdPipelineBarrier(c.cmd, toVkStage(src), toVkStage(dst), 0,
		0, nil,
		uint32(len(bufBarriers)), bufBarriers,
		uint32(len(imgBarriers)), imgBarriers)
}

func (c *CommandBuffer) CopyBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	s, err := as[*Buffer](src, "copy source")
	c.fail(err)
	d, err := as[*Buffer](dst, "copy destination")
	c.fail(err)
	if c.err != nil || len(regions) == 0 {
		return
	}
	list := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		list[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(c.cmd, s.buffer, d.buffer, uint32(len(list)), list)
}

func bufferImageCopies(regions []hal.BufferImageCopy) []vk.BufferImageCopy {
	list := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		aspect := r.Aspect
		if aspect == 0 {
			aspect = hal.AspectColor
		}
		list[i] = vk.BufferImageCopy{
			BufferOffset:    vk.DeviceSize(r.BufferOffset),
			BufferRowLength: r.BufferRowLength,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: toVkAspect(aspect),
				LayerCount: 1,
			},
			ImageOffset: vk.Offset3D{X: r.ImageOffset.X, Y: r.ImageOffset.Y},
			ImageExtent: vk.Extent3D{
				Width:  r.ImageExtent.Width,
				Height: r.ImageExtent.Height,
				Depth:  1,
			},
		}
	}
	return list
}

func (c *CommandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image, layout hal.ImageLayout, regions []hal.BufferImageCopy) {
	s, err := as[*Buffer](src, "copy source")
	c.fail(err)
	d, err := as[*Image](dst, "copy destination")
	c.fail(err)
	if c.err != nil || len(regions) == 0 {
		return
	}
	list := bufferImageCopies(regions)
	vk.CmdCopyBufferToImage(c.cmd, s.buffer, d.image, toVkLayout(layout), uint32(len(list)), list)
}

func (c *CommandBuffer) CopyImageToBuffer(src hal.Image, layout hal.ImageLayout, dst hal.Buffer, regions []hal.BufferImageCopy) {
	s, err := as[*Image](src, "copy source")
	c.fail(err)
	d, err := as[*Buffer](dst, "copy destination")
	c.fail(err)
	if c.err != nil || len(regions) == 0 {
		return
	}
	list := bufferImageCopies(regions)
	vk.CmdCopyImageToBuffer(c.cmd, s.image, toVkLayout(layout), d.buffer, uint32(len(list)), list)
}

func (c *CommandBuffer) BeginRenderPass(begin hal.RenderPassBegin) {
	rp, err := as[*RenderPass](begin.RenderPass, "render pass")
	if err != nil {
		c.fail(err)
		return
	}
	fb, err := as[*Framebuffer](begin.Framebuffer, "framebuffer")
	if err != nil {
		c.fail(err)
		return
	}
	clears := make([]vk.ClearValue, 1, 2)
	clears[0].SetColor(begin.ClearColor[:])
	if rp.depth {
		var depth vk.ClearValue
		depth.SetDepthStencil(begin.ClearDepth, begin.ClearStencil)
		clears = append(clears, depth)
	}
	vk.CmdBeginRenderPass(c.cmd, &vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.pass,
		Framebuffer:     fb.fb,
		RenderArea:      toVkRect(begin.Area),
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
}

func (c *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.cmd)
}

func (c *CommandBuffer) BindPipeline(p hal.Pipeline) {
	vp, err := as[*Pipeline](p, "pipeline")
	if err != nil {
		c.fail(err)
		return
	}
	c.pipeline = vp
	vk.CmdBindPipeline(c.cmd, vk.PipelineBindPointGraphics, vp.pipeline)
}

func (c *CommandBuffer) BindBindingSet(p hal.Pipeline, set hal.BindingSet) {
	vp, err := as[*Pipeline](p, "pipeline")
	c.fail(err)
	vs, err := as[*BindingSet](set, "binding set")
	c.fail(err)
	if c.err != nil {
		return
	}
	vk.CmdBindDescriptorSets(c.cmd, vk.PipelineBindPointGraphics, vp.layout,
		0, 1, []vk.DescriptorSet{vs.set}, 0, nil)
}

func (c *CommandBuffer) BindVertexBuffer(buf hal.Buffer, offset uint64) {
	b, err := as[*Buffer](buf, "vertex buffer")
	if err != nil {
		c.fail(err)
		return
	}
	if b.usage&hal.BufferUsageVertex == 0 {
		c.fail(errors.Wrap(hal.ErrInvalidState, "vulkan: buffer bound as vertex buffer lacks vertex usage"))
		return
	}
	vk.CmdBindVertexBuffers(c.cmd, 0, 1, []vk.Buffer{b.buffer}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (c *CommandBuffer) BindIndexBuffer(buf hal.Buffer, offset uint64, indexType hal.IndexType) {
	b, err := as[*Buffer](buf, "index buffer")
	if err != nil {
		c.fail(err)
		return
	}
	if b.usage&hal.BufferUsageIndex == 0 {
		c.fail(errors.Wrap(hal.ErrInvalidState, "vulkan: buffer bound as index buffer lacks index usage"))
		return
	}
	vk.CmdBindIndexBuffer(c.cmd, b.buffer, vk.DeviceSize(offset), toVkIndexType(indexType))
}

func (c *CommandBuffer) SetViewport(v hal.Viewport) {
	vk.CmdSetViewport(c.cmd, 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
}

func (c *CommandBuffer) SetScissor(r hal.Rect) {
	vk.CmdSetScissor(c.cmd, 0, 1, []vk.Rect2D{toVkRect(r)})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if c.pipeline == nil {
		c.fail(errors.Wrap(hal.ErrInvalidState, "vulkan: draw without a bound pipeline"))
		return
	}
	vk.CmdDraw(c.cmd, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if c.pipeline == nil {
		c.fail(errors.Wrap(hal.ErrInvalidState, "vulkan: draw without a bound pipeline"))
		return
	}
	vk.CmdDrawIndexed(c.cmd, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
