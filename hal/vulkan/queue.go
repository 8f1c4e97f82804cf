package vulkan

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

type Queue struct {
	dev    *Device
	queue  vk.Queue
	family uint32
}

func (q *Queue) Family() uint32 { return q.family }

func (q *Queue) Submit(submits []hal.SubmitInfo, fence hal.Fence) error {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		waits, err := vkSemaphores(s.WaitSemaphores)
		if err != nil {
			return err
		}
		signals, err := vkSemaphores(s.SignalSemaphores)
		if err != nil {
			return err
		}
		stages := make([]vk.PipelineStageFlags, len(s.WaitStages))
		for j, st := range s.WaitStages {
			stages[j] = toVkStage(st)
		}
		cmds := make([]vk.CommandBuffer, len(s.CommandBuffers))
		for j, c := range s.CommandBuffers {
			vc, err := as[*CommandBuffer](c, "command buffer")
			if err != nil {
				return err
			}
			cmds[j] = vc.cmd
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(waits)),
			PWaitSemaphores:      waits,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(cmds)),
			PCommandBuffers:      cmds,
			SignalSemaphoreCount: uint32(len(signals)),
			PSignalSemaphores:    signals,
		}
	}
	vf := vk.Fence(vk.NullHandle)
	if fence != nil {
		f, err := as[*Fence](fence, "fence")
		if err != nil {
			return err
		}
		vf = f.fence
	}
	return newError(vk.QueueSubmit(q.queue, uint32(len(infos)), infos, vf))
}

// Present maps VK_ERROR_OUT_OF_DATE_KHR and VK_SUBOPTIMAL_KHR to the hal
// staleness errors.
func (q *Queue) Present(info hal.PresentInfo) error {
	sc, err := as[*Swapchain](info.Swapchain, "swap chain")
	if err != nil {
		return err
	}
	waits, err := vkSemaphores(info.WaitSemaphores)
	if err != nil {
		return err
	}
	ret := vk.QueuePresent(q.queue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.swapchain},
		PImageIndices:      []uint32{info.ImageIndex},
	})
	return newError(ret)
}

func (q *Queue) WaitIdle() error {
	return newError(vk.QueueWaitIdle(q.queue))
}
