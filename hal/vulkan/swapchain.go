package vulkan

import (
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

type Swapchain struct {
	dev       *Device
	swapchain vk.Swapchain
	images    []hal.Image
	format    hal.Format
	extent    hal.Extent
	mode      hal.PresentMode
}

// CreateSwapchain builds a swap chain for the instance surface. Images are
// shared concurrently when more than one distinct family touches them.
func (d *Device) CreateSwapchain(desc hal.SwapchainDesc) (hal.Swapchain, error) {
	if desc.Extent.IsZero() {
		return nil, errors.Wrap(hal.ErrInvalidState, "vulkan: swap chain with zero extent")
	}
	surface := d.adapter.inst.surface
	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(d.adapter.gpu, surface, &caps)
	if err := newError(ret); err != nil {
		return nil, err
	}
	caps.Deref()

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    desc.MinImageCount,
		ImageFormat:      toVkFormat(desc.Format),
		ImageColorSpace:  vk.ColorspaceSrgbNonlinear,
		ImageExtent:      toVkExtent(desc.Extent),
		ImageArrayLayers: 1,
		ImageUsage:       toVkImageUsage(desc.Usage),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      toVkPresentMode(desc.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}
	families := distinct(desc.QueueFamilies)
	if len(families) > 1 {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = uint32(len(families))
		info.PQueueFamilyIndices = families
	}
	if desc.Old != nil {
		old, err := as[*Swapchain](desc.Old, "old swap chain")
		if err != nil {
			return nil, err
		}
		info.OldSwapchain = old.swapchain
	}

	sc := &Swapchain{dev: d, format: desc.Format, extent: desc.Extent, mode: desc.PresentMode}
	if err := newError(vk.CreateSwapchain(d.device, &info, nil, &sc.swapchain)); err != nil {
		return nil, err
	}

	var count uint32
	ret = vk.GetSwapchainImages(d.device, sc.swapchain, &count, nil)
	if err := newError(ret); err != nil {
		sc.Destroy()
		return nil, err
	}
	images := make([]vk.Image, count)
	ret = vk.GetSwapchainImages(d.device, sc.swapchain, &count, images)
	if err := newError(ret); err != nil {
		sc.Destroy()
		return nil, err
	}
	for _, img := range images {
		sc.images = append(sc.images, &Image{
			dev:    d,
			image:  img,
			format: desc.Format,
			extent: desc.Extent,
			usage:  desc.Usage,
		})
	}
	return sc, nil
}

func distinct(list []uint32) []uint32 {
	var out []uint32
	seen := map[uint32]bool{}
	for _, v := range list {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func (s *Swapchain) Images() []hal.Image          { return s.images }
func (s *Swapchain) Format() hal.Format           { return s.format }
func (s *Swapchain) Extent() hal.Extent           { return s.extent }
func (s *Swapchain) PresentMode() hal.PresentMode { return s.mode }

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal hal.Semaphore) (uint32, error) {
	sem, err := as[*Semaphore](signal, "acquire semaphore")
	if err != nil {
		return 0, err
	}
	var idx uint32
	ret := vk.AcquireNextImage(s.dev.device, s.swapchain, uint64(timeout.Nanoseconds()),
		sem.sem, vk.Fence(vk.NullHandle), &idx)
	return idx, newError(ret)
}

func (s *Swapchain) Destroy() {
	if s.swapchain == vk.NullSwapchain {
		return
	}
	vk.DestroySwapchain(s.dev.device, s.swapchain, nil)
	s.swapchain = vk.NullSwapchain
	s.images = nil
}
