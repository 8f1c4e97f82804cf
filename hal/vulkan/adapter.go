package vulkan

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

type Adapter struct {
	inst     *Instance
	gpu      vk.PhysicalDevice
	info     hal.AdapterInfo
	families []hal.QueueFamily
	memory   vk.PhysicalDeviceMemoryProperties
	// swapchain is false when the device lacks VK_KHR_swapchain. Such an
	// adapter reports no present family.
	swapchain bool
}

func newAdapter(inst *Instance, gpu vk.PhysicalDevice) *Adapter {
	a := &Adapter{inst: inst, gpu: gpu}

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(gpu, &props)
	props.Deref()
	a.info = hal.AdapterInfo{
		Name:     vk.ToString(props.DeviceName[:]),
		Type:     fromVkDeviceType(props.DeviceType),
		VendorID: props.VendorID,
		DeviceID: props.DeviceID,
	}

	vk.GetPhysicalDeviceMemoryProperties(gpu, &a.memory)
	a.memory.Deref()

	if names, err := DeviceExtensions(gpu); err == nil {
		a.swapchain = newExtensionSet(nil, []string{swapchainExtension}, names).has(swapchainExtension)
	}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	list := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, list)
	for i := range list {
		list[i].Deref()
		flags := list[i].QueueFlags
		var present vk.Bool32
		if a.swapchain {
			vk.GetPhysicalDeviceSurfaceSupport(gpu, uint32(i), inst.surface, &present)
		}
		a.families = append(a.families, hal.QueueFamily{
			Index:    uint32(i),
			Count:    list[i].QueueCount,
			Graphics: flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0,
			// graphics queues implicitly support transfer
			Transfer: flags&vk.QueueFlags(vk.QueueTransferBit|vk.QueueGraphicsBit|vk.QueueComputeBit) != 0,
			Present:  present.B(),
		})
	}
	return a
}

func (a *Adapter) Info() hal.AdapterInfo            { return a.info }
func (a *Adapter) QueueFamilies() []hal.QueueFamily { return a.families }

func (a *Adapter) SurfaceCapabilities() (caps hal.SurfaceCapabilities, err error) {
	defer checkErr(&err)

	var sc vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(a.gpu, a.inst.surface, &sc)
	orPanic(newError(ret))
	sc.Deref()
	caps = hal.SurfaceCapabilities{
		MinImageCount: sc.MinImageCount,
		MaxImageCount: sc.MaxImageCount,
		CurrentExtent: fromVkExtent(sc.CurrentExtent),
		MinExtent:     fromVkExtent(sc.MinImageExtent),
		MaxExtent:     fromVkExtent(sc.MaxImageExtent),
		Usage:         fromVkImageUsage(sc.SupportedUsageFlags),
	}

	var count uint32
	ret = vk.GetPhysicalDeviceSurfaceFormats(a.gpu, a.inst.surface, &count, nil)
	orPanic(newError(ret))
	formats := make([]vk.SurfaceFormat, count)
	ret = vk.GetPhysicalDeviceSurfaceFormats(a.gpu, a.inst.surface, &count, formats)
	orPanic(newError(ret))
	for _, f := range formats {
		f.Deref()
		if f.ColorSpace != vk.ColorspaceSrgbNonlinear {
			continue
		}
		if hf := fromVkFormat(f.Format); hf != hal.FormatUndefined {
			caps.Formats = append(caps.Formats, hf)
		}
	}

	ret = vk.GetPhysicalDeviceSurfacePresentModes(a.gpu, a.inst.surface, &count, nil)
	orPanic(newError(ret))
	modes := make([]vk.PresentMode, count)
	ret = vk.GetPhysicalDeviceSurfacePresentModes(a.gpu, a.inst.surface, &count, modes)
	orPanic(newError(ret))
	for _, m := range modes {
		if hm, ok := fromVkPresentMode(m); ok {
			caps.PresentModes = append(caps.PresentModes, hm)
		}
	}
	return caps, nil
}

func (a *Adapter) SupportsFormat(f hal.Format, usage hal.ImageUsage) bool {
	vf := toVkFormat(f)
	if vf == vk.FormatUndefined {
		return false
	}
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(a.gpu, vf, &props)
	props.Deref()
	need := formatFeatures(usage)
	return props.OptimalTilingFeatures&need == need
}

// Open creates the logical device with one queue per distinct family and the
// swap chain extension enabled.
func (a *Adapter) Open(desc hal.DeviceDesc) (hal.Device, error) {
	if !a.swapchain {
		return nil, errors.Wrapf(hal.ErrUnsupported, "vulkan: %s lacks %s", a.info.Name, swapchainExtension)
	}
	families := []uint32{desc.GraphicsFamily}
	if desc.PresentFamily != desc.GraphicsFamily {
		families = append(families, desc.PresentFamily)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(families))
	for _, f := range families {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}
	extensions := safeStrings([]string{swapchainExtension})
	var device vk.Device
	ret := vk.CreateDevice(a.gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(a.inst.layers)),
		PpEnabledLayerNames:     a.inst.layers,
	}, nil, &device)
	if err := newError(ret); err != nil {
		return nil, err
	}
	d := &Device{adapter: a, device: device, queues: map[uint32]*Queue{}}
	for _, f := range families {
		var q vk.Queue
		vk.GetDeviceQueue(device, f, 0, &q)
		d.queues[f] = &Queue{dev: d, queue: q, family: f}
	}
	a.inst.logger.Info("vulkan: device opened", "adapter", a.info.Name, "queues", len(families))
	return d, nil
}
