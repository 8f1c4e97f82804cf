package vulkan

import (
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

type Device struct {
	adapter *Adapter
	device  vk.Device
	queues  map[uint32]*Queue
}

// as unwraps a hal object created by this backend.
func as[T any](v any, what string) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, errors.Wrapf(hal.ErrInvalidState, "vulkan: %s is %T, not a vulkan object", what, v)
	}
	return t, nil
}

func (d *Device) Queue(family uint32) (hal.Queue, error) {
	q, ok := d.queues[family]
	if !ok {
		return nil, errors.Wrapf(hal.ErrInvalidState, "vulkan: no queue was created for family %d", family)
	}
	return q, nil
}

// findMemoryType returns the first memory type allowed by typeBits that has
// every flag in want.
func findMemoryType(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, want vk.MemoryPropertyFlagBits) (uint32, bool) {
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		flags := props.MemoryTypes[i].PropertyFlags
		if flags&vk.MemoryPropertyFlags(want) == vk.MemoryPropertyFlags(want) {
			return i, true
		}
	}
	return 0, false
}

func (d *Device) allocate(reqs vk.MemoryRequirements, kind hal.MemoryKind) (vk.DeviceMemory, error) {
	want := vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit)
	if kind == hal.MemoryHostVisible {
		want = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	idx, ok := findMemoryType(d.adapter.memory, reqs.MemoryTypeBits, want)
	if !ok && kind == hal.MemoryDeviceLocal {
		// integrated parts may not flag any type device local
		idx, ok = findMemoryType(d.adapter.memory, reqs.MemoryTypeBits, 0)
	}
	if !ok {
		return vk.DeviceMemory(vk.NullHandle), errors.Wrapf(hal.ErrOutOfMemory, "vulkan: no memory type for bits %#x", reqs.MemoryTypeBits)
	}
	var memory vk.DeviceMemory
	ret := vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: idx,
	}, nil, &memory)
	if err := newError(ret); err != nil {
		return vk.DeviceMemory(vk.NullHandle), err
	}
	return memory, nil
}

type Fence struct {
	dev   *Device
	fence vk.Fence
}

func (f *Fence) Destroy() {
	vk.DestroyFence(f.dev.device, f.fence, nil)
}

type Semaphore struct {
	dev *Device
	sem vk.Semaphore
}

func (s *Semaphore) Destroy() {
	vk.DestroySemaphore(s.dev.device, s.sem, nil)
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	f := &Fence{dev: d}
	if err := newError(vk.CreateFence(d.device, &info, nil, &f.fence)); err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	s := &Semaphore{dev: d}
	ret := vk.CreateSemaphore(d.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &s.sem)
	if err := newError(ret); err != nil {
		return nil, err
	}
	return s, nil
}

func vkFences(fences []hal.Fence) ([]vk.Fence, error) {
	out := make([]vk.Fence, len(fences))
	for i, f := range fences {
		vf, err := as[*Fence](f, "fence")
		if err != nil {
			return nil, err
		}
		out[i] = vf.fence
	}
	return out, nil
}

func vkSemaphores(sems []hal.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, len(sems))
	for i, s := range sems {
		vs, err := as[*Semaphore](s, "semaphore")
		if err != nil {
			return nil, err
		}
		out[i] = vs.sem
	}
	return out, nil
}

// WaitForFences waits for all fences. A timeout wraps hal.ErrTimeout.
func (d *Device) WaitForFences(fences []hal.Fence, timeout time.Duration) error {
	list, err := vkFences(fences)
	if err != nil || len(list) == 0 {
		return err
	}
	ret := vk.WaitForFences(d.device, uint32(len(list)), list, vk.True, uint64(timeout.Nanoseconds()))
	return newError(ret)
}

func (d *Device) ResetFences(fences []hal.Fence) error {
	list, err := vkFences(fences)
	if err != nil || len(list) == 0 {
		return err
	}
	return newError(vk.ResetFences(d.device, uint32(len(list)), list))
}

func (d *Device) CreateCommandPool(family uint32) (hal.CommandPool, error) {
	p := &CommandPool{dev: d, family: family}
	ret := vk.CreateCommandPool(d.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: family,
	}, nil, &p.pool)
	if err := newError(ret); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Device) WaitIdle() error {
	return newError(vk.DeviceWaitIdle(d.device))
}

func (d *Device) Destroy() {
	if d.device == nil {
		return
	}
	vk.DestroyDevice(d.device, nil)
	d.device = nil
}
