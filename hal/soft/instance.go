// Package soft is a CPU implementation of hal that behaves like an
// asynchronous GPU. Each queue runs its submissions on its own goroutine,
// fences and semaphores are real blocking primitives, image layouts are
// tracked and checked at execution time, and misuse that a validation layer
// would flag is recorded as a violation instead of corrupting memory.
//
// The package also carries the controls tests need to steer a frame loop:
// a submission gate, injected acquire and present results, a scriptable
// window and a log of presented images.
package soft

import (
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// Options configures an Instance. The zero value gives one CPU adapter with
// a single queue family that can draw and present, an 800x600 window and the
// usual surface formats.
type Options struct {
	Window        *Window
	Adapters      []AdapterConfig
	MinImageCount uint32
	MaxImageCount uint32
	Formats       []hal.Format
	PresentModes  []hal.PresentMode
	// MemoryLimit caps the bytes a device may allocate. Zero is unlimited.
	MemoryLimit uint64
	Logger      *slog.Logger
}

type AdapterConfig struct {
	Name     string
	Type     hal.AdapterType
	Families []hal.QueueFamily
	// Formats limits the image formats the adapter supports. Empty means all
	// formats known to hal.
	Formats []hal.Format
}

// DefaultAdapter is the adapter used when Options.Adapters is empty.
func DefaultAdapter() AdapterConfig {
	return AdapterConfig{
		Name: "soft",
		Type: hal.AdapterCPU,
		Families: []hal.QueueFamily{
			{Index: 0, Count: 1, Graphics: true, Transfer: true, Present: true},
		},
	}
}

type Instance struct {
	opts     Options
	window   *Window
	logger   *slog.Logger
	adapters []*Adapter

	mu      sync.Mutex
	devices []*Device
}

// New creates a soft instance bound to opts.Window.
func New(opts Options) *Instance {
	if opts.Window == nil {
		opts.Window = NewWindow(800, 600)
	}
	if len(opts.Adapters) == 0 {
		opts.Adapters = []AdapterConfig{DefaultAdapter()}
	}
	if opts.MinImageCount == 0 {
		opts.MinImageCount = 2
	}
	if opts.MaxImageCount == 0 {
		opts.MaxImageCount = 8
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []hal.Format{hal.FormatB8G8R8A8Unorm, hal.FormatB8G8R8A8Srgb, hal.FormatR8G8B8A8Unorm}
	}
	if len(opts.PresentModes) == 0 {
		opts.PresentModes = []hal.PresentMode{hal.PresentModeImmediate, hal.PresentModeMailbox, hal.PresentModeFifo}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	inst := &Instance{opts: opts, window: opts.Window, logger: logger}
	for _, cfg := range opts.Adapters {
		inst.adapters = append(inst.adapters, &Adapter{inst: inst, cfg: cfg})
	}
	return inst
}

func (i *Instance) Name() string { return "soft" }

func (i *Instance) Window() *Window { return i.window }

func (i *Instance) Adapters() ([]hal.Adapter, error) {
	out := make([]hal.Adapter, len(i.adapters))
	for k, a := range i.adapters {
		out[k] = a
	}
	return out, nil
}

// Device returns the most recently opened device, or nil.
func (i *Instance) Device() *Device {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.devices) == 0 {
		return nil
	}
	return i.devices[len(i.devices)-1]
}

func (i *Instance) Destroy() {
	i.mu.Lock()
	devices := i.devices
	i.devices = nil
	i.mu.Unlock()
	for _, d := range devices {
		d.Destroy()
	}
}

type Adapter struct {
	inst *Instance
	cfg  AdapterConfig
}

func (a *Adapter) Info() hal.AdapterInfo {
	return hal.AdapterInfo{Name: a.cfg.Name, Type: a.cfg.Type, VendorID: 0x10005}
}

func (a *Adapter) QueueFamilies() []hal.QueueFamily {
	out := make([]hal.QueueFamily, len(a.cfg.Families))
	copy(out, a.cfg.Families)
	return out
}

func (a *Adapter) SurfaceCapabilities() (hal.SurfaceCapabilities, error) {
	w, h := a.inst.window.FramebufferSize()
	opts := a.inst.opts
	return hal.SurfaceCapabilities{
		MinImageCount: opts.MinImageCount,
		MaxImageCount: opts.MaxImageCount,
		CurrentExtent: hal.Extent{Width: uint32(w), Height: uint32(h)},
		MinExtent:     hal.Extent{Width: 1, Height: 1},
		MaxExtent:     hal.Extent{Width: 16384, Height: 16384},
		Formats:       append([]hal.Format(nil), opts.Formats...),
		PresentModes:  append([]hal.PresentMode(nil), opts.PresentModes...),
		Usage:         hal.ImageUsageColorAttachment | hal.ImageUsageTransferSrc | hal.ImageUsageTransferDst,
	}, nil
}

func (a *Adapter) SupportsFormat(f hal.Format, usage hal.ImageUsage) bool {
	if f.BytesPerPixel() == 0 {
		return false
	}
	if len(a.cfg.Formats) == 0 {
		return true
	}
	for _, s := range a.cfg.Formats {
		if s == f {
			return true
		}
	}
	return false
}

func (a *Adapter) Open(desc hal.DeviceDesc) (hal.Device, error) {
	families := map[uint32]hal.QueueFamily{}
	for _, f := range a.cfg.Families {
		families[f.Index] = f
	}
	g, ok := families[desc.GraphicsFamily]
	if !ok || !g.Graphics {
		return nil, errors.Wrapf(hal.ErrUnsupported, "soft: family %d cannot run graphics work", desc.GraphicsFamily)
	}
	p, ok := families[desc.PresentFamily]
	if !ok || !p.Present {
		return nil, errors.Wrapf(hal.ErrUnsupported, "soft: family %d cannot present", desc.PresentFamily)
	}
	d := newDevice(a, desc)
	a.inst.mu.Lock()
	a.inst.devices = append(a.inst.devices, d)
	a.inst.mu.Unlock()
	return d, nil
}

// Window is a scriptable stand-in for a desktop window. Its framebuffer size
// is what the soft surface reports as its current extent.
type Window struct {
	mu     sync.Mutex
	cond   *sync.Cond
	width  int
	height int
	script [][2]int
	waits  int
	events int
}

func NewWindow(width, height int) *Window {
	w := &Window{width: width, height: height}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *Window) FramebufferSize() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

// WaitEvents applies the next scripted size if there is one, otherwise it
// blocks until Resize is called, like a real event wait on an idle window.
func (w *Window) WaitEvents() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits++
	if len(w.script) > 0 {
		w.width, w.height = w.script[0][0], w.script[0][1]
		w.script = w.script[1:]
		return
	}
	seen := w.events
	for seen == w.events {
		w.cond.Wait()
	}
}

// Resize changes the framebuffer size immediately and wakes any waiter.
func (w *Window) Resize(width, height int) {
	w.mu.Lock()
	w.width, w.height = width, height
	w.events++
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Script queues sizes that successive WaitEvents calls apply in order.
func (w *Window) Script(sizes ...[2]int) {
	w.mu.Lock()
	w.script = append(w.script, sizes...)
	w.mu.Unlock()
}

// Waits returns how many times WaitEvents was called.
func (w *Window) Waits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waits
}

func (w *Window) extent() hal.Extent {
	width, height := w.FramebufferSize()
	return hal.Extent{Width: uint32(width), Height: uint32(height)}
}
