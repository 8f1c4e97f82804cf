package vkframe

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// DeviceContext owns the logical device and its queues. It is created first
// and destroyed last.
type DeviceContext struct {
	inst    hal.Instance
	adapter hal.Adapter
	info    hal.AdapterInfo
	caps    hal.SurfaceCapabilities
	device  hal.Device
	logger  *slog.Logger

	graphicsFamily uint32
	presentFamily  uint32
	graphicsQueue  hal.Queue
	presentQueue   hal.Queue

	fenceTimeout   time.Duration
	acquireTimeout time.Duration
}

// NewDeviceContext picks an adapter and opens a device on it. Discrete GPUs
// are preferred; otherwise the first capable adapter in enumeration order
// wins.
func NewDeviceContext(inst hal.Instance, cfg Config, logger *slog.Logger) (*DeviceContext, error) {
	logger = orNop(logger)
	adapters, err := inst.Adapters()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate adapters")
	}
	adapter, graphics, present, ok := selectAdapter(adapters)
	if !ok {
		return nil, errors.WithStack(ErrNoCapableDevice)
	}
	caps, err := adapter.SurfaceCapabilities()
	if err != nil {
		return nil, errors.Wrap(err, "query surface capabilities")
	}
	dev, err := adapter.Open(hal.DeviceDesc{GraphicsFamily: graphics, PresentFamily: present})
	if err != nil {
		return nil, errors.Wrap(err, "create device")
	}
	dc := &DeviceContext{
		inst:           inst,
		adapter:        adapter,
		info:           adapter.Info(),
		caps:           caps,
		device:         dev,
		logger:         logger,
		graphicsFamily: graphics,
		presentFamily:  present,
		fenceTimeout:   cfg.FenceTimeout.Std(),
		acquireTimeout: cfg.AcquireTimeout.Std(),
	}
	if dc.graphicsQueue, err = dev.Queue(graphics); err != nil {
		dev.Destroy()
		return nil, errors.Wrap(err, "graphics queue")
	}
	if dc.presentQueue, err = dev.Queue(present); err != nil {
		dev.Destroy()
		return nil, errors.Wrap(err, "present queue")
	}
	logger.Info("device selected",
		"backend", inst.Name(),
		"adapter", dc.info.Name,
		"type", dc.info.Type,
		"graphics_family", graphics,
		"present_family", present,
		"formats", len(caps.Formats),
		"present_modes", len(caps.PresentModes))
	return dc, nil
}

// selectAdapter returns the first discrete capable adapter, or the first
// capable adapter of any type.
func selectAdapter(adapters []hal.Adapter) (hal.Adapter, uint32, uint32, bool) {
	var (
		fallback         hal.Adapter
		fbGraphics, fbPr uint32
	)
	for _, a := range adapters {
		graphics, present, ok := queueFamilies(a.QueueFamilies())
		if !ok {
			continue
		}
		if a.Info().Type == hal.AdapterDiscrete {
			return a, graphics, present, true
		}
		if fallback == nil {
			fallback, fbGraphics, fbPr = a, graphics, present
		}
	}
	if fallback == nil {
		return nil, 0, 0, false
	}
	return fallback, fbGraphics, fbPr, true
}

// queueFamilies prefers a single family that can draw and present, else the
// first graphics family and the first present family.
func queueFamilies(families []hal.QueueFamily) (graphics, present uint32, ok bool) {
	var gFound, pFound bool
	for _, f := range families {
		if f.Graphics && f.Present {
			return f.Index, f.Index, true
		}
		if f.Graphics && !gFound {
			graphics, gFound = f.Index, true
		}
		if f.Present && !pFound {
			present, pFound = f.Index, true
		}
	}
	return graphics, present, gFound && pFound
}

func (dc *DeviceContext) Device() hal.Device                    { return dc.device }
func (dc *DeviceContext) Adapter() hal.AdapterInfo              { return dc.info }
func (dc *DeviceContext) Logger() *slog.Logger                  { return dc.logger }
func (dc *DeviceContext) GraphicsQueue() hal.Queue              { return dc.graphicsQueue }
func (dc *DeviceContext) PresentQueue() hal.Queue               { return dc.presentQueue }
func (dc *DeviceContext) GraphicsFamily() uint32                { return dc.graphicsFamily }
func (dc *DeviceContext) PresentFamily() uint32                 { return dc.presentFamily }
func (dc *DeviceContext) Capabilities() hal.SurfaceCapabilities { return dc.caps }

// SharedQueue is true when drawing and presenting use the same family.
func (dc *DeviceContext) SharedQueue() bool { return dc.graphicsFamily == dc.presentFamily }

// surfaceCapabilities queries the adapter again; the current extent changes
// with the window.
func (dc *DeviceContext) surfaceCapabilities() (hal.SurfaceCapabilities, error) {
	caps, err := dc.adapter.SurfaceCapabilities()
	if err != nil {
		return caps, errors.Wrap(err, "query surface capabilities")
	}
	dc.caps = caps
	return caps, nil
}

func (dc *DeviceContext) supportsFormat(f hal.Format, usage hal.ImageUsage) bool {
	return dc.adapter.SupportsFormat(f, usage)
}

// WaitIdle blocks until every queue of the device has drained.
func (dc *DeviceContext) WaitIdle() error {
	return errors.Wrap(dc.device.WaitIdle(), "device wait idle")
}

// Destroy waits for the device to go idle and destroys it. Every other
// object must already be destroyed.
func (dc *DeviceContext) Destroy() {
	if dc.device == nil {
		return
	}
	if err := dc.device.WaitIdle(); err != nil {
		dc.logger.Warn("wait idle before destroy", "err", err)
	}
	dc.device.Destroy()
	dc.device = nil
}
