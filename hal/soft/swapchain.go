package soft

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// Swapchain hands out its images in the order they are released by present,
// starting with 0..n-1.
type Swapchain struct {
	object
	serial uint64
	images []*Image
	extent hal.Extent
	format hal.Format
	mode   hal.PresentMode

	available chan uint32

	mu       sync.Mutex
	acquired map[uint32]bool
	retired  bool
}

func (d *Device) CreateSwapchain(desc hal.SwapchainDesc) (hal.Swapchain, error) {
	if desc.Extent.IsZero() {
		d.violate("swap chain created with zero extent %dx%d", desc.Extent.Width, desc.Extent.Height)
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: zero extent swap chain")
	}
	if desc.Format.BytesPerPixel() == 0 || desc.Format.IsDepth() {
		return nil, errors.Wrapf(hal.ErrUnsupported, "soft: swap chain format %s", desc.Format)
	}
	opts := d.adapter.inst.opts
	count := desc.MinImageCount
	if count < opts.MinImageCount {
		count = opts.MinImageCount
	}
	if opts.MaxImageCount > 0 && count > opts.MaxImageCount {
		count = opts.MaxImageCount
	}
	if desc.Old != nil {
		old, ok := desc.Old.(*Swapchain)
		if !ok {
			return nil, errors.Wrap(hal.ErrInvalidState, "soft: foreign old swap chain")
		}
		old.retire()
	}

	d.mu.Lock()
	d.swapchainSerial++
	serial := d.swapchainSerial
	d.mu.Unlock()

	sc := &Swapchain{
		serial:    serial,
		extent:    desc.Extent,
		format:    desc.Format,
		mode:      desc.PresentMode,
		available: make(chan uint32, count),
		acquired:  map[uint32]bool{},
	}
	size := int(desc.Extent.Width) * int(desc.Extent.Height) * desc.Format.BytesPerPixel()
	for i := uint32(0); i < count; i++ {
		img := &Image{
			desc:  hal.ImageDesc{Format: desc.Format, Extent: desc.Extent, Usage: desc.Usage},
			owned: true,
			data:  make([]byte, size),
		}
		img.dev = d
		sc.images = append(sc.images, img)
		sc.available <- i
	}
	sc.init(d)
	d.logger.Debug("soft: swap chain created", "serial", serial, "images", count, "extent", desc.Extent)
	return sc, nil
}

func (s *Swapchain) Images() []hal.Image {
	out := make([]hal.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

func (s *Swapchain) Format() hal.Format { return s.format }

func (s *Swapchain) Extent() hal.Extent { return s.extent }

func (s *Swapchain) PresentMode() hal.PresentMode { return s.mode }

// Serial is the creation number of the swap chain on its device.
func (s *Swapchain) Serial() uint64 { return s.serial }

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal hal.Semaphore) (uint32, error) {
	sem, ok := signal.(*Semaphore)
	if !ok || sem.destroyed() {
		return 0, errors.Wrap(hal.ErrInvalidState, "soft: acquire needs a live semaphore")
	}
	if s.destroyed() {
		return 0, errors.Wrap(hal.ErrInvalidState, "soft: swap chain destroyed")
	}
	var result error
	if injected, err := s.dev.nextAcquireResult(); injected && err != nil {
		if !errors.Is(err, hal.ErrSuboptimal) {
			return 0, errors.Wrap(err, "soft: acquire")
		}
		result = err
	}
	if result == nil && (s.isRetired() || s.dev.adapter.inst.window.extent() != s.extent) {
		return 0, errors.Wrap(hal.ErrOutOfDate, "soft: acquire")
	}

	var idx uint32
	if timeout <= 0 {
		select {
		case idx = <-s.available:
		default:
			return 0, errors.Wrap(hal.ErrNotReady, "soft: acquire")
		}
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case idx = <-s.available:
		case <-t.C:
			return 0, errors.Wrap(hal.ErrTimeout, "soft: acquire")
		}
	}
	s.mu.Lock()
	s.acquired[idx] = true
	s.mu.Unlock()
	sem.signal()
	if result != nil {
		return idx, errors.Wrap(result, "soft: acquire")
	}
	return idx, nil
}

func (s *Swapchain) isAcquired(idx uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired[idx]
}

func (s *Swapchain) releaseImage(idx uint32) {
	s.mu.Lock()
	delete(s.acquired, idx)
	s.mu.Unlock()
	s.available <- idx
}

func (s *Swapchain) retire() {
	s.mu.Lock()
	s.retired = true
	s.mu.Unlock()
}

func (s *Swapchain) isRetired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

// Destroy may be called with images still acquired, which happens when a
// frame is skipped after a suboptimal acquire.
func (s *Swapchain) Destroy() {
	s.release(nil)
}
