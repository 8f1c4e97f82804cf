package vkframe

import (
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// Window is the part of the windowing collaborator the swap chain needs:
// the drawable size and a way to block until the window changes.
type Window interface {
	FramebufferSize() (width, height int)
	WaitEvents()
}

type SwapchainState int

const (
	SwapchainValid SwapchainState = iota
	SwapchainRecreating
)

func (s SwapchainState) String() string {
	if s == SwapchainRecreating {
		return "recreating"
	}
	return "valid"
}

type SwapchainOptions struct {
	ImageCount  int
	Format      hal.Format
	PresentMode hal.PresentMode
	// DepthFormats are tried in order. Empty means D32, D32S8, D24S8.
	DepthFormats []hal.Format
}

// SwapchainManager owns the swap chain, one view per image and the depth
// image that has to follow the swap chain size.
type SwapchainManager struct {
	dc     *DeviceContext
	win    Window
	opts   SwapchainOptions
	logger *slog.Logger

	chain      hal.Swapchain
	images     []hal.Image
	views      []hal.ImageView
	format     hal.Format
	mode       hal.PresentMode
	extent     hal.Extent
	imageCount int
	generation uint64

	depthFormat hal.Format
	depth       hal.Image
	depthView   hal.ImageView

	state     SwapchainState
	stale     bool
	err       error
	listeners []func() error
}

func NewSwapchainManager(dc *DeviceContext, win Window, opts SwapchainOptions) *SwapchainManager {
	if len(opts.DepthFormats) == 0 {
		opts.DepthFormats = []hal.Format{hal.FormatD32Sfloat, hal.FormatD32SfloatS8Uint, hal.FormatD24UnormS8Uint}
	}
	return &SwapchainManager{
		dc:     dc,
		win:    win,
		opts:   opts,
		logger: dc.Logger(),
	}
}

func extentOf(width, height int) hal.Extent {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return hal.Extent{Width: uint32(width), Height: uint32(height)}
}

// Create builds the swap chain. A zero windowExtent, which is what a
// minimized window reports, blocks on window events until the window has a
// drawable area again. The image count of the first creation is kept for the
// life of the manager.
func (m *SwapchainManager) Create(desiredImageCount int, format hal.Format, windowExtent hal.Extent) error {
	if m.err != nil {
		return m.err
	}
	if err := m.create(desiredImageCount, format, m.opts.PresentMode, windowExtent); err != nil {
		m.err = err
		return err
	}
	return nil
}

func (m *SwapchainManager) create(desiredImageCount int, format hal.Format, mode hal.PresentMode, windowExtent hal.Extent) error {
	extent, caps, err := m.waitExtent(windowExtent)
	if err != nil {
		return err
	}
	if len(caps.Formats) == 0 {
		return errors.New("surface reports no formats")
	}
	format = chooseFormat(caps.Formats, format)
	mode = choosePresentMode(caps.PresentModes, mode)

	count := uint32(desiredImageCount)
	if count < caps.MinImageCount {
		count = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}

	usage := hal.ImageUsageColorAttachment
	if caps.Usage&hal.ImageUsageTransferSrc != 0 {
		// Lets the renderer read presented images back.
		usage |= hal.ImageUsageTransferSrc
	}
	families := []uint32{m.dc.GraphicsFamily()}
	if !m.dc.SharedQueue() {
		families = append(families, m.dc.PresentFamily())
	}

	chain, err := m.dc.Device().CreateSwapchain(hal.SwapchainDesc{
		MinImageCount: count,
		Format:        format,
		Extent:        extent,
		PresentMode:   mode,
		Usage:         usage,
		QueueFamilies: families,
		Old:           m.chain,
	})
	if err != nil {
		return errors.Wrap(err, "create swap chain")
	}
	if m.chain != nil {
		m.chain.Destroy()
	}
	m.chain = chain
	images := chain.Images()
	if m.imageCount != 0 && len(images) != m.imageCount {
		return errors.Wrapf(ErrImageCountChanged, "have %d images, want %d", len(images), m.imageCount)
	}

	views := make([]hal.ImageView, 0, len(images))
	for _, img := range images {
		v, err := m.dc.Device().CreateImageView(img, hal.AspectColor)
		if err != nil {
			for _, v := range views {
				v.Destroy()
			}
			return errors.Wrap(err, "create swap chain image view")
		}
		views = append(views, v)
	}
	m.images, m.views = images, views
	m.format, m.mode, m.extent = format, mode, extent
	if m.imageCount == 0 {
		m.imageCount = len(images)
	}
	if err := m.createDepth(); err != nil {
		return err
	}
	m.generation++
	m.state = SwapchainValid
	m.logger.Info("swap chain created",
		"extent", extent,
		"images", len(images),
		"format", format,
		"present_mode", mode,
		"generation", m.generation)
	return nil
}

// waitExtent polls the window until it reports a non-zero size and the
// surface agrees with it.
func (m *SwapchainManager) waitExtent(ext hal.Extent) (hal.Extent, hal.SurfaceCapabilities, error) {
	for {
		if !ext.IsZero() {
			caps, err := m.dc.surfaceCapabilities()
			if err != nil {
				return ext, caps, err
			}
			if ext = chooseExtent(caps, ext); !ext.IsZero() {
				return ext, caps, nil
			}
		}
		m.logger.Debug("window has no drawable area, waiting for events")
		m.win.WaitEvents()
		ext = extentOf(m.win.FramebufferSize())
	}
}

// chooseExtent uses the surface extent when the surface dictates one and the
// clamped window extent otherwise.
func chooseExtent(caps hal.SurfaceCapabilities, window hal.Extent) hal.Extent {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	clamp := func(v, lo, hi uint32) uint32 {
		if v < lo {
			return lo
		}
		if hi > 0 && v > hi {
			return hi
		}
		return v
	}
	return hal.Extent{
		Width:  clamp(window.Width, caps.MinExtent.Width, caps.MaxExtent.Width),
		Height: clamp(window.Height, caps.MinExtent.Height, caps.MaxExtent.Height),
	}
}

func chooseFormat(supported []hal.Format, want hal.Format) hal.Format {
	if want == hal.FormatUndefined {
		want = hal.FormatB8G8R8A8Unorm
	}
	for _, f := range supported {
		if f == want {
			return f
		}
	}
	return supported[0]
}

// choosePresentMode falls back to FIFO, which is always available.
func choosePresentMode(supported []hal.PresentMode, want hal.PresentMode) hal.PresentMode {
	for _, m := range supported {
		if m == want {
			return m
		}
	}
	return hal.PresentModeFifo
}

func (m *SwapchainManager) createDepth() error {
	if m.depthFormat == hal.FormatUndefined {
		for _, f := range m.opts.DepthFormats {
			if m.dc.supportsFormat(f, hal.ImageUsageDepthStencilAttachment) {
				m.depthFormat = f
				break
			}
		}
		if m.depthFormat == hal.FormatUndefined {
			return errors.Wrap(hal.ErrUnsupported, "no supported depth format")
		}
	}
	depth, err := m.dc.Device().CreateImage(hal.ImageDesc{
		Format: m.depthFormat,
		Extent: m.extent,
		Usage:  hal.ImageUsageDepthStencilAttachment,
	})
	if err != nil {
		return errors.Wrap(err, "create depth image")
	}
	aspect := hal.AspectDepth
	if m.depthFormat.HasStencil() {
		aspect |= hal.AspectStencil
	}
	view, err := m.dc.Device().CreateImageView(depth, aspect)
	if err != nil {
		depth.Destroy()
		return errors.Wrap(err, "create depth image view")
	}
	m.depth, m.depthView = depth, view
	return nil
}

// Recreate rebuilds the swap chain for the current window size with the
// image count, format and present mode of the first creation. Listeners run
// after the new chain exists. A failure is permanent.
func (m *SwapchainManager) Recreate() error {
	if m.err != nil {
		return m.err
	}
	m.state = SwapchainRecreating
	if err := m.dc.WaitIdle(); err != nil {
		m.err = err
		return err
	}
	m.destroyViews()
	err := m.create(m.imageCount, m.format, m.mode, extentOf(m.win.FramebufferSize()))
	if err != nil {
		m.err = errors.Wrap(err, "recreate swap chain")
		return m.err
	}
	m.stale = false
	for _, fn := range m.listeners {
		if err := fn(); err != nil {
			m.state = SwapchainRecreating
			m.err = errors.Wrap(err, "swap chain listener")
			return m.err
		}
	}
	return nil
}

// OnRecreate registers fn to run after every successful recreation.
func (m *SwapchainManager) OnRecreate(fn func() error) {
	m.listeners = append(m.listeners, fn)
}

// MarkStale flags the swap chain for recreation at the start of the next
// frame.
func (m *SwapchainManager) MarkStale() { m.stale = true }

func (m *SwapchainManager) Stale() bool { return m.stale }

func (m *SwapchainManager) acquire(signal hal.Semaphore) (uint32, error) {
	return m.chain.AcquireNextImage(m.dc.acquireTimeout, signal)
}

func (m *SwapchainManager) State() SwapchainState        { return m.state }
func (m *SwapchainManager) Generation() uint64           { return m.generation }
func (m *SwapchainManager) Extent() hal.Extent           { return m.extent }
func (m *SwapchainManager) Format() hal.Format           { return m.format }
func (m *SwapchainManager) PresentMode() hal.PresentMode { return m.mode }
func (m *SwapchainManager) ImageCount() int              { return m.imageCount }
func (m *SwapchainManager) Images() []hal.Image          { return m.images }
func (m *SwapchainManager) Views() []hal.ImageView       { return m.views }
func (m *SwapchainManager) DepthFormat() hal.Format      { return m.depthFormat }
func (m *SwapchainManager) DepthView() hal.ImageView     { return m.depthView }
func (m *SwapchainManager) Chain() hal.Swapchain         { return m.chain }

// Err returns the error that stopped the manager, if any.
func (m *SwapchainManager) Err() error { return m.err }

func (m *SwapchainManager) destroyViews() {
	for _, v := range m.views {
		v.Destroy()
	}
	m.views = nil
	if m.depthView != nil {
		m.depthView.Destroy()
		m.depthView = nil
	}
	if m.depth != nil {
		m.depth.Destroy()
		m.depth = nil
	}
}

// Destroy releases the views before the swap chain itself.
func (m *SwapchainManager) Destroy() {
	m.destroyViews()
	if m.chain != nil {
		m.chain.Destroy()
		m.chain = nil
	}
	m.images = nil
}
