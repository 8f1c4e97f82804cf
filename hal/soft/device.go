package soft

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// semaphoreWaitLimit bounds how long a queue waits on a semaphore nobody
// will ever signal before it records a violation and moves on.
const semaphoreWaitLimit = 5 * time.Second

// PresentRecord is one image that reached the screen.
type PresentRecord struct {
	// Swapchain is the creation serial of the swap chain, starting at 1.
	Swapchain uint64
	Image     uint32
	Extent    hal.Extent
}

type Device struct {
	adapter *Adapter
	logger  *slog.Logger
	queues  map[uint32]*Queue
	gate    *gate

	live      atomic.Int64
	allocated atomic.Uint64
	latency   atomic.Int64

	mu              sync.Mutex
	violations      []string
	acquireResults  []error
	presentResults  []error
	presented       []PresentRecord
	lastPresented   []byte
	swapchainSerial uint64
	submissions     int
	draws           int
	destroyed       bool
}

func newDevice(a *Adapter, desc hal.DeviceDesc) *Device {
	d := &Device{
		adapter: a,
		logger:  a.inst.logger.With("backend", "soft"),
		queues:  map[uint32]*Queue{},
		gate:    newGate(),
	}
	for _, family := range []uint32{desc.GraphicsFamily, desc.PresentFamily} {
		if _, ok := d.queues[family]; !ok {
			d.queues[family] = newQueue(d, family)
		}
	}
	return d
}

func (d *Device) Queue(family uint32) (hal.Queue, error) {
	q, ok := d.queues[family]
	if !ok {
		return nil, errors.Wrapf(hal.ErrUnsupported, "soft: no queue created for family %d", family)
	}
	return q, nil
}

func (d *Device) WaitIdle() error {
	for _, q := range d.queues {
		if err := q.WaitIdle(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()
	d.gate.close()
	for _, q := range d.queues {
		q.close()
	}
}

func (d *Device) violate(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.mu.Lock()
	d.violations = append(d.violations, msg)
	d.mu.Unlock()
	d.logger.Error("soft: validation", "violation", msg)
}

// Violations returns every misuse recorded so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// LiveObjects counts created objects that were not destroyed yet.
func (d *Device) LiveObjects() int {
	return int(d.live.Load())
}

// Allocated returns the bytes of memory currently held by buffers and images.
func (d *Device) Allocated() uint64 {
	return d.allocated.Load()
}

// Hold stops queues from starting new submissions until Step or Release.
// Presents are not held. WaitIdle blocks while submissions are held back.
func (d *Device) Hold() { d.gate.hold() }

// Step lets n more held submissions run.
func (d *Device) Step(n int) { d.gate.step(n) }

// Release lets every submission run again.
func (d *Device) Release() { d.gate.release() }

// SetLatency makes every submission take at least lat to execute.
func (d *Device) SetLatency(lat time.Duration) { d.latency.Store(int64(lat)) }

// InjectAcquire queues a result for an upcoming AcquireNextImage call.
// hal.ErrSuboptimal still acquires an image; any other error does not.
func (d *Device) InjectAcquire(err error) {
	d.mu.Lock()
	d.acquireResults = append(d.acquireResults, err)
	d.mu.Unlock()
}

// InjectPresent queues a result for an upcoming Present call. The present
// still consumes its semaphores and releases the image.
func (d *Device) InjectPresent(err error) {
	d.mu.Lock()
	d.presentResults = append(d.presentResults, err)
	d.mu.Unlock()
}

func (d *Device) nextAcquireResult() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.acquireResults) == 0 {
		return false, nil
	}
	err := d.acquireResults[0]
	d.acquireResults = d.acquireResults[1:]
	return true, err
}

func (d *Device) nextPresentResult() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.presentResults) == 0 {
		return false, nil
	}
	err := d.presentResults[0]
	d.presentResults = d.presentResults[1:]
	return true, err
}

// Presented returns the log of images that were shown.
func (d *Device) Presented() []PresentRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PresentRecord(nil), d.presented...)
}

// LastPresented returns a copy of the pixels of the last shown image.
func (d *Device) LastPresented() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.lastPresented...)
}

// SwapchainsCreated returns how many swap chains this device has created.
func (d *Device) SwapchainsCreated() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.swapchainSerial)
}

// Submissions returns how many queue submissions finished executing.
func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

// Draws returns how many draw commands were executed.
func (d *Device) Draws() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draws
}

func (d *Device) alloc(size uint64) error {
	limit := d.adapter.inst.opts.MemoryLimit
	if limit > 0 && d.allocated.Load()+size > limit {
		return errors.Wrapf(hal.ErrOutOfMemory, "soft: allocating %d bytes exceeds the %d byte limit", size, limit)
	}
	d.allocated.Add(size)
	return nil
}

func (d *Device) free(size uint64) {
	d.allocated.Add(^(size - 1))
}

// object is embedded by every soft handle so that Destroy is idempotent and
// live objects can be counted.
type object struct {
	dev  *Device
	once sync.Once
	dead atomic.Bool
}

func (o *object) init(d *Device) {
	o.dev = d
	d.live.Add(1)
}

func (o *object) release(fn func()) {
	o.once.Do(func() {
		o.dead.Store(true)
		if fn != nil {
			fn()
		}
		o.dev.live.Add(-1)
	})
}

func (o *object) destroyed() bool { return o.dead.Load() }

func (d *Device) CreateBuffer(desc hal.BufferDesc) (hal.Buffer, error) {
	if desc.Size == 0 {
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: zero sized buffer")
	}
	if err := d.alloc(desc.Size); err != nil {
		return nil, err
	}
	b := &Buffer{desc: desc, data: make([]byte, desc.Size)}
	b.init(d)
	return b, nil
}

func (d *Device) CreateImage(desc hal.ImageDesc) (hal.Image, error) {
	bpp := desc.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, errors.Wrapf(hal.ErrUnsupported, "soft: format %s", desc.Format)
	}
	if desc.Extent.IsZero() {
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: zero sized image")
	}
	size := uint64(desc.Extent.Width) * uint64(desc.Extent.Height) * uint64(bpp)
	if err := d.alloc(size); err != nil {
		return nil, err
	}
	img := &Image{desc: desc, data: make([]byte, size)}
	img.init(d)
	return img, nil
}

func (d *Device) CreateImageView(img hal.Image, aspect hal.Aspect) (hal.ImageView, error) {
	i, ok := img.(*Image)
	if !ok || i == nil {
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: image view of a foreign image")
	}
	if i.destroyed() {
		d.violate("image view created for a destroyed image")
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: image destroyed")
	}
	v := &ImageView{image: i, aspect: aspect}
	v.init(d)
	return v, nil
}

func (d *Device) CreateSampler(desc hal.SamplerDesc) (hal.Sampler, error) {
	s := &Sampler{desc: desc}
	s.init(d)
	return s, nil
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	f := newFence(signaled)
	f.init(d)
	return f, nil
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	s := &Semaphore{ch: make(chan struct{}, 1)}
	s.init(d)
	return s, nil
}

func (d *Device) WaitForFences(fences []hal.Fence, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for _, hf := range fences {
		f, ok := hf.(*Fence)
		if !ok {
			return errors.Wrap(hal.ErrInvalidState, "soft: foreign fence")
		}
		if err := f.wait(time.Until(deadline)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) ResetFences(fences []hal.Fence) error {
	for _, hf := range fences {
		f, ok := hf.(*Fence)
		if !ok {
			return errors.Wrap(hal.ErrInvalidState, "soft: foreign fence")
		}
		if f.isPending() {
			d.violate("fence reset while its submission is still pending")
			return errors.Wrap(hal.ErrInvalidState, "soft: fence in use")
		}
		f.reset()
	}
	return nil
}

// FenceSignaled reports the state of f without waiting.
func (d *Device) FenceSignaled(f hal.Fence) bool {
	sf, ok := f.(*Fence)
	return ok && sf.isSignaled()
}

func (d *Device) CreateCommandPool(family uint32) (hal.CommandPool, error) {
	if _, ok := d.queues[family]; !ok {
		return nil, errors.Wrapf(hal.ErrUnsupported, "soft: no queue for family %d", family)
	}
	p := &CommandPool{family: family}
	p.init(d)
	return p, nil
}

func (d *Device) CreateRenderPass(desc hal.RenderPassDesc) (hal.RenderPass, error) {
	if desc.ColorFormat.BytesPerPixel() == 0 {
		return nil, errors.Wrapf(hal.ErrUnsupported, "soft: color format %s", desc.ColorFormat)
	}
	if desc.DepthFormat != hal.FormatUndefined && !desc.DepthFormat.IsDepth() {
		return nil, errors.Wrapf(hal.ErrUnsupported, "soft: depth format %s", desc.DepthFormat)
	}
	rp := &RenderPass{desc: desc}
	rp.init(d)
	return rp, nil
}

func (d *Device) CreateFramebuffer(desc hal.FramebufferDesc) (hal.Framebuffer, error) {
	rp, ok := desc.RenderPass.(*RenderPass)
	if !ok {
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: framebuffer without a render pass")
	}
	want := 1
	if rp.desc.DepthFormat != hal.FormatUndefined {
		want = 2
	}
	if len(desc.Attachments) != want {
		return nil, errors.Wrapf(hal.ErrInvalidState, "soft: render pass needs %d attachments, got %d", want, len(desc.Attachments))
	}
	views := make([]*ImageView, len(desc.Attachments))
	for i, a := range desc.Attachments {
		v, ok := a.(*ImageView)
		if !ok || v.destroyed() {
			return nil, errors.Wrap(hal.ErrInvalidState, "soft: invalid framebuffer attachment")
		}
		if v.image.desc.Extent != desc.Extent {
			d.violate("framebuffer attachment %d is %v, framebuffer is %v", i, v.image.desc.Extent, desc.Extent)
		}
		views[i] = v
	}
	fb := &Framebuffer{pass: rp, views: views, extent: desc.Extent}
	fb.init(d)
	return fb, nil
}

func (d *Device) CreateBindingLayout(entries []hal.BindingLayoutEntry) (hal.BindingLayout, error) {
	l := &BindingLayout{entries: map[uint32]hal.BindingLayoutEntry{}}
	for _, e := range entries {
		l.entries[e.Binding] = e
	}
	l.init(d)
	return l, nil
}

func (d *Device) CreateBindingPool(desc hal.BindingPoolDesc) (hal.BindingPool, error) {
	p := &BindingPool{remaining: desc.MaxSets}
	p.init(d)
	return p, nil
}

func (d *Device) UpdateBindingSets(writes []hal.BindingWrite) error {
	for _, w := range writes {
		set, ok := w.Set.(*BindingSet)
		if !ok || set == nil {
			return errors.Wrap(hal.ErrInvalidState, "soft: write to a foreign binding set")
		}
		entry, ok := set.layout.entries[w.Binding]
		if !ok {
			return errors.Wrapf(hal.ErrInvalidState, "soft: binding %d not in layout", w.Binding)
		}
		if entry.Type != w.Type {
			return errors.Wrapf(hal.ErrInvalidState, "soft: binding %d type mismatch", w.Binding)
		}
		switch w.Type {
		case hal.BindingUniformBuffer:
			if w.Buffer == nil {
				return errors.Wrapf(hal.ErrInvalidState, "soft: binding %d needs a buffer", w.Binding)
			}
		case hal.BindingCombinedImageSampler:
			if w.View == nil || w.Sampler == nil {
				return errors.Wrapf(hal.ErrInvalidState, "soft: binding %d needs a view and a sampler", w.Binding)
			}
		}
		set.mu.Lock()
		set.writes[w.Binding] = w
		set.mu.Unlock()
	}
	return nil
}

func (d *Device) CreateShaderModule(code []uint32) (hal.ShaderModule, error) {
	if len(code) == 0 {
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: empty shader module")
	}
	m := &ShaderModule{words: len(code)}
	m.init(d)
	return m, nil
}

func (d *Device) CreatePipeline(desc hal.PipelineDesc) (hal.Pipeline, error) {
	if desc.Vertex == nil || desc.Fragment == nil {
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: pipeline needs vertex and fragment stages")
	}
	if desc.RenderPass == nil {
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: pipeline needs a render pass")
	}
	p := &Pipeline{desc: desc}
	p.init(d)
	return p, nil
}

// gate holds back queue submissions for tests that need to observe a frame
// loop while the GPU is busy.
type gate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	held    bool
	credits int
	closed  bool
}

func newGate() *gate {
	g := &gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *gate) pass() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.held && g.credits == 0 && !g.closed {
		g.cond.Wait()
	}
	if g.closed {
		return false
	}
	if g.held {
		g.credits--
	}
	return true
}

func (g *gate) hold() {
	g.mu.Lock()
	g.held = true
	g.credits = 0
	g.mu.Unlock()
}

func (g *gate) step(n int) {
	g.mu.Lock()
	g.credits += n
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *gate) release() {
	g.mu.Lock()
	g.held = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *gate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
