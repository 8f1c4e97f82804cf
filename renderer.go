package vkframe

import (
	"context"
	"image"
	"log/slog"

	"github.com/pkg/errors"
	lin "github.com/xlab/linmath"

	"github.com/andewx/vkframe/hal"
	"github.com/andewx/vkframe/texture"
)

// FrameInfo describes what one DrawFrame call did.
type FrameInfo struct {
	// Frame is the absolute frame number, -1 when nothing was submitted.
	Frame      int64
	Slot       int
	ImageIndex uint32
	// WaitedOn is the frame whose fence was waited on, -1 if none.
	WaitedOn   int64
	Submitted  bool
	Presented  bool
	Skipped    bool
	Recreated  bool
	Generation uint64
}

// Capture is a copy of a rendered swap chain image.
type Capture struct {
	Extent hal.Extent
	Format hal.Format
	Pixels []byte
}

type rendererOptions struct {
	logger      *slog.Logger
	draw        DrawFunc
	registry    *SurfaceRegistry
	surface     SurfaceHandle
	maxTextures int
}

type RendererOption func(*rendererOptions)

func WithLogger(l *slog.Logger) RendererOption {
	return func(o *rendererOptions) { o.logger = l }
}

// WithDrawFunc adds fn to the draws of every frame, after the meshes.
func WithDrawFunc(fn DrawFunc) RendererOption {
	return func(o *rendererOptions) { o.draw = fn }
}

// WithSurface makes the renderer poll reg for resize notifications on h.
func WithSurface(reg *SurfaceRegistry, h SurfaceHandle) RendererOption {
	return func(o *rendererOptions) { o.registry, o.surface = reg, h }
}

// Renderer ties the frame engine together: one swap chain, a ring of frames
// in flight, per-slot uniforms and binding sets, and the mesh arena.
// Everything but the SurfaceRegistry belongs to the render goroutine.
type Renderer struct {
	cfg    Config
	opts   rendererOptions
	logger *slog.Logger

	dc     *DeviceContext
	sc     *SwapchainManager
	rec    *Recorder
	ring   *FrameRing
	table  *BindingTable
	up     *Uploader
	meshes *MeshArena

	uniforms []hal.Buffer
	ubo      UniformBufferObject

	linear  hal.Sampler
	nearest hal.Sampler

	errorImage hal.Image
	errorView  hal.ImageView
	textures   []textureEntry
	view       hal.ImageView
	sampler    hal.Sampler

	program  *ShaderProgram
	pipeline hal.Pipeline

	capture *capture
}

type textureEntry struct {
	image hal.Image
	view  hal.ImageView
}

type capture struct {
	buf    hal.Buffer
	extent hal.Extent
	format hal.Format
	done   bool
}

// NewRenderer builds the whole engine on inst, which must have been created
// for win's surface. Shaders are optional: with empty shader paths the
// renderer only clears.
func NewRenderer(inst hal.Instance, win Window, cfg Config, opts ...RendererOption) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := rendererOptions{maxTextures: 1}
	for _, fn := range opts {
		fn(&o)
	}
	r := &Renderer{cfg: cfg, opts: o, logger: orNop(o.logger), ubo: NewUniformBufferObject()}
	if err := r.init(inst, win); err != nil {
		r.Destroy()
		return nil, err
	}
	return r, nil
}

func (r *Renderer) init(inst hal.Instance, win Window) (err error) {
	cfg, o := r.cfg, r.opts
	if r.dc, err = NewDeviceContext(inst, cfg, r.logger); err != nil {
		return err
	}
	r.sc = NewSwapchainManager(r.dc, win, SwapchainOptions{
		ImageCount:  cfg.ImageCount,
		Format:      cfg.colorFormat(),
		PresentMode: cfg.presentMode(),
	})
	if err = r.sc.Create(cfg.ImageCount, cfg.colorFormat(), extentOf(win.FramebufferSize())); err != nil {
		return err
	}
	if r.rec, err = NewRecorder(r.dc, r.sc, RecorderOptions{ClearColor: cfg.ClearColor}); err != nil {
		return err
	}
	if r.ring, err = NewFrameRing(r.dc, r.sc, cfg.FramesInFlight); err != nil {
		return err
	}
	if r.table, err = NewBindingTable(r.dc, cfg.FramesInFlight, o.maxTextures); err != nil {
		return err
	}
	if r.up, err = NewUploader(r.dc); err != nil {
		return err
	}
	r.up.inFrame = r.ring.InFrame
	r.meshes = NewMeshArena(r.up)

	dev := r.dc.Device()
	for i := 0; i < cfg.FramesInFlight; i++ {
		buf, err := dev.CreateBuffer(hal.BufferDesc{Size: uniformSize, Usage: hal.BufferUsageUniform, Memory: hal.MemoryHostVisible})
		if err != nil {
			return errors.Wrap(err, "create uniform buffer")
		}
		r.uniforms = append(r.uniforms, buf)
	}
	if r.linear, err = dev.CreateSampler(hal.SamplerDesc{MagFilter: hal.FilterLinear, MinFilter: hal.FilterLinear, AddressMode: hal.AddressRepeat}); err != nil {
		return errors.Wrap(err, "create linear sampler")
	}
	if r.nearest, err = dev.CreateSampler(hal.SamplerDesc{MagFilter: hal.FilterNearest, MinFilter: hal.FilterNearest, AddressMode: hal.AddressRepeat}); err != nil {
		return errors.Wrap(err, "create nearest sampler")
	}
	if r.errorImage, r.errorView, err = r.uploadRGBA(texture.ErrorTexture()); err != nil {
		return errors.Wrap(err, "error texture")
	}
	r.view, r.sampler = r.errorView, r.nearest

	if cfg.Shaders.Vertex != "" && cfg.Shaders.Fragment != "" {
		if r.program, err = LoadShaderProgram(dev, cfg.Shaders.Vertex, cfg.Shaders.Fragment); err != nil {
			return err
		}
		r.pipeline, err = NewPipelineBuilder(r.program).
			BindingLayouts(r.table.Layout()).
			Build(dev, r.rec.RenderPass())
		if err != nil {
			return err
		}
	}
	r.loadTextures(cfg.Textures.Paths)
	r.rec.AddOverlay(r.recordCapture)
	return nil
}

// loadTextures decodes the configured textures in parallel and binds the
// first one. A texture that fails to load leaves the error texture bound.
func (r *Renderer) loadTextures(paths []string) {
	if len(paths) == 0 {
		return
	}
	imgs, err := texture.LoadAll(context.Background(), paths, 0)
	if err != nil {
		r.logger.Warn("loading textures failed, using the error texture", "err", err)
		return
	}
	for i, img := range imgs {
		view, err := r.UploadTexture(img)
		if err != nil {
			r.logger.Warn("texture upload failed", "path", paths[i], "err", err)
			continue
		}
		if r.view == r.errorView {
			r.view, r.sampler = view, r.linear
		}
	}
}

func (r *Renderer) uploadRGBA(img *image.RGBA) (hal.Image, hal.ImageView, error) {
	img = texture.ToRGBA(img)
	b := img.Bounds()
	gpu, err := r.up.UploadImage(hal.ImageDesc{
		Format: hal.FormatR8G8B8A8Unorm,
		Extent: hal.Extent{Width: uint32(b.Dx()), Height: uint32(b.Dy())},
		Usage:  hal.ImageUsageSampled,
	}, img.Pix)
	if err != nil {
		return nil, nil, err
	}
	view, err := r.dc.Device().CreateImageView(gpu, hal.AspectColor)
	if err != nil {
		gpu.Destroy()
		return nil, nil, errors.Wrap(err, "create texture view")
	}
	return gpu, view, nil
}

// UploadTexture uploads img as a sampled RGBA8 image owned by the renderer.
func (r *Renderer) UploadTexture(img *image.RGBA) (hal.ImageView, error) {
	gpu, view, err := r.uploadRGBA(img)
	if err != nil {
		return nil, err
	}
	r.textures = append(r.textures, textureEntry{image: gpu, view: view})
	return view, nil
}

// DrawFrame renders and presents one frame. A stale swap chain is not an
// error: the frame is reported as skipped or not presented and the swap
// chain is recreated.
func (r *Renderer) DrawFrame(ctx context.Context) (FrameInfo, error) {
	info := FrameInfo{Frame: -1, Slot: r.ring.Current(), WaitedOn: -1}
	if r.opts.registry != nil && r.opts.registry.TakeStale(r.opts.surface) {
		r.sc.MarkStale()
	}
	if r.sc.Stale() {
		if err := r.sc.Recreate(); err != nil {
			return info, err
		}
		info.Recreated = true
	}

	f, err := r.ring.BeginFrame(ctx)
	if errors.Is(err, ErrFrameSkipped) {
		info.Skipped = true
		info.Generation = r.sc.Generation()
		return info, nil
	}
	if err != nil {
		return info, err
	}
	info.Frame, info.Slot, info.ImageIndex, info.WaitedOn = f.Number, f.Slot, f.ImageIndex, f.WaitedOn

	if err := r.up.WriteHostBuffer(r.uniforms[f.Slot], 0, r.ubo.Bytes()); err != nil {
		return info, err
	}
	if err := r.table.Update(f.Slot, r.uniforms[f.Slot], r.view, r.sampler); err != nil {
		return info, err
	}
	draw := func(cmd hal.CommandBuffer, imageIndex uint32) error {
		return r.drawScene(cmd, imageIndex, f.Slot)
	}
	if err := r.rec.Record(f.Cmd, f.ImageIndex, draw); err != nil {
		return info, err
	}

	presented, err := r.ring.EndFrame(f)
	info.Generation = r.sc.Generation()
	if err != nil {
		return info, err
	}
	info.Submitted, info.Presented = true, presented
	if r.sc.Stale() {
		if err := r.sc.Recreate(); err != nil {
			return info, err
		}
		info.Recreated = true
	}
	return info, nil
}

func (r *Renderer) drawScene(cmd hal.CommandBuffer, imageIndex uint32, slot int) error {
	if r.pipeline != nil {
		cmd.BindPipeline(r.pipeline)
		cmd.BindBindingSet(r.pipeline, r.table.Set(slot))
		r.meshes.Each(func(_ MeshHandle, m *Mesh) {
			m.Draw(cmd)
		})
	}
	if r.opts.draw != nil {
		return r.opts.draw(cmd, imageIndex)
	}
	return nil
}

// recordCapture copies the color attachment into the pending capture
// buffer. It runs as an overlay, so the image is in the color attachment
// layout before and after.
func (r *Renderer) recordCapture(cmd hal.CommandBuffer, imageIndex uint32) error {
	c := r.capture
	if c == nil || c.done {
		return nil
	}
	img := r.sc.Images()[imageIndex]
	ext := r.sc.Extent()
	size := uint64(ext.Width) * uint64(ext.Height) * uint64(img.Format().BytesPerPixel())
	if c.buf == nil || c.buf.Size() != size {
		if c.buf != nil {
			c.buf.Destroy()
		}
		buf, err := r.dc.Device().CreateBuffer(hal.BufferDesc{Size: size, Usage: hal.BufferUsageTransferDst, Memory: hal.MemoryHostVisible})
		if err != nil {
			c.buf = nil
			return errors.Wrap(err, "create capture buffer")
		}
		c.buf = buf
	}
	c.extent, c.format = ext, img.Format()
	cmd.PipelineBarrier(hal.StageColorAttachmentOutput, hal.StageTransfer, nil, []hal.ImageBarrier{{
		Image:     img,
		Aspect:    hal.AspectColor,
		SrcAccess: hal.AccessColorAttachmentWrite,
		DstAccess: hal.AccessTransferRead,
		OldLayout: hal.LayoutColorAttachment,
		NewLayout: hal.LayoutTransferSrc,
	}})
	cmd.CopyImageToBuffer(img, hal.LayoutTransferSrc, c.buf, []hal.BufferImageCopy{{
		ImageExtent: ext,
		Aspect:      hal.AspectColor,
	}})
	cmd.PipelineBarrier(hal.StageTransfer, hal.StageColorAttachmentOutput|hal.StageHost, []hal.BufferBarrier{{
		Buffer: c.buf, SrcAccess: hal.AccessTransferWrite, DstAccess: hal.AccessHostRead,
	}}, []hal.ImageBarrier{{
		Image:     img,
		Aspect:    hal.AspectColor,
		SrcAccess: hal.AccessTransferRead,
		DstAccess: hal.AccessColorAttachmentWrite,
		OldLayout: hal.LayoutTransferSrc,
		NewLayout: hal.LayoutColorAttachment,
	}})
	c.done = true
	return nil
}

// Screenshot draws frames until one is submitted and returns a copy of its
// swap chain image in the swap chain format. It needs swap chain images that
// allow transfer reads.
func (r *Renderer) Screenshot(ctx context.Context) (*Capture, error) {
	if r.ring.InFrame() {
		return nil, errors.WithStack(ErrUploadInFrame)
	}
	if imgs := r.sc.Images(); len(imgs) == 0 || imgs[0].Usage()&hal.ImageUsageTransferSrc == 0 {
		return nil, errors.Wrap(hal.ErrUnsupported, "swap chain images cannot be read back")
	}
	r.capture = &capture{}
	defer func() {
		if r.capture.buf != nil {
			r.capture.buf.Destroy()
		}
		r.capture = nil
	}()
	for attempt := 0; attempt < 3; attempt++ {
		info, err := r.DrawFrame(ctx)
		if err != nil {
			return nil, err
		}
		if !info.Submitted {
			continue
		}
		if err := r.dc.WaitIdle(); err != nil {
			return nil, err
		}
		c := r.capture
		out := &Capture{Extent: c.extent, Format: c.format, Pixels: make([]byte, c.buf.Size())}
		if err := c.buf.Read(0, out.Pixels); err != nil {
			return nil, errors.Wrap(err, "read capture buffer")
		}
		return out, nil
	}
	return nil, errors.WithStack(ErrFrameSkipped)
}

// SetTexture binds view with sampler for the following frames. A nil view
// restores the error texture, a nil sampler selects linear filtering.
func (r *Renderer) SetTexture(view hal.ImageView, sampler hal.Sampler) {
	if view == nil {
		view, sampler = r.errorView, r.nearest
	}
	if sampler == nil {
		sampler = r.linear
	}
	r.view, r.sampler = view, sampler
}

// LoadMesh uploads a mesh that is drawn every frame until unloaded.
func (r *Renderer) LoadMesh(vertices []Vertex, indices []uint32) (MeshHandle, error) {
	return r.meshes.Load(vertices, indices)
}

// UnloadMesh waits for the GPU to finish every frame in flight and destroys
// the mesh.
func (r *Renderer) UnloadMesh(h MeshHandle) error {
	if _, err := r.meshes.Get(h); err != nil {
		return err
	}
	if err := r.dc.WaitIdle(); err != nil {
		return err
	}
	return r.meshes.Unload(h)
}

// SetCamera sets the view matrix and a GL style projection, which is
// converted to Vulkan clip space.
func (r *Renderer) SetCamera(view, proj *lin.Mat4x4) {
	r.ubo.View = *view
	VulkanProjectionMat(&r.ubo.Proj, proj)
}

func (r *Renderer) SetModel(model *lin.Mat4x4) { r.ubo.Model = *model }

// SetClearColor changes the color every frame starts from.
func (r *Renderer) SetClearColor(c [4]float32) { r.rec.SetClearColor(c) }

func (r *Renderer) Device() *DeviceContext       { return r.dc }
func (r *Renderer) Swapchain() *SwapchainManager { return r.sc }
func (r *Renderer) Ring() *FrameRing             { return r.ring }
func (r *Renderer) Recorder() *Recorder          { return r.rec }
func (r *Renderer) Uploader() *Uploader          { return r.up }
func (r *Renderer) Meshes() *MeshArena           { return r.meshes }
func (r *Renderer) LinearSampler() hal.Sampler   { return r.linear }
func (r *Renderer) NearestSampler() hal.Sampler  { return r.nearest }

// Surface returns the registry handle the renderer polls, zero if none.
func (r *Renderer) Surface() SurfaceHandle { return r.opts.surface }

// Destroy waits for the device to go idle and releases everything in
// reverse order of creation. The instance is left to the caller.
func (r *Renderer) Destroy() {
	if r.dc == nil {
		return
	}
	if r.dc.Device() != nil {
		if err := r.dc.WaitIdle(); err != nil {
			r.logger.Warn("wait idle before teardown", "err", err)
		}
	}
	if r.meshes != nil {
		r.meshes.Destroy()
	}
	for _, t := range r.textures {
		t.view.Destroy()
		t.image.Destroy()
	}
	r.textures = nil
	if r.errorView != nil {
		r.errorView.Destroy()
		r.errorImage.Destroy()
		r.errorView, r.errorImage = nil, nil
	}
	if r.pipeline != nil {
		r.pipeline.Destroy()
		r.pipeline = nil
	}
	if r.program != nil {
		r.program.Destroy()
		r.program = nil
	}
	for _, s := range []hal.Sampler{r.nearest, r.linear} {
		if s != nil {
			s.Destroy()
		}
	}
	r.nearest, r.linear = nil, nil
	for _, b := range r.uniforms {
		b.Destroy()
	}
	r.uniforms = nil
	if r.up != nil {
		r.up.Destroy()
	}
	if r.table != nil {
		r.table.Destroy()
	}
	if r.ring != nil {
		r.ring.Destroy()
	}
	if r.rec != nil {
		r.rec.Destroy()
	}
	if r.sc != nil {
		r.sc.Destroy()
	}
	r.dc.Destroy()
	r.dc = nil
}
