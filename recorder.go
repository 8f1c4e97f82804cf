package vkframe

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// DrawFunc records the draws of one frame inside the render pass.
type DrawFunc func(cmd hal.CommandBuffer, imageIndex uint32) error

// OverlayFunc records after the render pass while the image is still a color
// attachment. The debug UI hooks in here.
type OverlayFunc func(cmd hal.CommandBuffer, imageIndex uint32) error

type RecorderOptions struct {
	ClearColor [4]float32
}

// Recorder owns the render pass and one framebuffer per swap chain image,
// and writes the fixed command sequence of a frame around the caller's
// draws.
type Recorder struct {
	dc     *DeviceContext
	sc     *SwapchainManager
	logger *slog.Logger
	opts   RecorderOptions

	pass         hal.RenderPass
	framebuffers []hal.Framebuffer
	overlays     []OverlayFunc
}

// NewRecorder creates the render pass for the current swap chain format and
// registers itself to rebuild the framebuffers on every recreation.
func NewRecorder(dc *DeviceContext, sc *SwapchainManager, opts RecorderOptions) (*Recorder, error) {
	pass, err := dc.Device().CreateRenderPass(hal.RenderPassDesc{
		ColorFormat:        sc.Format(),
		ColorLoad:          hal.LoadOpClear,
		ColorInitialLayout: hal.LayoutColorAttachment,
		ColorFinalLayout:   hal.LayoutColorAttachment,
		DepthFormat:        sc.DepthFormat(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create render pass")
	}
	r := &Recorder{dc: dc, sc: sc, logger: dc.Logger(), opts: opts, pass: pass}
	if err := r.Rebuild(); err != nil {
		r.Destroy()
		return nil, err
	}
	sc.OnRecreate(r.Rebuild)
	return r, nil
}

// Rebuild recreates the framebuffers for the current swap chain views.
func (r *Recorder) Rebuild() error {
	r.destroyFramebuffers()
	views := r.sc.Views()
	fbs := make([]hal.Framebuffer, 0, len(views))
	for i, v := range views {
		attachments := []hal.ImageView{v}
		if d := r.sc.DepthView(); d != nil {
			attachments = append(attachments, d)
		}
		fb, err := r.dc.Device().CreateFramebuffer(hal.FramebufferDesc{
			RenderPass:  r.pass,
			Attachments: attachments,
			Extent:      r.sc.Extent(),
		})
		if err != nil {
			for _, fb := range fbs {
				fb.Destroy()
			}
			return errors.Wrapf(err, "create framebuffer %d", i)
		}
		fbs = append(fbs, fb)
	}
	r.framebuffers = fbs
	return nil
}

// AddOverlay appends fn to the hooks run after the render pass.
func (r *Recorder) AddOverlay(fn OverlayFunc) {
	r.overlays = append(r.overlays, fn)
}

func (r *Recorder) RenderPass() hal.RenderPass { return r.pass }

// SetClearColor changes the color the render pass clears to.
func (r *Recorder) SetClearColor(c [4]float32) { r.opts.ClearColor = c }

// Record writes the whole command buffer for one frame: transition to color
// attachment, the render pass around draw, the overlays and the transition
// to the present layout.
func (r *Recorder) Record(cmd hal.CommandBuffer, imageIndex uint32, draw DrawFunc) error {
	if err := r.record(cmd, imageIndex, draw); err != nil {
		return &RecordError{ImageIndex: imageIndex, Err: err}
	}
	return nil
}

func (r *Recorder) record(cmd hal.CommandBuffer, imageIndex uint32, draw DrawFunc) (err error) {
	defer checkErr(&err)
	if int(imageIndex) >= len(r.framebuffers) {
		return errors.Errorf("image index %d out of range, have %d framebuffers", imageIndex, len(r.framebuffers))
	}
	image := r.sc.Images()[imageIndex]
	extent := r.sc.Extent()

	if err := cmd.Begin(hal.UsageOneTimeSubmit); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	cmd.PipelineBarrier(hal.StageTopOfPipe, hal.StageColorAttachmentOutput, nil, []hal.ImageBarrier{{
		Image:     image,
		Aspect:    hal.AspectColor,
		SrcAccess: hal.AccessMemoryRead,
		DstAccess: hal.AccessColorAttachmentWrite,
		OldLayout: hal.LayoutUndefined,
		NewLayout: hal.LayoutColorAttachment,
	}})
	cmd.BeginRenderPass(hal.RenderPassBegin{
		RenderPass:  r.pass,
		Framebuffer: r.framebuffers[imageIndex],
		Area:        hal.Rect{Extent: extent},
		ClearColor:  r.opts.ClearColor,
		ClearDepth:  1,
	})
	cmd.SetViewport(hal.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MaxDepth: 1,
	})
	cmd.SetScissor(hal.Rect{Extent: extent})
	if draw != nil {
		if err := draw(cmd, imageIndex); err != nil {
			return errors.Wrap(err, "draw")
		}
	}
	cmd.EndRenderPass()

	for _, fn := range r.overlays {
		if err := fn(cmd, imageIndex); err != nil {
			return errors.Wrap(err, "overlay")
		}
	}

	cmd.PipelineBarrier(hal.StageColorAttachmentOutput, hal.StageBottomOfPipe, nil, []hal.ImageBarrier{{
		Image:     image,
		Aspect:    hal.AspectColor,
		SrcAccess: hal.AccessColorAttachmentWrite,
		DstAccess: hal.AccessMemoryRead,
		OldLayout: hal.LayoutColorAttachment,
		NewLayout: hal.LayoutPresentSrc,
	}})
	return errors.Wrap(cmd.End(), "end command buffer")
}

func (r *Recorder) destroyFramebuffers() {
	for _, fb := range r.framebuffers {
		fb.Destroy()
	}
	r.framebuffers = nil
}

func (r *Recorder) Destroy() {
	r.destroyFramebuffers()
	if r.pass != nil {
		r.pass.Destroy()
		r.pass = nil
	}
}
