package vkframe

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// Uploader moves data between host memory and device local resources
// through host visible staging buffers. Every call records a one-shot
// command buffer, submits it and waits for the graphics queue to go idle, so
// it must not be used while a frame is being recorded.
type Uploader struct {
	dc       *DeviceContext
	queue    hal.Queue
	commands *CommandBufferManager
	logger   *slog.Logger

	// inFrame reports whether the render loop is between BeginFrame and
	// EndFrame.
	inFrame func() bool
}

func NewUploader(dc *DeviceContext) (*Uploader, error) {
	m, err := NewCommandBufferManager(dc.Device(), dc.GraphicsFamily())
	if err != nil {
		return nil, err
	}
	return &Uploader{
		dc:       dc,
		queue:    dc.GraphicsQueue(),
		commands: m,
		logger:   dc.Logger(),
		inFrame:  func() bool { return false },
	}, nil
}

func (u *Uploader) check(op string, size uint64) error {
	if size == 0 {
		return &UploadError{Op: op, Err: errors.WithStack(ErrEmptyUpload)}
	}
	if u.inFrame() {
		return &UploadError{Op: op, Size: size, Err: errors.WithStack(ErrUploadInFrame)}
	}
	return nil
}

func (u *Uploader) staging(data []byte, size uint64, usage hal.BufferUsage) (hal.Buffer, error) {
	buf, err := u.dc.Device().CreateBuffer(hal.BufferDesc{Size: size, Usage: usage, Memory: hal.MemoryHostVisible})
	if err != nil {
		return nil, errors.Wrap(err, "create staging buffer")
	}
	if data != nil {
		if err := buf.Write(0, data); err != nil {
			buf.Destroy()
			return nil, errors.Wrap(err, "write staging buffer")
		}
	}
	return buf, nil
}

// oneShot records fn into a fresh command buffer, submits it and waits for
// the queue to drain.
func (u *Uploader) oneShot(fn func(cmd hal.CommandBuffer)) (err error) {
	defer checkErr(&err)
	cmd, err := u.commands.NewCommandBuffer()
	if err != nil {
		return err
	}
	defer u.commands.Free(cmd)
	if err := cmd.Begin(hal.UsageOneTimeSubmit); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	fn(cmd)
	if err := cmd.End(); err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	if err := u.queue.Submit([]hal.SubmitInfo{{CommandBuffers: []hal.CommandBuffer{cmd}}}, nil); err != nil {
		return errors.Wrap(err, "submit transfer")
	}
	return errors.Wrap(u.queue.WaitIdle(), "wait for transfer")
}

// bufferReadAccess is the access and stage that consume a buffer with the
// given usage.
func bufferReadAccess(usage hal.BufferUsage) (hal.Access, hal.PipelineStage) {
	switch {
	case usage&hal.BufferUsageVertex != 0:
		return hal.AccessVertexAttributeRead, hal.StageVertexInput
	case usage&hal.BufferUsageIndex != 0:
		return hal.AccessIndexRead, hal.StageVertexInput
	case usage&hal.BufferUsageUniform != 0:
		return hal.AccessUniformRead, hal.StageVertexShader | hal.StageFragmentShader
	default:
		return hal.AccessShaderRead, hal.StageVertexShader | hal.StageFragmentShader
	}
}

// layoutAccess is the access and stage associated with an image layout when
// it is the source or destination of a transfer barrier.
func layoutAccess(l hal.ImageLayout) (hal.Access, hal.PipelineStage) {
	switch l {
	case hal.LayoutShaderReadOnly:
		return hal.AccessShaderRead, hal.StageFragmentShader
	case hal.LayoutColorAttachment:
		return hal.AccessColorAttachmentWrite, hal.StageColorAttachmentOutput
	case hal.LayoutTransferDst:
		return hal.AccessTransferWrite, hal.StageTransfer
	case hal.LayoutTransferSrc:
		return hal.AccessTransferRead, hal.StageTransfer
	case hal.LayoutPresentSrc:
		return hal.AccessMemoryRead, hal.StageBottomOfPipe
	default:
		return hal.AccessNone, hal.StageTopOfPipe
	}
}

// UploadBuffer creates a device local buffer holding data.
func (u *Uploader) UploadBuffer(usage hal.BufferUsage, data []byte) (hal.Buffer, error) {
	size := uint64(len(data))
	if err := u.check("buffer upload", size); err != nil {
		return nil, err
	}
	fail := func(err error) (hal.Buffer, error) {
		return nil, &UploadError{Op: "buffer upload", Size: size, Err: err}
	}
	staging, err := u.staging(data, size, hal.BufferUsageTransferSrc)
	if err != nil {
		return fail(err)
	}
	defer staging.Destroy()

	dst, err := u.dc.Device().CreateBuffer(hal.BufferDesc{
		Size:   size,
		Usage:  usage | hal.BufferUsageTransferDst | hal.BufferUsageTransferSrc,
		Memory: hal.MemoryDeviceLocal,
	})
	if err != nil {
		return fail(errors.Wrap(err, "create buffer"))
	}
	access, stage := bufferReadAccess(usage)
	err = u.oneShot(func(cmd hal.CommandBuffer) {
		cmd.PipelineBarrier(hal.StageHost, hal.StageTransfer, []hal.BufferBarrier{{
			Buffer: staging, SrcAccess: hal.AccessHostWrite, DstAccess: hal.AccessTransferRead,
		}}, nil)
		cmd.CopyBuffer(staging, dst, []hal.BufferCopy{{Size: size}})
		cmd.PipelineBarrier(hal.StageTransfer, stage, []hal.BufferBarrier{{
			Buffer: dst, SrcAccess: hal.AccessTransferWrite, DstAccess: access,
		}}, nil)
	})
	if err != nil {
		dst.Destroy()
		return fail(err)
	}
	u.logger.Debug("buffer uploaded", "bytes", size)
	return dst, nil
}

// UploadImage creates a device local image from tightly packed pixels and
// leaves it in the shader read-only layout.
func (u *Uploader) UploadImage(desc hal.ImageDesc, pixels []byte) (hal.Image, error) {
	size := uint64(len(pixels))
	if err := u.check("image upload", size); err != nil {
		return nil, err
	}
	fail := func(err error) (hal.Image, error) {
		return nil, &UploadError{Op: "image upload", Size: size, Err: err}
	}
	want := uint64(desc.Extent.Width) * uint64(desc.Extent.Height) * uint64(desc.Format.BytesPerPixel())
	if want == 0 || want != size {
		return fail(errors.Errorf("%dx%d %s image needs %d bytes", desc.Extent.Width, desc.Extent.Height, desc.Format, want))
	}
	staging, err := u.staging(pixels, size, hal.BufferUsageTransferSrc)
	if err != nil {
		return fail(err)
	}
	defer staging.Destroy()

	desc.Usage |= hal.ImageUsageTransferDst | hal.ImageUsageTransferSrc | hal.ImageUsageSampled
	img, err := u.dc.Device().CreateImage(desc)
	if err != nil {
		return fail(errors.Wrap(err, "create image"))
	}
	err = u.oneShot(func(cmd hal.CommandBuffer) {
		cmd.PipelineBarrier(hal.StageTopOfPipe, hal.StageTransfer, nil, []hal.ImageBarrier{{
			Image:     img,
			Aspect:    hal.AspectColor,
			SrcAccess: hal.AccessNone,
			DstAccess: hal.AccessTransferWrite,
			OldLayout: hal.LayoutUndefined,
			NewLayout: hal.LayoutTransferDst,
		}})
		cmd.CopyBufferToImage(staging, img, hal.LayoutTransferDst, []hal.BufferImageCopy{{
			ImageExtent: desc.Extent,
			Aspect:      hal.AspectColor,
		}})
		cmd.PipelineBarrier(hal.StageTransfer, hal.StageFragmentShader, nil, []hal.ImageBarrier{{
			Image:     img,
			Aspect:    hal.AspectColor,
			SrcAccess: hal.AccessTransferWrite,
			DstAccess: hal.AccessShaderRead,
			OldLayout: hal.LayoutTransferDst,
			NewLayout: hal.LayoutShaderReadOnly,
		}})
	})
	if err != nil {
		img.Destroy()
		return fail(err)
	}
	u.logger.Debug("image uploaded", "extent", desc.Extent, "format", desc.Format)
	return img, nil
}

// DownloadBuffer copies the first size bytes of buf back to the host.
func (u *Uploader) DownloadBuffer(buf hal.Buffer, size uint64) ([]byte, error) {
	if err := u.check("buffer download", size); err != nil {
		return nil, err
	}
	fail := func(err error) ([]byte, error) {
		return nil, &UploadError{Op: "buffer download", Size: size, Err: err}
	}
	if size > buf.Size() {
		return fail(errors.Errorf("buffer holds %d bytes", buf.Size()))
	}
	staging, err := u.staging(nil, size, hal.BufferUsageTransferDst)
	if err != nil {
		return fail(err)
	}
	defer staging.Destroy()
	err = u.oneShot(func(cmd hal.CommandBuffer) {
		cmd.PipelineBarrier(hal.StageAllCommands, hal.StageTransfer, []hal.BufferBarrier{{
			Buffer: buf, SrcAccess: hal.AccessMemoryWrite, DstAccess: hal.AccessTransferRead,
		}}, nil)
		cmd.CopyBuffer(buf, staging, []hal.BufferCopy{{Size: size}})
		cmd.PipelineBarrier(hal.StageTransfer, hal.StageHost, []hal.BufferBarrier{{
			Buffer: staging, SrcAccess: hal.AccessTransferWrite, DstAccess: hal.AccessHostRead,
		}}, nil)
	})
	if err != nil {
		return fail(err)
	}
	out := make([]byte, size)
	if err := staging.Read(0, out); err != nil {
		return fail(errors.Wrap(err, "read staging buffer"))
	}
	return out, nil
}

// DownloadImage copies the pixels of img back to the host. layout is the
// layout img is in; the image is returned to it afterwards.
func (u *Uploader) DownloadImage(img hal.Image, layout hal.ImageLayout) ([]byte, error) {
	ext := img.Extent()
	size := uint64(ext.Width) * uint64(ext.Height) * uint64(img.Format().BytesPerPixel())
	if err := u.check("image download", size); err != nil {
		return nil, err
	}
	fail := func(err error) ([]byte, error) {
		return nil, &UploadError{Op: "image download", Size: size, Err: err}
	}
	staging, err := u.staging(nil, size, hal.BufferUsageTransferDst)
	if err != nil {
		return fail(err)
	}
	defer staging.Destroy()
	access, stage := layoutAccess(layout)
	restore := layout
	if restore == hal.LayoutUndefined {
		restore = hal.LayoutTransferSrc
	}
	restoreAccess, restoreStage := layoutAccess(restore)
	err = u.oneShot(func(cmd hal.CommandBuffer) {
		cmd.PipelineBarrier(stage, hal.StageTransfer, nil, []hal.ImageBarrier{{
			Image:     img,
			Aspect:    hal.AspectColor,
			SrcAccess: access,
			DstAccess: hal.AccessTransferRead,
			OldLayout: layout,
			NewLayout: hal.LayoutTransferSrc,
		}})
		cmd.CopyImageToBuffer(img, hal.LayoutTransferSrc, staging, []hal.BufferImageCopy{{
			ImageExtent: ext,
			Aspect:      hal.AspectColor,
		}})
		cmd.PipelineBarrier(hal.StageTransfer, restoreStage|hal.StageHost, []hal.BufferBarrier{{
			Buffer: staging, SrcAccess: hal.AccessTransferWrite, DstAccess: hal.AccessHostRead,
		}}, []hal.ImageBarrier{{
			Image:     img,
			Aspect:    hal.AspectColor,
			SrcAccess: hal.AccessTransferRead,
			DstAccess: restoreAccess,
			OldLayout: hal.LayoutTransferSrc,
			NewLayout: restore,
		}})
	})
	if err != nil {
		return fail(err)
	}
	out := make([]byte, size)
	if err := staging.Read(0, out); err != nil {
		return fail(errors.Wrap(err, "read staging buffer"))
	}
	return out, nil
}

// WriteHostBuffer writes data into a host visible buffer, such as a per-slot
// uniform buffer. The caller guarantees the GPU is not reading it.
func (u *Uploader) WriteHostBuffer(buf hal.Buffer, offset uint64, data []byte) error {
	if len(data) == 0 {
		return &UploadError{Op: "host write", Err: errors.WithStack(ErrEmptyUpload)}
	}
	if err := buf.Write(offset, data); err != nil {
		return &UploadError{Op: "host write", Size: uint64(len(data)), Err: err}
	}
	return nil
}

func (u *Uploader) Destroy() {
	if u.commands != nil {
		u.commands.Destroy()
		u.commands = nil
	}
}
