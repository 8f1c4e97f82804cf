package vkframe

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

var (
	// ErrNoCapableDevice is returned when no adapter can both draw and
	// present to the surface.
	ErrNoCapableDevice = errors.New("vkframe: no adapter with graphics and present support")
	// ErrFrameSkipped means the swap chain was stale and nothing was submitted
	// for this iteration. The caller just tries again.
	ErrFrameSkipped      = errors.New("vkframe: frame skipped, swap chain is stale")
	ErrSlotOutOfRange    = errors.New("vkframe: binding slot out of range")
	ErrStaleHandle       = errors.New("vkframe: stale mesh handle")
	ErrEmptyUpload       = errors.New("vkframe: upload of zero bytes")
	ErrUploadInFrame     = errors.New("vkframe: upload while a frame is being recorded")
	ErrImageCountChanged = errors.New("vkframe: swap chain image count changed on recreation")
	ErrZeroExtent        = errors.New("vkframe: zero swap chain extent")
)

// UploadError reports a failed staged transfer. It is recoverable: the
// destination resource was not created and nothing else was touched.
type UploadError struct {
	Op   string
	Size uint64
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("vkframe: %s of %d bytes: %v", e.Op, e.Size, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// RecordError reports a failure while recording the commands of one frame.
type RecordError struct {
	ImageIndex uint32
	Err        error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("vkframe: recording commands for image %d: %v", e.ImageIndex, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// IsFatal reports whether err should end the render loop. Staleness is
// handled inside the frame loop and failed uploads leave no partial state,
// everything else is treated like a lost device.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFrameSkipped) || hal.IsStale(err) {
		return false
	}
	var up *UploadError
	return !errors.As(err, &up)
}

// Fatal runs the finalizers, logs err and exits the process. It does nothing
// when err is nil.
func Fatal(err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Error("fatal", "err", fmt.Sprintf("%+v", err))
	os.Exit(1)
}

// checkErr turns a panic in the deferring function into an error.
func checkErr(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = errors.WithStack(e)
			return
		}
		*err = errors.Errorf("%+v", v)
	}
}
