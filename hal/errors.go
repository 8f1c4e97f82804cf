package hal

import "github.com/pkg/errors"

// Backend results that callers are expected to branch on. Backends wrap them
// with context; use errors.Is to test.
var (
	// ErrOutOfDate means the surface changed and the swap chain must be
	// recreated before it can be used again.
	ErrOutOfDate = errors.New("hal: swap chain out of date")
	// ErrSuboptimal means the operation succeeded but the swap chain no
	// longer matches the surface exactly.
	ErrSuboptimal = errors.New("hal: swap chain suboptimal")
	ErrTimeout    = errors.New("hal: wait timed out")
	ErrNotReady   = errors.New("hal: not ready")
	ErrDeviceLost = errors.New("hal: device lost")
	// ErrOutOfMemory covers both host and device allocation failures.
	ErrOutOfMemory    = errors.New("hal: out of memory")
	ErrUnsupported    = errors.New("hal: unsupported")
	ErrInvalidState   = errors.New("hal: invalid object state")
	ErrNotHostVisible = errors.New("hal: memory is not host visible")
	ErrSurfaceLost    = errors.New("hal: surface lost")
)

// IsStale reports whether err says the swap chain no longer matches its
// surface.
func IsStale(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal)
}
