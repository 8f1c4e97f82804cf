package vkframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andewx/vkframe/hal"
	"github.com/andewx/vkframe/hal/soft"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = "soft"
	cfg.Width, cfg.Height = 64, 48
	cfg.FenceTimeout = Duration(2 * time.Second)
	cfg.AcquireTimeout = Duration(2 * time.Second)
	cfg.Shaders = ShaderConfig{}
	return cfg
}

// newSoftContext opens a device context on a fresh soft instance.
func newSoftContext(t *testing.T, opts soft.Options) (*DeviceContext, *soft.Instance, *soft.Device) {
	t.Helper()
	inst := soft.New(opts)
	dc, err := NewDeviceContext(inst, testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		dc.Destroy()
		inst.Destroy()
	})
	return dc, inst, inst.Device()
}

// pattern returns n bytes that do not repeat with any small period.
func pattern(n int) []byte {
	out := make([]byte, n)
	var x uint32 = 2463534242
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = byte(x)
	}
	return out
}

func checkerboard(w, h, cell int, a, b [4]byte) []byte {
	out := make([]byte, 0, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				out = append(out, a[:]...)
			} else {
				out = append(out, b[:]...)
			}
		}
	}
	return out
}

var _ hal.Instance = (*soft.Instance)(nil)
