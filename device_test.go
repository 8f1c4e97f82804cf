package vkframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkframe/hal"
	"github.com/andewx/vkframe/hal/soft"
)

func adapter(name string, typ hal.AdapterType, families ...hal.QueueFamily) soft.AdapterConfig {
	return soft.AdapterConfig{Name: name, Type: typ, Families: families}
}

var (
	bothFamily     = hal.QueueFamily{Index: 0, Count: 1, Graphics: true, Transfer: true, Present: true}
	graphicsFamily = hal.QueueFamily{Index: 0, Count: 1, Graphics: true, Transfer: true}
	presentFamily  = hal.QueueFamily{Index: 1, Count: 1, Present: true}
)

func TestSelectAdapter(t *testing.T) {
	tests := []struct {
		name     string
		adapters []soft.AdapterConfig
		want     string
	}{
		{
			name: "discrete preferred",
			adapters: []soft.AdapterConfig{
				adapter("igpu", hal.AdapterIntegrated, bothFamily),
				adapter("dgpu", hal.AdapterDiscrete, bothFamily),
			},
			want: "dgpu",
		},
		{
			name: "enumeration order breaks ties",
			adapters: []soft.AdapterConfig{
				adapter("first", hal.AdapterIntegrated, bothFamily),
				adapter("second", hal.AdapterIntegrated, bothFamily),
			},
			want: "first",
		},
		{
			name: "incapable discrete is skipped",
			adapters: []soft.AdapterConfig{
				adapter("headless", hal.AdapterDiscrete, graphicsFamily),
				adapter("cpu", hal.AdapterCPU, bothFamily),
			},
			want: "cpu",
		},
		{
			name: "first discrete wins",
			adapters: []soft.AdapterConfig{
				adapter("cpu", hal.AdapterCPU, bothFamily),
				adapter("a", hal.AdapterDiscrete, bothFamily),
				adapter("b", hal.AdapterDiscrete, bothFamily),
			},
			want: "a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc, _, _ := newSoftContext(t, soft.Options{Adapters: tt.adapters})
			assert.Equal(t, tt.want, dc.Adapter().Name)
			assert.True(t, dc.SharedQueue())
		})
	}
}

func TestNoCapableAdapter(t *testing.T) {
	inst := soft.New(soft.Options{Adapters: []soft.AdapterConfig{
		adapter("compute", hal.AdapterDiscrete, hal.QueueFamily{Index: 0, Count: 1, Transfer: true}),
		adapter("graphics only", hal.AdapterIntegrated, graphicsFamily),
	}})
	defer inst.Destroy()
	_, err := NewDeviceContext(inst, testConfig(), nil)
	assert.ErrorIs(t, err, ErrNoCapableDevice)
	assert.True(t, IsFatal(err))
}

func TestSeparatePresentFamily(t *testing.T) {
	dc, _, _ := newSoftContext(t, soft.Options{Adapters: []soft.AdapterConfig{
		adapter("split", hal.AdapterDiscrete, graphicsFamily, presentFamily),
	}})
	assert.False(t, dc.SharedQueue())
	assert.Equal(t, uint32(0), dc.GraphicsFamily())
	assert.Equal(t, uint32(1), dc.PresentFamily())
	assert.Equal(t, uint32(0), dc.GraphicsQueue().Family())
	assert.Equal(t, uint32(1), dc.PresentQueue().Family())
}

func TestQueueFamiliesPreferShared(t *testing.T) {
	g, p, ok := queueFamilies([]hal.QueueFamily{
		graphicsFamily,
		presentFamily,
		{Index: 2, Graphics: true, Present: true},
	})
	require.True(t, ok)
	assert.Equal(t, uint32(2), g)
	assert.Equal(t, uint32(2), p)
}

func TestDeviceContextDestroyIsIdempotent(t *testing.T) {
	inst := soft.New(soft.Options{})
	defer inst.Destroy()
	dc, err := NewDeviceContext(inst, testConfig(), nil)
	require.NoError(t, err)
	dc.Destroy()
	dc.Destroy()
	assert.Nil(t, dc.Device())
}
