package vkframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkframe/hal"
	"github.com/andewx/vkframe/hal/soft"
)

type bindingResources struct {
	buf     hal.Buffer
	view    hal.ImageView
	sampler hal.Sampler
}

func newBindingResources(t *testing.T, dev hal.Device) bindingResources {
	t.Helper()
	buf, err := dev.CreateBuffer(hal.BufferDesc{Size: uniformSize, Usage: hal.BufferUsageUniform, Memory: hal.MemoryHostVisible})
	require.NoError(t, err)
	img, err := dev.CreateImage(hal.ImageDesc{
		Format: hal.FormatR8G8B8A8Unorm,
		Extent: hal.Extent{Width: 4, Height: 4},
		Usage:  hal.ImageUsageSampled,
	})
	require.NoError(t, err)
	view, err := dev.CreateImageView(img, hal.AspectColor)
	require.NoError(t, err)
	sampler, err := dev.CreateSampler(hal.SamplerDesc{MagFilter: hal.FilterLinear, MinFilter: hal.FilterLinear})
	require.NoError(t, err)
	t.Cleanup(func() {
		sampler.Destroy()
		view.Destroy()
		img.Destroy()
		buf.Destroy()
	})
	return bindingResources{buf: buf, view: view, sampler: sampler}
}

func TestBindingTableUpdate(t *testing.T) {
	dc, _, _ := newSoftContext(t, soft.Options{})
	table, err := NewBindingTable(dc, 3, 1)
	require.NoError(t, err)
	defer table.Destroy()
	require.Equal(t, 3, table.Len())
	assert.NotNil(t, table.Layout())

	res := newBindingResources(t, dc.Device())
	require.NoError(t, table.Update(1, res.buf, res.view, res.sampler))

	set := table.Set(1).(*soft.BindingSet)
	ubo, ok := set.Write(uniformBinding)
	require.True(t, ok)
	assert.Equal(t, hal.BindingUniformBuffer, ubo.Type)
	assert.Equal(t, res.buf, ubo.Buffer)
	assert.Equal(t, uint64(uniformSize), ubo.Range)

	tex, ok := set.Write(textureBinding)
	require.True(t, ok)
	assert.Equal(t, hal.BindingCombinedImageSampler, tex.Type)
	assert.Equal(t, res.view, tex.View)
	assert.Equal(t, res.sampler, tex.Sampler)
	assert.Equal(t, hal.LayoutShaderReadOnly, tex.Layout)

	_, ok = table.Set(0).(*soft.BindingSet).Write(uniformBinding)
	assert.False(t, ok, "other slots are untouched")
}

func TestBindingTableSlotOutOfRange(t *testing.T) {
	dc, _, _ := newSoftContext(t, soft.Options{})
	table, err := NewBindingTable(dc, 2, 1)
	require.NoError(t, err)
	defer table.Destroy()
	res := newBindingResources(t, dc.Device())

	for _, slot := range []int{-1, 2, 7} {
		assert.ErrorIs(t, table.Update(slot, res.buf, res.view, res.sampler), ErrSlotOutOfRange, "slot %d", slot)
		assert.Nil(t, table.Set(slot))
	}
	assert.ErrorIs(t, table.Update(0, nil, res.view, res.sampler), hal.ErrInvalidState)
	assert.ErrorIs(t, table.Update(0, res.buf, nil, res.sampler), hal.ErrInvalidState)
	assert.ErrorIs(t, table.Update(0, res.buf, res.view, nil), hal.ErrInvalidState)
}

func TestBindingTableNeedsSlots(t *testing.T) {
	dc, _, dev := newSoftContext(t, soft.Options{})
	before := dev.LiveObjects()
	_, err := NewBindingTable(dc, 0, 1)
	assert.Error(t, err)

	table, err := NewBindingTable(dc, 2, 0)
	require.NoError(t, err)
	table.Destroy()
	table.Destroy()
	assert.Equal(t, before, dev.LiveObjects())
}
