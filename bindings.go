package vkframe

import (
	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

const (
	uniformBinding = 0
	textureBinding = 1
)

// BindingTable holds one binding set per frame slot. Binding 0 is the
// slot's uniform buffer and binding 1 the texture the fragment stage
// samples. A set is only rewritten after its slot's fence was waited on.
type BindingTable struct {
	dc     *DeviceContext
	layout hal.BindingLayout
	pool   hal.BindingPool
	sets   []hal.BindingSet
}

func NewBindingTable(dc *DeviceContext, slots, maxTextures int) (*BindingTable, error) {
	if slots < 1 {
		return nil, errors.Errorf("binding table needs at least one slot, got %d", slots)
	}
	if maxTextures < 1 {
		maxTextures = 1
	}
	dev := dc.Device()
	layout, err := dev.CreateBindingLayout([]hal.BindingLayoutEntry{
		{Binding: uniformBinding, Type: hal.BindingUniformBuffer, Count: 1, Stages: hal.ShaderStageVertex},
		{Binding: textureBinding, Type: hal.BindingCombinedImageSampler, Count: 1, Stages: hal.ShaderStageFragment},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create binding layout")
	}
	t := &BindingTable{dc: dc, layout: layout}
	t.pool, err = dev.CreateBindingPool(hal.BindingPoolDesc{
		MaxSets: uint32(slots),
		Sizes: []hal.BindingPoolSize{
			{Type: hal.BindingUniformBuffer, Count: uint32(slots)},
			{Type: hal.BindingCombinedImageSampler, Count: uint32(slots * maxTextures)},
		},
	})
	if err != nil {
		t.Destroy()
		return nil, errors.Wrap(err, "create binding pool")
	}
	if t.sets, err = t.pool.Allocate(layout, slots); err != nil {
		t.Destroy()
		return nil, errors.Wrap(err, "allocate binding sets")
	}
	return t, nil
}

// Update points both bindings of the slot's set at the given resources.
func (t *BindingTable) Update(slot int, buf hal.Buffer, view hal.ImageView, sampler hal.Sampler) error {
	if slot < 0 || slot >= len(t.sets) {
		return errors.Wrapf(ErrSlotOutOfRange, "slot %d of %d", slot, len(t.sets))
	}
	if buf == nil || view == nil || sampler == nil {
		return errors.Wrapf(hal.ErrInvalidState, "binding set %d needs a buffer, a view and a sampler", slot)
	}
	set := t.sets[slot]
	err := t.dc.Device().UpdateBindingSets([]hal.BindingWrite{
		{
			Set:     set,
			Binding: uniformBinding,
			Type:    hal.BindingUniformBuffer,
			Buffer:  buf,
			Range:   buf.Size(),
		},
		{
			Set:     set,
			Binding: textureBinding,
			Type:    hal.BindingCombinedImageSampler,
			View:    view,
			Sampler: sampler,
			Layout:  hal.LayoutShaderReadOnly,
		},
	})
	return errors.Wrapf(err, "update binding set %d", slot)
}

// Set returns the binding set of slot, or nil when slot is out of range.
func (t *BindingTable) Set(slot int) hal.BindingSet {
	if slot < 0 || slot >= len(t.sets) {
		return nil
	}
	return t.sets[slot]
}

func (t *BindingTable) Layout() hal.BindingLayout { return t.layout }

func (t *BindingTable) Len() int { return len(t.sets) }

// Destroy releases the pool, which frees every set, then the layout.
func (t *BindingTable) Destroy() {
	t.sets = nil
	if t.pool != nil {
		t.pool.Destroy()
		t.pool = nil
	}
	if t.layout != nil {
		t.layout.Destroy()
		t.layout = nil
	}
}
