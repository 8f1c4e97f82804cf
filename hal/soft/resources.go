package soft

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

type Buffer struct {
	object
	desc hal.BufferDesc

	mu   sync.Mutex
	data []byte
}

func (b *Buffer) Size() uint64           { return b.desc.Size }
func (b *Buffer) Usage() hal.BufferUsage { return b.desc.Usage }
func (b *Buffer) Memory() hal.MemoryKind { return b.desc.Memory }

func (b *Buffer) Write(offset uint64, data []byte) error {
	if err := b.mappable(offset, uint64(len(data))); err != nil {
		return err
	}
	b.mu.Lock()
	copy(b.data[offset:], data)
	b.mu.Unlock()
	return nil
}

func (b *Buffer) Read(offset uint64, dst []byte) error {
	if err := b.mappable(offset, uint64(len(dst))); err != nil {
		return err
	}
	b.mu.Lock()
	copy(dst, b.data[offset:])
	b.mu.Unlock()
	return nil
}

func (b *Buffer) mappable(offset, n uint64) error {
	if b.destroyed() {
		b.dev.violate("host access to a destroyed buffer")
		return errors.Wrap(hal.ErrInvalidState, "soft: buffer destroyed")
	}
	if b.desc.Memory != hal.MemoryHostVisible {
		return errors.WithStack(hal.ErrNotHostVisible)
	}
	if offset+n > b.desc.Size {
		return errors.Errorf("soft: access of %d bytes at %d overflows a %d byte buffer", n, offset, b.desc.Size)
	}
	return nil
}

func (b *Buffer) Destroy() {
	b.release(func() { b.dev.free(b.desc.Size) })
}

type Image struct {
	object
	desc hal.ImageDesc
	// owned images belong to a swap chain and are not destroyed by callers.
	owned bool

	mu     sync.Mutex
	data   []byte
	layout hal.ImageLayout
}

func (i *Image) Format() hal.Format    { return i.desc.Format }
func (i *Image) Extent() hal.Extent    { return i.desc.Extent }
func (i *Image) Usage() hal.ImageUsage { return i.desc.Usage }

// Layout returns the layout the image is in after all executed work.
func (i *Image) Layout() hal.ImageLayout {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.layout
}

// Pixels returns a copy of the image contents.
func (i *Image) Pixels() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.data...)
}

func (i *Image) Destroy() {
	if i.owned {
		return
	}
	i.release(func() { i.dev.free(uint64(len(i.data))) })
}

type ImageView struct {
	object
	image  *Image
	aspect hal.Aspect
}

func (v *ImageView) Image() hal.Image { return v.image }

func (v *ImageView) Destroy() { v.release(nil) }

type Sampler struct {
	object
	desc hal.SamplerDesc
}

func (s *Sampler) Destroy() { s.release(nil) }

type RenderPass struct {
	object
	desc hal.RenderPassDesc
}

func (r *RenderPass) Destroy() { r.release(nil) }

type Framebuffer struct {
	object
	pass   *RenderPass
	views  []*ImageView
	extent hal.Extent
}

func (f *Framebuffer) Destroy() { f.release(nil) }

type BindingLayout struct {
	object
	entries map[uint32]hal.BindingLayoutEntry
}

func (l *BindingLayout) Destroy() { l.release(nil) }

type BindingPool struct {
	object

	mu        sync.Mutex
	remaining uint32
}

func (p *BindingPool) Allocate(layout hal.BindingLayout, count int) ([]hal.BindingSet, error) {
	l, ok := layout.(*BindingLayout)
	if !ok || l.destroyed() {
		return nil, errors.Wrap(hal.ErrInvalidState, "soft: invalid binding layout")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if uint32(count) > p.remaining {
		return nil, errors.Wrapf(hal.ErrOutOfMemory, "soft: binding pool has %d sets left, %d requested", p.remaining, count)
	}
	p.remaining -= uint32(count)
	out := make([]hal.BindingSet, count)
	for i := range out {
		out[i] = &BindingSet{layout: l, writes: map[uint32]hal.BindingWrite{}}
	}
	return out, nil
}

func (p *BindingPool) Destroy() { p.release(nil) }

// BindingSet holds the last write made to each binding.
type BindingSet struct {
	layout *BindingLayout

	mu     sync.Mutex
	writes map[uint32]hal.BindingWrite
}

// Write returns the resources currently bound at binding.
func (s *BindingSet) Write(binding uint32) (hal.BindingWrite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writes[binding]
	return w, ok
}

type ShaderModule struct {
	object
	words int
}

func (m *ShaderModule) Destroy() { m.release(nil) }

type Pipeline struct {
	object
	desc hal.PipelineDesc
}

func (p *Pipeline) Destroy() { p.release(nil) }
