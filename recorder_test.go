package vkframe

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkframe/hal"
	"github.com/andewx/vkframe/hal/soft"
)

func TestRecordLeavesImageInPresentLayout(t *testing.T) {
	f := newRing(t, 2, 3)
	fr, presented := f.frame(t)
	require.True(t, presented)
	require.NoError(t, f.dc.WaitIdle())

	img := f.sc.Images()[fr.ImageIndex].(*soft.Image)
	assert.Equal(t, hal.LayoutPresentSrc, img.Layout())
	// Clear color (0, 0, 1, 1) in BGRA byte order.
	px := img.Pixels()
	assert.Equal(t, []byte{255, 0, 0, 255}, px[:4])
	assert.Equal(t, []byte{255, 0, 0, 255}, px[len(px)-4:])
	assert.Empty(t, f.dev.Violations())
}

func TestRecordRunsOverlaysAfterThePass(t *testing.T) {
	f := newRing(t, 2, 3)
	var order []string
	f.rec.AddOverlay(func(cmd hal.CommandBuffer, imageIndex uint32) error {
		order = append(order, "first")
		return nil
	})
	f.rec.AddOverlay(func(cmd hal.CommandBuffer, imageIndex uint32) error {
		order = append(order, "second")
		return nil
	})

	fr, err := f.ring.BeginFrame(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.rec.Record(fr.Cmd, fr.ImageIndex, func(cmd hal.CommandBuffer, imageIndex uint32) error {
		assert.Equal(t, fr.ImageIndex, imageIndex)
		order = append(order, "draw")
		return nil
	}))
	_, err = f.ring.EndFrame(fr)
	require.NoError(t, err)
	assert.Equal(t, []string{"draw", "first", "second"}, order)
}

func newLooseCommandBuffer(t *testing.T, f *ringFixture) hal.CommandBuffer {
	t.Helper()
	m, err := NewCommandBufferManager(f.dc.Device(), f.dc.GraphicsFamily())
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	cmd, err := m.NewCommandBuffer()
	require.NoError(t, err)
	return cmd
}

func TestRecordErrors(t *testing.T) {
	f := newRing(t, 1, 2)
	boom := errors.New("boom")

	var recErr *RecordError
	err := f.rec.Record(newLooseCommandBuffer(t, f), 0, func(hal.CommandBuffer, uint32) error { return boom })
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, uint32(0), recErr.ImageIndex)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsFatal(err))

	f.rec.AddOverlay(func(hal.CommandBuffer, uint32) error { return boom })
	err = f.rec.Record(newLooseCommandBuffer(t, f), 1, nil)
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, uint32(1), recErr.ImageIndex)
	assert.ErrorIs(t, err, boom)

	err = f.rec.Record(newLooseCommandBuffer(t, f), 9, nil)
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, uint32(9), recErr.ImageIndex)
}

func TestRecorderRebuildsOnRecreate(t *testing.T) {
	f := newRing(t, 2, 3)
	f.frame(t)

	f.inst.Window().Resize(48, 40)
	require.NoError(t, f.sc.Recreate())
	assert.Len(t, f.rec.framebuffers, 3)

	for i := 0; i < 4; i++ {
		_, presented := f.frame(t)
		assert.True(t, presented)
	}
	require.NoError(t, f.dc.WaitIdle())
	assert.Empty(t, f.dev.Violations())
	for _, p := range f.dev.Presented()[1:] {
		assert.Equal(t, hal.Extent{Width: 48, Height: 40}, p.Extent)
	}
}

func TestRecorderSetClearColor(t *testing.T) {
	f := newRing(t, 1, 2)
	f.rec.SetClearColor([4]float32{1, 0, 0, 1})
	fr, _ := f.frame(t)
	require.NoError(t, f.dc.WaitIdle())
	px := f.sc.Images()[fr.ImageIndex].(*soft.Image).Pixels()
	assert.Equal(t, []byte{0, 0, 255, 255}, px[:4])
}
