package vkframe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkframe/hal"
	"github.com/andewx/vkframe/hal/soft"
)

type ringFixture struct {
	dc   *DeviceContext
	sc   *SwapchainManager
	rec  *Recorder
	ring *FrameRing
	inst *soft.Instance
	dev  *soft.Device
}

func newRing(t *testing.T, framesInFlight, images int) *ringFixture {
	t.Helper()
	dc, inst, dev := newSoftContext(t, soft.Options{Window: soft.NewWindow(32, 32)})
	sc := NewSwapchainManager(dc, inst.Window(), SwapchainOptions{ImageCount: images, PresentMode: hal.PresentModeImmediate})
	require.NoError(t, sc.Create(images, hal.FormatB8G8R8A8Unorm, hal.Extent{Width: 32, Height: 32}))
	rec, err := NewRecorder(dc, sc, RecorderOptions{ClearColor: [4]float32{0, 0, 1, 1}})
	require.NoError(t, err)
	ring, err := NewFrameRing(dc, sc, framesInFlight)
	require.NoError(t, err)
	t.Cleanup(func() {
		dev.Release()
		ring.Destroy()
		rec.Destroy()
		sc.Destroy()
	})
	return &ringFixture{dc: dc, sc: sc, rec: rec, ring: ring, inst: inst, dev: dev}
}

// frame runs one full iteration and returns the frame and whether it was
// presented.
func (f *ringFixture) frame(t *testing.T) (*Frame, bool) {
	t.Helper()
	fr, err := f.ring.BeginFrame(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.rec.Record(fr.Cmd, fr.ImageIndex, nil))
	presented, err := f.ring.EndFrame(fr)
	require.NoError(t, err)
	return fr, presented
}

func TestSlotSequence(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		f := newRing(t, n, 3)
		for i := 0; i < 12; i++ {
			assert.Equal(t, i%n, f.ring.Current())
			fr, presented := f.frame(t)
			assert.True(t, presented)
			assert.Equal(t, int64(i), fr.Number)
			assert.Equal(t, i%n, fr.Slot, "frame %d with %d in flight", i, n)
			want := int64(i - n)
			if want < 0 {
				want = -1
			}
			assert.Equal(t, want, fr.WaitedOn, "frame %d with %d in flight", i, n)
		}
		assert.Equal(t, int64(12), f.ring.NextFrame())
		for i, slot := range f.ring.Slots() {
			assert.Equal(t, i, slot.Index)
			assert.Equal(t, int64(12-n+i), slot.LastFrame)
		}
		require.NoError(t, f.dc.WaitIdle())
		assert.Empty(t, f.dev.Violations())
		assert.Len(t, f.dev.Presented(), 12)
	}
}

func TestFrameWaitsOnlyForFrameNMinusN(t *testing.T) {
	f := newRing(t, 2, 2)
	f.dev.Hold()

	f.frame(t)
	f.frame(t)
	assert.False(t, f.dev.FenceSignaled(f.ring.fences.Fence(0)))

	// Frame 2 reuses slot 0 and needs frame 0 only.
	f.dev.Step(1)
	fr, _ := f.frame(t)
	assert.Equal(t, int64(0), fr.WaitedOn)
	assert.False(t, f.dev.FenceSignaled(f.ring.fences.Fence(1)), "frame 1 is still held")

	type result struct {
		fr  *Frame
		err error
	}
	done := make(chan result, 1)
	go func() {
		fr, err := f.ring.BeginFrame(context.Background())
		done <- result{fr, err}
	}()
	select {
	case <-done:
		t.Fatal("frame 3 started before frame 1 retired")
	case <-time.After(50 * time.Millisecond):
	}
	f.dev.Step(1)
	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("frame 3 did not start after frame 1 retired")
	}
	require.NoError(t, res.err)
	assert.Equal(t, int64(1), res.fr.WaitedOn)
	assert.Equal(t, 1, res.fr.Slot)
	require.NoError(t, f.rec.Record(res.fr.Cmd, res.fr.ImageIndex, nil))
	_, err := f.ring.EndFrame(res.fr)
	require.NoError(t, err)

	f.dev.Release()
	require.NoError(t, f.dc.WaitIdle())
	assert.Empty(t, f.dev.Violations(), "no command buffer or fence was reused while pending")
}

func TestFenceTimeoutIsFatal(t *testing.T) {
	f := newRing(t, 2, 2)
	f.dc.fenceTimeout = 20 * time.Millisecond
	f.dev.Hold()
	f.frame(t)
	f.frame(t)
	_, err := f.ring.BeginFrame(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, hal.ErrTimeout)
	assert.True(t, IsFatal(err))
}

func TestStaleAcquireSkipsFrame(t *testing.T) {
	for _, result := range []error{hal.ErrOutOfDate, hal.ErrSuboptimal} {
		f := newRing(t, 2, 2)
		f.frame(t)
		f.dev.InjectAcquire(result)

		_, err := f.ring.BeginFrame(context.Background())
		assert.ErrorIs(t, err, ErrFrameSkipped)
		assert.False(t, IsFatal(err))
		assert.True(t, f.sc.Stale())
		assert.False(t, f.ring.InFrame())
		assert.Equal(t, int64(1), f.ring.NextFrame(), "a skipped frame consumes no number")
		assert.Equal(t, 1, f.ring.Current())
		assert.True(t, f.dev.FenceSignaled(f.ring.fences.Fence(1)), "the fence stays signaled")

		require.NoError(t, f.sc.Recreate())
		fr, presented := f.frame(t)
		assert.True(t, presented)
		assert.Equal(t, int64(1), fr.Number)
		require.NoError(t, f.dc.WaitIdle())
		assert.Empty(t, f.dev.Violations(), "result %v", result)
	}
}

func TestStalePresent(t *testing.T) {
	f := newRing(t, 2, 2)
	f.dev.InjectPresent(hal.ErrSuboptimal)
	_, presented := f.frame(t)
	assert.True(t, presented, "a suboptimal present still shows the image")
	assert.True(t, f.sc.Stale())
	require.NoError(t, f.sc.Recreate())

	f.dev.InjectPresent(hal.ErrOutOfDate)
	fr, presented := f.frame(t)
	assert.False(t, presented)
	assert.Equal(t, int64(1), fr.Number, "the frame was submitted")
	assert.True(t, f.sc.Stale())
	assert.Equal(t, 0, f.ring.Current())
}

func TestPresentErrorIsFatal(t *testing.T) {
	f := newRing(t, 2, 2)
	f.dev.InjectPresent(hal.ErrSurfaceLost)
	fr, err := f.ring.BeginFrame(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.rec.Record(fr.Cmd, fr.ImageIndex, nil))
	_, err = f.ring.EndFrame(fr)
	assert.ErrorIs(t, err, hal.ErrSurfaceLost)
	assert.True(t, IsFatal(err))
}

func TestBeginFrameTwice(t *testing.T) {
	f := newRing(t, 2, 2)
	fr, err := f.ring.BeginFrame(context.Background())
	require.NoError(t, err)
	assert.True(t, f.ring.InFrame())
	_, err = f.ring.BeginFrame(context.Background())
	assert.Error(t, err)
	_, err = f.ring.EndFrame(&Frame{})
	assert.Error(t, err)
	require.NoError(t, f.rec.Record(fr.Cmd, fr.ImageIndex, nil))
	_, err = f.ring.EndFrame(fr)
	require.NoError(t, err)
}

func TestBeginFrameHonorsContext(t *testing.T) {
	f := newRing(t, 2, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ring.BeginFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
