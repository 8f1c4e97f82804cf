package soft

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkframe/hal"
)

func openDevice(t *testing.T, opts Options) (*Instance, *Device, hal.Queue) {
	t.Helper()
	inst := New(opts)
	t.Cleanup(inst.Destroy)
	adapters, err := inst.Adapters()
	require.NoError(t, err)
	require.NotEmpty(t, adapters)
	dev, err := adapters[0].Open(hal.DeviceDesc{})
	require.NoError(t, err)
	q, err := dev.Queue(0)
	require.NoError(t, err)
	return inst, dev.(*Device), q
}

func recordEmpty(t *testing.T, d *Device) hal.CommandBuffer {
	t.Helper()
	pool, err := d.CreateCommandPool(0)
	require.NoError(t, err)
	cmds, err := pool.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, cmds[0].Begin(0))
	require.NoError(t, cmds[0].End())
	return cmds[0]
}

func TestSubmitSignalsFence(t *testing.T) {
	_, d, q := openDevice(t, Options{})
	cmd := recordEmpty(t, d)
	fence, err := d.CreateFence(false)
	require.NoError(t, err)

	require.NoError(t, q.Submit([]hal.SubmitInfo{{CommandBuffers: []hal.CommandBuffer{cmd}}}, fence))
	require.NoError(t, d.WaitForFences([]hal.Fence{fence}, time.Second))
	assert.True(t, d.FenceSignaled(fence))
	assert.Equal(t, 1, d.Submissions())
	assert.Empty(t, d.Violations())
}

func TestHoldKeepsFenceUnsignaled(t *testing.T) {
	_, d, q := openDevice(t, Options{})
	cmd := recordEmpty(t, d)
	fence, err := d.CreateFence(false)
	require.NoError(t, err)

	d.Hold()
	require.NoError(t, q.Submit([]hal.SubmitInfo{{CommandBuffers: []hal.CommandBuffer{cmd}}}, fence))
	err = d.WaitForFences([]hal.Fence{fence}, 20*time.Millisecond)
	assert.True(t, errors.Is(err, hal.ErrTimeout))

	d.Step(1)
	require.NoError(t, d.WaitForFences([]hal.Fence{fence}, time.Second))
}

func TestSubmitWithSignaledFenceIsViolation(t *testing.T) {
	_, d, q := openDevice(t, Options{})
	cmd := recordEmpty(t, d)
	fence, err := d.CreateFence(true)
	require.NoError(t, err)

	err = q.Submit([]hal.SubmitInfo{{CommandBuffers: []hal.CommandBuffer{cmd}}}, fence)
	assert.True(t, errors.Is(err, hal.ErrInvalidState))
	assert.NotEmpty(t, d.Violations())
}

func TestRerecordWhilePendingIsViolation(t *testing.T) {
	_, d, q := openDevice(t, Options{})
	cmd := recordEmpty(t, d)

	d.Hold()
	require.NoError(t, q.Submit([]hal.SubmitInfo{{CommandBuffers: []hal.CommandBuffer{cmd}}}, nil))
	err := cmd.Begin(0)
	assert.True(t, errors.Is(err, hal.ErrInvalidState))
	assert.Len(t, d.Violations(), 1)
	d.Release()
	require.NoError(t, q.WaitIdle())
	assert.NoError(t, cmd.Begin(0))
}

func TestResetPendingFenceIsViolation(t *testing.T) {
	_, d, q := openDevice(t, Options{})
	cmd := recordEmpty(t, d)
	fence, err := d.CreateFence(false)
	require.NoError(t, err)

	d.Hold()
	require.NoError(t, q.Submit([]hal.SubmitInfo{{CommandBuffers: []hal.CommandBuffer{cmd}}}, fence))
	assert.Error(t, d.ResetFences([]hal.Fence{fence}))
	assert.NotEmpty(t, d.Violations())
	d.Release()
}

func TestBufferCopyRoundTrip(t *testing.T) {
	_, d, q := openDevice(t, Options{})
	src, err := d.CreateBuffer(hal.BufferDesc{Size: 7, Usage: hal.BufferUsageTransferSrc, Memory: hal.MemoryHostVisible})
	require.NoError(t, err)
	mid, err := d.CreateBuffer(hal.BufferDesc{Size: 7, Usage: hal.BufferUsageTransferSrc | hal.BufferUsageTransferDst})
	require.NoError(t, err)
	dst, err := d.CreateBuffer(hal.BufferDesc{Size: 7, Usage: hal.BufferUsageTransferDst, Memory: hal.MemoryHostVisible})
	require.NoError(t, err)
	require.NoError(t, src.Write(0, []byte("vkframe")))

	pool, err := d.CreateCommandPool(0)
	require.NoError(t, err)
	cmds, err := pool.Allocate(1)
	require.NoError(t, err)
	cmd := cmds[0]
	require.NoError(t, cmd.Begin(hal.UsageOneTimeSubmit))
	cmd.CopyBuffer(src, mid, []hal.BufferCopy{{Size: 7}})
	cmd.CopyBuffer(mid, dst, []hal.BufferCopy{{Size: 7}})
	require.NoError(t, cmd.End())
	require.NoError(t, q.Submit([]hal.SubmitInfo{{CommandBuffers: cmds}}, nil))
	require.NoError(t, q.WaitIdle())

	out := make([]byte, 7)
	require.NoError(t, dst.Read(0, out))
	assert.Equal(t, "vkframe", string(out))
	assert.True(t, errors.Is(mid.Read(0, out), hal.ErrNotHostVisible))

	for _, b := range []hal.Buffer{src, mid, dst} {
		b.Destroy()
	}
	pool.Destroy()
	assert.Zero(t, d.Allocated())
	assert.Empty(t, d.Violations())
}

func TestCopyIntoWrongLayoutIsViolation(t *testing.T) {
	_, d, q := openDevice(t, Options{})
	img, err := d.CreateImage(hal.ImageDesc{Format: hal.FormatR8G8B8A8Unorm, Extent: hal.Extent{Width: 2, Height: 2}, Usage: hal.ImageUsageTransferDst})
	require.NoError(t, err)
	buf, err := d.CreateBuffer(hal.BufferDesc{Size: 16, Usage: hal.BufferUsageTransferSrc, Memory: hal.MemoryHostVisible})
	require.NoError(t, err)

	pool, err := d.CreateCommandPool(0)
	require.NoError(t, err)
	cmds, err := pool.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, cmds[0].Begin(hal.UsageOneTimeSubmit))
	cmds[0].CopyBufferToImage(buf, img, hal.LayoutTransferDst, []hal.BufferImageCopy{{ImageExtent: hal.Extent{Width: 2, Height: 2}}})
	require.NoError(t, cmds[0].End())
	require.NoError(t, q.Submit([]hal.SubmitInfo{{CommandBuffers: cmds}}, nil))
	require.NoError(t, q.WaitIdle())

	assert.Len(t, d.Violations(), 1)
}

func TestSwapchainRotatesImages(t *testing.T) {
	inst, d, q := openDevice(t, Options{})
	w, h := inst.Window().FramebufferSize()
	sc, err := d.CreateSwapchain(hal.SwapchainDesc{
		MinImageCount: 2,
		Format:        hal.FormatB8G8R8A8Unorm,
		Extent:        hal.Extent{Width: uint32(w), Height: uint32(h)},
	})
	require.NoError(t, err)
	require.Len(t, sc.Images(), 2)

	pool, err := d.CreateCommandPool(0)
	require.NoError(t, err)
	var got []uint32
	for i := 0; i < 4; i++ {
		acquired, err := d.CreateSemaphore()
		require.NoError(t, err)
		finished, err := d.CreateSemaphore()
		require.NoError(t, err)
		idx, err := sc.AcquireNextImage(time.Second, acquired)
		require.NoError(t, err)
		got = append(got, idx)

		cmds, err := pool.Allocate(1)
		require.NoError(t, err)
		require.NoError(t, cmds[0].Begin(hal.UsageOneTimeSubmit))
		cmds[0].PipelineBarrier(hal.StageTopOfPipe, hal.StageBottomOfPipe, nil, []hal.ImageBarrier{{
			Image: sc.Images()[idx], OldLayout: hal.LayoutUndefined, NewLayout: hal.LayoutPresentSrc,
		}})
		require.NoError(t, cmds[0].End())
		require.NoError(t, q.Submit([]hal.SubmitInfo{{
			WaitSemaphores:   []hal.Semaphore{acquired},
			WaitStages:       []hal.PipelineStage{hal.StageColorAttachmentOutput},
			CommandBuffers:   cmds,
			SignalSemaphores: []hal.Semaphore{finished},
		}}, nil))
		require.NoError(t, q.Present(hal.PresentInfo{WaitSemaphores: []hal.Semaphore{finished}, Swapchain: sc, ImageIndex: idx}))
		require.NoError(t, q.WaitIdle())
	}
	assert.Equal(t, []uint32{0, 1, 0, 1}, got)
	assert.Len(t, d.Presented(), 4)
	assert.Empty(t, d.Violations())
}

func TestAcquireReportsResize(t *testing.T) {
	inst, d, _ := openDevice(t, Options{Window: NewWindow(64, 64)})
	sc, err := d.CreateSwapchain(hal.SwapchainDesc{MinImageCount: 2, Format: hal.FormatB8G8R8A8Unorm, Extent: hal.Extent{Width: 64, Height: 64}})
	require.NoError(t, err)
	sem, err := d.CreateSemaphore()
	require.NoError(t, err)

	inst.Window().Resize(32, 32)
	_, err = sc.AcquireNextImage(time.Second, sem)
	assert.True(t, errors.Is(err, hal.ErrOutOfDate))
	assert.True(t, hal.IsStale(err))
}

func TestInjectedSuboptimalAcquireStillAcquires(t *testing.T) {
	_, d, _ := openDevice(t, Options{})
	sc, err := d.CreateSwapchain(hal.SwapchainDesc{MinImageCount: 2, Format: hal.FormatB8G8R8A8Unorm, Extent: hal.Extent{Width: 800, Height: 600}})
	require.NoError(t, err)
	sem, err := d.CreateSemaphore()
	require.NoError(t, err)

	d.InjectAcquire(hal.ErrSuboptimal)
	idx, err := sc.AcquireNextImage(time.Second, sem)
	assert.True(t, errors.Is(err, hal.ErrSuboptimal))
	assert.Equal(t, uint32(0), idx)
	assert.True(t, sem.(*Semaphore).wait(time.Millisecond))
}

func TestZeroExtentSwapchainIsRejected(t *testing.T) {
	_, d, _ := openDevice(t, Options{})
	_, err := d.CreateSwapchain(hal.SwapchainDesc{MinImageCount: 2, Format: hal.FormatB8G8R8A8Unorm})
	assert.Error(t, err)
	assert.Len(t, d.Violations(), 1)
}

func TestMemoryLimit(t *testing.T) {
	_, d, _ := openDevice(t, Options{MemoryLimit: 1024})
	_, err := d.CreateBuffer(hal.BufferDesc{Size: 2048})
	assert.True(t, errors.Is(err, hal.ErrOutOfMemory))
}

func TestWindowScript(t *testing.T) {
	w := NewWindow(0, 0)
	w.Script([2]int{0, 0}, [2]int{640, 480})
	w.WaitEvents()
	w.WaitEvents()
	width, height := w.FramebufferSize()
	assert.Equal(t, 640, width)
	assert.Equal(t, 480, height)
	assert.Equal(t, 2, w.Waits())
}
