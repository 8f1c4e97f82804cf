package vkframe

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lin "github.com/xlab/linmath"

	"github.com/andewx/vkframe/hal"
	"github.com/andewx/vkframe/hal/soft"
	"github.com/andewx/vkframe/texture"
)

func newRenderer(t *testing.T, cfg Config, opts ...RendererOption) (*Renderer, *soft.Instance, *soft.Device) {
	t.Helper()
	inst := soft.New(soft.Options{Window: soft.NewWindow(cfg.Width, cfg.Height)})
	r, err := NewRenderer(inst, inst.Window(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Destroy()
		inst.Destroy()
	})
	return r, inst, inst.Device()
}

func drawFrames(t *testing.T, r *Renderer, n int) []FrameInfo {
	t.Helper()
	out := make([]FrameInfo, 0, n)
	for i := 0; i < n; i++ {
		info, err := r.DrawFrame(context.Background())
		require.NoError(t, err, "frame %d", i)
		out = append(out, info)
	}
	return out
}

func TestRendererSteadyState(t *testing.T) {
	r, _, dev := newRenderer(t, testConfig())
	uploads := dev.Submissions()
	frames := drawFrames(t, r, 10)
	for i, info := range frames {
		assert.Equal(t, int64(i), info.Frame)
		assert.Equal(t, i%2, info.Slot)
		want := int64(i - 2)
		if want < 0 {
			want = -1
		}
		assert.Equal(t, want, info.WaitedOn, "frame %d", i)
		assert.True(t, info.Submitted)
		assert.True(t, info.Presented)
		assert.False(t, info.Skipped)
		assert.False(t, info.Recreated)
		assert.Equal(t, uint64(1), info.Generation)
	}
	require.NoError(t, r.Device().WaitIdle())
	assert.Len(t, dev.Presented(), 10)
	assert.Equal(t, 10, dev.Submissions()-uploads)
	assert.Equal(t, 1, dev.SwapchainsCreated())
	assert.Empty(t, dev.Violations())
}

func TestRendererRecreatesAfterOutOfDatePresent(t *testing.T) {
	r, _, dev := newRenderer(t, testConfig())
	drawFrames(t, r, 5)

	dev.InjectPresent(hal.ErrOutOfDate)
	info, err := r.DrawFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Frame)
	assert.True(t, info.Submitted)
	assert.False(t, info.Presented)
	assert.True(t, info.Recreated)
	assert.Equal(t, 2, dev.SwapchainsCreated())
	assert.False(t, r.Swapchain().Stale())

	info, err = r.DrawFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Frame)
	assert.True(t, info.Presented)
	assert.False(t, info.Recreated)
	assert.Equal(t, uint64(2), info.Generation)
	require.NoError(t, r.Device().WaitIdle())
	presented := dev.Presented()
	require.Len(t, presented, 6)
	assert.Equal(t, uint64(2), presented[5].Swapchain)

	for _, info := range drawFrames(t, r, 3) {
		assert.True(t, info.Presented)
		assert.False(t, info.Recreated)
	}
	assert.Equal(t, 2, dev.SwapchainsCreated(), "exactly one recreation")
	assert.Equal(t, 2, r.Swapchain().ImageCount())
	require.NoError(t, r.Device().WaitIdle())
	assert.Empty(t, dev.Violations())
}

func TestRendererSkipsFrameOnStaleAcquire(t *testing.T) {
	for _, injected := range []error{hal.ErrOutOfDate, hal.ErrSuboptimal} {
		t.Run(injected.Error(), func(t *testing.T) {
			r, _, dev := newRenderer(t, testConfig())
			drawFrames(t, r, 3)

			dev.InjectAcquire(injected)
			info, err := r.DrawFrame(context.Background())
			require.NoError(t, err)
			assert.True(t, info.Skipped)
			assert.False(t, info.Submitted)
			assert.Equal(t, int64(-1), info.Frame)
			assert.True(t, r.Swapchain().Stale())

			info, err = r.DrawFrame(context.Background())
			require.NoError(t, err)
			assert.True(t, info.Recreated)
			assert.True(t, info.Presented)
			assert.Equal(t, int64(3), info.Frame, "a skipped frame does not consume a number")
			assert.Equal(t, 1, info.Slot)
			assert.Equal(t, 2, dev.SwapchainsCreated())

			drawFrames(t, r, 4)
			require.NoError(t, r.Device().WaitIdle())
			assert.Empty(t, dev.Violations())
		})
	}
}

func TestRendererFollowsWindowResize(t *testing.T) {
	reg := NewSurfaceRegistry()
	h := reg.Register()
	r, inst, dev := newRenderer(t, testConfig(), WithSurface(reg, h))
	assert.Equal(t, h, r.Surface())
	drawFrames(t, r, 2)

	inst.Window().Resize(80, 60)
	reg.MarkStale(h)
	info, err := r.DrawFrame(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Recreated)
	assert.True(t, info.Presented)
	assert.Equal(t, hal.Extent{Width: 80, Height: 60}, r.Swapchain().Extent())
	assert.False(t, reg.TakeStale(h))

	drawFrames(t, r, 2)
	require.NoError(t, r.Device().WaitIdle())
	last := dev.Presented()
	assert.Equal(t, hal.Extent{Width: 80, Height: 60}, last[len(last)-1].Extent)
	assert.Equal(t, 2, dev.SwapchainsCreated())
	assert.Empty(t, dev.Violations())
}

func TestRendererTextureRoundTrip(t *testing.T) {
	r, _, dev := newRenderer(t, testConfig())
	magenta := color.RGBA{R: 255, B: 255, A: 255}
	black := color.RGBA{A: 255}
	img := texture.Checkerboard(64, 64, 8, magenta, black)

	view, err := r.UploadTexture(img)
	require.NoError(t, err)
	got, err := r.Uploader().DownloadImage(view.Image(), hal.LayoutShaderReadOnly)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, got)
	assert.Equal(t, hal.LayoutShaderReadOnly, view.Image().(*soft.Image).Layout())

	r.SetTexture(view, nil)
	drawFrames(t, r, 2)
	require.NoError(t, r.Device().WaitIdle())
	set := r.table.Set(1).(*soft.BindingSet)
	w, ok := set.Write(textureBinding)
	require.True(t, ok)
	assert.Equal(t, view, w.View)
	assert.Equal(t, r.LinearSampler(), w.Sampler)

	r.SetTexture(nil, nil)
	drawFrames(t, r, 2)
	w, _ = r.table.Set(1).(*soft.BindingSet).Write(textureBinding)
	assert.Equal(t, r.errorView, w.View)
	assert.Equal(t, r.NearestSampler(), w.Sampler)
	require.NoError(t, r.Device().WaitIdle())
	assert.Empty(t, dev.Violations())
}

func TestRendererErrorTextureContents(t *testing.T) {
	r, _, _ := newRenderer(t, testConfig())
	got, err := r.Uploader().DownloadImage(r.errorImage, hal.LayoutShaderReadOnly)
	require.NoError(t, err)
	assert.Equal(t, texture.ErrorTexture().Pix, got)
}

func TestRendererWritesUniformsPerSlot(t *testing.T) {
	r, _, _ := newRenderer(t, testConfig())
	var model lin.Mat4x4
	model.Translate(4, 5, 6)
	r.SetModel(&model)
	drawFrames(t, r, 2)
	require.NoError(t, r.Device().WaitIdle())

	want := r.ubo.Bytes()
	for slot, buf := range r.uniforms {
		got := make([]byte, uniformSize)
		require.NoError(t, buf.Read(0, got))
		assert.Equal(t, want, got, "slot %d", slot)
	}
}

func TestRendererScreenshot(t *testing.T) {
	cfg := testConfig()
	cfg.ClearColor = [4]float32{1, 0.5, 0, 1}
	r, _, dev := newRenderer(t, cfg)
	drawFrames(t, r, 3)

	c, err := r.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hal.Extent{Width: 64, Height: 48}, c.Extent)
	assert.Equal(t, hal.FormatB8G8R8A8Unorm, c.Format)
	require.Len(t, c.Pixels, 64*48*4)
	for i := 0; i < len(c.Pixels); i += 4 {
		if !assert.Equal(t, []byte{0, 128, 255, 255}, c.Pixels[i:i+4], "pixel %d", i/4) {
			break
		}
	}

	r.SetClearColor([4]float32{0, 0, 0, 1})
	c, err = r.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 255}, c.Pixels[:4])

	drawFrames(t, r, 2)
	require.NoError(t, r.Device().WaitIdle())
	assert.Empty(t, dev.Violations())
}

func TestRendererDrawsMeshes(t *testing.T) {
	vert, frag := writeShaders(t)
	cfg := testConfig()
	cfg.Shaders = ShaderConfig{Vertex: vert, Fragment: frag}
	var userDraws int
	r, _, dev := newRenderer(t, cfg, WithDrawFunc(func(cmd hal.CommandBuffer, imageIndex uint32) error {
		userDraws++
		return nil
	}))

	first, err := r.LoadMesh(quadVertices, quadIndices)
	require.NoError(t, err)
	second, err := r.LoadMesh(quadVertices[:3], quadIndices[:3])
	require.NoError(t, err)
	drawFrames(t, r, 3)
	require.NoError(t, r.Device().WaitIdle())
	assert.Equal(t, 6, dev.Draws())
	assert.Equal(t, 3, userDraws)

	require.NoError(t, r.UnloadMesh(first))
	assert.ErrorIs(t, r.UnloadMesh(first), ErrStaleHandle)
	drawFrames(t, r, 2)
	require.NoError(t, r.Device().WaitIdle())
	assert.Equal(t, 8, dev.Draws())
	assert.Equal(t, 1, r.Meshes().Len())
	_, err = r.Meshes().Get(second)
	assert.NoError(t, err)
	assert.Empty(t, dev.Violations())
}

func TestRendererDestroyReleasesEverything(t *testing.T) {
	inst := soft.New(soft.Options{Window: soft.NewWindow(64, 48)})
	defer inst.Destroy()
	r, err := NewRenderer(inst, inst.Window(), testConfig())
	require.NoError(t, err)
	dev := inst.Device()
	_, err = r.LoadMesh(quadVertices, quadIndices)
	require.NoError(t, err)
	_, err = r.UploadTexture(texture.Checkerboard(8, 8, 2, color.RGBA{A: 255}, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)
	drawFrames(t, r, 4)

	r.Destroy()
	r.Destroy()
	assert.Zero(t, dev.Allocated())
	assert.Empty(t, dev.Violations())
}

func TestRendererConstructionErrors(t *testing.T) {
	inst := soft.New(soft.Options{Window: soft.NewWindow(64, 48)})
	defer inst.Destroy()

	bad := testConfig()
	bad.FramesInFlight = 0
	_, err := NewRenderer(inst, inst.Window(), bad)
	assert.Error(t, err)

	missing := testConfig()
	missing.Shaders = ShaderConfig{
		Vertex:   filepath.Join(t.TempDir(), "vert.spv"),
		Fragment: filepath.Join(t.TempDir(), "frag.spv"),
	}
	r, err := NewRenderer(inst, inst.Window(), missing)
	assert.Error(t, err)
	assert.Nil(t, r)

	none := soft.New(soft.Options{Adapters: []soft.AdapterConfig{{
		Name:     "compute only",
		Type:     hal.AdapterDiscrete,
		Families: []hal.QueueFamily{{Index: 0, Count: 1, Graphics: false, Transfer: true, Present: false}},
	}}})
	defer none.Destroy()
	_, err = NewRenderer(none, none.Window(), testConfig())
	assert.ErrorIs(t, err, ErrNoCapableDevice)
}

func TestRendererFallsBackToErrorTexture(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not a png"), 0o644))
	cfg := testConfig()
	cfg.Textures.Paths = []string{filepath.Join(dir, "broken.png")}
	r, _, _ := newRenderer(t, cfg)
	assert.Equal(t, r.errorView, r.view)
	assert.Equal(t, r.NearestSampler(), r.sampler)
	drawFrames(t, r, 1)
}

func TestRendererUploadDuringFrameIsRejected(t *testing.T) {
	var r *Renderer
	var uploadErr error
	r, _, _ = newRenderer(t, testConfig(), WithDrawFunc(func(hal.CommandBuffer, uint32) error {
		_, uploadErr = r.LoadMesh(quadVertices, quadIndices)
		return nil
	}))
	drawFrames(t, r, 1)
	assert.ErrorIs(t, uploadErr, ErrUploadInFrame)
	assert.False(t, IsFatal(uploadErr))
}
