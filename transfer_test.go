package vkframe

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkframe/hal"
	"github.com/andewx/vkframe/hal/soft"
)

func newUploader(t *testing.T) (*Uploader, *soft.Device) {
	t.Helper()
	return newUploaderWith(t, soft.Options{})
}

func newUploaderWith(t *testing.T, opts soft.Options) (*Uploader, *soft.Device) {
	t.Helper()
	dc, _, dev := newSoftContext(t, opts)
	u, err := NewUploader(dc)
	require.NoError(t, err)
	t.Cleanup(u.Destroy)
	return u, dev
}

func TestUploadBufferRoundTrip(t *testing.T) {
	u, dev := newUploader(t)
	for _, size := range []int{1, 3, 17, 255, 4099, 65537, 4 << 20} {
		data := pattern(size)
		buf, err := u.UploadBuffer(hal.BufferUsageVertex, data)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, hal.MemoryDeviceLocal, buf.Memory())
		assert.Equal(t, uint64(size), buf.Size())

		got, err := u.DownloadBuffer(buf, uint64(size))
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, data, got, "size %d", size)
		buf.Destroy()
	}
	assert.Empty(t, dev.Violations())
	assert.Zero(t, dev.Allocated(), "staging and destination memory must be released")
}

func TestUploadedBufferIsNotHostVisible(t *testing.T) {
	u, _ := newUploader(t)
	buf, err := u.UploadBuffer(hal.BufferUsageIndex, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	defer buf.Destroy()
	assert.ErrorIs(t, buf.Read(0, make([]byte, 4)), hal.ErrNotHostVisible)
}

func TestUploadImageCheckerboard(t *testing.T) {
	u, dev := newUploader(t)
	pixels := checkerboard(64, 64, 8, [4]byte{255, 0, 255, 255}, [4]byte{0, 0, 0, 255})
	img, err := u.UploadImage(hal.ImageDesc{
		Format: hal.FormatR8G8B8A8Unorm,
		Extent: hal.Extent{Width: 64, Height: 64},
		Usage:  hal.ImageUsageSampled,
	}, pixels)
	require.NoError(t, err)
	defer img.Destroy()
	assert.Equal(t, hal.LayoutShaderReadOnly, img.(*soft.Image).Layout())

	got, err := u.DownloadImage(img, hal.LayoutShaderReadOnly)
	require.NoError(t, err)
	assert.Equal(t, pixels, got)
	assert.Equal(t, hal.LayoutShaderReadOnly, img.(*soft.Image).Layout())
	assert.Empty(t, dev.Violations())
}

func TestUploadImageSizeMismatch(t *testing.T) {
	u, dev := newUploader(t)
	_, err := u.UploadImage(hal.ImageDesc{
		Format: hal.FormatR8G8B8A8Unorm,
		Extent: hal.Extent{Width: 4, Height: 4},
	}, make([]byte, 63))
	var up *UploadError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, "image upload", up.Op)
	assert.Equal(t, uint64(63), up.Size)
	assert.False(t, IsFatal(err))
	assert.Zero(t, dev.Allocated())
}

func TestEmptyUpload(t *testing.T) {
	u, dev := newUploader(t)
	_, err := u.UploadBuffer(hal.BufferUsageVertex, nil)
	var up *UploadError
	require.True(t, errors.As(err, &up))
	assert.ErrorIs(t, err, ErrEmptyUpload)
	assert.Zero(t, dev.Submissions())
}

func TestUploadInFrameIsRejected(t *testing.T) {
	u, dev := newUploader(t)
	u.inFrame = func() bool { return true }
	_, err := u.UploadBuffer(hal.BufferUsageUniform, []byte{1})
	assert.ErrorIs(t, err, ErrUploadInFrame)
	assert.Zero(t, dev.Submissions())
}

func TestUploadOutOfMemory(t *testing.T) {
	u, dev := newUploaderWith(t, soft.Options{MemoryLimit: 1024})
	_, err := u.UploadBuffer(hal.BufferUsageVertex, make([]byte, 800))
	require.Error(t, err)
	assert.ErrorIs(t, err, hal.ErrOutOfMemory)
	assert.False(t, IsFatal(err))
	assert.Zero(t, dev.Allocated(), "staging buffer must be released on failure")
}

func TestWriteHostBuffer(t *testing.T) {
	u, _ := newUploader(t)
	buf, err := u.dc.Device().CreateBuffer(hal.BufferDesc{Size: 16, Usage: hal.BufferUsageUniform, Memory: hal.MemoryHostVisible})
	require.NoError(t, err)
	defer buf.Destroy()
	require.NoError(t, u.WriteHostBuffer(buf, 4, []byte{9, 8, 7}))
	got := make([]byte, 3)
	require.NoError(t, buf.Read(4, got))
	assert.Equal(t, []byte{9, 8, 7}, got)

	err = u.WriteHostBuffer(buf, 15, []byte{1, 2})
	var up *UploadError
	assert.True(t, errors.As(err, &up))
}
