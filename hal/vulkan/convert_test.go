package vulkan

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

func TestFormatsRoundTrip(t *testing.T) {
	for f := range formats {
		assert.Equal(t, f, fromVkFormat(toVkFormat(f)), f.String())
	}
	assert.Equal(t, hal.FormatUndefined, fromVkFormat(vk.FormatR16Sfloat))
}

func TestPresentModes(t *testing.T) {
	for m := range presentModes {
		got, ok := fromVkPresentMode(toVkPresentMode(m))
		require.True(t, ok)
		assert.Equal(t, m, got)
	}
	_, ok := fromVkPresentMode(vk.PresentMode(0x7fff))
	assert.False(t, ok)
}

func TestImageUsageRoundTrip(t *testing.T) {
	u := hal.ImageUsageColorAttachment | hal.ImageUsageTransferSrc | hal.ImageUsageSampled
	assert.Equal(t, u, fromVkImageUsage(toVkImageUsage(u)))
}

func TestBufferUsage(t *testing.T) {
	got := toVkBufferUsage(hal.BufferUsageVertex | hal.BufferUsageTransferDst)
	assert.Equal(t, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit), got)
}

func TestBitsMatchVulkan(t *testing.T) {
	assert.Equal(t, vk.AccessFlags(vk.AccessColorAttachmentWriteBit), toVkAccess(hal.AccessColorAttachmentWrite))
	assert.Equal(t, vk.AccessFlags(vk.AccessTransferReadBit), toVkAccess(hal.AccessTransferRead))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), toVkStage(hal.StageColorAttachmentOutput))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTransferBit), toVkStage(hal.StageTransfer))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), toVkAspect(hal.AspectDepth))
}

func TestNewErrorMapsResults(t *testing.T) {
	assert.NoError(t, newError(vk.Success))
	cases := map[vk.Result]error{
		vk.ErrorOutOfDate:         hal.ErrOutOfDate,
		vk.Suboptimal:             hal.ErrSuboptimal,
		vk.Timeout:                hal.ErrTimeout,
		vk.ErrorDeviceLost:        hal.ErrDeviceLost,
		vk.ErrorOutOfDeviceMemory: hal.ErrOutOfMemory,
		vk.ErrorSurfaceLost:       hal.ErrSurfaceLost,
	}
	for ret, want := range cases {
		err := newError(ret)
		assert.True(t, errors.Is(err, want), "%v", err)
	}
	assert.True(t, hal.IsStale(newError(vk.ErrorOutOfDate)))
	assert.Contains(t, newError(vk.ErrorInitializationFailed).Error(), "TestNewErrorMapsResults")
}

func TestExtensionSet(t *testing.T) {
	set := newExtensionSet(
		[]string{"VK_EXT_debug_report", "VK_EXT_missing"},
		[]string{"VK_KHR_surface\x00"},
		[]string{"VK_KHR_surface", "VK_EXT_debug_report"},
	)
	ok, missing := set.HasRequired()
	assert.True(t, ok)
	assert.Empty(t, missing)

	ok, missing = set.HasWanted()
	assert.False(t, ok)
	assert.Equal(t, []string{"VK_EXT_missing"}, missing)

	assert.Equal(t, []string{"VK_KHR_surface\x00", "VK_EXT_debug_report\x00"}, set.Enabled())

	set = newExtensionSet(nil, []string{"VK_KHR_swapchain"}, nil)
	ok, missing = set.HasRequired()
	assert.False(t, ok)
	assert.Equal(t, []string{"VK_KHR_swapchain"}, missing)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "a\x00", safeString("a"))
	assert.Equal(t, "a\x00", safeString("a\x00"))
	assert.Equal(t, uint32(1<<22|2<<12), apiVersion(1, 2))
	assert.Equal(t, []uint32{0, 2}, distinct([]uint32{0, 2, 0, 2}))
}
