package vulkan

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

var formats = map[hal.Format]vk.Format{
	hal.FormatUndefined:          vk.FormatUndefined,
	hal.FormatB8G8R8A8Unorm:      vk.FormatB8g8r8a8Unorm,
	hal.FormatB8G8R8A8Srgb:       vk.FormatB8g8r8a8Srgb,
	hal.FormatR8G8B8A8Unorm:      vk.FormatR8g8b8a8Unorm,
	hal.FormatR8G8B8A8Srgb:       vk.FormatR8g8b8a8Srgb,
	hal.FormatR32G32Sfloat:       vk.FormatR32g32Sfloat,
	hal.FormatR32G32B32Sfloat:    vk.FormatR32g32b32Sfloat,
	hal.FormatR32G32B32A32Sfloat: vk.FormatR32g32b32a32Sfloat,
	hal.FormatD32Sfloat:          vk.FormatD32Sfloat,
	hal.FormatD32SfloatS8Uint:    vk.FormatD32SfloatS8Uint,
	hal.FormatD24UnormS8Uint:     vk.FormatD24UnormS8Uint,
}

func toVkFormat(f hal.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// fromVkFormat returns FormatUndefined for formats hal does not name.
func fromVkFormat(v vk.Format) hal.Format {
	for f, fv := range formats {
		if fv == v {
			return f
		}
	}
	return hal.FormatUndefined
}

var presentModes = map[hal.PresentMode]vk.PresentMode{
	hal.PresentModeImmediate:   vk.PresentModeImmediate,
	hal.PresentModeMailbox:     vk.PresentModeMailbox,
	hal.PresentModeFifo:        vk.PresentModeFifo,
	hal.PresentModeFifoRelaxed: vk.PresentModeFifoRelaxed,
}

func toVkPresentMode(m hal.PresentMode) vk.PresentMode {
	if v, ok := presentModes[m]; ok {
		return v
	}
	return vk.PresentModeFifo
}

func fromVkPresentMode(v vk.PresentMode) (hal.PresentMode, bool) {
	for m, mv := range presentModes {
		if mv == v {
			return m, true
		}
	}
	return 0, false
}

func toVkLayout(l hal.ImageLayout) vk.ImageLayout {
	switch l {
	case hal.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case hal.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case hal.LayoutDepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case hal.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case hal.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case hal.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case hal.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

// Access, stage and aspect bits in hal share their values with Vulkan.

func toVkAccess(a hal.Access) vk.AccessFlags              { return vk.AccessFlags(a) }
func toVkStage(s hal.PipelineStage) vk.PipelineStageFlags { return vk.PipelineStageFlags(s) }
func toVkAspect(a hal.Aspect) vk.ImageAspectFlags         { return vk.ImageAspectFlags(a) }

func toVkBufferUsage(u hal.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&hal.BufferUsageTransferSrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&hal.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	if u&hal.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&hal.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&hal.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if u&hal.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	return vk.BufferUsageFlags(out)
}

var imageUsageBits = []struct {
	hal hal.ImageUsage
	vk  vk.ImageUsageFlagBits
}{
	{hal.ImageUsageTransferSrc, vk.ImageUsageTransferSrcBit},
	{hal.ImageUsageTransferDst, vk.ImageUsageTransferDstBit},
	{hal.ImageUsageSampled, vk.ImageUsageSampledBit},
	{hal.ImageUsageStorage, vk.ImageUsageStorageBit},
	{hal.ImageUsageColorAttachment, vk.ImageUsageColorAttachmentBit},
	{hal.ImageUsageDepthStencilAttachment, vk.ImageUsageDepthStencilAttachmentBit},
}

func toVkImageUsage(u hal.ImageUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	for _, b := range imageUsageBits {
		if u&b.hal != 0 {
			out |= b.vk
		}
	}
	return vk.ImageUsageFlags(out)
}

func fromVkImageUsage(f vk.ImageUsageFlags) hal.ImageUsage {
	var out hal.ImageUsage
	for _, b := range imageUsageBits {
		if f&vk.ImageUsageFlags(b.vk) != 0 {
			out |= b.hal
		}
	}
	return out
}

// formatFeatures lists the optimal tiling features an image usage needs.
func formatFeatures(u hal.ImageUsage) vk.FormatFeatureFlags {
	var out vk.FormatFeatureFlagBits
	if u&hal.ImageUsageSampled != 0 {
		out |= vk.FormatFeatureSampledImageBit
	}
	if u&hal.ImageUsageStorage != 0 {
		out |= vk.FormatFeatureStorageImageBit
	}
	if u&hal.ImageUsageColorAttachment != 0 {
		out |= vk.FormatFeatureColorAttachmentBit
	}
	if u&hal.ImageUsageDepthStencilAttachment != 0 {
		out |= vk.FormatFeatureDepthStencilAttachmentBit
	}
	return vk.FormatFeatureFlags(out)
}

func toVkLoadOp(op hal.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case hal.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case hal.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpClear
}

func toVkIndexType(t hal.IndexType) vk.IndexType {
	if t == hal.IndexUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func toVkFilter(f hal.Filter) vk.Filter {
	if f == hal.FilterLinear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func toVkAddressMode(m hal.AddressMode) vk.SamplerAddressMode {
	switch m {
	case hal.AddressMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	case hal.AddressClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	}
	return vk.SamplerAddressModeRepeat
}

func toVkDescriptorType(t hal.BindingType) vk.DescriptorType {
	if t == hal.BindingCombinedImageSampler {
		return vk.DescriptorTypeCombinedImageSampler
	}
	return vk.DescriptorTypeUniformBuffer
}

func toVkShaderStages(s hal.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	if s&hal.ShaderStageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&hal.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageFlags(out)
}

func toVkCommandBufferUsage(u hal.CommandBufferUsage) vk.CommandBufferUsageFlags {
	var out vk.CommandBufferUsageFlagBits
	if u&hal.UsageOneTimeSubmit != 0 {
		out |= vk.CommandBufferUsageOneTimeSubmitBit
	}
	if u&hal.UsageSimultaneous != 0 {
		out |= vk.CommandBufferUsageSimultaneousUseBit
	}
	return vk.CommandBufferUsageFlags(out)
}

func fromVkDeviceType(t vk.PhysicalDeviceType) hal.AdapterType {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return hal.AdapterIntegrated
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return hal.AdapterDiscrete
	case vk.PhysicalDeviceTypeVirtualGpu:
		return hal.AdapterVirtual
	case vk.PhysicalDeviceTypeCpu:
		return hal.AdapterCPU
	}
	return hal.AdapterOther
}

func toVkExtent(e hal.Extent) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

func toVkRect(r hal.Rect) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.Offset.X, Y: r.Offset.Y},
		Extent: toVkExtent(r.Extent),
	}
}

func fromVkExtent(e vk.Extent2D) hal.Extent {
	e.Deref()
	return hal.Extent{Width: e.Width, Height: e.Height}
}

// apiVersion packs major.minor the way VK_MAKE_VERSION does.
func apiVersion(major, minor uint32) uint32 {
	return major<<22 | minor<<12
}
