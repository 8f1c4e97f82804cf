package vulkan

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

// Buffer owns its memory. Host visible buffers stay mapped for their whole
// life.
type Buffer struct {
	dev    *Device
	buffer vk.Buffer
	memory vk.DeviceMemory
	size   uint64
	usage  hal.BufferUsage
	kind   hal.MemoryKind
	mapped unsafe.Pointer
}

func (d *Device) CreateBuffer(desc hal.BufferDesc) (hal.Buffer, error) {
	if desc.Size == 0 {
		return nil, errors.Wrap(hal.ErrInvalidState, "vulkan: buffer of zero bytes")
	}
	b := &Buffer{dev: d, size: desc.Size, usage: desc.Usage, kind: desc.Memory}
	ret := vk.CreateBuffer(d.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       toVkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b.buffer)
	if err := newError(ret); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, b.buffer, &reqs)
	reqs.Deref()
	memory, err := d.allocate(reqs, desc.Memory)
	if err != nil {
		vk.DestroyBuffer(d.device, b.buffer, nil)
		return nil, err
	}
	b.memory = memory
	if err := newError(vk.BindBufferMemory(d.device, b.buffer, b.memory, 0)); err != nil {
		b.Destroy()
		return nil, err
	}
	if desc.Memory == hal.MemoryHostVisible {
		ret := vk.MapMemory(d.device, b.memory, 0, vk.DeviceSize(desc.Size), 0, &b.mapped)
		if err := newError(ret); err != nil {
			b.Destroy()
			return nil, err
		}
	}
	return b, nil
}

func (b *Buffer) Size() uint64           { return b.size }
func (b *Buffer) Usage() hal.BufferUsage { return b.usage }
func (b *Buffer) Memory() hal.MemoryKind { return b.kind }

func (b *Buffer) span(offset uint64, n int) error {
	if b.mapped == nil {
		return errors.WithStack(hal.ErrNotHostVisible)
	}
	if offset+uint64(n) > b.size {
		return errors.Wrapf(hal.ErrInvalidState, "vulkan: %d bytes at %d overrun buffer of %d", n, offset, b.size)
	}
	return nil
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	if err := b.span(offset, len(data)); err != nil {
		return err
	}
	if n := vk.Memcopy(unsafe.Add(b.mapped, offset), data); n != len(data) {
		return errors.Errorf("vulkan: copied %d of %d bytes", n, len(data))
	}
	return nil
}

func (b *Buffer) Read(offset uint64, dst []byte) error {
	if err := b.span(offset, len(dst)); err != nil {
		return err
	}
	copy(dst, unsafe.Slice((*byte)(unsafe.Add(b.mapped, offset)), len(dst)))
	return nil
}

func (b *Buffer) Destroy() {
	if b.mapped != nil {
		vk.UnmapMemory(b.dev.device, b.memory)
		b.mapped = nil
	}
	vk.DestroyBuffer(b.dev.device, b.buffer, nil)
	vk.FreeMemory(b.dev.device, b.memory, nil)
}

type Image struct {
	dev    *Device
	image  vk.Image
	memory vk.DeviceMemory
	format hal.Format
	extent hal.Extent
	usage  hal.ImageUsage
	// swap chain images are owned by their swap chain
	owned bool
}

func (d *Device) CreateImage(desc hal.ImageDesc) (hal.Image, error) {
	if desc.Extent.IsZero() {
		return nil, errors.Wrap(hal.ErrInvalidState, "vulkan: image with zero extent")
	}
	img := &Image{dev: d, format: desc.Format, extent: desc.Extent, usage: desc.Usage, owned: true}
	ret := vk.CreateImage(d.device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    toVkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         toVkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img.image)
	if err := newError(ret); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, img.image, &reqs)
	reqs.Deref()
	memory, err := d.allocate(reqs, hal.MemoryDeviceLocal)
	if err != nil {
		vk.DestroyImage(d.device, img.image, nil)
		return nil, err
	}
	img.memory = memory
	if err := newError(vk.BindImageMemory(d.device, img.image, img.memory, 0)); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

func (i *Image) Format() hal.Format    { return i.format }
func (i *Image) Extent() hal.Extent    { return i.extent }
func (i *Image) Usage() hal.ImageUsage { return i.usage }

func (i *Image) Destroy() {
	if !i.owned {
		return
	}
	vk.DestroyImage(i.dev.device, i.image, nil)
	vk.FreeMemory(i.dev.device, i.memory, nil)
}

type ImageView struct {
	dev   *Device
	view  vk.ImageView
	image *Image
}

func (d *Device) CreateImageView(img hal.Image, aspect hal.Aspect) (hal.ImageView, error) {
	vi, err := as[*Image](img, "image")
	if err != nil {
		return nil, err
	}
	v := &ImageView{dev: d, image: vi}
	ret := vk.CreateImageView(d.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    vi.image,
		ViewType: vk.ImageViewType2d,
		Format:   toVkFormat(vi.format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: toVkAspect(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &v.view)
	if err := newError(ret); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *ImageView) Image() hal.Image { return v.image }

func (v *ImageView) Destroy() {
	vk.DestroyImageView(v.dev.device, v.view, nil)
}

type Sampler struct {
	dev     *Device
	sampler vk.Sampler
}

func (d *Device) CreateSampler(desc hal.SamplerDesc) (hal.Sampler, error) {
	mode := toVkAddressMode(desc.AddressMode)
	info := vk.SamplerCreateInfo{
		SType:         vk.StructureTypeSamplerCreateInfo,
		MagFilter:     toVkFilter(desc.MagFilter),
		MinFilter:     toVkFilter(desc.MinFilter),
		MipmapMode:    vk.SamplerMipmapModeLinear,
		AddressModeU:  mode,
		AddressModeV:  mode,
		AddressModeW:  mode,
		MaxAnisotropy: 1,
		BorderColor:   vk.BorderColorIntOpaqueBlack,
		CompareOp:     vk.CompareOpAlways,
	}
	if desc.Anisotropy > 1 {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = desc.Anisotropy
	}
	s := &Sampler{dev: d}
	if err := newError(vk.CreateSampler(d.device, &info, nil, &s.sampler)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sampler) Destroy() {
	vk.DestroySampler(s.dev.device, s.sampler, nil)
}

type RenderPass struct {
	dev   *Device
	pass  vk.RenderPass
	depth bool
}

func (d *Device) CreateRenderPass(desc hal.RenderPassDesc) (hal.RenderPass, error) {
	attachments := []vk.AttachmentDescription{{
		Format:         toVkFormat(desc.ColorFormat),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         toVkLoadOp(desc.ColorLoad),
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  toVkLayout(desc.ColorInitialLayout),
		FinalLayout:    toVkLayout(desc.ColorFinalLayout),
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}
	stages := vk.PipelineStageColorAttachmentOutputBit
	access := vk.AccessColorAttachmentWriteBit
	depth := desc.DepthFormat != hal.FormatUndefined
	if depth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         toVkFormat(desc.DepthFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		stages |= vk.PipelineStageEarlyFragmentTestsBit
		access |= vk.AccessDepthStencilAttachmentWriteBit
	}
	rp := &RenderPass{dev: d, depth: depth}
	ret := vk.CreateRenderPass(d.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies: []vk.SubpassDependency{{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(stages),
			DstStageMask:  vk.PipelineStageFlags(stages),
			DstAccessMask: vk.AccessFlags(access),
		}},
	}, nil, &rp.pass)
	if err := newError(ret); err != nil {
		return nil, err
	}
	return rp, nil
}

func (rp *RenderPass) Destroy() {
	vk.DestroyRenderPass(rp.dev.device, rp.pass, nil)
}

type Framebuffer struct {
	dev *Device
	fb  vk.Framebuffer
}

func (d *Device) CreateFramebuffer(desc hal.FramebufferDesc) (hal.Framebuffer, error) {
	rp, err := as[*RenderPass](desc.RenderPass, "render pass")
	if err != nil {
		return nil, err
	}
	views := make([]vk.ImageView, len(desc.Attachments))
	for i, a := range desc.Attachments {
		v, err := as[*ImageView](a, "attachment")
		if err != nil {
			return nil, err
		}
		views[i] = v.view
	}
	fb := &Framebuffer{dev: d}
	ret := vk.CreateFramebuffer(d.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           desc.Extent.Width,
		Height:          desc.Extent.Height,
		Layers:          1,
	}, nil, &fb.fb)
	if err := newError(ret); err != nil {
		return nil, err
	}
	return fb, nil
}

func (fb *Framebuffer) Destroy() {
	vk.DestroyFramebuffer(fb.dev.device, fb.fb, nil)
}

type BindingLayout struct {
	dev    *Device
	layout vk.DescriptorSetLayout
}

func (d *Device) CreateBindingLayout(entries []hal.BindingLayoutEntry) (hal.BindingLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(entries))
	for i, e := range entries {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         e.Binding,
			DescriptorType:  toVkDescriptorType(e.Type),
			DescriptorCount: e.Count,
			StageFlags:      toVkShaderStages(e.Stages),
		}
	}
	l := &BindingLayout{dev: d}
	ret := vk.CreateDescriptorSetLayout(d.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &l.layout)
	if err := newError(ret); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *BindingLayout) Destroy() {
	vk.DestroyDescriptorSetLayout(l.dev.device, l.layout, nil)
}

type BindingPool struct {
	dev  *Device
	pool vk.DescriptorPool
}

type BindingSet struct {
	set vk.DescriptorSet
}

func (d *Device) CreateBindingPool(desc hal.BindingPoolDesc) (hal.BindingPool, error) {
	sizes := make([]vk.DescriptorPoolSize, len(desc.Sizes))
	for i, s := range desc.Sizes {
		sizes[i] = vk.DescriptorPoolSize{
			Type:            toVkDescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	p := &BindingPool{dev: d}
	ret := vk.CreateDescriptorPool(d.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       desc.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &p.pool)
	if err := newError(ret); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *BindingPool) Allocate(layout hal.BindingLayout, count int) ([]hal.BindingSet, error) {
	l, err := as[*BindingLayout](layout, "binding layout")
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, nil
	}
	layouts := make([]vk.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = l.layout
	}
	sets := make([]vk.DescriptorSet, count)
	ret := vk.AllocateDescriptorSets(p.dev.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.pool,
		DescriptorSetCount: uint32(count),
		PSetLayouts:        layouts,
	}, &sets[0])
	if err := newError(ret); err != nil {
		return nil, err
	}
	out := make([]hal.BindingSet, count)
	for i, s := range sets {
		out[i] = &BindingSet{set: s}
	}
	return out, nil
}

func (p *BindingPool) Destroy() {
	vk.DestroyDescriptorPool(p.dev.device, p.pool, nil)
}

func (d *Device) UpdateBindingSets(writes []hal.BindingWrite) error {
	out := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, err := as[*BindingSet](w.Set, "binding set")
		if err != nil {
			return err
		}
		vw := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.set,
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  toVkDescriptorType(w.Type),
		}
		switch w.Type {
		case hal.BindingUniformBuffer:
			buf, err := as[*Buffer](w.Buffer, "uniform buffer")
			if err != nil {
				return err
			}
			size := vk.DeviceSize(w.Range)
			if size == 0 {
				size = vk.DeviceSize(buf.size - w.Offset)
			}
			vw.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.buffer,
				Offset: vk.DeviceSize(w.Offset),
				Range:  size,
			}}
		case hal.BindingCombinedImageSampler:
			view, err := as[*ImageView](w.View, "image view")
			if err != nil {
				return err
			}
			sampler, err := as[*Sampler](w.Sampler, "sampler")
			if err != nil {
				return err
			}
			vw.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     sampler.sampler,
				ImageView:   view.view,
				ImageLayout: toVkLayout(w.Layout),
			}}
		default:
			return errors.Wrapf(hal.ErrUnsupported, "vulkan: binding type %d", w.Type)
		}
		out = append(out, vw)
	}
	if len(out) > 0 {
		vk.UpdateDescriptorSets(d.device, uint32(len(out)), out, 0, nil)
	}
	return nil
}

type ShaderModule struct {
	dev    *Device
	module vk.ShaderModule
}

func (d *Device) CreateShaderModule(code []uint32) (hal.ShaderModule, error) {
	if len(code) == 0 {
		return nil, errors.Wrap(hal.ErrInvalidState, "vulkan: empty shader module")
	}
	m := &ShaderModule{dev: d}
	ret := vk.CreateShaderModule(d.device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}, nil, &m.module)
	if err := newError(ret); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ShaderModule) Destroy() {
	vk.DestroyShaderModule(m.dev.device, m.module, nil)
}

type Pipeline struct {
	dev      *Device
	pipeline vk.Pipeline
	layout   vk.PipelineLayout
}

func (d *Device) CreatePipeline(desc hal.PipelineDesc) (hal.Pipeline, error) {
	vert, err := as[*ShaderModule](desc.Vertex, "vertex shader")
	if err != nil {
		return nil, err
	}
	frag, err := as[*ShaderModule](desc.Fragment, "fragment shader")
	if err != nil {
		return nil, err
	}
	rp, err := as[*RenderPass](desc.RenderPass, "render pass")
	if err != nil {
		return nil, err
	}
	setLayouts := make([]vk.DescriptorSetLayout, len(desc.BindingLayouts))
	for i, bl := range desc.BindingLayouts {
		l, err := as[*BindingLayout](bl, "binding layout")
		if err != nil {
			return nil, err
		}
		setLayouts[i] = l.layout
	}

	p := &Pipeline{dev: d}
	ret := vk.CreatePipelineLayout(d.device, &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}, nil, &p.layout)
	if err := newError(ret); err != nil {
		return nil, err
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(desc.Attributes))
	for i, a := range desc.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   toVkFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	if desc.VertexStride > 0 {
		vertexInput.VertexBindingDescriptionCount = 1
		vertexInput.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}}
	}
	cull := vk.CullModeFlags(vk.CullModeNone)
	if desc.CullBackFaces {
		cull = vk.CullModeFlags(vk.CullModeBackBit)
	}
	depthTest := vk.Bool32(vk.False)
	if desc.DepthTest && rp.depth {
		depthTest = vk.True
	}
	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}

	infos := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: 2,
		PStages: []vk.PipelineShaderStageCreateInfo{{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vert.module,
			PName:  "main\x00",
		}, {
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: frag.module,
			PName:  "main\x00",
		}},
		PVertexInputState: &vertexInput,
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			LineWidth:   1.0,
			CullMode:    cull,
			FrontFace:   vk.FrontFaceCounterClockwise,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  depthTest,
			DepthWriteEnable: depthTest,
			DepthCompareOp:   vk.CompareOpLess,
			MaxDepthBounds:   1,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			LogicOp:         vk.LogicOpCopy,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamicStates)),
			PDynamicStates:    dynamicStates,
		},
		Layout:             p.layout,
		RenderPass:         rp.pass,
		BasePipelineHandle: vk.Pipeline(vk.NullHandle),
	}}
	pipelines := make([]vk.Pipeline, 1)
	ret = vk.CreateGraphicsPipelines(d.device, vk.PipelineCache(vk.NullHandle), 1, infos, nil, pipelines)
	if err := newError(ret); err != nil {
		vk.DestroyPipelineLayout(d.device, p.layout, nil)
		return nil, err
	}
	p.pipeline = pipelines[0]
	return p, nil
}

func (p *Pipeline) Destroy() {
	vk.DestroyPipeline(p.dev.device, p.pipeline, nil)
	vk.DestroyPipelineLayout(p.dev.device, p.layout, nil)
}
