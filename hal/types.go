package hal

// Extent is a two dimensional size in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// IsZero reports whether either dimension is zero. A zero extent is what a
// minimized window reports and can never back a swap chain.
func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// Offset is a signed pixel position.
type Offset struct {
	X int32
	Y int32
}

// Rect is an axis aligned pixel rectangle.
type Rect struct {
	Offset Offset
	Extent Extent
}

type AdapterType int

const (
	AdapterOther AdapterType = iota
	AdapterIntegrated
	AdapterDiscrete
	AdapterVirtual
	AdapterCPU
)

func (t AdapterType) String() string {
	switch t {
	case AdapterIntegrated:
		return "integrated"
	case AdapterDiscrete:
		return "discrete"
	case AdapterVirtual:
		return "virtual"
	case AdapterCPU:
		return "cpu"
	default:
		return "other"
	}
}

// AdapterInfo is the capability snapshot of one physical device.
type AdapterInfo struct {
	Name     string
	Type     AdapterType
	VendorID uint32
	DeviceID uint32
}

// QueueFamily describes one queue family of an adapter. Present is evaluated
// against the surface the instance was created for.
type QueueFamily struct {
	Index    uint32
	Count    uint32
	Graphics bool
	Transfer bool
	Present  bool
}

// SurfaceCapabilities mirrors what the presentation engine allows for the
// instance surface at the time of the query.
type SurfaceCapabilities struct {
	MinImageCount uint32
	// MaxImageCount of zero means there is no upper bound.
	MaxImageCount uint32
	CurrentExtent Extent
	MinExtent     Extent
	MaxExtent     Extent
	Formats       []Format
	PresentModes  []PresentMode
	// Usage lists the image usages swap chain images may be created with.
	Usage ImageUsage
}

type Format int

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat
	FormatD32Sfloat
	FormatD32SfloatS8Uint
	FormatD24UnormS8Uint
)

var formatNames = map[Format]string{
	FormatUndefined:          "undefined",
	FormatB8G8R8A8Unorm:      "b8g8r8a8_unorm",
	FormatB8G8R8A8Srgb:       "b8g8r8a8_srgb",
	FormatR8G8B8A8Unorm:      "r8g8b8a8_unorm",
	FormatR8G8B8A8Srgb:       "r8g8b8a8_srgb",
	FormatR32G32Sfloat:       "r32g32_sfloat",
	FormatR32G32B32Sfloat:    "r32g32b32_sfloat",
	FormatR32G32B32A32Sfloat: "r32g32b32a32_sfloat",
	FormatD32Sfloat:          "d32_sfloat",
	FormatD32SfloatS8Uint:    "d32_sfloat_s8_uint",
	FormatD24UnormS8Uint:     "d24_unorm_s8_uint",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(name string) (Format, bool) {
	for f, n := range formatNames {
		if n == name {
			return f, true
		}
	}
	return FormatUndefined, false
}

// BytesPerPixel returns the texel size of f, or 0 for FormatUndefined.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb, FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb:
		return 4
	case FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatD32SfloatS8Uint:
		return 8
	case FormatR32G32Sfloat:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

// IsDepth reports whether f is a depth or depth/stencil format.
func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

// HasStencil reports whether f carries a stencil component.
func (f Format) HasStencil() bool {
	return f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

type PresentMode int

const (
	PresentModeImmediate PresentMode = iota
	PresentModeMailbox
	PresentModeFifo
	PresentModeFifoRelaxed
)

var presentModeNames = map[PresentMode]string{
	PresentModeImmediate:   "immediate",
	PresentModeMailbox:     "mailbox",
	PresentModeFifo:        "fifo",
	PresentModeFifoRelaxed: "fifo_relaxed",
}

func (m PresentMode) String() string {
	if name, ok := presentModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParsePresentMode is the inverse of PresentMode.String.
func ParsePresentMode(name string) (PresentMode, bool) {
	for m, n := range presentModeNames {
		if n == name {
			return m, true
		}
	}
	return PresentModeFifo, false
}

type ImageLayout int

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutColorAttachment:
		return "color-attachment"
	case LayoutDepthStencilAttachment:
		return "depth-stencil-attachment"
	case LayoutShaderReadOnly:
		return "shader-read-only"
	case LayoutTransferSrc:
		return "transfer-src"
	case LayoutTransferDst:
		return "transfer-dst"
	case LayoutPresentSrc:
		return "present-src"
	}
	return "unknown"
}

type Access uint32

const (
	AccessNone                 Access = 0
	AccessIndirectCommandRead  Access = 1 << 0
	AccessIndexRead            Access = 1 << 1
	AccessVertexAttributeRead  Access = 1 << 2
	AccessUniformRead          Access = 1 << 3
	AccessShaderRead           Access = 1 << 5
	AccessShaderWrite          Access = 1 << 6
	AccessColorAttachmentRead  Access = 1 << 7
	AccessColorAttachmentWrite Access = 1 << 8
	AccessDepthStencilRead     Access = 1 << 9
	AccessDepthStencilWrite    Access = 1 << 10
	AccessTransferRead         Access = 1 << 11
	AccessTransferWrite        Access = 1 << 12
	AccessHostRead             Access = 1 << 13
	AccessHostWrite            Access = 1 << 14
	AccessMemoryRead           Access = 1 << 15
	AccessMemoryWrite          Access = 1 << 16
)

type PipelineStage uint32

const (
	StageTopOfPipe             PipelineStage = 1 << 0
	StageDrawIndirect          PipelineStage = 1 << 1
	StageVertexInput           PipelineStage = 1 << 2
	StageVertexShader          PipelineStage = 1 << 3
	StageFragmentShader        PipelineStage = 1 << 7
	StageEarlyFragmentTests    PipelineStage = 1 << 8
	StageLateFragmentTests     PipelineStage = 1 << 9
	StageColorAttachmentOutput PipelineStage = 1 << 10
	StageTransfer              PipelineStage = 1 << 12
	StageBottomOfPipe          PipelineStage = 1 << 13
	StageHost                  PipelineStage = 1 << 14
	StageAllCommands           PipelineStage = 1 << 16
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

type Aspect uint32

const (
	AspectColor Aspect = 1 << iota
	AspectDepth
	AspectStencil
)

// MemoryKind selects where an allocation lives.
type MemoryKind int

const (
	// MemoryDeviceLocal is fast GPU memory, not mappable.
	MemoryDeviceLocal MemoryKind = iota
	// MemoryHostVisible is host visible and coherent, used for staging and
	// per-frame uniform data.
	MemoryHostVisible
)

type LoadOp int

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

type IndexType int

const (
	IndexUint16 IndexType = iota
	IndexUint32
)

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

type AddressMode int

const (
	AddressRepeat AddressMode = iota
	AddressMirroredRepeat
	AddressClampToEdge
)

type BindingType int

const (
	BindingUniformBuffer BindingType = iota
	BindingCombinedImageSampler
)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
)

type CommandBufferUsage uint32

const (
	UsageOneTimeSubmit CommandBufferUsage = 1 << iota
	UsageSimultaneous
)
