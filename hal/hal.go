// Package hal is the hardware abstraction the frame engine is written against.
//
// The interfaces follow explicit-API semantics: fences are CPU visible,
// semaphores order queue work on the GPU timeline, images carry layouts that
// must be transitioned with barriers, and every object is released with an
// explicit Destroy. Two implementations exist: hal/vulkan drives a real GPU
// and hal/soft emulates an asynchronous GPU on goroutines for headless runs.
package hal

import "time"

// Instance is the entry point of a backend. It is bound to one presentation
// surface when it is created.
type Instance interface {
	Name() string
	Adapters() ([]Adapter, error)
	Destroy()
}

// Adapter is a physical device.
type Adapter interface {
	Info() AdapterInfo
	QueueFamilies() []QueueFamily
	SurfaceCapabilities() (SurfaceCapabilities, error)
	// SupportsFormat reports whether f can be used for optimal tiled images
	// with the given usage.
	SupportsFormat(f Format, usage ImageUsage) bool
	Open(desc DeviceDesc) (Device, error)
}

type DeviceDesc struct {
	GraphicsFamily uint32
	PresentFamily  uint32
}

// Device is a logical device. It is also the memory allocator: every
// CreateBuffer and CreateImage call allocates and binds its own memory.
type Device interface {
	Queue(family uint32) (Queue, error)

	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	CreateImageView(img Image, aspect Aspect) (ImageView, error)
	CreateSampler(desc SamplerDesc) (Sampler, error)

	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	WaitForFences(fences []Fence, timeout time.Duration) error
	ResetFences(fences []Fence) error

	CreateCommandPool(family uint32) (CommandPool, error)
	CreateSwapchain(desc SwapchainDesc) (Swapchain, error)

	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	CreateFramebuffer(desc FramebufferDesc) (Framebuffer, error)

	CreateBindingLayout(entries []BindingLayoutEntry) (BindingLayout, error)
	CreateBindingPool(desc BindingPoolDesc) (BindingPool, error)
	UpdateBindingSets(writes []BindingWrite) error

	CreateShaderModule(code []uint32) (ShaderModule, error)
	CreatePipeline(desc PipelineDesc) (Pipeline, error)

	WaitIdle() error
	Destroy()
}

type Queue interface {
	Family() uint32
	Submit(submits []SubmitInfo, fence Fence) error
	// Present queues img for presentation. ErrOutOfDate and ErrSuboptimal
	// report a stale surface; the semaphore waits are consumed either way.
	Present(info PresentInfo) error
	WaitIdle() error
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type PresentInfo struct {
	WaitSemaphores []Semaphore
	Swapchain      Swapchain
	ImageIndex     uint32
}

type Fence interface {
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type Buffer interface {
	Size() uint64
	Usage() BufferUsage
	Memory() MemoryKind
	// Write and Read are only valid on MemoryHostVisible buffers.
	Write(offset uint64, data []byte) error
	Read(offset uint64, dst []byte) error
	Destroy()
}

type BufferDesc struct {
	Size   uint64
	Usage  BufferUsage
	Memory MemoryKind
}

type Image interface {
	Format() Format
	Extent() Extent
	Usage() ImageUsage
	// Destroy is a no-op for images owned by a swap chain.
	Destroy()
}

type ImageDesc struct {
	Format Format
	Extent Extent
	Usage  ImageUsage
}

type ImageView interface {
	Image() Image
	Destroy()
}

type Sampler interface {
	Destroy()
}

type SamplerDesc struct {
	MagFilter   Filter
	MinFilter   Filter
	AddressMode AddressMode
	Anisotropy  float32
}

type Swapchain interface {
	Images() []Image
	Format() Format
	Extent() Extent
	PresentMode() PresentMode
	// AcquireNextImage signals the semaphore once the returned image may be
	// written. ErrSuboptimal comes with a valid index and a signaled
	// semaphore; ErrOutOfDate does not.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (uint32, error)
	Destroy()
}

type SwapchainDesc struct {
	MinImageCount uint32
	Format        Format
	Extent        Extent
	PresentMode   PresentMode
	Usage         ImageUsage
	// QueueFamilies lists every family that touches the images. More than
	// one distinct family selects concurrent sharing.
	QueueFamilies []uint32
	Old           Swapchain
}

type CommandPool interface {
	Allocate(count int) ([]CommandBuffer, error)
	Free(cmds []CommandBuffer)
	Destroy()
}

// CommandBuffer records GPU work. Recording calls do not fail individually;
// the first recording error is returned by End.
type CommandBuffer interface {
	Begin(usage CommandBufferUsage) error
	End() error
	Reset() error

	PipelineBarrier(src, dst PipelineStage, buffers []BufferBarrier, images []ImageBarrier)
	CopyBuffer(src, dst Buffer, regions []BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, layout ImageLayout, regions []BufferImageCopy)
	CopyImageToBuffer(src Image, layout ImageLayout, dst Buffer, regions []BufferImageCopy)

	BeginRenderPass(begin RenderPassBegin)
	EndRenderPass()
	BindPipeline(p Pipeline)
	BindBindingSet(p Pipeline, set BindingSet)
	BindVertexBuffer(buf Buffer, offset uint64)
	BindIndexBuffer(buf Buffer, offset uint64, indexType IndexType)
	SetViewport(v Viewport)
	SetScissor(r Rect)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
}

type BufferBarrier struct {
	Buffer    Buffer
	SrcAccess Access
	DstAccess Access
	Offset    uint64
	// Size of zero covers the whole buffer.
	Size uint64
}

type ImageBarrier struct {
	Image     Image
	Aspect    Aspect
	SrcAccess Access
	DstAccess Access
	OldLayout ImageLayout
	NewLayout ImageLayout
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type BufferImageCopy struct {
	BufferOffset uint64
	// BufferRowLength in texels, zero means tightly packed.
	BufferRowLength uint32
	ImageOffset     Offset
	ImageExtent     Extent
	Aspect          Aspect
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

type RenderPass interface {
	Destroy()
}

type RenderPassDesc struct {
	ColorFormat        Format
	ColorLoad          LoadOp
	ColorInitialLayout ImageLayout
	ColorFinalLayout   ImageLayout
	// DepthFormat of FormatUndefined disables the depth attachment.
	DepthFormat Format
}

type Framebuffer interface {
	Destroy()
}

type FramebufferDesc struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Extent      Extent
}

type RenderPassBegin struct {
	RenderPass   RenderPass
	Framebuffer  Framebuffer
	Area         Rect
	ClearColor   [4]float32
	ClearDepth   float32
	ClearStencil uint32
}

type BindingLayout interface {
	Destroy()
}

type BindingLayoutEntry struct {
	Binding uint32
	Type    BindingType
	Count   uint32
	Stages  ShaderStage
}

type BindingPool interface {
	Allocate(layout BindingLayout, count int) ([]BindingSet, error)
	Destroy()
}

type BindingPoolDesc struct {
	MaxSets uint32
	Sizes   []BindingPoolSize
}

type BindingPoolSize struct {
	Type  BindingType
	Count uint32
}

// BindingSet is released with its pool.
type BindingSet interface{}

type BindingWrite struct {
	Set     BindingSet
	Binding uint32
	Type    BindingType

	Buffer Buffer
	Offset uint64
	Range  uint64

	View    ImageView
	Sampler Sampler
	Layout  ImageLayout
}

type ShaderModule interface {
	Destroy()
}

type Pipeline interface {
	Destroy()
}

type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

type PipelineDesc struct {
	Vertex         ShaderModule
	Fragment       ShaderModule
	RenderPass     RenderPass
	BindingLayouts []BindingLayout
	VertexStride   uint32
	Attributes     []VertexAttribute
	DepthTest      bool
	CullBackFaces  bool
}
