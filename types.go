package headless

import "github.com/gogpu/headless/internal/driver"

// Capability is a set of queue capabilities.
type Capability = driver.Capability

// Queue capabilities.
const (
	CapGraphics = driver.CapGraphics
	CapCompute  = driver.CapCompute
	CapTransfer = driver.CapTransfer
)

// QueueFamily describes a group of queues with identical capabilities.
type QueueFamily = driver.QueueFamily

// AdapterInfo describes the adapter a Context was opened on.
type AdapterInfo = driver.AdapterInfo

// Format is the texel format of an image.
type Format = driver.Format

// Image formats.
const (
	FormatUndefined   = driver.FormatUndefined
	FormatRGBA8Unorm  = driver.FormatRGBA8Unorm
	FormatBGRA8Unorm  = driver.FormatBGRA8Unorm
	FormatR8Unorm     = driver.FormatR8Unorm
	FormatR32Float    = driver.FormatR32Float
	FormatRGBA32Float = driver.FormatRGBA32Float
)

// ImageUsage is a bitmask of the ways an image is used.
type ImageUsage = driver.ImageUsage

// Image usages.
const (
	UsageStorage      = driver.UsageStorage
	UsageRenderTarget = driver.UsageRenderTarget
	UsageCopySrc      = driver.UsageCopySrc
	UsageCopyDst      = driver.UsageCopyDst
	UsageSampled      = driver.UsageSampled
)

// BindingKind identifies what a layout slot holds.
type BindingKind = driver.BindingKind

// Binding kinds.
const (
	BindingStorageImage          = driver.BindingStorageImage
	BindingSampledImage          = driver.BindingSampledImage
	BindingSampler               = driver.BindingSampler
	BindingUniformBuffer         = driver.BindingUniformBuffer
	BindingStorageBuffer         = driver.BindingStorageBuffer
	BindingReadOnlyStorageBuffer = driver.BindingReadOnlyStorageBuffer
)

// BindingSlot is one slot of a binding layout. Format applies to storage
// images.
type BindingSlot = driver.BindingSlot

// BindingLayout is the ordered resource layout of a compute pipeline.
type BindingLayout []BindingSlot

// VertexFormat is the type of one vertex attribute.
type VertexFormat = driver.VertexFormat

// Vertex formats.
const (
	VertexFloat32   = driver.VertexFloat32
	VertexFloat32x2 = driver.VertexFloat32x2
	VertexFloat32x3 = driver.VertexFloat32x3
	VertexFloat32x4 = driver.VertexFloat32x4
)

// VertexAttribute places one attribute inside a vertex.
type VertexAttribute = driver.VertexAttribute

// VertexLayout describes the vertex buffer of a graphics pipeline.
type VertexLayout = driver.VertexLayout

// Color is a linear RGBA color.
type Color = driver.Color

// Viewport maps normalized device coordinates to framebuffer pixels.
type Viewport = driver.Viewport

// Rect is a pixel rectangle.
type Rect = driver.Rect

// Host kernels stand in for shader entry points on drivers that execute
// on the CPU.
type (
	ComputeKernel  = driver.ComputeKernel
	VertexKernel   = driver.VertexKernel
	FragmentKernel = driver.FragmentKernel
	StorageImage   = driver.StorageImage
	KernelBindings = driver.KernelBindings
)
