package driver

import "fmt"

// Resource IDs
//
// These opaque IDs represent device objects. Each backend maintains a
// mapping between IDs and its own objects. IDs are uint64 to accommodate
// any backend handle size.

// ImageID is an opaque handle to a device-local 2D image.
type ImageID uint64

// BufferID is an opaque handle to a host-visible buffer.
type BufferID uint64

// PipelineID is an opaque handle to a compute or graphics pipeline.
type PipelineID uint64

// BindGroupID is an opaque handle to a set of bound resources.
type BindGroupID uint64

// FenceID is an opaque handle to a submission fence.
type FenceID uint64

// QueueID is an opaque handle to an opened queue.
type QueueID uint64

// InvalidID is the zero value, representing an invalid/null object.
const InvalidID = 0

// Capability is a bitmask of operations a queue family accepts.
type Capability uint8

// Queue capabilities.
const (
	CapGraphics Capability = 1 << iota
	CapCompute
	CapTransfer
)

// Has reports whether c contains every bit of want.
func (c Capability) Has(want Capability) bool { return c&want == want }

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	s := ""
	add := func(bit Capability, name string) {
		if c&bit == 0 {
			return
		}
		if s != "" {
			s += "|"
		}
		s += name
	}
	add(CapGraphics, "graphics")
	add(CapCompute, "compute")
	add(CapTransfer, "transfer")
	return s
}

// QueueFamily describes a group of queues with identical capabilities.
type QueueFamily struct {
	Index        int
	QueueCount   int
	Capabilities Capability
}

// DeviceKind classifies an adapter.
type DeviceKind uint8

// Adapter kinds.
const (
	DeviceOther DeviceKind = iota
	DeviceDiscrete
	DeviceIntegrated
	DeviceCPU
)

var deviceKindNames = [...]string{
	DeviceOther:      "other",
	DeviceDiscrete:   "discrete",
	DeviceIntegrated: "integrated",
	DeviceCPU:        "cpu",
}

func (k DeviceKind) String() string {
	if int(k) < len(deviceKindNames) {
		return deviceKindNames[k]
	}
	return "unknown"
}

// AdapterInfo describes a physical device as reported by the backend.
type AdapterInfo struct {
	Name       string
	Backend    string
	Kind       DeviceKind
	Extensions []string
}

// HasExtension reports whether the adapter advertises ext.
func (a AdapterInfo) HasExtension(ext string) bool {
	for _, e := range a.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Format specifies the texel layout of an image.
type Format uint8

// Image formats.
const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatR8Unorm
	FormatR32Float
	FormatRGBA32Float
)

var formatNames = [...]string{
	FormatUndefined:   "undefined",
	FormatRGBA8Unorm:  "rgba8unorm",
	FormatBGRA8Unorm:  "bgra8unorm",
	FormatR8Unorm:     "r8unorm",
	FormatR32Float:    "r32float",
	FormatRGBA32Float: "rgba32float",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat returns the format with the given WGSL texel format name.
func ParseFormat(name string) (Format, bool) {
	for f, n := range formatNames {
		if f != int(FormatUndefined) && n == name {
			return Format(f), true
		}
	}
	return FormatUndefined, false
}

// BytesPerPixel returns the size of one texel, or 0 for unknown formats.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatR32Float:
		return 4
	case FormatR8Unorm:
		return 1
	case FormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// ImageUsage is a bitmask specifying how an image will be used.
type ImageUsage uint8

// Image usage flags.
const (
	UsageStorage ImageUsage = 1 << iota
	UsageRenderTarget
	UsageCopySrc
	UsageCopyDst
	UsageSampled
)

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint8

// Buffer usage flags.
const (
	BufferHostRead BufferUsage = 1 << iota
	BufferHostWrite
	BufferCopyDst
	BufferCopySrc
	BufferVertex
	BufferStorage
	BufferUniform
)

// BindingKind identifies what a binding slot holds.
type BindingKind uint8

// Binding kinds.
const (
	BindingStorageImage BindingKind = iota + 1
	BindingSampledImage
	BindingSampler
	BindingUniformBuffer
	BindingStorageBuffer
	BindingReadOnlyStorageBuffer
)

var bindingKindNames = [...]string{
	BindingStorageImage:          "storage image",
	BindingSampledImage:          "sampled image",
	BindingSampler:               "sampler",
	BindingUniformBuffer:         "uniform buffer",
	BindingStorageBuffer:         "storage buffer",
	BindingReadOnlyStorageBuffer: "read-only storage buffer",
}

func (k BindingKind) String() string {
	if int(k) < len(bindingKindNames) && bindingKindNames[k] != "" {
		return bindingKindNames[k]
	}
	return "unknown"
}

// IsImage reports whether the slot binds an image.
func (k BindingKind) IsImage() bool {
	return k == BindingStorageImage || k == BindingSampledImage
}

// IsBuffer reports whether the slot binds a buffer.
func (k BindingKind) IsBuffer() bool {
	return k == BindingUniformBuffer || k == BindingStorageBuffer || k == BindingReadOnlyStorageBuffer
}

// BindingSlot is one entry of a pipeline's resource layout.
type BindingSlot struct {
	Slot   uint32
	Kind   BindingKind
	Format Format // storage images only
}

// VertexFormat specifies the type of one vertex attribute.
type VertexFormat uint8

// Vertex attribute formats.
const (
	VertexFloat32 VertexFormat = iota + 1
	VertexFloat32x2
	VertexFloat32x3
	VertexFloat32x4
)

// Components returns the number of float32 components.
func (f VertexFormat) Components() int {
	switch f {
	case VertexFloat32:
		return 1
	case VertexFloat32x2:
		return 2
	case VertexFloat32x3:
		return 3
	case VertexFloat32x4:
		return 4
	default:
		return 0
	}
}

// Size returns the attribute size in bytes.
func (f VertexFormat) Size() uint32 { return uint32(f.Components()) * 4 }

// VertexAttribute places one attribute inside a vertex.
type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

// VertexLayout describes the single vertex buffer of a graphics pipeline.
type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

// Color is a linear RGBA color with components in [0, 1].
type Color struct {
	R, G, B, A float64
}

// Viewport maps normalized device coordinates onto the framebuffer.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect is an integer pixel rectangle.
type Rect struct {
	X, Y, Width, Height uint32
}

// ImageDesc describes an image to create.
type ImageDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format Format
	Usage  ImageUsage
	Family int
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Label         string
	SPIRV         []uint32
	EntryPoint    string
	WorkgroupSize [3]uint32
	Layout        []BindingSlot
	Kernel        ComputeKernel
}

// RenderPipelineDesc describes a graphics pipeline with one color target.
type RenderPipelineDesc struct {
	Label          string
	VertexSPIRV    []uint32
	VertexEntry    string
	FragmentSPIRV  []uint32
	FragmentEntry  string
	Vertex         VertexLayout
	ColorFormat    Format
	VertexKernel   VertexKernel
	FragmentKernel FragmentKernel
}

// BindGroupEntry binds one resource to a slot. Exactly one of Image or
// Buffer is set.
type BindGroupEntry struct {
	Slot   uint32
	Image  ImageID
	Buffer BufferID
}

// BindGroupDesc describes a set of bound resources.
type BindGroupDesc struct {
	Label    string
	Pipeline PipelineID
	Entries  []BindGroupEntry
}

// QueueRequest asks for one queue of a family when a device is opened.
type QueueRequest struct {
	Family int
}
