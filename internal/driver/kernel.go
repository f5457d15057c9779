package driver

// Host kernels emulate shader entry points on drivers that execute
// command streams on the CPU. Drivers with a shader compiler ignore them.

// StorageImage is a bound image as seen by a compute kernel.
// Coordinates outside the image are ignored by Store and read as zero.
type StorageImage interface {
	Size() (width, height int)
	Load(x, y int) [4]float32
	Store(x, y int, c [4]float32)
}

// KernelBindings resolves the resources bound to a dispatch by slot.
// Lookups of unbound slots return nil.
type KernelBindings interface {
	Image(slot uint32) StorageImage
	Buffer(slot uint32) []byte
}

// ComputeKernel runs one invocation identified by its global invocation ID.
type ComputeKernel func(id [3]uint32, b KernelBindings)

// VertexKernel maps the attribute components of one vertex, in layout
// order, to a clip-space position.
type VertexKernel func(attrs []float32) [4]float32

// FragmentKernel shades one fragment. position holds the framebuffer
// coordinates of the pixel center followed by depth and 1/w.
type FragmentKernel func(position [4]float32) [4]float32
