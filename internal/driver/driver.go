// Package driver defines the device abstraction that headless backends
// implement.
//
// A backend exposes an [Instance] that enumerates [Adapter] values; opening
// an adapter yields a [Device] plus one queue per requested family. All
// device objects cross this interface as opaque IDs, and command streams
// are typed [Command] values replayed by the device in recorded order.
//
// Thread Safety: Device implementations must be safe for concurrent object
// creation and destruction. Submissions to one queue are serialized by the
// device.
package driver

import (
	"errors"
	"time"
)

// Driver errors. Backends wrap these with context; callers match them
// with errors.Is.
var (
	// ErrDeviceLost is returned once the device can no longer execute work.
	ErrDeviceLost = errors.New("driver: device lost")

	// ErrOutOfMemory is returned when an allocation cannot be satisfied.
	ErrOutOfMemory = errors.New("driver: out of memory")

	// ErrUnsupported is returned for formats, usages or features the
	// device does not support.
	ErrUnsupported = errors.New("driver: unsupported")

	// ErrInvalidHandle is returned when an ID does not name a live object.
	ErrInvalidHandle = errors.New("driver: invalid handle")

	// ErrShaderRejected is returned when the device cannot build a shader
	// module or host kernel for a pipeline stage.
	ErrShaderRejected = errors.New("driver: shader rejected")
)

// Instance is a loaded backend.
type Instance interface {
	// Name returns the backend name, e.g. "native" or "software".
	Name() string

	// Adapters enumerates the physical devices visible to the backend.
	Adapters() []Adapter

	// Destroy releases the instance. Devices must be destroyed first.
	Destroy()
}

// Adapter is a physical device that can be opened.
type Adapter interface {
	Info() AdapterInfo
	QueueFamilies() []QueueFamily

	// Open creates a logical device with one queue per request, returned
	// in request order. report receives driver diagnostics and may be nil.
	Open(queues []QueueRequest, report Reporter) (Device, []QueueID, error)
}

// Device is an opened logical device.
type Device interface {
	CreateImage(desc *ImageDesc) (ImageID, error)
	DestroyImage(id ImageID)

	CreateBuffer(desc *BufferDesc) (BufferID, error)
	DestroyBuffer(id BufferID)

	// WriteBuffer uploads data into a host-writable buffer.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer copies len(dst) bytes out of a host-readable buffer.
	// The caller guarantees that every submission writing the buffer has
	// completed.
	ReadBuffer(id BufferID, offset uint64, dst []byte) error

	CreateComputePipeline(desc *ComputePipelineDesc) (PipelineID, error)
	CreateRenderPipeline(desc *RenderPipelineDesc) (PipelineID, error)
	DestroyPipeline(id PipelineID)

	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)
	DestroyBindGroup(id BindGroupID)

	// Submit hands a command stream to a queue and returns without
	// waiting. The returned fence signals when the stream has executed.
	Submit(queue QueueID, cmds []Command) (FenceID, error)

	// Wait blocks until the fence signals or timeout elapses and reports
	// whether it signaled. A wait error means the device was lost.
	Wait(fence FenceID, timeout time.Duration) (bool, error)

	// DestroyFence releases the fence and the transient objects of its
	// submission.
	DestroyFence(id FenceID)

	Destroy()
}

// HALProvider is implemented by devices backed by the wgpu HAL. It exposes
// the underlying hal.Device and hal.Queue for device sharing.
type HALProvider interface {
	HalDevice() any
	HalQueue() any
}
