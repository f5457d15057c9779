package headless

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gogpu/headless/internal/driver"
)

// BufferAccess selects how the host accesses a buffer.
type BufferAccess uint8

// Buffer access modes.
const (
	// AccessHostRead makes a copy destination that can be read back.
	AccessHostRead BufferAccess = 1 << iota

	// AccessHostWrite makes a buffer the host uploads data into.
	AccessHostWrite
)

// ResourceOption configures image and buffer creation.
type ResourceOption func(*resourceOptions)

type resourceOptions struct {
	label string
	queue *Queue
}

// OwnedBy gives the image to the family of q. Commands touching the
// image can only be recorded for queues of that family. Images default
// to the main queue's family.
func OwnedBy(q *Queue) ResourceOption {
	return func(o *resourceOptions) {
		o.queue = q
	}
}

// WithLabel sets the debug label of a resource.
func WithLabel(label string) ResourceOption {
	return func(o *resourceOptions) {
		o.label = label
	}
}

func (c *Context) resourceOptions(def string, opts []ResourceOption) resourceOptions {
	o := resourceOptions{label: def, queue: c.main}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Image is a device-local 2D image.
type Image struct {
	ctx      *Context
	id       driver.ImageID
	label    string
	width    int
	height   int
	format   Format
	usage    ImageUsage
	family   int
	released atomic.Bool
}

// CreateImage creates a w×h image owned by the main queue family unless
// OwnedBy says otherwise. Its initial content is undefined.
func (c *Context) CreateImage(w, h int, format Format, usage ImageUsage, opts ...ResourceOption) (*Image, error) {
	const op = "create image"
	if err := c.check(StageAllocation, op); err != nil {
		return nil, err
	}
	o := c.resourceOptions("image", opts)
	fail := func(cause error) *Error {
		return c.driverError(StageAllocation, op, ErrAllocationFailed, &AllocationError{
			Resource: "image", Width: w, Height: h, Format: format, Err: cause,
		})
	}
	switch {
	case w <= 0 || h <= 0 || uint64(w) > math.MaxUint32 || uint64(h) > math.MaxUint32:
		return nil, fail(fmt.Errorf("invalid extent %dx%d", w, h))
	case format.BytesPerPixel() == 0:
		return nil, fail(fmt.Errorf("unknown format %s", format))
	case usage == 0:
		return nil, fail(fmt.Errorf("no usage"))
	case o.queue == nil || o.queue.ctx != c:
		return nil, fail(fmt.Errorf("owner queue does not belong to this context"))
	}

	id, err := c.dev.CreateImage(&driver.ImageDesc{
		Label:  o.label,
		Width:  uint32(w),
		Height: uint32(h),
		Format: format,
		Usage:  usage,
		Family: o.queue.Family(),
	})
	if err != nil {
		return nil, fail(err)
	}
	Logger().Debug("image created", "label", o.label, "width", w, "height", h, "format", format.String())
	return &Image{
		ctx:    c,
		id:     id,
		label:  o.label,
		width:  w,
		height: h,
		format: format,
		usage:  usage,
		family: o.queue.Family(),
	}, nil
}

// Width returns the width in pixels.
func (img *Image) Width() int { return img.width }

// Height returns the height in pixels.
func (img *Image) Height() int { return img.height }

// Format returns the texel format.
func (img *Image) Format() Format { return img.format }

// Usage returns the usage flags the image was created with.
func (img *Image) Usage() ImageUsage { return img.usage }

// Family returns the index of the owning queue family.
func (img *Image) Family() int { return img.family }

// ByteSize returns the size of the tightly packed image data.
func (img *Image) ByteSize() int { return img.width * img.height * img.format.BytesPerPixel() }

// Release destroys the image. It is safe to call more than once.
func (img *Image) Release() {
	if img.released.CompareAndSwap(false, true) {
		img.ctx.dev.DestroyImage(img.id)
	}
}

// HostBuffer is host-visible linear memory.
type HostBuffer struct {
	ctx      *Context
	id       driver.BufferID
	label    string
	size     int
	access   BufferAccess
	usage    driver.BufferUsage
	released atomic.Bool
}

// CreateHostBuffer creates a buffer of n bytes. AccessHostRead makes a
// copy target for Readback; its initial content is undefined.
func (c *Context) CreateHostBuffer(n int, access BufferAccess, opts ...ResourceOption) (*HostBuffer, error) {
	usage := driver.BufferUsage(0)
	if access&AccessHostRead != 0 {
		usage |= driver.BufferHostRead | driver.BufferCopyDst
	}
	if access&AccessHostWrite != 0 {
		usage |= driver.BufferHostWrite | driver.BufferCopySrc
	}
	return c.createBuffer("create host buffer", n, access, usage, c.resourceOptions("host_buffer", opts))
}

// CreateVertexBuffer creates a host-written vertex buffer holding vertices
// as little-endian float32 values.
func (c *Context) CreateVertexBuffer(vertices []float32, opts ...ResourceOption) (*HostBuffer, error) {
	const op = "create vertex buffer"
	buf, err := c.createBuffer(op, len(vertices)*4, AccessHostWrite,
		driver.BufferHostWrite|driver.BufferVertex, c.resourceOptions("vertex_buffer", opts))
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(vertices)*4)
	for i, v := range vertices {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	if err := c.dev.WriteBuffer(buf.id, 0, data); err != nil {
		buf.Release()
		return nil, c.driverError(StageAllocation, op, ErrAllocationFailed,
			&AllocationError{Resource: "buffer", Size: len(data), Err: err})
	}
	return buf, nil
}

func (c *Context) createBuffer(op string, n int, access BufferAccess, usage driver.BufferUsage, o resourceOptions) (*HostBuffer, error) {
	if err := c.check(StageAllocation, op); err != nil {
		return nil, err
	}
	fail := func(cause error) *Error {
		return c.driverError(StageAllocation, op, ErrAllocationFailed,
			&AllocationError{Resource: "buffer", Size: n, Err: cause})
	}
	if n <= 0 {
		return nil, fail(fmt.Errorf("invalid size %d", n))
	}
	if access == 0 {
		return nil, fail(fmt.Errorf("no host access"))
	}
	id, err := c.dev.CreateBuffer(&driver.BufferDesc{Label: o.label, Size: uint64(n), Usage: usage})
	if err != nil {
		return nil, fail(err)
	}
	Logger().Debug("buffer created", "label", o.label, "size", n)
	return &HostBuffer{ctx: c, id: id, label: o.label, size: n, access: access, usage: usage}, nil
}

// Len returns the buffer size in bytes.
func (b *HostBuffer) Len() int { return b.size }

// Access returns the host access mode.
func (b *HostBuffer) Access() BufferAccess { return b.access }

// Release destroys the buffer. It is safe to call more than once.
func (b *HostBuffer) Release() {
	if b.released.CompareAndSwap(false, true) {
		b.ctx.dev.DestroyBuffer(b.id)
	}
}
