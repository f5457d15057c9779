package software

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/headless/internal/driver"
	"github.com/gogpu/headless/internal/parallel"
)

// Device is an opened software device.
//
// Thread Safety: Device is safe for concurrent use. Object maps are
// guarded by mu; command execution holds mu for the duration of one
// submission.
type Device struct {
	name    string
	latency time.Duration
	report  driver.Reporter
	pool    *parallel.Pool

	nextID atomic.Uint64
	lost   atomic.Bool

	mu        sync.Mutex
	images    map[driver.ImageID]*image
	buffers   map[driver.BufferID]*buffer
	pipelines map[driver.PipelineID]*pipeline
	groups    map[driver.BindGroupID]*bindGroup
	fences    map[driver.FenceID]*fence
	queues    map[driver.QueueID]*queue

	// submitMu keeps queue channels open while Submit sends on them.
	submitMu    sync.RWMutex
	submissions atomic.Int64
	closeOnce   sync.Once
}

type buffer struct {
	desc driver.BufferDesc
	data []byte
}

type pipeline struct {
	label   string
	compute bool

	// compute
	kernel    driver.ComputeKernel
	workgroup [3]uint32
	layout    []driver.BindingSlot

	// graphics
	vertex      driver.VertexLayout
	vertexFn    driver.VertexKernel
	fragmentFn  driver.FragmentKernel
	colorFormat driver.Format
}

type bindGroup struct {
	pipeline driver.PipelineID
	entries  []driver.BindGroupEntry
}

type fence struct {
	done chan struct{}
	err  error // set before done is closed
}

type queue struct {
	family int
	work   chan *submission
	exited chan struct{}
}

type submission struct {
	cmds  []driver.Command
	fence *fence
}

func newDevice(name string, latency time.Duration, workers int, report driver.Reporter) *Device {
	return &Device{
		name:      name,
		latency:   latency,
		report:    report,
		pool:      parallel.NewPool(workers),
		images:    make(map[driver.ImageID]*image),
		buffers:   make(map[driver.BufferID]*buffer),
		pipelines: make(map[driver.PipelineID]*pipeline),
		groups:    make(map[driver.BindGroupID]*bindGroup),
		fences:    make(map[driver.FenceID]*fence),
		queues:    make(map[driver.QueueID]*queue),
	}
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1)
}

func (d *Device) openQueue(family int) driver.QueueID {
	q := &queue{
		family: family,
		work:   make(chan *submission, 16),
		exited: make(chan struct{}),
	}
	id := driver.QueueID(d.newID())
	d.mu.Lock()
	d.queues[id] = q
	d.mu.Unlock()
	go d.runQueue(q)
	return id
}

// runQueue executes the submissions of one queue in order.
func (d *Device) runQueue(q *queue) {
	defer close(q.exited)
	for sub := range q.work {
		if d.latency > 0 {
			time.Sleep(d.latency)
		}
		if d.lost.Load() {
			sub.fence.err = driver.ErrDeviceLost
		} else {
			sub.fence.err = d.execute(sub.cmds)
		}
		close(sub.fence.done)
	}
}

// Lose simulates a device loss. Pending and future work fails with
// driver.ErrDeviceLost.
func (d *Device) Lose() {
	if d.lost.CompareAndSwap(false, true) {
		d.report.Report(driver.SeverityError, d.name, "device lost")
	}
}

// Submissions returns the number of accepted submissions.
func (d *Device) Submissions() int64 { return d.submissions.Load() }

// LiveBindGroups returns the number of bind groups not yet destroyed.
func (d *Device) LiveBindGroups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.groups)
}

// LiveObjects returns the number of images, buffers, pipelines, bind
// groups and fences not yet destroyed.
func (d *Device) LiveObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.images) + len(d.buffers) + len(d.pipelines) + len(d.groups) + len(d.fences)
}

// CreateImage implements driver.Device.
func (d *Device) CreateImage(desc *driver.ImageDesc) (driver.ImageID, error) {
	if d.lost.Load() {
		return driver.InvalidID, driver.ErrDeviceLost
	}
	bpp := desc.Format.BytesPerPixel()
	if bpp == 0 {
		return driver.InvalidID, fmt.Errorf("%w: image format %s", driver.ErrUnsupported, desc.Format)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return driver.InvalidID, fmt.Errorf("%w: image extent %dx%d", driver.ErrOutOfMemory, desc.Width, desc.Height)
	}
	img := newImage(*desc)
	id := driver.ImageID(d.newID())
	d.mu.Lock()
	d.images[id] = img
	d.mu.Unlock()
	return id, nil
}

// DestroyImage implements driver.Device.
func (d *Device) DestroyImage(id driver.ImageID) {
	d.mu.Lock()
	delete(d.images, id)
	d.mu.Unlock()
}

// CreateBuffer implements driver.Device.
func (d *Device) CreateBuffer(desc *driver.BufferDesc) (driver.BufferID, error) {
	if d.lost.Load() {
		return driver.InvalidID, driver.ErrDeviceLost
	}
	if desc.Size == 0 {
		return driver.InvalidID, fmt.Errorf("%w: zero-sized buffer", driver.ErrOutOfMemory)
	}
	id := driver.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &buffer{desc: *desc, data: make([]byte, desc.Size)}
	d.mu.Unlock()
	return id, nil
}

// DestroyBuffer implements driver.Device.
func (d *Device) DestroyBuffer(id driver.BufferID) {
	d.mu.Lock()
	delete(d.buffers, id)
	d.mu.Unlock()
}

// WriteBuffer implements driver.Device.
func (d *Device) WriteBuffer(id driver.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, id)
	}
	if offset+uint64(len(data)) > uint64(len(buf.data)) {
		return fmt.Errorf("write of %d bytes at %d overruns buffer of %d bytes", len(data), offset, len(buf.data))
	}
	copy(buf.data[offset:], data)
	return nil
}

// ReadBuffer implements driver.Device.
func (d *Device) ReadBuffer(id driver.BufferID, offset uint64, dst []byte) error {
	if d.lost.Load() {
		return driver.ErrDeviceLost
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, id)
	}
	if offset+uint64(len(dst)) > uint64(len(buf.data)) {
		return fmt.Errorf("read of %d bytes at %d overruns buffer of %d bytes", len(dst), offset, len(buf.data))
	}
	copy(dst, buf.data[offset:])
	return nil
}

// CreateComputePipeline implements driver.Device.
func (d *Device) CreateComputePipeline(desc *driver.ComputePipelineDesc) (driver.PipelineID, error) {
	if desc.Kernel == nil {
		return driver.InvalidID, fmt.Errorf("%w: compute pipeline %q has no host kernel for %s",
			driver.ErrShaderRejected, desc.Label, desc.EntryPoint)
	}
	p := &pipeline{
		label:     desc.Label,
		compute:   true,
		kernel:    desc.Kernel,
		workgroup: desc.WorkgroupSize,
		layout:    append([]driver.BindingSlot(nil), desc.Layout...),
	}
	return d.addPipeline(p), nil
}

// CreateRenderPipeline implements driver.Device.
func (d *Device) CreateRenderPipeline(desc *driver.RenderPipelineDesc) (driver.PipelineID, error) {
	if desc.VertexKernel == nil || desc.FragmentKernel == nil {
		return driver.InvalidID, fmt.Errorf("%w: render pipeline %q has no host kernels for %s/%s",
			driver.ErrShaderRejected, desc.Label, desc.VertexEntry, desc.FragmentEntry)
	}
	if desc.ColorFormat.BytesPerPixel() == 0 {
		return driver.InvalidID, fmt.Errorf("%w: color format %s", driver.ErrUnsupported, desc.ColorFormat)
	}
	p := &pipeline{
		label:       desc.Label,
		vertex:      desc.Vertex,
		vertexFn:    desc.VertexKernel,
		fragmentFn:  desc.FragmentKernel,
		colorFormat: desc.ColorFormat,
	}
	return d.addPipeline(p), nil
}

func (d *Device) addPipeline(p *pipeline) driver.PipelineID {
	id := driver.PipelineID(d.newID())
	d.mu.Lock()
	d.pipelines[id] = p
	d.mu.Unlock()
	return id
}

// DestroyPipeline implements driver.Device.
func (d *Device) DestroyPipeline(id driver.PipelineID) {
	d.mu.Lock()
	delete(d.pipelines, id)
	d.mu.Unlock()
}

// CreateBindGroup implements driver.Device.
func (d *Device) CreateBindGroup(desc *driver.BindGroupDesc) (driver.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pipelines[desc.Pipeline]
	if !ok {
		return driver.InvalidID, fmt.Errorf("%w: pipeline %d", driver.ErrInvalidHandle, desc.Pipeline)
	}
	if len(desc.Entries) != len(p.layout) {
		return driver.InvalidID, fmt.Errorf("bind group has %d entries, layout of %q has %d",
			len(desc.Entries), p.label, len(p.layout))
	}
	for _, e := range desc.Entries {
		if e.Image != driver.InvalidID {
			if _, ok := d.images[e.Image]; !ok {
				return driver.InvalidID, fmt.Errorf("%w: image %d", driver.ErrInvalidHandle, e.Image)
			}
		}
		if e.Buffer != driver.InvalidID {
			if _, ok := d.buffers[e.Buffer]; !ok {
				return driver.InvalidID, fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, e.Buffer)
			}
		}
	}
	id := driver.BindGroupID(d.newID())
	d.groups[id] = &bindGroup{
		pipeline: desc.Pipeline,
		entries:  append([]driver.BindGroupEntry(nil), desc.Entries...),
	}
	return id, nil
}

// DestroyBindGroup implements driver.Device.
func (d *Device) DestroyBindGroup(id driver.BindGroupID) {
	d.mu.Lock()
	delete(d.groups, id)
	d.mu.Unlock()
}

// Submit implements driver.Device.
func (d *Device) Submit(queueID driver.QueueID, cmds []driver.Command) (driver.FenceID, error) {
	if d.lost.Load() {
		return driver.InvalidID, driver.ErrDeviceLost
	}
	d.submitMu.RLock()
	defer d.submitMu.RUnlock()

	d.mu.Lock()
	q, ok := d.queues[queueID]
	if !ok {
		d.mu.Unlock()
		return driver.InvalidID, fmt.Errorf("%w: queue %d", driver.ErrInvalidHandle, queueID)
	}
	f := &fence{done: make(chan struct{})}
	id := driver.FenceID(d.newID())
	d.fences[id] = f
	d.mu.Unlock()

	d.submissions.Add(1)
	q.work <- &submission{cmds: append([]driver.Command(nil), cmds...), fence: f}
	return id, nil
}

// Wait implements driver.Device.
func (d *Device) Wait(id driver.FenceID, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	f, ok := d.fences[id]
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: fence %d", driver.ErrInvalidHandle, id)
	}

	select {
	case <-f.done:
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-f.done:
		case <-timer.C:
			if d.lost.Load() {
				return false, driver.ErrDeviceLost
			}
			return false, nil
		}
	}
	if f.err != nil {
		if d.lost.Load() {
			return false, driver.ErrDeviceLost
		}
		// Execution faults are reported like a lost device: the stream was
		// accepted and cannot be completed.
		d.report.Report(driver.SeverityError, d.name, "submission failed: %v", f.err)
		d.Lose()
		return false, fmt.Errorf("%w: %w", driver.ErrDeviceLost, f.err)
	}
	return true, nil
}

// DestroyFence implements driver.Device.
func (d *Device) DestroyFence(id driver.FenceID) {
	d.mu.Lock()
	delete(d.fences, id)
	d.mu.Unlock()
}

// Destroy implements driver.Device. Queued submissions finish first.
func (d *Device) Destroy() {
	d.closeOnce.Do(func() {
		d.submitMu.Lock()
		defer d.submitMu.Unlock()

		d.mu.Lock()
		queues := make([]*queue, 0, len(d.queues))
		for _, q := range d.queues {
			queues = append(queues, q)
		}
		d.queues = map[driver.QueueID]*queue{}
		d.mu.Unlock()

		for _, q := range queues {
			close(q.work)
			<-q.exited
		}
		d.pool.Close()
	})
}
