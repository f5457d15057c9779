package native

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/headless/internal/driver"
	"github.com/gogpu/wgpu/hal"
)

// mainQueue is the ID of the single HAL queue.
const mainQueue driver.QueueID = 1

// Device is an opened HAL device.
//
// Thread Safety: object maps are guarded by mu. Encoding and queue
// submission are serialized by submitMu.
type Device struct {
	name   string
	report driver.Reporter
	device hal.Device
	queue  hal.Queue

	nextID atomic.Uint64
	lost   atomic.Bool

	mu        sync.RWMutex
	images    map[driver.ImageID]*texture
	buffers   map[driver.BufferID]*gpuBuffer
	pipelines map[driver.PipelineID]*pipeline
	groups    map[driver.BindGroupID]*bindGroup
	fences    map[driver.FenceID]*submission

	submitMu sync.Mutex
}

type texture struct {
	desc  driver.ImageDesc
	tex   hal.Texture
	view  hal.TextureView
	usage gputypes.TextureUsage // last usage recorded by a submission
}

type gpuBuffer struct {
	desc driver.BufferDesc
	buf  hal.Buffer
}

type pipeline struct {
	label   string
	compute hal.ComputePipeline
	render  hal.RenderPipeline
	layout  hal.PipelineLayout
	groupL  hal.BindGroupLayout
	modules []hal.ShaderModule
	slots   []driver.BindingSlot
	format  driver.Format
}

type bindGroup struct {
	group    hal.BindGroup
	pipeline driver.PipelineID
	entries  []driver.BindGroupEntry
}

// submission owns the transient objects of one Submit call until its
// fence is destroyed. index is the HAL submission index; the work is
// complete once the queue reports an index at or past it.
type submission struct {
	index    uint64
	cmd      hal.CommandBuffer
	staging  []hal.Buffer
	signaled bool
}

// pollInterval bounds the sleep between completion polls in Wait.
const pollInterval = 200 * time.Microsecond

func newDevice(name string, dev hal.Device, q hal.Queue, report driver.Reporter) *Device {
	return &Device{
		name:      name,
		report:    report,
		device:    dev,
		queue:     q,
		images:    make(map[driver.ImageID]*texture),
		buffers:   make(map[driver.BufferID]*gpuBuffer),
		pipelines: make(map[driver.PipelineID]*pipeline),
		groups:    make(map[driver.BindGroupID]*bindGroup),
		fences:    make(map[driver.FenceID]*submission),
	}
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1)
}

// HalDevice implements driver.HALProvider.
func (d *Device) HalDevice() any { return d.device }

// HalQueue implements driver.HALProvider.
func (d *Device) HalQueue() any { return d.queue }

// CreateImage implements driver.Device.
func (d *Device) CreateImage(desc *driver.ImageDesc) (driver.ImageID, error) {
	format, ok := convertFormat(desc.Format)
	if !ok {
		return driver.InvalidID, fmt.Errorf("%w: image format %s", driver.ErrUnsupported, desc.Format)
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         convertImageUsage(desc.Usage),
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("%w: create texture %q: %w", driver.ErrOutOfMemory, desc.Label, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: desc.Label + "_view",
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return driver.InvalidID, fmt.Errorf("%w: create view of %q: %w", driver.ErrOutOfMemory, desc.Label, err)
	}

	id := driver.ImageID(d.newID())
	d.mu.Lock()
	d.images[id] = &texture{desc: *desc, tex: tex, view: view}
	d.mu.Unlock()
	return id, nil
}

// DestroyImage implements driver.Device.
func (d *Device) DestroyImage(id driver.ImageID) {
	d.mu.Lock()
	t, ok := d.images[id]
	delete(d.images, id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyTextureView(t.view)
		d.device.DestroyTexture(t.tex)
	}
}

// CreateBuffer implements driver.Device.
func (d *Device) CreateBuffer(desc *driver.BufferDesc) (driver.BufferID, error) {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: convertBufferUsage(desc.Usage),
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("%w: create buffer %q: %w", driver.ErrOutOfMemory, desc.Label, err)
	}
	id := driver.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &gpuBuffer{desc: *desc, buf: buf}
	d.mu.Unlock()
	return id, nil
}

// DestroyBuffer implements driver.Device.
func (d *Device) DestroyBuffer(id driver.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	delete(d.buffers, id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyBuffer(b.buf)
	}
}

func (d *Device) buffer(id driver.BufferID) (*gpuBuffer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, id)
	}
	return b, nil
}

// WriteBuffer implements driver.Device.
func (d *Device) WriteBuffer(id driver.BufferID, offset uint64, data []byte) error {
	b, err := d.buffer(id)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("write of %d bytes at %d overruns buffer of %d bytes", len(data), offset, b.desc.Size)
	}
	if err := d.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return fmt.Errorf("write buffer %q: %w", b.desc.Label, err)
	}
	return nil
}

// ReadBuffer implements driver.Device.
func (d *Device) ReadBuffer(id driver.BufferID, offset uint64, dst []byte) error {
	if d.lost.Load() {
		return driver.ErrDeviceLost
	}
	b, err := d.buffer(id)
	if err != nil {
		return err
	}
	if offset+uint64(len(dst)) > b.desc.Size {
		return fmt.Errorf("read of %d bytes at %d overruns buffer of %d bytes", len(dst), offset, b.desc.Size)
	}
	if len(dst) == 0 {
		return nil
	}
	m, err := d.device.MapBuffer(b.buf, offset, uint64(len(dst)))
	if err != nil {
		return fmt.Errorf("map buffer %q: %w", b.desc.Label, err)
	}
	copy(dst, unsafe.Slice((*byte)(m.Ptr), len(dst)))
	if err := d.device.UnmapBuffer(b.buf); err != nil {
		return fmt.Errorf("unmap buffer %q: %w", b.desc.Label, err)
	}
	return nil
}

func (d *Device) shaderModule(label string, spirv []uint32) (hal.ShaderModule, error) {
	if len(spirv) == 0 {
		return nil, fmt.Errorf("%w: %s: no SPIR-V", driver.ErrShaderRejected, label)
	}
	m, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", driver.ErrShaderRejected, label, err)
	}
	return m, nil
}

// CreateComputePipeline implements driver.Device.
func (d *Device) CreateComputePipeline(desc *driver.ComputePipelineDesc) (driver.PipelineID, error) {
	p := &pipeline{label: desc.Label, slots: append([]driver.BindingSlot(nil), desc.Layout...)}

	module, err := d.shaderModule(desc.Label+"_shader", desc.SPIRV)
	if err != nil {
		return driver.InvalidID, err
	}
	p.modules = append(p.modules, module)

	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Layout))
	for i, slot := range desc.Layout {
		entries[i] = convertLayoutEntry(slot)
	}
	p.groupL, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bgl",
		Entries: entries,
	})
	if err != nil {
		d.destroyPipeline(p)
		return driver.InvalidID, fmt.Errorf("create bind group layout %q: %w", desc.Label, err)
	}
	p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.groupL},
	})
	if err != nil {
		d.destroyPipeline(p)
		return driver.InvalidID, fmt.Errorf("create pipeline layout %q: %w", desc.Label, err)
	}
	p.compute, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  p.layout,
		Compute: hal.ComputeState{Module: module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		d.destroyPipeline(p)
		return driver.InvalidID, fmt.Errorf("%w: compute pipeline %q: %w", driver.ErrShaderRejected, desc.Label, err)
	}
	return d.addPipeline(p), nil
}

// CreateRenderPipeline implements driver.Device.
func (d *Device) CreateRenderPipeline(desc *driver.RenderPipelineDesc) (driver.PipelineID, error) {
	format, ok := convertFormat(desc.ColorFormat)
	if !ok {
		return driver.InvalidID, fmt.Errorf("%w: color format %s", driver.ErrUnsupported, desc.ColorFormat)
	}
	p := &pipeline{label: desc.Label, format: desc.ColorFormat}

	vs, err := d.shaderModule(desc.Label+"_vs", desc.VertexSPIRV)
	if err != nil {
		return driver.InvalidID, err
	}
	p.modules = append(p.modules, vs)
	fs, err := d.shaderModule(desc.Label+"_fs", desc.FragmentSPIRV)
	if err != nil {
		d.destroyPipeline(p)
		return driver.InvalidID, err
	}
	p.modules = append(p.modules, fs)

	p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: desc.Label + "_layout",
	})
	if err != nil {
		d.destroyPipeline(p)
		return driver.InvalidID, fmt.Errorf("create pipeline layout %q: %w", desc.Label, err)
	}
	p.render, err = d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     vs,
			EntryPoint: desc.VertexEntry,
			Buffers:    convertVertexLayout(desc.Vertex),
		},
		Fragment: &hal.FragmentState{
			Module:     fs,
			EntryPoint: desc.FragmentEntry,
			Targets: []gputypes.ColorTargetState{{
				Format:    format,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		d.destroyPipeline(p)
		return driver.InvalidID, fmt.Errorf("%w: render pipeline %q: %w", driver.ErrShaderRejected, desc.Label, err)
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

func (d *Device) destroyPipeline(p *pipeline) {
	if p.compute != nil {
		d.device.DestroyComputePipeline(p.compute)
	}
	if p.render != nil {
		d.device.DestroyRenderPipeline(p.render)
	}
	if p.layout != nil {
		d.device.DestroyPipelineLayout(p.layout)
	}
	if p.groupL != nil {
		d.device.DestroyBindGroupLayout(p.groupL)
	}
	for _, m := range p.modules {
		d.device.DestroyShaderModule(m)
	}
}

// DestroyPipeline implements driver.Device.
func (d *Device) DestroyPipeline(id driver.PipelineID) {
	d.mu.Lock()
	p, ok := d.pipelines[id]
	delete(d.pipelines, id)
	d.mu.Unlock()
	if ok {
		d.destroyPipeline(p)
	}
}

// CreateBindGroup implements driver.Device.
func (d *Device) CreateBindGroup(desc *driver.BindGroupDesc) (driver.BindGroupID, error) {
	d.mu.RLock()
	p, ok := d.pipelines[desc.Pipeline]
	if !ok || p.groupL == nil {
		d.mu.RUnlock()
		return driver.InvalidID, fmt.Errorf("%w: compute pipeline %d", driver.ErrInvalidHandle, desc.Pipeline)
	}
	if len(desc.Entries) != len(p.slots) {
		d.mu.RUnlock()
		return driver.InvalidID, fmt.Errorf("bind group has %d entries, layout of %q has %d",
			len(desc.Entries), p.label, len(p.slots))
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		switch {
		case e.Image != driver.InvalidID:
			t, ok := d.images[e.Image]
			if !ok {
				d.mu.RUnlock()
				return driver.InvalidID, fmt.Errorf("%w: image %d", driver.ErrInvalidHandle, e.Image)
			}
			entries = append(entries, gputypes.BindGroupEntry{
				Binding:  e.Slot,
				Resource: gputypes.TextureViewBinding{TextureView: t.view.NativeHandle()},
			})
		case e.Buffer != driver.InvalidID:
			b, ok := d.buffers[e.Buffer]
			if !ok {
				d.mu.RUnlock()
				return driver.InvalidID, fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, e.Buffer)
			}
			entries = append(entries, gputypes.BindGroupEntry{
				Binding:  e.Slot,
				Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: 0, Size: b.desc.Size},
			})
		default:
			d.mu.RUnlock()
			return driver.InvalidID, fmt.Errorf("%w: empty entry for slot %d", driver.ErrInvalidHandle, e.Slot)
		}
	}
	layout := p.groupL
	d.mu.RUnlock()

	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("create bind group %q: %w", desc.Label, err)
	}
	id := driver.BindGroupID(d.newID())
	d.mu.Lock()
	d.groups[id] = &bindGroup{
		group:    group,
		pipeline: desc.Pipeline,
		entries:  append([]driver.BindGroupEntry(nil), desc.Entries...),
	}
	d.mu.Unlock()
	return id, nil
}

// DestroyBindGroup implements driver.Device.
func (d *Device) DestroyBindGroup(id driver.BindGroupID) {
	d.mu.Lock()
	g, ok := d.groups[id]
	delete(d.groups, id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyBindGroup(g.group)
	}
}

// Submit implements driver.Device. The stream is encoded into one HAL
// command buffer. Texture usages reached by the stream are committed only
// once the queue accepts it.
func (d *Device) Submit(queue driver.QueueID, cmds []driver.Command) (driver.FenceID, error) {
	if d.lost.Load() {
		return driver.InvalidID, driver.ErrDeviceLost
	}
	if queue != mainQueue {
		return driver.InvalidID, fmt.Errorf("%w: queue %d", driver.ErrInvalidHandle, queue)
	}

	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	sub := &submission{}
	cmd, usage, err := d.encode(cmds, sub)
	if err != nil {
		d.release(sub)
		return driver.InvalidID, err
	}
	sub.cmd = cmd

	sub.index, err = d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		d.release(sub)
		d.markLost(err)
		return driver.InvalidID, fmt.Errorf("%w: submit: %w", driver.ErrDeviceLost, err)
	}

	id := driver.FenceID(d.newID())
	d.mu.Lock()
	for t, u := range usage {
		t.usage = u
	}
	d.fences[id] = sub
	d.mu.Unlock()
	return id, nil
}

// Wait implements driver.Device. The HAL queue reports completion by
// submission index, so Wait polls it until the deadline.
func (d *Device) Wait(id driver.FenceID, timeout time.Duration) (bool, error) {
	d.mu.RLock()
	sub, ok := d.fences[id]
	d.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: fence %d", driver.ErrInvalidHandle, id)
	}
	if d.lost.Load() {
		return false, driver.ErrDeviceLost
	}

	deadline := time.Now().Add(timeout)
	for d.queue.PollCompleted() < sub.index {
		left := time.Until(deadline)
		if left <= 0 {
			return false, nil
		}
		time.Sleep(min(left, pollInterval))
	}
	d.mu.Lock()
	sub.signaled = true
	d.mu.Unlock()
	return true, nil
}

func (d *Device) markLost(err error) {
	if d.lost.CompareAndSwap(false, true) {
		d.report.Report(driver.SeverityError, d.name, "device lost: %v", err)
	}
}

// DestroyFence implements driver.Device. A fence that never signaled keeps
// its command buffer alive, since the GPU may still reference it.
func (d *Device) DestroyFence(id driver.FenceID) {
	d.mu.Lock()
	sub, ok := d.fences[id]
	delete(d.fences, id)
	d.mu.Unlock()
	if !ok {
		return
	}
	if !sub.signaled && !d.lost.Load() && d.queue.PollCompleted() < sub.index {
		d.report.Report(driver.SeverityWarning, d.name,
			"fence %d destroyed before it signaled; leaking its command buffer", id)
		return
	}
	d.release(sub)
}

func (d *Device) release(sub *submission) {
	if sub.cmd != nil {
		d.device.FreeCommandBuffer(sub.cmd)
	}
	for _, b := range sub.staging {
		d.device.DestroyBuffer(b)
	}
}

// Destroy implements driver.Device.
func (d *Device) Destroy() {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return
	}
	for id, sub := range d.fences {
		if sub.signaled || d.lost.Load() || d.queue.PollCompleted() >= sub.index {
			d.release(sub)
		}
		delete(d.fences, id)
	}
	for id, g := range d.groups {
		d.device.DestroyBindGroup(g.group)
		delete(d.groups, id)
	}
	for id, p := range d.pipelines {
		d.destroyPipeline(p)
		delete(d.pipelines, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.buf)
		delete(d.buffers, id)
	}
	for id, t := range d.images {
		d.device.DestroyTextureView(t.view)
		d.device.DestroyTexture(t.tex)
		delete(d.images, id)
	}
	d.device.Destroy()
	d.device = nil
}
