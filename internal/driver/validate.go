package driver

import (
	"sync"
	"time"
)

const validationSource = "validation"

// copyPitchAlignment is the row pitch that image copies run at natively.
const copyPitchAlignment = 256

// maxWorkgroupInvocations is the default per-workgroup invocation limit.
const maxWorkgroupInvocations = 256

// Validate wraps dev with a validation layer that checks every call
// against the objects it has seen created and reports problems to report.
// Messages never change the outcome of a call: the wrapped device still
// receives it.
func Validate(dev Device, report Reporter) Device {
	return &validatingDevice{
		dev:       dev,
		report:    report,
		images:    make(map[ImageID]ImageDesc),
		buffers:   make(map[BufferID]BufferDesc),
		pipelines: make(map[PipelineID]pipelineInfo),
		groups:    make(map[BindGroupID]PipelineID),
		fences:    make(map[FenceID]struct{}),
	}
}

type pipelineInfo struct {
	compute bool
	layout  []BindingSlot
}

type validatingDevice struct {
	dev    Device
	report Reporter

	mu        sync.Mutex
	images    map[ImageID]ImageDesc
	buffers   map[BufferID]BufferDesc
	pipelines map[PipelineID]pipelineInfo
	groups    map[BindGroupID]PipelineID
	fences    map[FenceID]struct{}
}

func (v *validatingDevice) errorf(format string, args ...any) {
	v.report.Report(SeverityError, validationSource, format, args...)
}

func (v *validatingDevice) warnf(format string, args ...any) {
	v.report.Report(SeverityWarning, validationSource, format, args...)
}

func (v *validatingDevice) perff(format string, args ...any) {
	v.report.Report(SeverityPerformance, validationSource, format, args...)
}

// HalDevice forwards to the wrapped device when it is HAL backed.
func (v *validatingDevice) HalDevice() any {
	if p, ok := v.dev.(HALProvider); ok {
		return p.HalDevice()
	}
	return nil
}

// HalQueue forwards to the wrapped device when it is HAL backed.
func (v *validatingDevice) HalQueue() any {
	if p, ok := v.dev.(HALProvider); ok {
		return p.HalQueue()
	}
	return nil
}

func (v *validatingDevice) CreateImage(desc *ImageDesc) (ImageID, error) {
	if desc.Width == 0 || desc.Height == 0 {
		v.errorf("image %q has zero extent %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if desc.Format.BytesPerPixel() == 0 {
		v.errorf("image %q has unknown format %s", desc.Label, desc.Format)
	}
	if desc.Usage == 0 {
		v.warnf("image %q is created without usage flags", desc.Label)
	}
	id, err := v.dev.CreateImage(desc)
	if err == nil {
		v.mu.Lock()
		v.images[id] = *desc
		v.mu.Unlock()
	}
	return id, err
}

func (v *validatingDevice) DestroyImage(id ImageID) {
	v.mu.Lock()
	_, ok := v.images[id]
	delete(v.images, id)
	v.mu.Unlock()
	if !ok {
		v.errorf("destroy of unknown image %d", id)
	}
	v.dev.DestroyImage(id)
}

func (v *validatingDevice) CreateBuffer(desc *BufferDesc) (BufferID, error) {
	if desc.Size == 0 {
		v.errorf("buffer %q has zero size", desc.Label)
	}
	if desc.Usage == 0 {
		v.warnf("buffer %q is created without usage flags", desc.Label)
	}
	id, err := v.dev.CreateBuffer(desc)
	if err == nil {
		v.mu.Lock()
		v.buffers[id] = *desc
		v.mu.Unlock()
	}
	return id, err
}

func (v *validatingDevice) DestroyBuffer(id BufferID) {
	v.mu.Lock()
	_, ok := v.buffers[id]
	delete(v.buffers, id)
	v.mu.Unlock()
	if !ok {
		v.errorf("destroy of unknown buffer %d", id)
	}
	v.dev.DestroyBuffer(id)
}

func (v *validatingDevice) checkBufferAccess(op string, id BufferID, offset uint64, n int, need BufferUsage) {
	v.mu.Lock()
	desc, ok := v.buffers[id]
	v.mu.Unlock()
	switch {
	case !ok:
		v.errorf("%s on unknown buffer %d", op, id)
	case desc.Usage&need == 0:
		v.errorf("%s on buffer %q without host access", op, desc.Label)
	case offset+uint64(n) > desc.Size:
		v.errorf("%s of %d bytes at offset %d overruns buffer %q (%d bytes)", op, n, offset, desc.Label, desc.Size)
	}
}

func (v *validatingDevice) WriteBuffer(id BufferID, offset uint64, data []byte) error {
	v.checkBufferAccess("write", id, offset, len(data), BufferHostWrite)
	return v.dev.WriteBuffer(id, offset, data)
}

func (v *validatingDevice) ReadBuffer(id BufferID, offset uint64, dst []byte) error {
	v.checkBufferAccess("read", id, offset, len(dst), BufferHostRead)
	return v.dev.ReadBuffer(id, offset, dst)
}

func (v *validatingDevice) CreateComputePipeline(desc *ComputePipelineDesc) (PipelineID, error) {
	wg := desc.WorkgroupSize
	switch {
	case wg[0] == 0 || wg[1] == 0 || wg[2] == 0:
		v.errorf("compute pipeline %q has zero workgroup size %v", desc.Label, wg)
	case wg[0]*wg[1]*wg[2] > maxWorkgroupInvocations:
		v.warnf("compute pipeline %q uses %d invocations per workgroup, limit is %d",
			desc.Label, wg[0]*wg[1]*wg[2], maxWorkgroupInvocations)
	}
	id, err := v.dev.CreateComputePipeline(desc)
	if err == nil {
		v.mu.Lock()
		v.pipelines[id] = pipelineInfo{compute: true, layout: desc.Layout}
		v.mu.Unlock()
	}
	return id, err
}

func (v *validatingDevice) CreateRenderPipeline(desc *RenderPipelineDesc) (PipelineID, error) {
	if desc.Vertex.Stride == 0 {
		v.errorf("render pipeline %q has zero vertex stride", desc.Label)
	}
	for _, a := range desc.Vertex.Attributes {
		if a.Offset+a.Format.Size() > desc.Vertex.Stride {
			v.errorf("render pipeline %q attribute %d overruns stride %d", desc.Label, a.Location, desc.Vertex.Stride)
		}
	}
	id, err := v.dev.CreateRenderPipeline(desc)
	if err == nil {
		v.mu.Lock()
		v.pipelines[id] = pipelineInfo{}
		v.mu.Unlock()
	}
	return id, err
}

func (v *validatingDevice) DestroyPipeline(id PipelineID) {
	v.mu.Lock()
	_, ok := v.pipelines[id]
	delete(v.pipelines, id)
	v.mu.Unlock()
	if !ok {
		v.errorf("destroy of unknown pipeline %d", id)
	}
	v.dev.DestroyPipeline(id)
}

func (v *validatingDevice) CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error) {
	v.mu.Lock()
	p, ok := v.pipelines[desc.Pipeline]
	if !ok {
		v.errorf("bind group %q references unknown pipeline %d", desc.Label, desc.Pipeline)
	} else if len(p.layout) != len(desc.Entries) {
		v.errorf("bind group %q has %d entries, pipeline layout has %d", desc.Label, len(desc.Entries), len(p.layout))
	}
	for _, e := range desc.Entries {
		if e.Image != InvalidID {
			img, ok := v.images[e.Image]
			if !ok {
				v.errorf("bind group %q slot %d references unknown image %d", desc.Label, e.Slot, e.Image)
			} else if img.Usage&(UsageStorage|UsageSampled) == 0 {
				v.errorf("bind group %q slot %d binds image %q without storage or sampled usage", desc.Label, e.Slot, img.Label)
			}
		}
		if e.Buffer != InvalidID {
			if _, ok := v.buffers[e.Buffer]; !ok {
				v.errorf("bind group %q slot %d references unknown buffer %d", desc.Label, e.Slot, e.Buffer)
			}
		}
	}
	v.mu.Unlock()

	id, err := v.dev.CreateBindGroup(desc)
	if err == nil {
		v.mu.Lock()
		v.groups[id] = desc.Pipeline
		v.mu.Unlock()
	}
	return id, err
}

func (v *validatingDevice) DestroyBindGroup(id BindGroupID) {
	v.mu.Lock()
	_, ok := v.groups[id]
	delete(v.groups, id)
	v.mu.Unlock()
	if !ok {
		v.errorf("destroy of unknown bind group %d", id)
	}
	v.dev.DestroyBindGroup(id)
}

func (v *validatingDevice) Submit(queue QueueID, cmds []Command) (FenceID, error) {
	v.checkStream(cmds)
	id, err := v.dev.Submit(queue, cmds)
	if err == nil {
		v.mu.Lock()
		v.fences[id] = struct{}{}
		v.mu.Unlock()
		v.report.Report(SeverityInfo, validationSource, "queue %d: submitted %d commands as fence %d", queue, len(cmds), id)
	}
	return id, err
}

// checkStream validates handles, pass balance and copy usage of a command
// stream.
func (v *validatingDevice) checkStream(cmds []Command) {
	v.mu.Lock()
	defer v.mu.Unlock()

	inPass := false
	for i, c := range cmds {
		switch cmd := c.(type) {
		case DispatchCommand:
			p, ok := v.pipelines[cmd.Pipeline]
			if !ok || !p.compute {
				v.errorf("command %d: dispatch with unknown compute pipeline %d", i, cmd.Pipeline)
			}
			if owner, ok := v.groups[cmd.BindGroup]; !ok || owner != cmd.Pipeline {
				v.errorf("command %d: dispatch with bind group %d not built for pipeline %d", i, cmd.BindGroup, cmd.Pipeline)
			}
			if inPass {
				v.errorf("command %d: dispatch inside a render pass", i)
			}
			g := cmd.Groups
			if g[0]*g[1]*g[2] == 0 {
				v.warnf("command %d: dispatch of an empty grid %v", i, g)
			} else if g[0]*g[1]*g[2] < 4 {
				v.perff("command %d: dispatch of only %d workgroups underuses the device", i, g[0]*g[1]*g[2])
			}
		case BeginRenderPassCommand:
			if inPass {
				v.errorf("command %d: nested render pass", i)
			}
			inPass = true
			if img, ok := v.images[cmd.Target]; !ok {
				v.errorf("command %d: render pass on unknown image %d", i, cmd.Target)
			} else if img.Usage&UsageRenderTarget == 0 {
				v.errorf("command %d: render pass on image %q without render target usage", i, img.Label)
			}
		case DrawCommand:
			if !inPass {
				v.errorf("command %d: draw outside a render pass", i)
			}
			if p, ok := v.pipelines[cmd.Pipeline]; !ok || p.compute {
				v.errorf("command %d: draw with unknown graphics pipeline %d", i, cmd.Pipeline)
			}
			if _, ok := v.buffers[cmd.Vertices]; !ok {
				v.errorf("command %d: draw with unknown vertex buffer %d", i, cmd.Vertices)
			}
		case EndRenderPassCommand:
			if !inPass {
				v.errorf("command %d: end of a render pass that was never begun", i)
			}
			inPass = false
		case CopyImageToBufferCommand:
			img, iok := v.images[cmd.Image]
			buf, bok := v.buffers[cmd.Buffer]
			if !iok {
				v.errorf("command %d: copy from unknown image %d", i, cmd.Image)
			} else if img.Usage&UsageCopySrc == 0 {
				v.errorf("command %d: copy from image %q without copy source usage", i, img.Label)
			}
			if !bok {
				v.errorf("command %d: copy into unknown buffer %d", i, cmd.Buffer)
			} else if buf.Usage&BufferCopyDst == 0 {
				v.errorf("command %d: copy into buffer %q without copy destination usage", i, buf.Label)
			}
			if iok && bok {
				pitch := uint64(img.Width) * uint64(img.Format.BytesPerPixel())
				if pitch*uint64(img.Height) > buf.Size {
					v.errorf("command %d: buffer %q (%d bytes) is too small for image %q", i, buf.Label, buf.Size, img.Label)
				}
				if pitch%copyPitchAlignment != 0 {
					v.perff("command %d: row pitch %d of image %q is not %d-byte aligned and needs repacking",
						i, pitch, img.Label, copyPitchAlignment)
				}
			}
		}
	}
	if inPass {
		v.errorf("command stream ends inside a render pass")
	}
}

func (v *validatingDevice) Wait(fence FenceID, timeout time.Duration) (bool, error) {
	v.mu.Lock()
	_, ok := v.fences[fence]
	v.mu.Unlock()
	if !ok {
		v.errorf("wait on unknown fence %d", fence)
	}
	return v.dev.Wait(fence, timeout)
}

func (v *validatingDevice) DestroyFence(id FenceID) {
	v.mu.Lock()
	_, ok := v.fences[id]
	delete(v.fences, id)
	v.mu.Unlock()
	if !ok {
		v.errorf("destroy of unknown fence %d", id)
	}
	v.dev.DestroyFence(id)
}

func (v *validatingDevice) Destroy() {
	v.mu.Lock()
	leaked := len(v.images) + len(v.buffers) + len(v.pipelines) + len(v.groups) + len(v.fences)
	v.mu.Unlock()
	if leaked > 0 {
		v.warnf("device destroyed with %d live objects", leaked)
	}
	v.dev.Destroy()
}
