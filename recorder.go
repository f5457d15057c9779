package headless

import "github.com/gogpu/headless/internal/driver"

// DynamicState overrides the fixed viewport and scissor of a graphics
// pipeline for one draw. Nil fields keep the pipeline's values.
type DynamicState struct {
	Viewport *Viewport
	Scissor  *Rect
}

// Recorder records a command buffer for one queue. Its methods chain; the
// first invalid call fails the recorder, later calls do nothing, and
// Finish returns the first error.
//
//	cb, err := dc.Record(q).
//	    DispatchOver(p, set, img).
//	    CopyImageToBuffer(img, buf).
//	    Finish()
type Recorder struct {
	ctx       *Context
	queue     *Queue
	cmds      []driver.Command
	pipelines []*Pipeline
	pass      *Framebuffer
	finished  bool
	err       error
}

// Record starts recording for q, or for the main queue when q is nil.
func (c *Context) Record(q *Queue) *Recorder {
	if q == nil {
		q = c.main
	}
	r := &Recorder{ctx: c, queue: q}
	if q.ctx != c {
		r.fail("record", "queue belongs to another context")
	}
	return r
}

// Err returns the first recording error, or nil.
func (r *Recorder) Err() error { return r.err }

func (r *Recorder) fail(op, format string, args ...any) *Recorder {
	return r.abort(errorf(StageRecording, op, ErrRecordingFailed, format, args...))
}

// abort records err and drops everything recorded so far.
func (r *Recorder) abort(err error) *Recorder {
	r.err = err
	for _, p := range r.pipelines {
		p.Release()
	}
	r.pipelines = nil
	r.cmds = nil
	return r
}

// ready reports whether op may be recorded and whether the queue has caps.
func (r *Recorder) ready(op string, caps Capability) bool {
	if r.err != nil {
		return false
	}
	if r.finished {
		r.fail(op, "recorder already finished")
		return false
	}
	if err := r.ctx.check(StageRecording, op); err != nil {
		r.abort(err)
		return false
	}
	if !r.queue.Capabilities().Has(caps) {
		r.fail(op, "queue family %d (%s) does not support %s", r.queue.Family(), r.queue.Capabilities(), caps)
		return false
	}
	return true
}

func (r *Recorder) owned(op string, img *Image) bool {
	if img == nil || img.released.Load() {
		r.fail(op, "image: %v", errClosed)
		return false
	}
	if img.ctx != r.ctx {
		r.fail(op, "image %q belongs to another context", img.label)
		return false
	}
	if img.family != r.queue.Family() {
		r.fail(op, "image %q is owned by queue family %d, recording for family %d",
			img.label, img.family, r.queue.Family())
		return false
	}
	return true
}

func (r *Recorder) use(p *Pipeline) {
	for _, q := range r.pipelines {
		if q == p {
			return
		}
	}
	r.pipelines = append(r.pipelines, p.Retain())
}

// Dispatch records a compute dispatch of groups workgroups. Every storage
// image in set must be covered exactly: its extent must be a multiple of
// the workgroup size and equal to the group count times the workgroup
// size on both axes.
func (r *Recorder) Dispatch(p *Pipeline, set *BindingSet, groups [3]uint32) *Recorder {
	const op = "dispatch"
	if !r.ready(op, CapCompute) {
		return r
	}
	switch {
	case r.pass != nil:
		return r.fail(op, "dispatch inside a render pass")
	case p == nil || p.kind != PipelineCompute:
		return r.fail(op, "not a compute pipeline")
	case set == nil || set.released.Load():
		return r.fail(op, "binding set: %v", errClosed)
	case set.pipeline != p:
		return r.fail(op, "binding set was bound for pipeline %q, not %q", set.pipeline.label, p.label)
	}
	for _, img := range set.images() {
		if !r.owned(op, img) {
			return r
		}
	}
	if groups[0] == 0 || groups[1] == 0 || groups[2] == 0 {
		return r.fail(op, "empty dispatch %v", groups)
	}
	lx, ly := p.workgroup[0], p.workgroup[1]
	for _, img := range set.storageImages() {
		w, h := uint32(img.width), uint32(img.height)
		switch {
		case lx == 0 || ly == 0:
			return r.fail(op, "pipeline %q has an empty workgroup", p.label)
		case w%lx != 0 || h%ly != 0:
			return r.fail(op, "image %q of %dx%d is not a multiple of workgroup size %dx%d", img.label, w, h, lx, ly)
		case groups[2] != 1:
			return r.fail(op, "%d layers of groups over 2D image %q", groups[2], img.label)
		case groups[0] != w/lx || groups[1] != h/ly:
			return r.fail(op, "%dx%d groups of %dx%d do not cover image %q of %dx%d",
				groups[0], groups[1], lx, ly, img.label, w, h)
		}
	}
	r.use(p)
	r.cmds = append(r.cmds, driver.DispatchCommand{Pipeline: p.id, BindGroup: set.id, Groups: groups})
	return r
}

// DispatchOver dispatches one invocation per pixel of img. The image
// extent must be a multiple of the workgroup size on both axes.
func (r *Recorder) DispatchOver(p *Pipeline, set *BindingSet, img *Image) *Recorder {
	const op = "dispatch"
	if r.err != nil {
		return r
	}
	if p == nil || p.kind != PipelineCompute {
		return r.fail(op, "not a compute pipeline")
	}
	if img == nil {
		return r.fail(op, "image: %v", errClosed)
	}
	lx, ly := p.workgroup[0], p.workgroup[1]
	if lx == 0 || ly == 0 {
		return r.fail(op, "pipeline %q has an empty workgroup", p.label)
	}
	w, h := uint32(img.width), uint32(img.height)
	if w%lx != 0 || h%ly != 0 {
		return r.fail(op, "image %dx%d is not a multiple of workgroup size %dx%d", w, h, lx, ly)
	}
	return r.Dispatch(p, set, [3]uint32{w / lx, h / ly, 1})
}

// BeginRenderPass opens the render pass of fb's pipeline, clearing the
// attachment to clear.
func (r *Recorder) BeginRenderPass(fb *Framebuffer, clear Color) *Recorder {
	const op = "begin render pass"
	if !r.ready(op, CapGraphics) {
		return r
	}
	if r.pass != nil {
		return r.fail(op, "render pass already open")
	}
	if fb == nil {
		return r.fail(op, "nil framebuffer")
	}
	if !r.owned(op, fb.image) {
		return r
	}
	r.pass = fb
	r.cmds = append(r.cmds, driver.BeginRenderPassCommand{Target: fb.image.id, Clear: clear})
	return r
}

// Draw draws the vertices of vb as a triangle list. The vertex count is
// the buffer length divided by the vertex stride.
func (r *Recorder) Draw(p *Pipeline, dyn DynamicState, vb *HostBuffer) *Recorder {
	const op = "draw"
	if !r.ready(op, CapGraphics) {
		return r
	}
	switch {
	case r.pass == nil:
		return r.fail(op, "draw outside a render pass")
	case p == nil || p.kind != PipelineGraphics:
		return r.fail(op, "not a graphics pipeline")
	case p.pass.ColorFormat != r.pass.pipeline.pass.ColorFormat:
		return r.fail(op, "pipeline %q renders %s, render pass is %s",
			p.label, p.pass.ColorFormat, r.pass.pipeline.pass.ColorFormat)
	case vb == nil || vb.released.Load():
		return r.fail(op, "vertex buffer: %v", errClosed)
	case vb.usage&driver.BufferVertex == 0:
		return r.fail(op, "buffer %q is not a vertex buffer", vb.label)
	case p.vertex.Stride == 0:
		return r.fail(op, "pipeline %q has no vertex stride", p.label)
	}
	count := uint32(vb.size) / p.vertex.Stride
	if count == 0 {
		return r.fail(op, "vertex buffer of %d bytes holds no vertex of %d bytes", vb.size, p.vertex.Stride)
	}

	vp, sc := p.viewport, p.scissor
	if dyn.Viewport != nil {
		vp = *dyn.Viewport
	}
	if dyn.Scissor != nil {
		sc = *dyn.Scissor
	}
	r.use(p)
	r.cmds = append(r.cmds, driver.DrawCommand{
		Pipeline:    p.id,
		Vertices:    vb.id,
		VertexCount: count,
		Viewport:    vp,
		Scissor:     sc,
	})
	return r
}

// EndRenderPass closes the open render pass.
func (r *Recorder) EndRenderPass() *Recorder {
	const op = "end render pass"
	if !r.ready(op, CapGraphics) {
		return r
	}
	if r.pass == nil {
		return r.fail(op, "no render pass open")
	}
	r.pass = nil
	r.cmds = append(r.cmds, driver.EndRenderPassCommand{})
	return r
}

// CopyImageToBuffer copies img into buf, tightly packed row by row.
func (r *Recorder) CopyImageToBuffer(img *Image, buf *HostBuffer) *Recorder {
	const op = "copy image to buffer"
	if !r.ready(op, CapTransfer) {
		return r
	}
	if r.pass != nil {
		return r.fail(op, "copy inside a render pass")
	}
	if !r.owned(op, img) {
		return r
	}
	switch {
	case img.usage&UsageCopySrc == 0:
		return r.fail(op, "image %q lacks copy source usage", img.label)
	case buf == nil || buf.released.Load():
		return r.fail(op, "buffer: %v", errClosed)
	case buf.access&AccessHostRead == 0:
		return r.fail(op, "buffer %q is not host readable", buf.label)
	case buf.size < img.ByteSize():
		return r.fail(op, "buffer of %d bytes cannot hold %d bytes of image %q", buf.size, img.ByteSize(), img.label)
	}
	r.cmds = append(r.cmds, driver.CopyImageToBufferCommand{Image: img.id, Buffer: buf.id})
	return r
}

// Finish seals the recorder and returns the command buffer.
func (r *Recorder) Finish() (*CommandBuffer, error) {
	const op = "finish"
	if r.err != nil {
		return nil, r.err
	}
	if r.finished {
		r.fail(op, "recorder already finished")
		return nil, r.err
	}
	if r.pass != nil {
		r.fail(op, "render pass still open")
		return nil, r.err
	}
	r.finished = true
	cb := &CommandBuffer{queue: r.queue, cmds: r.cmds, pipelines: r.pipelines}
	r.cmds, r.pipelines = nil, nil
	return cb, nil
}
