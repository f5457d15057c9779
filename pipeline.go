package headless

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/headless/internal/driver"
	"github.com/gogpu/headless/internal/wgsl"
)

// PipelineKind distinguishes compute and graphics pipelines.
type PipelineKind uint8

// Pipeline kinds.
const (
	PipelineCompute PipelineKind = iota + 1
	PipelineGraphics
)

func (k PipelineKind) String() string {
	switch k {
	case PipelineCompute:
		return "compute"
	case PipelineGraphics:
		return "graphics"
	default:
		return "unknown"
	}
}

// RenderTarget describes the color attachment a graphics pipeline draws
// into.
type RenderTarget struct {
	Width, Height int
	Format        Format
}

// LoadOp is what a render pass does with the attachment at its start.
type LoadOp uint8

// Load operations.
const (
	LoadClear LoadOp = iota + 1
	LoadKeep
)

// StoreOp is what a render pass does with the attachment at its end.
type StoreOp uint8

// Store operations.
const (
	StoreStore StoreOp = iota + 1
	StoreDiscard
)

// RenderPassDesc describes the render pass of a graphics pipeline: one
// color attachment and one subpass.
type RenderPassDesc struct {
	ColorFormat Format
	Load        LoadOp
	Store       StoreOp
	Subpasses   int
}

// Pipeline is an immutable compute or graphics pipeline. Pipelines are
// reference counted; command buffers retain the pipelines they use.
type Pipeline struct {
	ctx   *Context
	id    driver.PipelineID
	kind  PipelineKind
	label string
	refs  atomic.Int32

	// compute
	layout    BindingLayout
	workgroup [3]uint32

	// graphics
	vertex   VertexLayout
	target   RenderTarget
	pass     RenderPassDesc
	viewport Viewport
	scissor  Rect
}

// BuildComputePipeline builds a compute pipeline whose group 0 bindings
// must match layout slot for slot.
func (c *Context) BuildComputePipeline(prog ShaderProgram, layout BindingLayout) (*Pipeline, error) {
	op := "build compute pipeline " + prog.Label
	if err := c.check(StagePipelineBuild, op); err != nil {
		return nil, err
	}
	if prog.Stage != ShaderCompute {
		return nil, errorf(StagePipelineBuild, op, ErrIncompatiblePipelineState, "program stage is %s", prog.Stage)
	}
	sh, err := compileShader(prog)
	if err != nil {
		return nil, err
	}
	if err := matchLayout(sh.mod, layout); err != nil {
		return nil, newError(StagePipelineBuild, op, ErrIncompatiblePipelineState, err)
	}

	id, err := c.dev.CreateComputePipeline(&driver.ComputePipelineDesc{
		Label:         prog.Label,
		SPIRV:         sh.spirv,
		EntryPoint:    prog.EntryPoint,
		WorkgroupSize: sh.entry.WorkgroupSize,
		Layout:        append([]driver.BindingSlot(nil), layout...),
		Kernel:        prog.Emulation.Compute,
	})
	if err != nil {
		return nil, c.driverError(StagePipelineBuild, op, pipelineErrorKind(err), err)
	}
	p := &Pipeline{
		ctx:       c,
		id:        id,
		kind:      PipelineCompute,
		label:     prog.Label,
		layout:    append(BindingLayout(nil), layout...),
		workgroup: sh.entry.WorkgroupSize,
	}
	p.refs.Store(1)
	Logger().Debug("compute pipeline built", "label", prog.Label, "workgroup", sh.entry.WorkgroupSize)
	return p, nil
}

// matchLayout checks that the resources of bind group 0 are exactly
// layout.
func matchLayout(mod *wgsl.Module, layout BindingLayout) error {
	for _, b := range mod.Bindings {
		if b.Group != 0 {
			return fmt.Errorf("binding %s uses group %d; only group 0 is supported", b.Name, b.Group)
		}
	}
	bindings := mod.Group(0)
	if len(bindings) != len(layout) {
		return fmt.Errorf("shader declares %d bindings, layout has %d", len(bindings), len(layout))
	}
	for i, b := range bindings {
		slot := layout[i]
		if b.Binding != slot.Slot {
			return fmt.Errorf("layout slot %d is %d, shader binding is %d", i, slot.Slot, b.Binding)
		}
		if kind := bindingKind(b.Kind); kind != slot.Kind {
			return fmt.Errorf("binding %d (%s) is a %s, layout says %s", b.Binding, b.Name, kind, slot.Kind)
		}
		if slot.Kind == BindingStorageImage {
			f, ok := driver.ParseFormat(b.Format)
			if !ok || f != slot.Format {
				return fmt.Errorf("binding %d (%s) has format %s, layout says %s", b.Binding, b.Name, b.Format, slot.Format)
			}
		}
	}
	return nil
}

// BuildGraphicsPipeline builds a graphics pipeline drawing triangle lists
// with vertex layout vl into target. Its render pass clears and stores one
// color attachment, and its viewport and scissor cover the whole target.
func (c *Context) BuildGraphicsPipeline(vs, fs ShaderProgram, vl VertexLayout, target RenderTarget) (*Pipeline, error) {
	op := "build graphics pipeline " + vs.Label
	if err := c.check(StagePipelineBuild, op); err != nil {
		return nil, err
	}
	if vs.Stage != ShaderVertex || fs.Stage != ShaderFragment {
		return nil, errorf(StagePipelineBuild, op, ErrIncompatiblePipelineState,
			"program stages are %s and %s, want vertex and fragment", vs.Stage, fs.Stage)
	}
	if target.Width <= 0 || target.Height <= 0 || target.Format.BytesPerPixel() == 0 {
		return nil, errorf(StagePipelineBuild, op, ErrIncompatiblePipelineState,
			"render target %dx%d %s", target.Width, target.Height, target.Format)
	}
	vsh, err := compileShader(vs)
	if err != nil {
		return nil, err
	}
	fsh, err := compileShader(fs)
	if err != nil {
		return nil, err
	}
	if err := matchVertexLayout(vsh.entry, vl); err != nil {
		return nil, newError(StagePipelineBuild, op, ErrIncompatiblePipelineState, err)
	}
	if !hasLocation(fsh.entry.Outputs, 0) {
		return nil, errorf(StagePipelineBuild, op, ErrIncompatiblePipelineState,
			"fragment entry %q writes no color to location 0", fsh.entry.Name)
	}

	id, err := c.dev.CreateRenderPipeline(&driver.RenderPipelineDesc{
		Label:          vs.Label,
		VertexSPIRV:    vsh.spirv,
		VertexEntry:    vs.EntryPoint,
		FragmentSPIRV:  fsh.spirv,
		FragmentEntry:  fs.EntryPoint,
		Vertex:         vl,
		ColorFormat:    target.Format,
		VertexKernel:   vs.Emulation.Vertex,
		FragmentKernel: fs.Emulation.Fragment,
	})
	if err != nil {
		return nil, c.driverError(StagePipelineBuild, op, pipelineErrorKind(err), err)
	}

	w, h := float32(target.Width), float32(target.Height)
	p := &Pipeline{
		ctx:    c,
		id:     id,
		kind:   PipelineGraphics,
		label:  vs.Label,
		vertex: vl,
		target: target,
		pass: RenderPassDesc{
			ColorFormat: target.Format,
			Load:        LoadClear,
			Store:       StoreStore,
			Subpasses:   1,
		},
		viewport: Viewport{Width: w, Height: h, MinDepth: 0, MaxDepth: 1},
		scissor:  Rect{Width: uint32(target.Width), Height: uint32(target.Height)},
	}
	p.refs.Store(1)
	Logger().Debug("graphics pipeline built", "label", vs.Label, "target", target.Format.String())
	return p, nil
}

// matchVertexLayout checks that every vertex input of entry is fed by an
// attribute of matching width, and that attributes stay inside the stride.
func matchVertexLayout(entry wgsl.EntryPoint, vl VertexLayout) error {
	if len(entry.Inputs) > 0 && vl.Stride == 0 {
		return fmt.Errorf("vertex stride is zero")
	}
	for _, a := range vl.Attributes {
		if a.Format.Components() == 0 {
			return fmt.Errorf("attribute at location %d has no format", a.Location)
		}
		if a.Offset+a.Format.Size() > vl.Stride {
			return fmt.Errorf("attribute at location %d ends past the stride of %d bytes", a.Location, vl.Stride)
		}
	}
	for _, in := range entry.Inputs {
		var attr *VertexAttribute
		for i := range vl.Attributes {
			if vl.Attributes[i].Location == in.Location {
				attr = &vl.Attributes[i]
				break
			}
		}
		if attr == nil {
			return fmt.Errorf("vertex input %s at location %d has no attribute", in.Name, in.Location)
		}
		if in.Components != attr.Format.Components() {
			return fmt.Errorf("vertex input %s has %d f32 components, attribute has %d", in.Name, in.Components, attr.Format.Components())
		}
	}
	return nil
}

func hasLocation(locs []wgsl.Location, loc uint32) bool {
	for _, l := range locs {
		if l.Location == loc {
			return true
		}
	}
	return false
}

// pipelineErrorKind classifies a driver failure to build a pipeline.
func pipelineErrorKind(err error) error {
	if errors.Is(err, driver.ErrShaderRejected) {
		return ErrShaderCompilationFailed
	}
	return ErrIncompatiblePipelineState
}

// Kind returns whether p is a compute or graphics pipeline.
func (p *Pipeline) Kind() PipelineKind { return p.kind }

// Label returns the debug label.
func (p *Pipeline) Label() string { return p.label }

// Layout returns the binding layout of a compute pipeline.
func (p *Pipeline) Layout() BindingLayout { return append(BindingLayout(nil), p.layout...) }

// WorkgroupSize returns the local size of a compute pipeline.
func (p *Pipeline) WorkgroupSize() [3]uint32 { return p.workgroup }

// VertexLayout returns the vertex layout of a graphics pipeline.
func (p *Pipeline) VertexLayout() VertexLayout { return p.vertex }

// RenderPass returns the render pass of a graphics pipeline.
func (p *Pipeline) RenderPass() RenderPassDesc { return p.pass }

// Viewport returns the fixed viewport of a graphics pipeline.
func (p *Pipeline) Viewport() Viewport { return p.viewport }

// Scissor returns the fixed scissor rectangle of a graphics pipeline.
func (p *Pipeline) Scissor() Rect { return p.scissor }

// Retain adds a reference and returns p.
func (p *Pipeline) Retain() *Pipeline {
	p.refs.Add(1)
	return p
}

// Release drops a reference. The last one destroys the pipeline.
func (p *Pipeline) Release() {
	if p.refs.Add(-1) == 0 {
		p.ctx.dev.DestroyPipeline(p.id)
	}
}

// Framebuffer is an image wrapped as the color attachment of a graphics
// pipeline's render pass.
type Framebuffer struct {
	pipeline *Pipeline
	image    *Image
}

// Framebuffer wraps img for the render pass of p. The image must have the
// pass format, render target usage and the pipeline's target size.
func (p *Pipeline) Framebuffer(img *Image) (*Framebuffer, error) {
	const op = "create framebuffer"
	switch {
	case p.kind != PipelineGraphics:
		return nil, errorf(StagePipelineBuild, op, ErrIncompatiblePipelineState, "pipeline %q is not a graphics pipeline", p.label)
	case img == nil || img.released.Load():
		return nil, newError(StagePipelineBuild, op, ErrIncompatiblePipelineState, errClosed)
	case img.format != p.pass.ColorFormat:
		return nil, errorf(StagePipelineBuild, op, ErrIncompatiblePipelineState,
			"image format %s, render pass format %s", img.format, p.pass.ColorFormat)
	case img.usage&UsageRenderTarget == 0:
		return nil, errorf(StagePipelineBuild, op, ErrIncompatiblePipelineState, "image %q lacks render target usage", img.label)
	case img.width != p.target.Width || img.height != p.target.Height:
		return nil, errorf(StagePipelineBuild, op, ErrIncompatiblePipelineState,
			"image is %dx%d, pipeline targets %dx%d", img.width, img.height, p.target.Width, p.target.Height)
	}
	return &Framebuffer{pipeline: p, image: img}, nil
}

// Image returns the wrapped image.
func (fb *Framebuffer) Image() *Image { return fb.image }
