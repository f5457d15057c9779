package headless

import (
	"errors"
	"strings"
	"testing"
)

const storageBufferSource = `
@group(0) @binding(0) var<storage, read_write> data: array<f32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = 1.0;
}
`

func TestBuildComputePipeline(t *testing.T) {
	dc := newContext(t)
	p, err := dc.BuildComputePipeline(MandelbrotProgram(), MandelbrotLayout)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	if p.Kind() != PipelineCompute {
		t.Errorf("kind = %s", p.Kind())
	}
	if got := p.WorkgroupSize(); got != [3]uint32{8, 8, 1} {
		t.Errorf("workgroup = %v, want [8 8 1]", got)
	}
	if l := p.Layout(); len(l) != 1 || l[0] != MandelbrotLayout[0] {
		t.Errorf("layout = %v", l)
	}
}

func TestBuildComputePipelineConstWorkgroup(t *testing.T) {
	dc := newContext(t)
	prog := MandelbrotProgram()
	prog.Label = "fill"
	prog.Source = `
const WG: u32 = 8u;

@group(0) @binding(0) var img: texture_storage_2d<rgba8unorm, write>;

@compute @workgroup_size(WG, WG, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    textureStore(img, vec2<i32>(gid.xy), vec4<f32>(1.0, 1.0, 1.0, 1.0));
}
`
	p, err := dc.BuildComputePipeline(prog, MandelbrotLayout)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()
	if got := p.WorkgroupSize(); got != [3]uint32{8, 8, 1} {
		t.Errorf("workgroup = %v, want [8 8 1]", got)
	}
}

func TestBuildComputePipelineErrors(t *testing.T) {
	dc := newContext(t)
	prog := MandelbrotProgram()

	tests := []struct {
		name   string
		prog   func() ShaderProgram
		layout BindingLayout
		want   error
	}{
		{
			name: "malformed source",
			prog: func() ShaderProgram {
				p := prog
				p.Source = "@compute @workgroup_size(8, 8 fn main( {"
				return p
			},
			layout: MandelbrotLayout,
			want:   ErrShaderCompilationFailed,
		},
		{
			name: "undefined workgroup size",
			prog: func() ShaderProgram {
				p := prog
				p.Source = strings.Replace(p.Source, "@workgroup_size(8, 8, 1)", "@workgroup_size(UNDEFINED, 8, 1)", 1)
				return p
			},
			layout: MandelbrotLayout,
			want:   ErrShaderCompilationFailed,
		},
		{
			name: "unfolded workgroup size",
			prog: func() ShaderProgram {
				p := prog
				p.Source = "const WG: u32 = 8u;\n" +
					strings.Replace(p.Source, "@workgroup_size(8, 8, 1)", "@workgroup_size(WG, WG / 2u, 1)", 1)
				return p
			},
			layout: MandelbrotLayout,
			want:   ErrShaderCompilationFailed,
		},
		{
			name: "missing entry point",
			prog: func() ShaderProgram {
				p := prog
				p.EntryPoint = "render"
				return p
			},
			layout: MandelbrotLayout,
			want:   ErrShaderCompilationFailed,
		},
		{
			name: "vertex program",
			prog: func() ShaderProgram {
				vs, _ := TrianglePrograms()
				return vs
			},
			layout: MandelbrotLayout,
			want:   ErrIncompatiblePipelineState,
		},
		{
			name: "wrong stage for entry",
			prog: func() ShaderProgram {
				vs, _ := TrianglePrograms()
				vs.Stage = ShaderCompute
				return vs
			},
			layout: MandelbrotLayout,
			want:   ErrIncompatiblePipelineState,
		},
		{
			name:   "empty layout",
			prog:   func() ShaderProgram { return prog },
			layout: nil,
			want:   ErrIncompatiblePipelineState,
		},
		{
			name: "wrong format",
			prog: func() ShaderProgram { return prog },
			layout: BindingLayout{
				{Slot: 0, Kind: BindingStorageImage, Format: FormatR32Float},
			},
			want: ErrIncompatiblePipelineState,
		},
		{
			name: "image slot for a buffer",
			prog: func() ShaderProgram {
				return ShaderProgram{Label: "fill", Stage: ShaderCompute, Source: storageBufferSource, EntryPoint: "main"}
			},
			layout: MandelbrotLayout,
			want:   ErrIncompatiblePipelineState,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := dc.BuildComputePipeline(tt.prog(), tt.layout)
			if err == nil {
				p.Release()
				t.Fatal("build succeeded")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			var e *Error
			if !errors.As(err, &e) || e.Stage != StagePipelineBuild {
				t.Errorf("err = %v, want a pipeline build *Error", err)
			}
		})
	}
}

func TestComputePipelineWithoutKernel(t *testing.T) {
	dc := newContext(t)
	prog := ShaderProgram{Label: "fill", Stage: ShaderCompute, Source: storageBufferSource, EntryPoint: "main"}
	layout := BindingLayout{{Slot: 0, Kind: BindingStorageBuffer}}

	// The software driver needs a host kernel for every entry point.
	_, err := dc.BuildComputePipeline(prog, layout)
	if !errors.Is(err, ErrShaderCompilationFailed) {
		t.Fatalf("err = %v, want ErrShaderCompilationFailed", err)
	}
}

func TestBuildGraphicsPipeline(t *testing.T) {
	dc := newContext(t)
	vs, fs := TrianglePrograms()
	p, err := dc.BuildGraphicsPipeline(vs, fs, TriangleVertexLayout,
		RenderTarget{Width: 32, Height: 24, Format: FormatRGBA8Unorm})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	want := RenderPassDesc{ColorFormat: FormatRGBA8Unorm, Load: LoadClear, Store: StoreStore, Subpasses: 1}
	if p.RenderPass() != want {
		t.Errorf("render pass = %+v, want %+v", p.RenderPass(), want)
	}
	if vp := p.Viewport(); vp.Width != 32 || vp.Height != 24 || vp.MaxDepth != 1 {
		t.Errorf("viewport = %+v", vp)
	}
	if sc := p.Scissor(); sc != (Rect{Width: 32, Height: 24}) {
		t.Errorf("scissor = %+v", sc)
	}
}

func TestBuildGraphicsPipelineErrors(t *testing.T) {
	dc := newContext(t)
	vs, fs := TrianglePrograms()
	target := RenderTarget{Width: 16, Height: 16, Format: FormatRGBA8Unorm}

	tests := []struct {
		name   string
		vs, fs ShaderProgram
		vl     VertexLayout
		target RenderTarget
	}{
		{"swapped stages", fs, vs, TriangleVertexLayout, target},
		{"empty target", vs, fs, TriangleVertexLayout, RenderTarget{Format: FormatRGBA8Unorm}},
		{"unknown target format", vs, fs, TriangleVertexLayout, RenderTarget{Width: 16, Height: 16}},
		{"no attributes", vs, fs, VertexLayout{Stride: 8}, target},
		{
			"component mismatch", vs, fs,
			VertexLayout{Stride: 12, Attributes: []VertexAttribute{{Location: 0, Format: VertexFloat32x3}}},
			target,
		},
		{
			"attribute past stride", vs, fs,
			VertexLayout{Stride: 4, Attributes: []VertexAttribute{{Location: 0, Format: VertexFloat32x2}}},
			target,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := dc.BuildGraphicsPipeline(tt.vs, tt.fs, tt.vl, tt.target)
			if err == nil {
				p.Release()
				t.Fatal("build succeeded")
			}
			if !errors.Is(err, ErrIncompatiblePipelineState) {
				t.Errorf("err = %v, want ErrIncompatiblePipelineState", err)
			}
		})
	}
}

func TestFramebufferChecks(t *testing.T) {
	f := newFixture(t)

	wrongSize, err := f.dc.CreateImage(32, 32, FormatRGBA8Unorm, UsageRenderTarget)
	if err != nil {
		t.Fatal(err)
	}
	defer wrongSize.Release()
	wrongFormat, err := f.dc.CreateImage(16, 16, FormatR8Unorm, UsageRenderTarget)
	if err != nil {
		t.Fatal(err)
	}
	defer wrongFormat.Release()

	for name, tc := range map[string]struct {
		p   *Pipeline
		img *Image
	}{
		"compute pipeline": {f.compute, f.target},
		"no render usage":  {f.graph, f.storage},
		"size mismatch":    {f.graph, wrongSize},
		"format mismatch":  {f.graph, wrongFormat},
		"nil image":        {f.graph, nil},
	} {
		if _, err := tc.p.Framebuffer(tc.img); !errors.Is(err, ErrIncompatiblePipelineState) {
			t.Errorf("%s: err = %v, want ErrIncompatiblePipelineState", name, err)
		}
	}
}

func TestBindChecks(t *testing.T) {
	f := newFixture(t)
	dev := softwareDevice(t, f.dc)
	before := dev.LiveBindGroups()

	r8, err := f.dc.CreateImage(16, 16, FormatR8Unorm, UsageStorage)
	if err != nil {
		t.Fatal(err)
	}
	defer r8.Release()
	released, err := f.dc.CreateImage(16, 16, FormatRGBA8Unorm, UsageStorage)
	if err != nil {
		t.Fatal(err)
	}
	released.Release()

	tests := []struct {
		name    string
		p       *Pipeline
		entries []Binding
	}{
		{"graphics pipeline", f.graph, []Binding{ImageBinding(0, f.storage)}},
		{"unknown slot", f.compute, []Binding{ImageBinding(3, f.storage)}},
		{"buffer for image", f.compute, []Binding{BufferBinding(0, f.readback)}},
		{"both resources", f.compute, []Binding{{Slot: 0, Image: f.storage, Buffer: f.readback}}},
		{"no resource", f.compute, []Binding{{Slot: 0}}},
		{"no storage usage", f.compute, []Binding{ImageBinding(0, f.target)}},
		{"format mismatch", f.compute, []Binding{ImageBinding(0, r8)}},
		{"released image", f.compute, []Binding{ImageBinding(0, released)}},
		{"bound twice", f.compute, []Binding{ImageBinding(0, f.storage), ImageBinding(0, f.storage)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := f.dc.Bind(tt.p, tt.entries...)
			if err == nil {
				set.Release()
				t.Fatal("Bind succeeded")
			}
			if !errors.Is(err, ErrBindingMismatch) {
				t.Errorf("err = %v, want ErrBindingMismatch", err)
			}
		})
	}
	if got := dev.LiveBindGroups(); got != before {
		t.Errorf("live bind groups = %d, want %d", got, before)
	}
}

func TestPipelineRefcount(t *testing.T) {
	dc := newContext(t)
	dev := softwareDevice(t, dc)
	before := dev.LiveObjects()

	p, err := dc.BuildComputePipeline(MandelbrotProgram(), MandelbrotLayout)
	if err != nil {
		t.Fatal(err)
	}
	p.Retain()
	p.Release()
	if got := dev.LiveObjects(); got != before+1 {
		t.Fatalf("live objects = %d, want %d", got, before+1)
	}
	p.Release()
	if got := dev.LiveObjects(); got != before {
		t.Errorf("live objects = %d after last Release, want %d", got, before)
	}
}

func TestCompileShaderFromReflectedModule(t *testing.T) {
	for _, prog := range []ShaderProgram{MandelbrotProgram(), trianglePrograms()[0], trianglePrograms()[1]} {
		sh, err := compileShader(prog)
		if err != nil {
			t.Fatalf("%s: %v", prog.Label, err)
		}
		if sh.mod.IR == nil {
			t.Fatalf("%s: reflected module carries no IR", prog.Label)
		}
		if len(sh.spirv) < 5 || sh.spirv[0] != 0x07230203 {
			t.Errorf("%s: SPIR-V header = %x, want magic 07230203", prog.Label, sh.spirv[:min(len(sh.spirv), 1)])
		}
	}
}

func trianglePrograms() []ShaderProgram {
	vs, fs := TrianglePrograms()
	return []ShaderProgram{vs, fs}
}
