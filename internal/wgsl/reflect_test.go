package wgsl

import (
	"errors"
	"testing"
)

const computeSrc = `
// Writes one texel per invocation.
@group(0) @binding(0) var img: texture_storage_2d<rgba8unorm, write>;
@group(0) @binding(2) var<uniform> params: Params;
@group(1) @binding(0) var<storage, read_write> counts: array<u32>;
@group(0) @binding(1) var<storage, read> lut: array<f32>;

struct Params {
    scale: f32,
    offset: vec2<f32>,
}

fn helper(x: f32) -> f32 {
    return x * 2.0;
}

/* entry */
@compute @workgroup_size(8, 4)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    var z = vec2<f32>(0.0, 0.0);
    textureStore(img, vec2<i32>(gid.xy), vec4<f32>(z, 0.0, 1.0));
}
`

const renderSrc = `
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
    @location(1) tint: vec4<f32>,
}

@group(0) @binding(0) var atlas: texture_2d<f32>;
@group(0) @binding(1) var atlas_sampler: sampler;

@vertex
fn vs_main(@location(0) position: vec2<f32>, @location(1) uv: vec2<f32>) -> VertexOutput {
    var out: VertexOutput;
    out.position = vec4<f32>(position, 0.0, 1.0);
    out.uv = uv;
    return out;
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(atlas, atlas_sampler, in.uv) * in.tint;
}
`

func TestReflectCompute(t *testing.T) {
	m, err := Reflect(computeSrc)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if len(m.EntryPoints) != 1 {
		t.Fatalf("entry points = %+v, want only main", m.EntryPoints)
	}
	ep, ok := m.EntryPoint("main")
	if !ok {
		t.Fatal("main not found")
	}
	if ep.Stage != StageCompute {
		t.Errorf("stage = %v, want compute", ep.Stage)
	}
	if ep.WorkgroupSize != [3]uint32{8, 4, 1} {
		t.Errorf("workgroup size = %v, want [8 4 1]", ep.WorkgroupSize)
	}
	if len(ep.Inputs) != 0 {
		t.Errorf("builtin parameters reported as inputs: %+v", ep.Inputs)
	}

	group0 := m.Group(0)
	want := []struct {
		binding uint32
		kind    ResourceKind
		format  string
		access  string
	}{
		{0, StorageTexture, "rgba8unorm", "write"},
		{1, ReadOnlyStorageBuffer, "", "read"},
		{2, UniformBuffer, "", ""},
	}
	if len(group0) != len(want) {
		t.Fatalf("group 0 = %+v", group0)
	}
	for i, w := range want {
		b := group0[i]
		if b.Binding != w.binding || b.Kind != w.kind || b.Format != w.format || b.Access != w.access {
			t.Errorf("group0[%d] = %+v, want %+v", i, b, w)
		}
	}

	group1 := m.Group(1)
	if len(group1) != 1 || group1[0].Kind != StorageBuffer || group1[0].Name != "counts" {
		t.Errorf("group 1 = %+v", group1)
	}
}

func TestReflectRender(t *testing.T) {
	m, err := Reflect(renderSrc)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}

	vs, ok := m.EntryPoint("vs_main")
	if !ok || vs.Stage != StageVertex {
		t.Fatalf("vs_main = %+v, %v", vs, ok)
	}
	if len(vs.Inputs) != 2 || vs.Inputs[0].Location != 0 || vs.Inputs[0].Components != 2 || vs.Inputs[1].Location != 1 {
		t.Errorf("vs inputs = %+v", vs.Inputs)
	}
	if len(vs.Outputs) != 2 || vs.Outputs[0].Name != "uv" || vs.Outputs[1].Location != 1 {
		t.Errorf("vs outputs = %+v", vs.Outputs)
	}

	fs, ok := m.EntryPoint("fs_main")
	if !ok || fs.Stage != StageFragment {
		t.Fatalf("fs_main = %+v, %v", fs, ok)
	}
	if len(fs.Inputs) != 2 {
		t.Errorf("fs inputs = %+v, want struct locations 0 and 1", fs.Inputs)
	}
	if len(fs.Outputs) != 1 || fs.Outputs[0].Location != 0 || fs.Outputs[0].Components != 4 {
		t.Errorf("fs outputs = %+v", fs.Outputs)
	}

	kinds := map[string]ResourceKind{}
	for _, b := range m.Bindings {
		kinds[b.Name] = b.Kind
	}
	if kinds["atlas"] != SampledTexture || kinds["atlas_sampler"] != Sampler {
		t.Errorf("bindings = %+v", m.Bindings)
	}
}

func TestReflectBuiltinOnlyVertexOutput(t *testing.T) {
	m, err := Reflect(`
@vertex
fn main(@location(0) p: vec2<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(p, 0.0, 1.0);
}`)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	ep, _ := m.EntryPoint("main")
	if len(ep.Outputs) != 0 {
		t.Errorf("outputs = %+v, want none", ep.Outputs)
	}
}

func TestReflectConstWorkgroupSize(t *testing.T) {
	m, err := Reflect(`
const WG: u32 = 8u;
const HALF: i32 = 4;
const DEPTH = 2u;

struct Inner {
    scale: f32,
}

struct Params {
    inner: Inner,
    origin: vec2<f32>,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var img: texture_storage_2d<r32float, write>;

@compute @workgroup_size(WG, HALF, DEPTH)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let v = params.inner.scale + params.origin.x;
    textureStore(img, vec2<i32>(gid.xy), vec4<f32>(v, 0.0, 0.0, 1.0));
}`)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	ep, ok := m.EntryPoint("main")
	if !ok {
		t.Fatal("main not found")
	}
	if ep.WorkgroupSize != [3]uint32{8, 4, 2} {
		t.Errorf("workgroup size = %v, want [8 4 2]", ep.WorkgroupSize)
	}
	group0 := m.Group(0)
	if len(group0) != 2 || group0[0].Kind != UniformBuffer || group0[1].Format != "r32float" {
		t.Errorf("group 0 = %+v", group0)
	}
}

func TestReflectErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax error", `@compute @workgroup_size(8, 8 fn main( {`},
		{"undefined workgroup size", `@compute @workgroup_size(WG) fn main() {}`},
		{"folded workgroup size", `const WG = 8u;
@compute @workgroup_size(WG, WG / 2u, 1) fn main() {}`},
		{"zero workgroup size", `@compute @workgroup_size(8, 0u) fn main() {}`},
		{"override workgroup size", `override WG: u32 = 8u;
@compute @workgroup_size(WG) fn main() {}`},
		{"unknown type", `@group(0) @binding(0) var<uniform> p: Missing;`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reflect(tt.src)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Reflect error = %v, want ErrMalformed", err)
			}
		})
	}
}
