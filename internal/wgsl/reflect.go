// Package wgsl reflects the resource interface of WGSL shader source.
//
// Reflect parses and lowers the source with naga and reads what a pipeline
// needs to validate a program against its layout out of the IR: entry
// points with their stage and workgroup size, vertex inputs and fragment
// outputs by location, and module-scope resource bindings. Workgroup size
// arguments must be integer literals or module consts.
package wgsl

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

// ErrMalformed is returned for source naga cannot parse or lower, and for
// modules whose interface cannot be reflected.
var ErrMalformed = errors.New("wgsl: malformed source")

// Stage is a shader pipeline stage.
type Stage uint8

// Shader stages.
const (
	StageCompute Stage = iota + 1
	StageVertex
	StageFragment
)

func (s Stage) String() string {
	switch s {
	case StageCompute:
		return "compute"
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// ResourceKind classifies a module-scope binding.
type ResourceKind uint8

// Resource kinds.
const (
	StorageTexture ResourceKind = iota + 1
	SampledTexture
	Sampler
	UniformBuffer
	StorageBuffer
	ReadOnlyStorageBuffer
)

// Location is a user-defined stage input or output.
type Location struct {
	Location uint32
	Name     string
	// Components is the number of f32 components, or 0 for other types.
	Components int
}

// EntryPoint is a function carrying a stage attribute.
type EntryPoint struct {
	Name          string
	Stage         Stage
	WorkgroupSize [3]uint32
	Inputs        []Location
	Outputs       []Location
}

// Binding is a module-scope resource variable.
type Binding struct {
	Group   uint32
	Binding uint32
	Name    string
	Kind    ResourceKind
	Format  string // texel format of storage textures
	Access  string // access mode of storage textures and buffers
}

// Module is the reflected interface of a WGSL module.
type Module struct {
	EntryPoints []EntryPoint
	Bindings    []Binding

	// IR is the lowered module the interface was read from.
	IR *ir.Module
}

// EntryPoint returns the entry point with the given name.
func (m *Module) EntryPoint(name string) (EntryPoint, bool) {
	for _, ep := range m.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// Group returns the bindings of one bind group ordered by binding index.
func (m *Module) Group(group uint32) []Binding {
	var out []Binding
	for _, b := range m.Bindings {
		if b.Group == group {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Binding < out[j].Binding })
	return out
}

// Reflect parses src and returns its interface.
func Reflect(src string) (*Module, error) {
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	mod, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return reflectModule(mod, workgroupArgs(src))
}

func reflectModule(mod *ir.Module, workgroups map[string][][]string) (*Module, error) {
	out := &Module{IR: mod}
	for i := range mod.GlobalVariables {
		gv := &mod.GlobalVariables[i]
		if gv.Binding == nil {
			continue
		}
		b, err := reflectBinding(mod, gv)
		if err != nil {
			return nil, err
		}
		out.Bindings = append(out.Bindings, b)
	}

	for i := range mod.EntryPoints {
		ep := &mod.EntryPoints[i]
		stage, ok := stageOf(ep.Stage)
		if !ok {
			continue
		}
		e := EntryPoint{Name: ep.Name, Stage: stage}
		if stage == StageCompute {
			size, err := workgroupSize(mod, ep.Name, workgroups[ep.Name])
			if err != nil {
				return nil, err
			}
			e.WorkgroupSize = size
		}
		for _, arg := range ep.Function.Arguments {
			e.Inputs = append(e.Inputs, locations(mod, arg.Name, arg.Type, arg.Binding)...)
		}
		if res := ep.Function.Result; res != nil {
			e.Outputs = locations(mod, "", res.Type, res.Binding)
		}
		out.EntryPoints = append(out.EntryPoints, e)
	}
	return out, nil
}

func stageOf(s ir.ShaderStage) (Stage, bool) {
	switch s {
	case ir.StageCompute:
		return StageCompute, true
	case ir.StageVertex:
		return StageVertex, true
	case ir.StageFragment:
		return StageFragment, true
	default:
		return 0, false
	}
}

// locations returns the user-defined locations a value contributes,
// expanding struct-typed values by member.
func locations(mod *ir.Module, name string, ty ir.TypeHandle, binding *ir.Binding) []Location {
	if binding != nil && *binding != nil {
		loc, ok := locationOf(*binding)
		if !ok {
			return nil
		}
		return []Location{{Location: loc, Name: name, Components: floatComponents(mod, ty)}}
	}
	st, ok := typeInner(mod, ty).(ir.StructType)
	if !ok {
		return nil
	}
	var out []Location
	for _, m := range st.Members {
		if m.Binding == nil || *m.Binding == nil {
			continue
		}
		if loc, ok := locationOf(*m.Binding); ok {
			out = append(out, Location{Location: loc, Name: m.Name, Components: floatComponents(mod, m.Type)})
		}
	}
	return out
}

func locationOf(b ir.Binding) (uint32, bool) {
	switch b := b.(type) {
	case ir.LocationBinding:
		return b.Location, true
	case *ir.LocationBinding:
		return b.Location, true
	default:
		return 0, false
	}
}

func typeInner(mod *ir.Module, h ir.TypeHandle) ir.TypeInner {
	if int(h) >= len(mod.Types) {
		return nil
	}
	return mod.Types[h].Inner
}

func floatComponents(mod *ir.Module, h ir.TypeHandle) int {
	switch t := typeInner(mod, h).(type) {
	case ir.ScalarType:
		if t.Kind == ir.ScalarFloat && t.Width == 4 {
			return 1
		}
	case ir.VectorType:
		if t.Scalar.Kind == ir.ScalarFloat && t.Scalar.Width == 4 {
			return int(t.Size)
		}
	}
	return 0
}

func reflectBinding(mod *ir.Module, gv *ir.GlobalVariable) (Binding, error) {
	out := Binding{Group: gv.Binding.Group, Binding: gv.Binding.Binding, Name: gv.Name}
	switch gv.Space {
	case ir.SpaceUniform:
		out.Kind = UniformBuffer
		return out, nil
	case ir.SpaceStorage:
		out.Kind, out.Access = StorageBuffer, "read_write"
		if gv.Access == ir.StorageRead {
			out.Kind, out.Access = ReadOnlyStorageBuffer, "read"
		}
		return out, nil
	}

	switch t := typeInner(mod, gv.Type).(type) {
	case ir.ImageType:
		if t.Class != ir.ImageClassStorage {
			out.Kind = SampledTexture
			return out, nil
		}
		out.Kind = StorageTexture
		out.Format = storageFormats[t.StorageFormat]
		out.Access = storageAccess[t.StorageAccess]
		return out, nil
	case ir.SamplerType:
		out.Kind = Sampler
		return out, nil
	default:
		return Binding{}, fmt.Errorf("%w: var %s: unsupported resource type %T", ErrMalformed, gv.Name, t)
	}
}

// storageFormats names the storage texel formats images can be created
// with. Others reflect as "".
var storageFormats = map[ir.StorageFormat]string{
	ir.StorageFormatRgba8Unorm:  "rgba8unorm",
	ir.StorageFormatBgra8Unorm:  "bgra8unorm",
	ir.StorageFormatR8Unorm:     "r8unorm",
	ir.StorageFormatR32Float:    "r32float",
	ir.StorageFormatRgba32Float: "rgba32float",
}

var storageAccess = map[ir.StorageAccess]string{
	ir.StorageAccessRead:      "read",
	ir.StorageAccessWrite:     "write",
	ir.StorageAccessReadWrite: "read_write",
	ir.StorageAccessAtomic:    "atomic",
}
