package headless

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/headless/internal/wgsl"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
)

// ShaderStage is the pipeline stage of a shader program.
type ShaderStage uint8

// Shader stages.
const (
	ShaderCompute ShaderStage = iota + 1
	ShaderVertex
	ShaderFragment
)

func (s ShaderStage) String() string {
	return s.reflected().String()
}

func (s ShaderStage) reflected() wgsl.Stage {
	switch s {
	case ShaderCompute:
		return wgsl.StageCompute
	case ShaderVertex:
		return wgsl.StageVertex
	case ShaderFragment:
		return wgsl.StageFragment
	default:
		return 0
	}
}

// Emulation holds host kernels that stand in for a program's entry point
// on drivers without a shader compiler. Only the field matching the
// program's stage is used.
type Emulation struct {
	Compute  ComputeKernel
	Vertex   VertexKernel
	Fragment FragmentKernel
}

// ShaderProgram is one WGSL entry point.
type ShaderProgram struct {
	Label      string
	Stage      ShaderStage
	Source     string // WGSL
	EntryPoint string
	Emulation  Emulation
}

// compiledShader is a program compiled to SPIR-V with its reflected
// interface.
type compiledShader struct {
	spirv []uint32
	entry wgsl.EntryPoint
	mod   *wgsl.Module
}

// compileShader compiles prog with naga and reflects its entry point.
func compileShader(prog ShaderProgram) (*compiledShader, error) {
	op := "compile " + prog.Label
	mod, err := wgsl.Reflect(prog.Source)
	if err != nil {
		return nil, newError(StagePipelineBuild, op, ErrShaderCompilationFailed, err)
	}
	entry, ok := mod.EntryPoint(prog.EntryPoint)
	if !ok {
		return nil, errorf(StagePipelineBuild, op, ErrShaderCompilationFailed,
			"entry point %q not found", prog.EntryPoint)
	}
	if entry.Stage != prog.Stage.reflected() {
		return nil, errorf(StagePipelineBuild, op, ErrIncompatiblePipelineState,
			"entry point %q is a %s shader, want %s", entry.Name, entry.Stage, prog.Stage)
	}

	words, err := compileSPIRV(mod.IR)
	if err != nil {
		return nil, newError(StagePipelineBuild, op, ErrShaderCompilationFailed, err)
	}
	Logger().Debug("shader compiled", "label", prog.Label, "entry", entry.Name, "words", len(words))
	return &compiledShader{spirv: words, entry: entry, mod: mod}, nil
}

// compileSPIRV validates a lowered module and generates little-endian
// SPIR-V words from it.
func compileSPIRV(mod *ir.Module) ([]uint32, error) {
	verrs, err := naga.Validate(mod)
	if err != nil {
		return nil, fmt.Errorf("naga: validate: %w", err)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("naga: validate: %w", &verrs[0])
	}
	code, err := naga.GenerateSPIRV(mod, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return nil, fmt.Errorf("naga: %w", err)
	}
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("naga: SPIR-V of %d bytes is not word aligned", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}

// bindingKind maps a reflected resource to a layout slot kind.
func bindingKind(k wgsl.ResourceKind) BindingKind {
	switch k {
	case wgsl.StorageTexture:
		return BindingStorageImage
	case wgsl.SampledTexture:
		return BindingSampledImage
	case wgsl.Sampler:
		return BindingSampler
	case wgsl.UniformBuffer:
		return BindingUniformBuffer
	case wgsl.StorageBuffer:
		return BindingStorageBuffer
	case wgsl.ReadOnlyStorageBuffer:
		return BindingReadOnlyStorageBuffer
	default:
		return 0
	}
}
