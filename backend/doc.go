// Package backend is the registry of device backends.
//
// Backends register a [Factory] from an init function and are selected by
// name at initialization time:
//
//	import (
//		_ "github.com/gogpu/headless/backend/native"
//		_ "github.com/gogpu/headless/backend/software"
//	)
//
//	inst, err := backend.Open(backend.BackendAuto)
//
// # Available Backends
//
//   - native: pure Go WebGPU HAL driver on Vulkan (gogpu/wgpu)
//   - software: host reference driver that executes command streams on the
//     CPU using the host kernels attached to each pipeline
package backend
