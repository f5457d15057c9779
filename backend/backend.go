package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/headless/internal/driver"
)

// Backend names.
const (
	// BackendNative is the pure Go WebGPU HAL driver (Vulkan).
	BackendNative = "native"

	// BackendSoftware is the host reference driver.
	BackendSoftware = "software"

	// BackendAuto selects the first backend in priority order that
	// loads and exposes at least one adapter.
	BackendAuto = "auto"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNoAdapters is returned when no registered backend exposes an adapter.
	ErrNoAdapters = errors.New("backend: no adapters")
)

// Open loads the named backend. BackendAuto walks the priority list and
// returns the first instance that enumerates at least one adapter; every
// instance it passes over is destroyed.
func Open(name string) (driver.Instance, error) {
	if name != BackendAuto && name != "" {
		factory, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
		}
		inst, err := factory()
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
		return inst, nil
	}

	var errs []error
	for _, n := range priority() {
		factory, ok := lookup(n)
		if !ok {
			continue
		}
		inst, err := factory()
		if err != nil {
			errs = append(errs, fmt.Errorf("backend %s: %w", n, err))
			continue
		}
		if len(inst.Adapters()) > 0 {
			return inst, nil
		}
		inst.Destroy()
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoAdapters, errors.Join(errs...))
	}
	return nil, ErrNoAdapters
}
