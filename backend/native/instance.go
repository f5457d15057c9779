// Package native provides the pure Go device backend built on the
// gogpu/wgpu HAL.
//
// The default instance loads the Vulkan HAL backend. Each HAL adapter is
// exposed with a single universal queue family; images are HAL textures
// with one full view. Host buffers are written through the queue and read
// by mapping them. Every submission gets its own command encoder and is
// tracked by its queue submission index.
package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/headless/backend"
	"github.com/gogpu/headless/internal/driver"
	"github.com/gogpu/wgpu/hal"

	// Register the Vulkan HAL backend.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	backend.Register(backend.BackendNative, func() (driver.Instance, error) {
		return New()
	})
}

// InstanceCreator is implemented by HAL backends (hal.Backend, noop.API).
type InstanceCreator interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Instance wraps a HAL instance.
type Instance struct {
	hal      hal.Instance
	adapters []hal.ExposedAdapter
}

// New creates an instance on the Vulkan HAL backend.
func New() (*Instance, error) {
	b, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, ErrNoBackend
	}
	return NewWithBackend(b)
}

// NewWithBackend creates an instance on the given HAL backend.
func NewWithBackend(b InstanceCreator) (*Instance, error) {
	inst, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return &Instance{hal: inst, adapters: inst.EnumerateAdapters(nil)}, nil
}

// Name implements driver.Instance.
func (i *Instance) Name() string { return backend.BackendNative }

// Adapters implements driver.Instance. Discrete and integrated GPUs are
// listed before other adapter types.
func (i *Instance) Adapters() []driver.Adapter {
	out := make([]driver.Adapter, 0, len(i.adapters))
	for pass := range 2 {
		for n := range i.adapters {
			hw := isHardware(i.adapters[n].Info.DeviceType)
			if (pass == 0) == hw {
				out = append(out, &Adapter{exposed: &i.adapters[n]})
			}
		}
	}
	return out
}

// Destroy implements driver.Instance.
func (i *Instance) Destroy() {
	if i.hal != nil {
		i.hal.Destroy()
		i.hal = nil
	}
}

func isHardware(t gputypes.DeviceType) bool {
	return t == gputypes.DeviceTypeDiscreteGPU || t == gputypes.DeviceTypeIntegratedGPU
}

// Adapter is a HAL adapter.
type Adapter struct {
	exposed *hal.ExposedAdapter
}

// Info implements driver.Adapter.
func (a *Adapter) Info() driver.AdapterInfo {
	kind := driver.DeviceOther
	switch a.exposed.Info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		kind = driver.DeviceDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		kind = driver.DeviceIntegrated
	case gputypes.DeviceTypeCPU:
		kind = driver.DeviceCPU
	}
	return driver.AdapterInfo{
		Name:    a.exposed.Info.Name,
		Backend: backend.BackendNative,
		Kind:    kind,
	}
}

// QueueFamilies implements driver.Adapter. The HAL exposes one queue that
// accepts every kind of work.
func (a *Adapter) QueueFamilies() []driver.QueueFamily {
	return []driver.QueueFamily{{
		Index:        0,
		QueueCount:   1,
		Capabilities: driver.CapGraphics | driver.CapCompute | driver.CapTransfer,
	}}
}

// Open implements driver.Adapter.
func (a *Adapter) Open(queues []driver.QueueRequest, report driver.Reporter) (driver.Device, []driver.QueueID, error) {
	if len(queues) > 1 {
		return nil, nil, ErrMultipleQueues
	}
	for _, q := range queues {
		if q.Family != 0 {
			return nil, nil, fmt.Errorf("%w: queue family %d", driver.ErrUnsupported, q.Family)
		}
	}
	openDev, err := a.exposed.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, nil, fmt.Errorf("open device: %w", err)
	}
	dev := newDevice(a.exposed.Info.Name, openDev.Device, openDev.Queue, report)
	ids := make([]driver.QueueID, len(queues))
	for n := range ids {
		ids[n] = mainQueue
	}
	return dev, ids, nil
}
