// Package software provides the host reference driver.
//
// The software driver executes recorded command streams on the CPU. Compute
// dispatches run the host kernel attached to the pipeline once per
// invocation; draws run the vertex kernel per vertex and rasterize triangle
// lists with pixel-center sampling, calling the fragment kernel per covered
// pixel. Results are bit-for-bit deterministic.
//
// Each opened queue owns a worker goroutine that executes submissions in
// FIFO order, so Submit returns before the work runs and fences are the only
// completion signal, as on a real device.
package software

import (
	"time"

	"github.com/gogpu/headless/backend"
	"github.com/gogpu/headless/internal/driver"
)

func init() {
	backend.Register(backend.BackendSoftware, func() (driver.Instance, error) {
		return New(), nil
	})
}

// AdapterSpec describes one simulated adapter.
type AdapterSpec struct {
	Name       string
	Families   []driver.Capability
	Extensions []string
}

// DefaultAdapter is the adapter exposed when no other is configured: one
// universal family plus dedicated compute and transfer families.
var DefaultAdapter = AdapterSpec{
	Name: "software rasterizer",
	Families: []driver.Capability{
		driver.CapGraphics | driver.CapCompute | driver.CapTransfer,
		driver.CapCompute | driver.CapTransfer,
		driver.CapTransfer,
	},
}

// Option configures an Instance.
type Option func(*Instance)

// WithAdapters replaces the exposed adapters. Passing none yields an
// instance that enumerates nothing.
func WithAdapters(specs ...AdapterSpec) Option {
	return func(i *Instance) {
		i.specs = specs
	}
}

// WithLatency delays the execution of every submission by d.
func WithLatency(d time.Duration) Option {
	return func(i *Instance) {
		i.latency = d
	}
}

// WithWorkers sets the number of goroutines that run kernel invocations.
// Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(i *Instance) {
		i.workers = n
	}
}

// Instance is a software backend instance.
type Instance struct {
	specs   []AdapterSpec
	latency time.Duration
	workers int
}

// New creates a software instance.
func New(opts ...Option) *Instance {
	inst := &Instance{specs: []AdapterSpec{DefaultAdapter}}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// Name implements driver.Instance.
func (i *Instance) Name() string { return backend.BackendSoftware }

// Adapters implements driver.Instance.
func (i *Instance) Adapters() []driver.Adapter {
	out := make([]driver.Adapter, len(i.specs))
	for n, spec := range i.specs {
		out[n] = &Adapter{spec: spec, inst: i}
	}
	return out
}

// Destroy implements driver.Instance.
func (i *Instance) Destroy() {}

// Adapter is a simulated physical device.
type Adapter struct {
	spec AdapterSpec
	inst *Instance
}

// Info implements driver.Adapter.
func (a *Adapter) Info() driver.AdapterInfo {
	return driver.AdapterInfo{
		Name:       a.spec.Name,
		Backend:    backend.BackendSoftware,
		Kind:       driver.DeviceCPU,
		Extensions: append([]string(nil), a.spec.Extensions...),
	}
}

// QueueFamilies implements driver.Adapter.
func (a *Adapter) QueueFamilies() []driver.QueueFamily {
	out := make([]driver.QueueFamily, len(a.spec.Families))
	for i, caps := range a.spec.Families {
		out[i] = driver.QueueFamily{Index: i, QueueCount: 1, Capabilities: caps}
	}
	return out
}

// Open implements driver.Adapter.
func (a *Adapter) Open(queues []driver.QueueRequest, report driver.Reporter) (driver.Device, []driver.QueueID, error) {
	d := newDevice(a.spec.Name, a.inst.latency, a.inst.workers, report)
	ids := make([]driver.QueueID, 0, len(queues))
	for _, req := range queues {
		if req.Family < 0 || req.Family >= len(a.spec.Families) {
			d.Destroy()
			return nil, nil, driver.ErrUnsupported
		}
		ids = append(ids, d.openQueue(req.Family))
	}
	report.Report(driver.SeverityPerformance, backend.BackendSoftware,
		"adapter %q executes on the host; expect CPU-bound throughput", a.spec.Name)
	return d, ids, nil
}
