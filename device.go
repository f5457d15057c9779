package headless

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/headless/backend"
	"github.com/gogpu/headless/internal/driver"
)

// Context is an opened device with its queues.
//
// A Context is shared: Retain adds a reference and Close drops one; the
// device is destroyed with the last reference. Resource and pipeline
// creation are safe for concurrent use.
type Context struct {
	cfg      Config
	inst     driver.Instance
	dev      driver.Device
	info     driver.AdapterInfo
	families []driver.QueueFamily

	main      *Queue
	dedicated []*Queue

	refs atomic.Int32
	lost atomic.Bool

	mu       sync.Mutex
	lostErr  error
	shutdown bool
}

// Initialize opens the first adapter that advertises every required
// extension and has a queue family supporting caps, with one queue from
// that family.
func Initialize(caps Capability, opts ...Option) (*Context, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := Logger()

	inst, err := backend.Open(cfg.Backend)
	if err != nil {
		return nil, newError(StageInitialization, "open backend", ErrNoDeviceAvailable, err)
	}
	adapters := inst.Adapters()
	if len(adapters) == 0 {
		inst.Destroy()
		return nil, errorf(StageInitialization, "enumerate adapters", ErrNoDeviceAvailable,
			"backend %s exposes no adapters", inst.Name())
	}

	var (
		chosen    driver.Adapter
		family    driver.QueueFamily
		extMissed []string
		capMissed []string
	)
	for _, a := range adapters {
		info := a.Info()
		families := a.QueueFamilies()
		log.Info("adapter", "name", info.Name, "backend", info.Backend, "kind", info.Kind.String())
		for _, f := range families {
			log.Info("queue family",
				"adapter", info.Name,
				"index", f.Index,
				"queues", f.QueueCount,
				"graphics", f.Capabilities.Has(CapGraphics),
				"compute", f.Capabilities.Has(CapCompute),
				"transfer", f.Capabilities.Has(CapTransfer),
			)
		}
		if chosen != nil {
			continue
		}
		if missing := missingExtensions(info, cfg.Extensions); len(missing) > 0 {
			extMissed = append(extMissed, fmt.Sprintf("%s lacks %v", info.Name, missing))
			continue
		}
		f, ok := findFamily(families, caps)
		if !ok {
			capMissed = append(capMissed, info.Name)
			continue
		}
		chosen, family = a, f
	}

	if chosen == nil {
		inst.Destroy()
		if len(capMissed) == 0 {
			return nil, errorf(StageInitialization, "select adapter", ErrNoDeviceAvailable,
				"no adapter has the required extensions: %v", extMissed)
		}
		return nil, errorf(StageInitialization, "select adapter", ErrNoSuitableQueueFamily,
			"no queue family supports %s on %v", caps, capMissed)
	}

	requests := []driver.QueueRequest{{Family: family.Index}}
	var extra []driver.QueueFamily
	if cfg.DedicatedQueues {
		extra = dedicatedFamilies(chosen.QueueFamilies(), family.Index)
		for _, f := range extra {
			requests = append(requests, driver.QueueRequest{Family: f.Index})
		}
	}

	report := driver.Reporter(logMessage)
	dev, queues, err := chosen.Open(requests, report)
	if err != nil {
		inst.Destroy()
		return nil, newError(StageInitialization, "open device", ErrNoDeviceAvailable, err)
	}
	if cfg.Validation {
		dev = driver.Validate(dev, report)
	}

	c := &Context{
		cfg:      cfg,
		inst:     inst,
		dev:      dev,
		info:     chosen.Info(),
		families: chosen.QueueFamilies(),
	}
	c.refs.Store(1)
	c.main = &Queue{ctx: c, id: queues[0], family: family}
	for i, f := range extra {
		c.dedicated = append(c.dedicated, &Queue{ctx: c, id: queues[i+1], family: f})
	}

	log.Info("device opened",
		"adapter", c.info.Name,
		"backend", c.info.Backend,
		"family", family.Index,
		"dedicated_queues", len(c.dedicated),
		"validation", cfg.Validation,
	)
	return c, nil
}

func missingExtensions(info driver.AdapterInfo, required []string) []string {
	var missing []string
	for _, ext := range required {
		if !info.HasExtension(ext) {
			missing = append(missing, ext)
		}
	}
	return missing
}

// findFamily returns the first family whose capabilities contain caps and
// that has at least one queue.
func findFamily(families []driver.QueueFamily, caps Capability) (driver.QueueFamily, bool) {
	for _, f := range families {
		if f.QueueCount > 0 && f.Capabilities.Has(caps) {
			return f, true
		}
	}
	return driver.QueueFamily{}, false
}

// dedicatedFamilies picks a compute family without graphics and a
// transfer-only family, skipping the main family.
func dedicatedFamilies(families []driver.QueueFamily, main int) []driver.QueueFamily {
	var out []driver.QueueFamily
	var compute, transfer bool
	for _, f := range families {
		if f.Index == main || f.QueueCount == 0 {
			continue
		}
		caps := f.Capabilities
		switch {
		case !compute && caps.Has(CapCompute) && !caps.Has(CapGraphics):
			out = append(out, f)
			compute = true
		case !transfer && caps == CapTransfer:
			out = append(out, f)
			transfer = true
		}
	}
	return out
}

// Config returns the configuration the Context was initialized with.
func (c *Context) Config() Config { return c.cfg }

// Info returns the adapter the Context was opened on.
func (c *Context) Info() AdapterInfo { return c.info }

// QueueFamilies returns the queue families of the adapter.
func (c *Context) QueueFamilies() []QueueFamily {
	return append([]QueueFamily(nil), c.families...)
}

// MainQueue returns the queue opened on the family selected by Initialize.
func (c *Context) MainQueue() *Queue { return c.main }

// QueueFor returns a dedicated queue whose family supports caps, or the
// main queue when no dedicated queue does.
func (c *Context) QueueFor(caps Capability) *Queue {
	for _, q := range c.dedicated {
		if q.family.Capabilities.Has(caps) {
			return q
		}
	}
	return c.main
}

// Retain adds a reference to c and returns it.
func (c *Context) Retain() *Context {
	c.refs.Add(1)
	return c
}

// Close drops a reference. The last Close destroys the device and the
// backend instance; objects created from c must be released first.
func (c *Context) Close() {
	if c.refs.Add(-1) != 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	c.shutdown = true
	c.dev.Destroy()
	c.inst.Destroy()
	Logger().Debug("device closed", "adapter", c.info.Name)
}

// Lost reports whether the device has been lost.
func (c *Context) Lost() bool { return c.lost.Load() }

func (c *Context) markLost(cause error) {
	if !c.lost.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	c.lostErr = cause
	c.mu.Unlock()
	Logger().Error("device lost", "adapter", c.info.Name, "err", cause)
}

// check returns ErrDeviceLost once the device is lost.
func (c *Context) check(stage Stage, op string) error {
	if !c.lost.Load() {
		return nil
	}
	c.mu.Lock()
	cause := c.lostErr
	c.mu.Unlock()
	return newError(stage, op, ErrDeviceLost, cause)
}

// Device implements gpucontext.DeviceProvider. Headless contexts expose
// their device through HalDevice instead.
func (c *Context) Device() gpucontext.Device { return nil }

// Queue implements gpucontext.DeviceProvider. See HalQueue.
func (c *Context) Queue() gpucontext.Queue { return nil }

// Adapter implements gpucontext.DeviceProvider.
func (c *Context) Adapter() gpucontext.Adapter { return nil }

// AdapterInfo implements gpucontext.DeviceProvider.
func (c *Context) AdapterInfo() gpucontext.AdapterInfo {
	out := gpucontext.AdapterInfo{Name: c.info.Name, Type: gpucontext.AdapterTypeUnknown}
	switch c.info.Kind {
	case driver.DeviceDiscrete:
		out.Type = gpucontext.AdapterTypeDiscrete
	case driver.DeviceIntegrated:
		out.Type = gpucontext.AdapterTypeIntegrated
	case driver.DeviceCPU:
		out.Type = gpucontext.AdapterTypeSoftware
	}
	return out
}

// SurfaceFormat implements gpucontext.DeviceProvider. Headless contexts
// have no surface.
func (c *Context) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// HalDevice returns the hal.Device of a native context so that other
// gogpu libraries can share it, or nil on other backends.
func (c *Context) HalDevice() any {
	if p, ok := c.dev.(driver.HALProvider); ok {
		return p.HalDevice()
	}
	return nil
}

// HalQueue returns the hal.Queue of a native context, or nil.
func (c *Context) HalQueue() any {
	if p, ok := c.dev.(driver.HALProvider); ok {
		return p.HalQueue()
	}
	return nil
}

var _ gpucontext.DeviceProvider = (*Context)(nil)

// errClosed is the cause reported for calls on released objects.
var errClosed = errors.New("object already released")
