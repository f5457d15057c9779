package headless

import (
	"time"

	"github.com/gogpu/headless/backend"
)

// Config holds the options of Initialize.
type Config struct {
	// Backend names the driver backend: "native", "software" or "auto".
	Backend string

	// Validation wraps the device in the validation layer.
	Validation bool

	// Extensions lists device extensions an adapter must advertise.
	Extensions []string

	// DedicatedQueues also opens compute-only and transfer-only queues
	// when the adapter has such families.
	DedicatedQueues bool

	// WaitTimeout bounds the fence waits of the top-level operations
	// when their context has no deadline. Zero waits indefinitely.
	WaitTimeout time.Duration
}

// Option configures Initialize.
//
// Example:
//
//	dc, err := headless.Initialize(headless.CapGraphics|headless.CapCompute,
//	    headless.WithBackend("software"),
//	    headless.WithValidation(true),
//	)
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Backend: backend.BackendAuto,
	}
}

// WithBackend selects the driver backend by name.
func WithBackend(name string) Option {
	return func(c *Config) {
		c.Backend = name
	}
}

// WithValidation enables or disables the validation layer. Its messages
// are logged and never abort an operation.
func WithValidation(enabled bool) Option {
	return func(c *Config) {
		c.Validation = enabled
	}
}

// WithExtensions adds required device extensions.
func WithExtensions(names ...string) Option {
	return func(c *Config) {
		c.Extensions = append(c.Extensions, names...)
	}
}

// WithDedicatedQueues requests one queue on a compute family without
// graphics and one on a transfer-only family, in addition to the main
// queue. Families the adapter lacks are skipped; QueueFor then falls back
// to the main queue.
func WithDedicatedQueues() Option {
	return func(c *Config) {
		c.DedicatedQueues = true
	}
}

// WithWaitTimeout sets Config.WaitTimeout.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WaitTimeout = d
	}
}
