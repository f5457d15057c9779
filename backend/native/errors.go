package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNoBackend is returned when the HAL has no Vulkan backend registered.
	ErrNoBackend = errors.New("native: vulkan backend not available")

	// ErrMultipleQueues is returned when more than one queue is requested;
	// the HAL exposes a single queue per device.
	ErrMultipleQueues = errors.New("native: only one queue per device")
)
