package headless

import (
	"errors"
	"fmt"

	"github.com/gogpu/headless/internal/driver"
)

// Error kinds. Every error returned by this package is an *Error whose Kind
// is one of these; match them with errors.Is.
var (
	// ErrNoDeviceAvailable is returned when no adapter can be opened.
	ErrNoDeviceAvailable = errors.New("headless: no device available")

	// ErrNoSuitableQueueFamily is returned when no queue family of the
	// selected adapter supports the requested capabilities.
	ErrNoSuitableQueueFamily = errors.New("headless: no suitable queue family")

	// ErrAllocationFailed is returned when an image or buffer cannot be
	// created. The cause is an *AllocationError.
	ErrAllocationFailed = errors.New("headless: allocation failed")

	// ErrShaderCompilationFailed is returned when shader source is rejected.
	ErrShaderCompilationFailed = errors.New("headless: shader compilation failed")

	// ErrIncompatiblePipelineState is returned when a shader interface does
	// not match the layout, vertex layout or render target it is built for.
	ErrIncompatiblePipelineState = errors.New("headless: incompatible pipeline state")

	// ErrBindingMismatch is returned when bound resources do not match the
	// pipeline layout.
	ErrBindingMismatch = errors.New("headless: binding mismatch")

	// ErrRecordingFailed is returned by a Recorder after its first invalid
	// operation.
	ErrRecordingFailed = errors.New("headless: recording failed")

	// ErrSubmissionFailed is returned when a command buffer cannot be
	// submitted or a buffer cannot be read back.
	ErrSubmissionFailed = errors.New("headless: submission failed")

	// ErrDeviceLost is returned once the device stops executing work. It is
	// fatal: every later operation on the Context fails with it.
	ErrDeviceLost = errors.New("headless: device lost")

	// ErrTimeoutExceeded is returned when a fence wait reaches its deadline.
	// The submission stays pending and the fence can be waited again.
	ErrTimeoutExceeded = errors.New("headless: timeout exceeded")
)

// Stage names the step of a unit of work that failed.
type Stage uint8

// Stages in the order a unit of work passes through them.
const (
	StageInitialization Stage = iota
	StageAllocation
	StagePipelineBuild
	StageBinding
	StageRecording
	StageSubmission
	StageReadback
)

var stageNames = [...]string{
	StageInitialization: "initialization",
	StageAllocation:     "allocation",
	StagePipelineBuild:  "pipeline build",
	StageBinding:        "binding",
	StageRecording:      "recording",
	StageSubmission:     "submission",
	StageReadback:       "readback",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Error describes a failed operation.
type Error struct {
	Stage Stage
	Op    string
	Kind  error // one of the Err* kinds
	Err   error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := "headless: " + e.Stage.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + ": " + e.Kind.Error()
}

// Unwrap returns the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(stage Stage, op string, kind, err error) *Error {
	return &Error{Stage: stage, Op: op, Kind: kind, Err: err}
}

func errorf(stage Stage, op string, kind error, format string, args ...any) *Error {
	return newError(stage, op, kind, fmt.Errorf(format, args...))
}

// kindOf returns the kind of err, or nil when err is not an *Error.
func kindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// AllocationError records the parameters of a failed allocation.
type AllocationError struct {
	Resource      string // "image" or "buffer"
	Width, Height int    // images
	Size          int    // buffers
	Format        Format
	Err           error
}

func (e *AllocationError) Error() string {
	what := fmt.Sprintf("buffer of %d bytes", e.Size)
	if e.Resource == "image" {
		what = fmt.Sprintf("%dx%d %s image", e.Width, e.Height, e.Format)
	}
	if e.Err != nil {
		return what + ": " + e.Err.Error()
	}
	return what
}

func (e *AllocationError) Unwrap() error { return e.Err }

// driverError converts a driver failure into an *Error of the given stage.
// Device loss always maps to ErrDeviceLost and poisons c.
func (c *Context) driverError(stage Stage, op string, kind, err error) *Error {
	if errors.Is(err, driver.ErrDeviceLost) {
		c.markLost(err)
		return newError(stage, op, ErrDeviceLost, err)
	}
	return newError(stage, op, kind, err)
}
