// Package headless submits compute and graphics work to a GPU without a
// window or surface and reads the results back to host memory.
//
// # Overview
//
// A [Context] owns one logical device opened on an adapter chosen by a
// backend: the pure Go WebGPU HAL driver ("native") or the host reference
// driver ("software"). Work is recorded into single-use command buffers,
// submitted to a [Queue] and tracked by a [Fence]. Results land in host
// readable buffers and are copied out with [Readback].
//
// # Quick Start
//
//	import "github.com/gogpu/headless"
//
//	dc, err := headless.Initialize(headless.CapGraphics | headless.CapCompute)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dc.Close()
//
//	img, err := headless.RenderMandelbrot(ctx, dc, 1024)
//	if err != nil {
//		log.Fatal(err)
//	}
//	headless.WriteImage("image2.png", img)
//
// # Recording
//
// A [Recorder] builds a command buffer in order. The first invalid call
// is remembered and every later call is a no-op, so a chain only needs one
// error check at [Recorder.Finish]:
//
//	cb, err := dc.Record(nil).
//		DispatchOver(pipeline, set, img).
//		CopyImageToBuffer(img, buf).
//		Finish()
//
// # Synchronization
//
// [Queue.Submit] never blocks. [Fence.Wait] honors the context deadline
// and reports [ErrTimeoutExceeded] without cancelling the submission.
// [Readback] waits on the fence itself, so a prior Wait is optional.
//
// # Errors
//
// Every failure is an [*Error] naming the stage it happened in. Match the
// kind with errors.Is against the sentinel errors such as
// [ErrShaderCompilationFailed] or [ErrDeviceLost]. Once the device is lost
// the Context refuses further work.
//
// # Logging
//
// Nothing is logged by default. Install a [log/slog] logger with
// [SetLogger] to see adapter selection, queue families and validation
// messages.
//
// # Thread Safety
//
// A Context and its queues are safe for concurrent use. A Recorder is
// not; record each command buffer from one goroutine.
package headless
