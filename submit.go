package headless

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/headless/internal/driver"
)

// waitSlice bounds a single driver wait so that Fence.Wait notices a
// context deadline or device loss promptly.
const waitSlice = 50 * time.Millisecond

// Fence signals when a submitted command buffer has executed.
type Fence struct {
	ctx *Context
	id  driver.FenceID
	cb  *CommandBuffer

	signaled atomic.Bool
	release  sync.Once
}

// Signaled reports whether a Wait has observed the fence signaled.
func (f *Fence) Signaled() bool { return f.signaled.Load() }

// Wait blocks until the fence signals. It returns ErrTimeoutExceeded when
// ctx ends first; the submission stays pending and Wait may be called
// again. A ctx without deadline waits indefinitely. A lost device returns
// ErrDeviceLost and poisons the Context. Waiting a signaled fence returns
// immediately.
func (f *Fence) Wait(ctx context.Context) error {
	const op = "wait"
	if f.signaled.Load() {
		return nil
	}
	for {
		if err := f.ctx.check(StageSubmission, op); err != nil {
			return err
		}
		slice := waitSlice
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return errorf(StageSubmission, op, ErrTimeoutExceeded, "fence %d: %v", f.id, context.DeadlineExceeded)
			}
			slice = min(slice, remaining)
		}

		ok, err := f.ctx.dev.Wait(f.id, slice)
		if err != nil {
			return f.ctx.driverError(StageSubmission, op, ErrSubmissionFailed, err)
		}
		if ok {
			f.signaled.Store(true)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errorf(StageSubmission, op, ErrTimeoutExceeded, "fence %d: %v", f.id, err)
		}
	}
}

// Release frees the driver fence and the pipelines the command buffer
// retained. Releasing a fence that has not been observed signaled keeps
// the pipelines alive, since the device may still use them.
func (f *Fence) Release() {
	f.release.Do(func() {
		f.ctx.dev.DestroyFence(f.id)
		if f.signaled.Load() || f.ctx.Lost() {
			f.cb.releasePipelines()
			return
		}
		Logger().Warn("fence released before it signaled", "fence", uint64(f.id))
	})
}
