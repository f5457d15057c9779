package headless

import (
	"context"
	"fmt"
)

// Readback waits for fence and returns a copy of the buffer contents.
// Data copied from an image is row-major without row padding, in the
// channel order of the image format. Readback is the only way device data
// reaches the host; calling it before the fence signaled is safe because
// it waits first.
func Readback(ctx context.Context, buf *HostBuffer, fence *Fence) ([]byte, error) {
	const op = "read buffer"
	switch {
	case buf == nil || buf.released.Load():
		return nil, newError(StageReadback, op, ErrSubmissionFailed, fmt.Errorf("buffer: %w", errClosed))
	case fence == nil:
		return nil, errorf(StageReadback, op, ErrSubmissionFailed, "no fence guards buffer %q", buf.label)
	case buf.access&AccessHostRead == 0:
		return nil, errorf(StageReadback, op, ErrSubmissionFailed, "buffer %q is not host readable", buf.label)
	case fence.ctx != buf.ctx:
		return nil, errorf(StageReadback, op, ErrSubmissionFailed, "fence and buffer belong to different contexts")
	}

	if err := fence.Wait(ctx); err != nil {
		return nil, newError(StageReadback, "wait", kindOf(err), err)
	}
	data := make([]byte, buf.size)
	if err := buf.ctx.dev.ReadBuffer(buf.id, 0, data); err != nil {
		return nil, buf.ctx.driverError(StageReadback, op, ErrSubmissionFailed, err)
	}
	return data, nil
}
