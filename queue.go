package headless

import (
	"sync/atomic"

	"github.com/gogpu/headless/internal/driver"
)

// Queue is a queue opened on one queue family.
type Queue struct {
	ctx    *Context
	id     driver.QueueID
	family driver.QueueFamily
}

// Family returns the index of the queue's family.
func (q *Queue) Family() int { return q.family.Index }

// Capabilities returns the capabilities of the queue's family.
func (q *Queue) Capabilities() Capability { return q.family.Capabilities }

// Submit hands cb to the queue and returns without waiting. A command
// buffer can be submitted once, to the queue it was recorded for.
func (q *Queue) Submit(cb *CommandBuffer) (*Fence, error) {
	const op = "submit"
	if err := q.ctx.check(StageSubmission, op); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, errorf(StageSubmission, op, ErrSubmissionFailed, "nil command buffer")
	}
	if cb.queue != q {
		return nil, errorf(StageSubmission, op, ErrSubmissionFailed,
			"command buffer recorded for queue family %d, submitted to family %d", cb.queue.Family(), q.Family())
	}
	if !cb.state.CompareAndSwap(cbReady, cbSubmitted) {
		return nil, errorf(StageSubmission, op, ErrSubmissionFailed, "command buffer is single-use and was %s", cb.stateName())
	}

	id, err := q.ctx.dev.Submit(q.id, cb.cmds)
	if err != nil {
		cb.state.Store(cbReady)
		return nil, q.ctx.driverError(StageSubmission, op, ErrSubmissionFailed, err)
	}
	Logger().Debug("submitted", "queue_family", q.Family(), "commands", len(cb.cmds))
	return &Fence{ctx: q.ctx, id: id, cb: cb}, nil
}

// CommandBuffer is a finished, single-use command stream.
type CommandBuffer struct {
	queue     *Queue
	cmds      []driver.Command
	pipelines []*Pipeline
	state     atomic.Int32
}

const (
	cbReady int32 = iota
	cbSubmitted
	cbReleased
)

func (cb *CommandBuffer) stateName() string {
	switch cb.state.Load() {
	case cbSubmitted:
		return "already submitted"
	case cbReleased:
		return "released"
	default:
		return "ready"
	}
}

// Len returns the number of recorded commands.
func (cb *CommandBuffer) Len() int { return len(cb.cmds) }

// Release drops the pipelines of a command buffer that was never
// submitted. Submitted command buffers are released with their fence.
func (cb *CommandBuffer) Release() {
	if cb.state.CompareAndSwap(cbReady, cbReleased) {
		cb.releasePipelines()
	}
}

func (cb *CommandBuffer) releasePipelines() {
	for _, p := range cb.pipelines {
		p.Release()
	}
	cb.pipelines = nil
}
