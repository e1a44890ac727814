package tracing

import (
	"sync"

	"github.com/sarchlab/kcore/datarecording"
	"github.com/sarchlab/kcore/disk"
	"github.com/sarchlab/kcore/mem/frame"
	"github.com/sarchlab/kcore/mem/vm/paging"
	"github.com/sarchlab/kcore/mem/vm/vmpool"
	"github.com/sarchlab/kcore/sched"
	"github.com/sarchlab/kcore/sim"
)

// EventTable is the table that the RecordingTracer writes to.
const EventTable = "kernel_events"

// KernelEvent is a row of the event table. A and B carry the two numbers that
// describe the event, such as the first frame and the frame count of a frame
// run.
type KernelEvent struct {
	ID    string
	Seq   uint64
	Where string
	Kind  string
	A     uint64
	B     uint64
}

// RecordingTracer writes kernel events into a data recorder.
type RecordingTracer struct {
	lock     sync.Mutex
	recorder datarecording.DataRecorder
	seq      uint64
}

// NewRecordingTracer creates a RecordingTracer and the event table.
func NewRecordingTracer(
	recorder datarecording.DataRecorder,
) *RecordingTracer {
	recorder.CreateTable(EventTable, KernelEvent{})

	return &RecordingTracer{
		recorder: recorder,
	}
}

// Func records the event.
func (t *RecordingTracer) Func(ctx sim.HookCtx) {
	a, b, ok := describe(ctx.Item)
	if !ok {
		return
	}

	kind := ctx.Pos.Name
	if op, isOp := ctx.Item.(disk.Op); isOp {
		kind += " " + op.Kind.String()
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.seq++

	t.recorder.InsertData(EventTable, KernelEvent{
		ID:    sim.GetIDGenerator().Generate(),
		Seq:   t.seq,
		Where: ctx.Domain.Name(),
		Kind:  kind,
		A:     a,
		B:     b,
	})
}

// NumEvents returns the number of events recorded.
func (t *RecordingTracer) NumEvents() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.seq
}

func describe(item interface{}) (a, b uint64, ok bool) {
	switch i := item.(type) {
	case frame.FrameRun:
		return uint64(i.First), uint64(i.Count), true
	case paging.Fault:
		write := uint64(0)
		if i.Write {
			write = 1
		}

		return uint64(i.Address), write, true
	case paging.PageFreed:
		return uint64(i.Page), uint64(i.Frame), true
	case vmpool.Region:
		return uint64(i.Start), uint64(i.Pages), true
	case sched.Switch:
		return uint64(i.From.ID()), uint64(i.To.ID()), true
	case *sched.Thread:
		return uint64(i.ID()), 0, true
	case disk.Op:
		return uint64(i.Block), uint64(i.Polls), true
	default:
		return 0, 0, false
	}
}
