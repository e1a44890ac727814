package sched

type threadIndex int

const noThread threadIndex = -1

// A Thread is a cooperative thread of execution. Its body runs on its own
// goroutine, which only makes progress while the thread is dispatched.
type Thread struct {
	id    int
	name  string
	body  func(t *Thread)
	sched *Scheduler

	index threadIndex
	next  threadIndex

	queued      bool
	terminated  bool
	diskWaiting bool
	started     bool

	wake   chan struct{}
	exited chan struct{}
}

// ID returns the unique ID of the thread.
func (t *Thread) ID() int {
	return t.id
}

// Name returns the name of the thread.
func (t *Thread) Name() string {
	return t.name
}

// Terminated tells if the thread has been terminated.
func (t *Thread) Terminated() bool {
	return t.terminated
}

// DiskWaiting tells if the thread is waiting for a disk operation.
func (t *Thread) DiskWaiting() bool {
	return t.diskWaiting
}

// Scheduler returns the scheduler that owns the thread.
func (t *Thread) Scheduler() *Scheduler {
	return t.sched
}

func (t *Thread) run() {
	defer t.exit()

	t.sched.interrupts.Enable()
	t.body(t)
	t.sched.Terminate(t)
}

// exit runs on the goroutine of a terminated thread once all its deferred
// functions are done. A thread that terminated itself still owns the
// processor and dispatches the next one. Otherwise the terminator is waiting
// and gets the processor back.
func (t *Thread) exit() {
	s := t.sched
	s.interrupts.Disable()

	if s.running == t {
		s.dispatch(t)
		return
	}

	t.exited <- struct{}{}
}
