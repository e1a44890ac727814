// Package sched provides a cooperative round-robin scheduler with a disk
// wait queue.
package sched

import (
	"log"
	"runtime"

	"github.com/sarchlab/kcore/cpu"
	"github.com/sarchlab/kcore/sim"
)

// HookPosContextSwitch marks the dispatch of a thread.
var HookPosContextSwitch = &sim.HookPos{Name: "Context Switch"}

// HookPosThreadTerminated marks a thread being terminated.
var HookPosThreadTerminated = &sim.HookPos{Name: "Thread Terminated"}

// HookPosDiskWait marks a thread starting to wait for the disk.
var HookPosDiskWait = &sim.HookPos{Name: "Disk Wait"}

// Switch is the item of a HookPosContextSwitch hook.
type Switch struct {
	From *Thread
	To   *Thread
}

// Scheduler keeps the ready queue. The running thread is the front of the
// queue. Threads waiting for the disk form a contiguous segment of the same
// queue, starting at diskHead and ending at diskTail.
type Scheduler struct {
	sim.NamedBase
	sim.HookableBase

	interrupts *cpu.InterruptFlag

	threads  []*Thread
	head     threadIndex
	tail     threadIndex
	diskHead threadIndex
	diskTail threadIndex

	running *Thread
	idle    *Thread
	nextID  int
}

// NewThread creates a thread. The thread runs only after being added to the
// scheduler and dispatched. It terminates when the body returns.
func (s *Scheduler) NewThread(name string, body func(t *Thread)) *Thread {
	if body == nil {
		log.Panicf("%s: thread %s has no body", s.Name(), name)
	}

	s.interrupts.Disable()
	defer s.interrupts.Enable()

	return s.newThread(name, body)
}

func (s *Scheduler) newThread(name string, body func(t *Thread)) *Thread {
	t := &Thread{
		id:    s.nextID,
		name:  name,
		body:  body,
		sched: s,
		index: threadIndex(len(s.threads)),
		next:  noThread,
		wake:  make(chan struct{}, 1),

		exited: make(chan struct{}, 1),
	}

	s.nextID++
	s.threads = append(s.threads, t)

	return t
}

// Idle returns the idle thread.
func (s *Scheduler) Idle() *Thread {
	return s.idle
}

// Current returns the running thread.
func (s *Scheduler) Current() *Thread {
	return s.running
}

// Interrupts returns the interrupt flag that guards the ready queue.
func (s *Scheduler) Interrupts() *cpu.InterruptFlag {
	return s.interrupts
}

// Queue returns the threads in the ready queue, front first.
func (s *Scheduler) Queue() []*Thread {
	s.interrupts.Disable()
	defer s.interrupts.Enable()

	var q []*Thread
	for i := s.head; i != noThread; i = s.threads[i].next {
		q = append(q, s.threads[i])
	}

	return q
}

// DiskWaiting returns the threads waiting for the disk, in dispatch order.
func (s *Scheduler) DiskWaiting() []*Thread {
	s.interrupts.Disable()
	defer s.interrupts.Enable()

	var q []*Thread
	if s.diskHead == noThread {
		return q
	}

	for i := s.diskHead; ; i = s.threads[i].next {
		q = append(q, s.threads[i])
		if i == s.diskTail {
			break
		}
	}

	return q
}

// Add appends a thread to the end of the ready queue.
func (s *Scheduler) Add(t *Thread) {
	s.interrupts.Disable()

	if t.queued {
		log.Panicf("%s: thread %s is already in the ready queue",
			s.Name(), t.name)
	}

	if t.terminated {
		log.Panicf("%s: thread %s is terminated", s.Name(), t.name)
	}

	s.append(t)

	s.interrupts.Enable()
}

// Resume makes a thread ready again. It is the same as Add.
func (s *Scheduler) Resume(t *Thread) {
	s.Add(t)
}

func (s *Scheduler) append(t *Thread) {
	t.next = noThread
	t.queued = true

	if s.tail == noThread {
		s.head = t.index
	} else {
		s.threads[s.tail].next = t.index
	}

	s.tail = t.index
}

func (s *Scheduler) popFront() *Thread {
	t := s.threads[s.head]

	s.head = t.next
	if s.head == noThread {
		s.tail = noThread
	}

	t.next = noThread
	t.queued = false

	return t
}

// Yield gives the processor to the next ready thread. The running thread
// goes to the end of the queue.
func (s *Scheduler) Yield() {
	s.interrupts.Disable()

	from := s.running
	if !from.terminated {
		if s.threads[s.head] != from {
			log.Panicf("%s: running thread %s is not at the front",
				s.Name(), from.name)
		}

		s.popFront()
		s.append(from)
	}

	s.dispatch(from)
}

// YieldDisk moves the running thread to the disk wait queue and gives the
// processor to the next ready thread.
func (s *Scheduler) YieldDisk() {
	s.interrupts.Disable()

	from := s.running
	if s.threads[s.head] != from {
		log.Panicf("%s: running thread %s is not at the front",
			s.Name(), from.name)
	}

	s.popFront()
	from.diskWaiting = true
	from.queued = true

	if s.diskHead == noThread {
		s.append(from)
		s.diskHead = from.index
	} else {
		after := s.threads[s.diskTail]
		from.next = after.next
		after.next = from.index

		if s.tail == s.diskTail {
			s.tail = from.index
		}
	}

	s.diskTail = from.index

	s.invoke(HookPosDiskWait, from)

	s.dispatch(from)
}

// Terminate removes a thread from the ready queue for good. A thread that
// terminates itself never returns from Terminate.
//
// The deferred functions of a terminated thread run before any other thread
// continues. A parked thread runs them while its terminator waits, so they
// must not yield.
func (s *Scheduler) Terminate(t *Thread) {
	s.interrupts.Disable()

	if t == s.idle {
		log.Panicf("%s: cannot terminate the idle thread", s.Name())
	}

	if !s.unlink(t) {
		log.Panicf("%s: thread %s is not in the ready queue",
			s.Name(), t.name)
	}

	t.terminated = true
	t.diskWaiting = false

	s.invoke(HookPosThreadTerminated, t)

	if t != s.running {
		if t.started {
			t.wake <- struct{}{}
			<-t.exited
		}

		s.interrupts.Enable()

		return
	}

	s.interrupts.Enable()
	runtime.Goexit()
}

func (s *Scheduler) unlink(t *Thread) bool {
	prev := noThread

	for i := s.head; i != noThread; i = s.threads[i].next {
		if i != t.index {
			prev = i
			continue
		}

		if prev == noThread {
			s.head = t.next
		} else {
			s.threads[prev].next = t.next
		}

		if s.tail == i {
			s.tail = prev
		}

		s.unlinkFromDiskSegment(t, prev)

		t.next = noThread
		t.queued = false

		return true
	}

	return false
}

func (s *Scheduler) unlinkFromDiskSegment(t *Thread, prev threadIndex) {
	if !t.diskWaiting {
		return
	}

	switch {
	case s.diskHead == t.index && s.diskTail == t.index:
		s.diskHead = noThread
		s.diskTail = noThread
	case s.diskHead == t.index:
		s.diskHead = t.next
	case s.diskTail == t.index:
		s.diskTail = prev
	}
}

func (s *Scheduler) skipTerminated() {
	for s.head != noThread && s.threads[s.head].terminated {
		s.popFront()
	}
}

// dispatch switches from the given thread to the front of the queue. It must
// be called with interrupts disabled. The resumed thread enables them.
func (s *Scheduler) dispatch(from *Thread) {
	s.skipTerminated()

	if s.head == noThread {
		log.Panicf("%s: no thread to dispatch", s.Name())
	}

	to := s.threads[s.head]
	if to.diskWaiting {
		s.leaveDiskSegment(to)
	}

	s.running = to

	if to == from {
		s.interrupts.Enable()
		return
	}

	s.invoke(HookPosContextSwitch, Switch{From: from, To: to})

	if to.started {
		to.wake <- struct{}{}
	} else {
		to.started = true
		go to.run()
	}

	if from.terminated {
		return
	}

	<-from.wake

	if from.terminated {
		s.interrupts.Enable()
		runtime.Goexit()
	}

	s.interrupts.Enable()
}

func (s *Scheduler) leaveDiskSegment(t *Thread) {
	if s.diskHead != t.index {
		log.Panicf("%s: disk thread %s dispatched out of order",
			s.Name(), t.name)
	}

	if s.diskTail == t.index {
		s.diskHead = noThread
		s.diskTail = noThread
	} else {
		s.diskHead = t.next
	}

	t.diskWaiting = false
}

// Run turns the calling goroutine into the idle thread, which keeps yielding
// until every other thread has terminated.
func (s *Scheduler) Run() {
	for {
		s.interrupts.Disable()
		done := s.head == s.idle.index && s.threads[s.head].next == noThread
		s.interrupts.Enable()

		if done {
			return
		}

		s.Yield()
	}
}

func (s *Scheduler) invoke(pos *sim.HookPos, item interface{}) {
	if s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Pos:    pos,
		Item:   item,
	})
}
