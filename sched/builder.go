package sched

import (
	"github.com/sarchlab/kcore/cpu"
	"github.com/sarchlab/kcore/sim"
)

// A Builder can build schedulers.
type Builder struct {
	interrupts *cpu.InterruptFlag
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithInterrupts sets the interrupt flag that guards the ready queue.
func (b Builder) WithInterrupts(flag *cpu.InterruptFlag) Builder {
	b.interrupts = flag
	return b
}

// Build creates a scheduler. The goroutine that calls Run becomes the idle
// thread.
func (b Builder) Build(name string) *Scheduler {
	s := &Scheduler{
		interrupts: b.interrupts,
		head:       noThread,
		tail:       noThread,
		diskHead:   noThread,
		diskTail:   noThread,
	}
	s.NamedBase = sim.MakeNamedBase(name)

	if s.interrupts == nil {
		s.interrupts = &cpu.InterruptFlag{}
	}

	s.idle = s.newThread("idle", nil)
	s.idle.started = true
	s.idle.queued = true
	s.head = s.idle.index
	s.tail = s.idle.index
	s.running = s.idle

	return s
}
