package mmu

import (
	"log"

	"github.com/sarchlab/kcore/cpu"
	"github.com/sarchlab/kcore/memory"
	"github.com/sarchlab/kcore/sim"
)

// A Builder can build MMUs.
type Builder struct {
	storage         *memory.Storage
	regs            *cpu.Registers
	faultHandler    FaultHandler
	tlbSize         int
	maxFaultRetries int
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		tlbSize:         64,
		maxFaultRetries: 3,
	}
}

// WithStorage sets the physical memory behind the MMU.
func (b Builder) WithStorage(s *memory.Storage) Builder {
	b.storage = s
	return b
}

// WithRegisters sets the control registers that the MMU reads CR0 and CR3
// from and writes faulting addresses to.
func (b Builder) WithRegisters(r *cpu.Registers) Builder {
	b.regs = r
	return b
}

// WithFaultHandler sets the handler that is invoked on page faults.
func (b Builder) WithFaultHandler(h FaultHandler) Builder {
	b.faultHandler = h
	return b
}

// WithTLBSize sets the number of translations that can be cached. A size of
// 0 disables the TLB.
func (b Builder) WithTLBSize(n int) Builder {
	b.tlbSize = n
	return b
}

// WithMaxFaultRetries sets how many times an access is retried after the
// fault handler returns.
func (b Builder) WithMaxFaultRetries(n int) Builder {
	b.maxFaultRetries = n
	return b
}

// Build returns a newly created MMU.
func (b Builder) Build(name string) *MMU {
	if b.storage == nil || b.regs == nil {
		log.Panic("MMU requires a storage and registers")
	}

	m := &MMU{
		storage:      b.storage,
		regs:         b.regs,
		faultHandler: b.faultHandler,
		maxRetries:   b.maxFaultRetries,
		tlb:          newTLB(b.tlbSize),
	}
	m.NamedBase = sim.MakeNamedBase(name)

	return m
}
