// Package paging implements two-level page tables with recursive mapping and
// fault-driven allocation of page tables and pages.
package paging

import (
	"fmt"
	"log"

	"github.com/sarchlab/kcore/cpu"
	"github.com/sarchlab/kcore/mem/frame"
	"github.com/sarchlab/kcore/memory"
)

// Paging is the state shared by all the page tables of the machine.
type Paging struct {
	storage  *memory.Storage
	regs     *cpu.Registers
	registry *frame.Registry

	kernelPool  *frame.Pool
	processPool *frame.Pool
	sharedSize  uint32

	current  *PageTable
	numTable int
}

// NewPaging creates the paging context of a machine.
func NewPaging(
	storage *memory.Storage,
	regs *cpu.Registers,
	registry *frame.Registry,
) *Paging {
	return &Paging{
		storage:  storage,
		regs:     regs,
		registry: registry,
	}
}

// InitPaging sets the pools that page tables and pages are taken from.
// Directories and the first page table come from the kernel pool, while
// pages and page tables created on faults come from the process pool.
func (p *Paging) InitPaging(
	kernelPool, processPool *frame.Pool,
	sharedSize uint32,
) {
	if kernelPool == nil || processPool == nil {
		log.Panic("paging requires a kernel pool and a process pool")
	}

	p.kernelPool = kernelPool
	p.processPool = processPool
	p.sharedSize = sharedSize
}

// KernelPool returns the pool that page directories are allocated from.
func (p *Paging) KernelPool() *frame.Pool {
	return p.kernelPool
}

// ProcessPool returns the pool that faulted pages are allocated from.
func (p *Paging) ProcessPool() *frame.Pool {
	return p.processPool
}

// SharedSize returns the size of the directly mapped region.
func (p *Paging) SharedSize() uint32 {
	return p.sharedSize
}

// Registers returns the control registers that paging uses.
func (p *Paging) Registers() *cpu.Registers {
	return p.regs
}

// Current returns the page table that was loaded last.
func (p *Paging) Current() *PageTable {
	return p.current
}

// EnablePaging turns paging on. There is no way to turn it off again.
func (p *Paging) EnablePaging() {
	p.regs.WriteCR0(p.regs.ReadCR0() | cpu.CR0PagingBit)
}

// PagingEnabled tells if paging is on.
func (p *Paging) PagingEnabled() bool {
	return p.regs.PagingEnabled()
}

func (p *Paging) readPhysical(addr uint32) Entry {
	v, err := p.storage.ReadUint32(uint64(addr))
	if err != nil {
		log.Panicf("cannot read entry at 0x%08x: %v", addr, err)
	}

	return Entry(v)
}

func (p *Paging) writePhysical(addr uint32, e Entry) {
	err := p.storage.WriteUint32(uint64(addr), uint32(e))
	if err != nil {
		log.Panicf("cannot write entry at 0x%08x: %v", addr, err)
	}
}

func (p *Paging) nextTableName() string {
	p.numTable++
	return fmt.Sprintf("PageTable[%d]", p.numTable-1)
}
