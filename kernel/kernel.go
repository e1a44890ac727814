// Package kernel assembles a machine from the memory, paging, scheduling, and
// disk components and provides workloads that exercise it.
package kernel

import (
	"github.com/sarchlab/kcore/config"
	"github.com/sarchlab/kcore/cpu"
	"github.com/sarchlab/kcore/disk"
	"github.com/sarchlab/kcore/mem/frame"
	"github.com/sarchlab/kcore/mem/vm/mmu"
	"github.com/sarchlab/kcore/mem/vm/paging"
	"github.com/sarchlab/kcore/mem/vm/vmpool"
	"github.com/sarchlab/kcore/memory"
	"github.com/sarchlab/kcore/sched"
	"github.com/sarchlab/kcore/sim"
)

// Kernel is a booted machine.
type Kernel struct {
	sim.NamedBase

	Config config.Config

	Storage    *memory.Storage
	Registers  *cpu.Registers
	Interrupts *cpu.InterruptFlag

	Registry    *frame.Registry
	KernelPool  *frame.Pool
	ProcessPool *frame.Pool

	Paging    *paging.Paging
	PageTable *paging.PageTable
	MMU       *mmu.MMU

	CodePool *vmpool.VMPool
	HeapPool *vmpool.VMPool

	Scheduler      *sched.Scheduler
	DiskController *disk.SimpleController
	Disk           *disk.BlockingDisk
}

// Hookables returns the components that report events through hooks.
func (k *Kernel) Hookables() []sim.Hookable {
	return []sim.Hookable{
		k.KernelPool,
		k.ProcessPool,
		k.PageTable,
		k.CodePool,
		k.HeapPool,
		k.Scheduler,
		k.Disk,
	}
}

// VMPools returns the VM pools of the kernel address space.
func (k *Kernel) VMPools() []*vmpool.VMPool {
	return []*vmpool.VMPool{k.CodePool, k.HeapPool}
}

// Components returns every named component of the machine.
func (k *Kernel) Components() []sim.Named {
	return []sim.Named{
		k.KernelPool,
		k.ProcessPool,
		k.PageTable,
		k.MMU,
		k.CodePool,
		k.HeapPool,
		k.Scheduler,
		k.Disk,
	}
}
