package kernel

import (
	"log"

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

// A Builder can boot kernels.
type Builder struct {
	config config.Config
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		config: config.Default(),
	}
}

// WithConfig sets the machine configuration.
func (b Builder) WithConfig(c config.Config) Builder {
	b.config = c
	return b
}

// Build boots a kernel. The memory pools are set up first, then paging is
// turned on and the VM pools are created in the new address space.
func (b Builder) Build(name string) *Kernel {
	if err := b.config.Validate(); err != nil {
		log.Panicf("cannot boot %s: %v", name, err)
	}

	c := b.config
	k := &Kernel{
		Config:     c,
		Storage:    memory.NewStorage(c.MemorySize),
		Registers:  &cpu.Registers{},
		Interrupts: &cpu.InterruptFlag{},
		Registry:   frame.NewRegistry(),
	}
	k.NamedBase = sim.MakeNamedBase(name)

	b.buildFramePools(k)
	b.buildPaging(k)
	b.buildVMPools(k)
	b.buildDevices(k)

	return k
}

func (b Builder) buildFramePools(k *Kernel) {
	c := b.config

	k.KernelPool = frame.MakeBuilder().
		WithStorage(k.Storage).
		WithRegistry(k.Registry).
		WithBaseFrame(c.KernelPoolBase).
		WithNumFrames(c.KernelPoolFrames).
		Build("KernelPool")

	infoFrames := frame.NeededInfoFrames(c.ProcessPoolFrames)
	k.ProcessPool = frame.MakeBuilder().
		WithStorage(k.Storage).
		WithRegistry(k.Registry).
		WithBaseFrame(c.ProcessPoolBase).
		WithNumFrames(c.ProcessPoolFrames).
		WithInfoFrame(k.KernelPool.GetFrames(infoFrames)).
		Build("ProcessPool")

	k.ProcessPool.MarkInaccessible(c.HoleBase, c.HoleFrames)
}

func (b Builder) buildPaging(k *Kernel) {
	c := b.config

	k.Paging = paging.NewPaging(k.Storage, k.Registers, k.Registry)
	k.Paging.InitPaging(k.KernelPool, k.ProcessPool, c.SharedSize)

	k.PageTable = paging.NewPageTable(k.Paging)
	k.PageTable.Load()
	k.Paging.EnablePaging()

	k.MMU = mmu.MakeBuilder().
		WithStorage(k.Storage).
		WithRegisters(k.Registers).
		WithFaultHandler(k.PageTable).
		WithTLBSize(c.TLBSize).
		WithMaxFaultRetries(c.MaxFaultRetries).
		Build("MMU")
}

func (b Builder) buildVMPools(k *Kernel) {
	c := b.config

	var err error

	k.CodePool, err = vmpool.New(
		c.CodePoolBase, c.CodePoolSize, k.ProcessPool, k.PageTable, k.MMU)
	if err != nil {
		log.Panicf("cannot create code pool: %v", err)
	}

	k.HeapPool, err = vmpool.New(
		c.HeapPoolBase, c.HeapPoolSize, k.ProcessPool, k.PageTable, k.MMU)
	if err != nil {
		log.Panicf("cannot create heap pool: %v", err)
	}
}

func (b Builder) buildDevices(k *Kernel) {
	c := b.config

	k.Scheduler = sched.MakeBuilder().
		WithInterrupts(k.Interrupts).
		Build("Scheduler")

	k.DiskController = disk.NewSimpleController(c.DiskBlocks, c.DiskLatency)
	k.Disk = disk.MakeBuilder().
		WithController(k.DiskController).
		WithYielder(k.Scheduler).
		WithNumBlocks(c.DiskBlocks).
		Build("Disk")
}
