package paging

import (
	"errors"
	"fmt"
	"log"
	"log/slog"

	"github.com/sarchlab/kcore/cpu"
	"github.com/sarchlab/kcore/sim"
)

// MaxVMPools is the number of VM pools a page table can register.
const MaxVMPools = 16

var (
	// ErrIllegitimateAddress is returned when the faulting address does not
	// belong to any registered VM pool.
	ErrIllegitimateAddress = errors.New("illegitimate fault address")

	// ErrUnexpectedFault is returned when a fault hits a page that is already
	// mapped.
	ErrUnexpectedFault = errors.New("fault on a mapped page")

	// ErrPageNotMapped is returned when freeing a page that has no frame.
	ErrPageNotMapped = errors.New("page is not mapped")
)

// HookPosPageFault marks a page fault being handled.
var HookPosPageFault = &sim.HookPos{Name: "Page Fault"}

// HookPosPageFreed marks a page losing its frame.
var HookPosPageFreed = &sim.HookPos{Name: "Page Freed"}

// Fault is the item of a HookPosPageFault hook.
type Fault struct {
	Address uint32
	Write   bool
}

// PageFreed is the item of a HookPosPageFreed hook.
type PageFreed struct {
	Page  uint32
	Frame uint32
}

// A VMPool is a region of virtual memory that can tell which addresses have
// been handed out.
type VMPool interface {
	IsLegitimate(addr uint32) bool
}

// A PageTable is the two-level translation structure of one address space.
// The last directory entry maps the directory itself, so that every entry is
// reachable through a virtual address once paging is on. The last entry of a
// page table is not present and never aliases table storage.
type PageTable struct {
	sim.NamedBase
	sim.HookableBase

	paging         *Paging
	directoryFrame uint32

	pools    [MaxVMPools]VMPool
	numPools int
}

// NewPageTable creates a page table that directly maps the first 4 MiB, except
// for the last page whose slot holds the table's own record.
func NewPageTable(p *Paging) *PageTable {
	if p.kernelPool == nil {
		log.Panic("paging is not initialized")
	}

	pt := &PageTable{
		paging: p,
	}
	pt.NamedBase = sim.MakeNamedBase(p.nextTableName())

	pt.directoryFrame = p.kernelPool.GetFrames(1)
	tableFrame := p.kernelPool.GetFrames(1)

	dirAddr := pt.directoryFrame * PageSize
	tableAddr := tableFrame * PageSize

	for i := uint32(0); i < selfEntry; i++ {
		p.writePhysical(tableAddr+i*4, MakeEntry(i, FlagPresent|FlagWritable))
	}
	p.writePhysical(tableAddr+selfEntry*4, selfRecord(tableFrame))

	p.writePhysical(dirAddr, MakeEntry(tableFrame, FlagPresent|FlagWritable))
	for i := uint32(1); i < selfEntry; i++ {
		p.writePhysical(dirAddr+i*4, Entry(FlagWritable))
	}
	p.writePhysical(dirAddr+selfEntry*4,
		MakeEntry(pt.directoryFrame, FlagPresent|FlagWritable))

	return pt
}

// DirectoryFrame returns the frame that holds the page directory.
func (pt *PageTable) DirectoryFrame() uint32 {
	return pt.directoryFrame
}

// DirectoryAddress returns the physical address of the page directory.
func (pt *PageTable) DirectoryAddress() uint32 {
	return pt.directoryFrame * PageSize
}

// Load makes the page table the active one.
func (pt *PageTable) Load() {
	pt.paging.regs.WriteCR3(pt.DirectoryAddress())
	pt.paging.current = pt
}

// RegisterPool adds a VM pool whose addresses are served on faults.
func (pt *PageTable) RegisterPool(pool VMPool) {
	if pt.numPools == MaxVMPools {
		log.Panicf("%s: cannot register more than %d VM pools",
			pt.Name(), MaxVMPools)
	}

	pt.pools[pt.numPools] = pool
	pt.numPools++
}

// UnregisterPool removes a VM pool. Unknown pools are ignored.
func (pt *PageTable) UnregisterPool(pool VMPool) {
	for i := 0; i < pt.numPools; i++ {
		if pt.pools[i] != pool {
			continue
		}

		copy(pt.pools[i:pt.numPools], pt.pools[i+1:pt.numPools])
		pt.numPools--
		pt.pools[pt.numPools] = nil

		return
	}
}

// Pools returns the registered VM pools.
func (pt *PageTable) Pools() []VMPool {
	return pt.pools[:pt.numPools]
}

// IsLegitimate checks if any registered VM pool claims the address. Without
// any pool, every address is accepted.
func (pt *PageTable) IsLegitimate(addr uint32) bool {
	if pt.numPools == 0 {
		return true
	}

	for _, pool := range pt.pools[:pt.numPools] {
		if pool.IsLegitimate(addr) {
			return true
		}
	}

	return false
}

// resolve translates a virtual address by walking this table's own
// directory.
func (pt *PageTable) resolve(vaddr uint32) (uint32, bool) {
	pde := pt.paging.readPhysical(
		pt.DirectoryAddress() + DirectoryIndex(vaddr)*4)
	if !pde.Present() {
		return 0, false
	}

	pte := pt.paging.readPhysical(pde.Address() + TableIndex(vaddr)*4)
	if !pte.Present() {
		return 0, false
	}

	return pte.Address() | Offset(vaddr), true
}

func (pt *PageTable) readEntry(vaddr uint32) Entry {
	addr, ok := pt.resolve(vaddr)
	if !ok {
		log.Panicf("%s: entry at 0x%08x is not reachable", pt.Name(), vaddr)
	}

	return pt.paging.readPhysical(addr)
}

func (pt *PageTable) writeEntry(vaddr uint32, e Entry) {
	addr, ok := pt.resolve(vaddr)
	if !ok {
		log.Panicf("%s: entry at 0x%08x is not reachable", pt.Name(), vaddr)
	}

	pt.paging.writePhysical(addr, e)
}

// PDE returns the i-th directory entry.
func (pt *PageTable) PDE(i uint32) Entry {
	return pt.readEntry(PDEAddress(i))
}

// PTE returns the i-th entry of the table at directory index d. The page
// table must be present.
func (pt *PageTable) PTE(d, i uint32) Entry {
	return pt.readEntry(PTEAddress(d, i))
}

// Lookup returns the entry that maps the virtual address, if any.
func (pt *PageTable) Lookup(vaddr uint32) (Entry, bool) {
	d := DirectoryIndex(vaddr)
	if !pt.PDE(d).Present() {
		return 0, false
	}

	pte := pt.PTE(d, TableIndex(vaddr))
	if !pte.Present() {
		return 0, false
	}

	return pte, true
}

// HandleFault resolves a page fault at the address held in CR2. A missing
// page table is installed first and the access is expected to fault again
// for the page itself.
func (pt *PageTable) HandleFault(r *cpu.Regs) error {
	addr := pt.paging.regs.ReadCR2()
	d := DirectoryIndex(addr)
	i := TableIndex(addr)

	pt.invoke(HookPosPageFault, Fault{
		Address: addr,
		Write:   r != nil && r.IsWrite(),
	})

	if !pt.IsLegitimate(addr) {
		slog.Warn("page fault at illegitimate address",
			"table", pt.Name(), "address", fmt.Sprintf("0x%08x", addr))
		return ErrIllegitimateAddress
	}

	if !pt.PDE(d).Present() {
		pt.installTable(d)
		return nil
	}

	if !pt.PTE(d, i).Present() {
		f := pt.paging.processPool.GetFrames(1)
		pt.writeEntry(PTEAddress(d, i), MakeEntry(f, FlagPresent|FlagWritable))

		return nil
	}

	slog.Warn("page fault on a mapped page",
		"table", pt.Name(), "address", fmt.Sprintf("0x%08x", addr))

	return ErrUnexpectedFault
}

func (pt *PageTable) installTable(d uint32) {
	f := pt.paging.processPool.GetFrames(1)
	pt.writeEntry(PDEAddress(d), MakeEntry(f, FlagPresent|FlagWritable))

	for i := uint32(0); i < selfEntry; i++ {
		pt.writeEntry(PTEAddress(d, i), 0)
	}
	pt.writeEntry(PTEAddress(d, selfEntry), selfRecord(f))
}

// selfRecord is the entry kept in the last slot of a page table. It names the
// table's own frame and is never present, so the virtual page behind the slot
// is an ordinary page and faults in like any other.
func selfRecord(frameNo uint32) Entry {
	return MakeEntry(frameNo, FlagWritable)
}

// FreePage releases the frame behind a page and unmaps the page.
func (pt *PageTable) FreePage(pageNo uint32) error {
	d := pageNo >> 10
	i := pageNo & selfEntry

	if !pt.PDE(d).Present() {
		slog.Debug("freeing a page without a page table",
			"table", pt.Name(), "page", pageNo)
		return ErrPageNotMapped
	}

	pte := pt.PTE(d, i)
	if !pte.Present() {
		slog.Debug("freeing a page that is not mapped",
			"table", pt.Name(), "page", pageNo)
		return ErrPageNotMapped
	}

	err := pt.paging.registry.Release(pte.Frame())
	if err != nil {
		return fmt.Errorf("freeing page %d: %w", pageNo, err)
	}

	pt.writeEntry(PTEAddress(d, i), pte.ClearFlags(FlagPresent))

	regs := pt.paging.regs
	regs.WriteCR3(regs.ReadCR3())

	pt.invoke(HookPosPageFreed, PageFreed{Page: pageNo, Frame: pte.Frame()})

	return nil
}

// Walk visits every mapped page below the recursive window, in address
// order.
func (pt *PageTable) Walk(fn func(page uint32, e Entry)) {
	for d := uint32(0); d < selfEntry; d++ {
		if !pt.PDE(d).Present() {
			continue
		}

		for i := uint32(0); i < EntriesPerTable; i++ {
			pte := pt.PTE(d, i)
			if pte.Present() {
				fn(d<<10|i, pte)
			}
		}
	}
}

func (pt *PageTable) invoke(pos *sim.HookPos, item interface{}) {
	if pt.NumHooks() == 0 {
		return
	}

	pt.InvokeHook(sim.HookCtx{
		Domain: pt,
		Pos:    pos,
		Item:   item,
	})
}
