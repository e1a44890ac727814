// Package vmpool manages regions of virtual memory inside one address space.
//
// A pool keeps its bookkeeping in its own first two pages: the list of free
// regions and the list of allocated regions. Both lists are accessed through
// virtual memory, so they are backed by frames on demand like any other page.
package vmpool

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarchlab/kcore/mem/frame"
	"github.com/sarchlab/kcore/mem/vm/paging"
	"github.com/sarchlab/kcore/sim"
)

const (
	descriptorSize = 8

	// MaxRegions is the number of descriptors that fit in one list.
	MaxRegions = paging.PageSize / descriptorSize

	reservedPages = 2
)

var (
	// ErrOutOfVirtualMemory is returned when no free region is large enough.
	ErrOutOfVirtualMemory = errors.New("out of virtual memory")

	// ErrInvalidSize is returned for zero-sized requests and pools that
	// cannot hold any region.
	ErrInvalidSize = errors.New("invalid size")

	// ErrListFull is returned when a region list has no room left.
	ErrListFull = errors.New("region list is full")

	// ErrRegionNotFound is returned when releasing an address that does not
	// start an allocated region.
	ErrRegionNotFound = errors.New("region not found")
)

// HookPosRegionAllocated marks a region being handed out.
var HookPosRegionAllocated = &sim.HookPos{Name: "Region Allocated"}

// HookPosRegionReleased marks a region being returned.
var HookPosRegionReleased = &sim.HookPos{Name: "Region Released"}

// Region is a range of pages.
type Region struct {
	Start uint32
	Pages uint32
}

// End returns the first address after the region.
func (r Region) End() uint32 {
	return r.Start + r.Pages*paging.PageSize
}

// Contains checks if the address is inside the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Start && addr-r.Start < r.Pages*paging.PageSize
}

// Memory is the virtual memory that the region lists are stored in.
type Memory interface {
	ReadUint32(vaddr uint32) (uint32, error)
	WriteUint32(vaddr uint32, value uint32) error
}

// PageTable is the page table of the address space the pool belongs to.
type PageTable interface {
	RegisterPool(pool paging.VMPool)
	UnregisterPool(pool paging.VMPool)
	FreePage(pageNo uint32) error
}

// VMPool hands out page-granular regions of [Base, Base+Size).
type VMPool struct {
	sim.NamedBase
	sim.HookableBase

	base      uint32
	size      uint32
	framePool *frame.Pool
	pageTable PageTable
	vmem      Memory

	numFree      uint32
	numAllocated uint32
}

// New creates a VM pool and registers it with the page table. The region
// lists are written right away, which faults their pages in. A pool whose
// lists cannot be written is unregistered again.
func New(
	base, size uint32,
	framePool *frame.Pool,
	pageTable PageTable,
	vmem Memory,
) (*VMPool, error) {
	if base%paging.PageSize != 0 || size%paging.PageSize != 0 ||
		size/paging.PageSize <= reservedPages ||
		uint64(base)+uint64(size) > 1<<32 {
		return nil, fmt.Errorf("%w: pool [0x%08x, +0x%x)",
			ErrInvalidSize, base, size)
	}

	p := &VMPool{
		base:      base,
		size:      size,
		framePool: framePool,
		pageTable: pageTable,
		vmem:      vmem,
	}
	p.NamedBase = sim.MakeNamedBase(fmt.Sprintf("VMPool[0x%08x]", base))

	pageTable.RegisterPool(p)

	err := p.writeDescriptor(p.freeList(), 0, Region{
		Start: base + reservedPages*paging.PageSize,
		Pages: size/paging.PageSize - reservedPages,
	})
	if err == nil {
		err = p.writeDescriptor(p.allocatedList(), 0, Region{})
	}

	if err != nil {
		pageTable.UnregisterPool(p)
		return nil, err
	}

	p.numFree = 1

	return p, nil
}

// Base returns the first address of the pool.
func (p *VMPool) Base() uint32 {
	return p.base
}

// Size returns the size of the pool in bytes.
func (p *VMPool) Size() uint32 {
	return p.size
}

// FramePool returns the frame pool that backs the pool.
func (p *VMPool) FramePool() *frame.Pool {
	return p.framePool
}

// TotalPages returns the number of pages in the pool.
func (p *VMPool) TotalPages() uint32 {
	return p.size / paging.PageSize
}

// ReservedPages returns the number of pages used by the region lists.
func (p *VMPool) ReservedPages() uint32 {
	return reservedPages
}

// NumFreeRegions returns the length of the free list.
func (p *VMPool) NumFreeRegions() uint32 {
	return p.numFree
}

// NumAllocatedRegions returns the length of the allocated list.
func (p *VMPool) NumAllocatedRegions() uint32 {
	return p.numAllocated
}

func (p *VMPool) freeList() uint32 {
	return p.base
}

func (p *VMPool) allocatedList() uint32 {
	return p.base + paging.PageSize
}

func (p *VMPool) readDescriptor(list, i uint32) (Region, error) {
	addr := list + i*descriptorSize

	start, err := p.vmem.ReadUint32(addr)
	if err != nil {
		return Region{}, err
	}

	pages, err := p.vmem.ReadUint32(addr + 4)
	if err != nil {
		return Region{}, err
	}

	return Region{Start: start, Pages: pages}, nil
}

func (p *VMPool) writeDescriptor(list, i uint32, r Region) error {
	addr := list + i*descriptorSize

	err := p.vmem.WriteUint32(addr, r.Start)
	if err != nil {
		return err
	}

	return p.vmem.WriteUint32(addr+4, r.Pages)
}

func (p *VMPool) readList(list, n uint32) ([]Region, error) {
	regions := make([]Region, 0, n)

	for i := uint32(0); i < n; i++ {
		r, err := p.readDescriptor(list, i)
		if err != nil {
			return nil, err
		}

		regions = append(regions, r)
	}

	return regions, nil
}

// FreeRegions returns the free list.
func (p *VMPool) FreeRegions() ([]Region, error) {
	return p.readList(p.freeList(), p.numFree)
}

// AllocatedRegions returns the allocated list.
func (p *VMPool) AllocatedRegions() ([]Region, error) {
	return p.readList(p.allocatedList(), p.numAllocated)
}

// Allocate reserves enough pages to hold size bytes and returns the address
// of the first one. Pages are backed by frames only when touched.
func (p *VMPool) Allocate(size uint32) (uint32, error) {
	if size == 0 {
		return 0, ErrInvalidSize
	}

	pages := (size-1)/paging.PageSize + 1

	if p.numAllocated == MaxRegions {
		slog.Warn("allocated region list is full", "pool", p.Name())
		return 0, ErrListFull
	}

	for i := uint32(0); i < p.numFree; i++ {
		free, err := p.readDescriptor(p.freeList(), i)
		if err != nil {
			return 0, err
		}

		if free.Pages <= pages {
			continue
		}

		allocated := Region{Start: free.Start, Pages: pages}

		err = p.writeDescriptor(p.allocatedList(), p.numAllocated, allocated)
		if err != nil {
			return 0, err
		}
		p.numAllocated++

		free.Start = allocated.End()
		free.Pages -= pages

		err = p.writeDescriptor(p.freeList(), i, free)
		if err != nil {
			return 0, err
		}

		p.invoke(HookPosRegionAllocated, allocated)

		return allocated.Start, nil
	}

	slog.Warn("no free region is large enough",
		"pool", p.Name(), "pages", pages)

	return 0, ErrOutOfVirtualMemory
}

// Release returns the region that starts at addr and frees the frames of
// its pages.
func (p *VMPool) Release(addr uint32) error {
	i, region, err := p.findAllocated(addr)
	if err != nil {
		return err
	}

	if p.numFree == MaxRegions {
		slog.Warn("free region list is full", "pool", p.Name())
		return ErrListFull
	}

	first := region.Start / paging.PageSize
	for page := first; page < first+region.Pages; page++ {
		err = p.pageTable.FreePage(page)
		if err != nil && !errors.Is(err, paging.ErrPageNotMapped) {
			return err
		}
	}

	err = p.writeDescriptor(p.freeList(), p.numFree, region)
	if err != nil {
		return err
	}
	p.numFree++

	err = p.removeAllocated(i)
	if err != nil {
		return err
	}

	p.invoke(HookPosRegionReleased, region)

	return nil
}

func (p *VMPool) findAllocated(addr uint32) (uint32, Region, error) {
	for i := uint32(0); i < p.numAllocated; i++ {
		r, err := p.readDescriptor(p.allocatedList(), i)
		if err != nil {
			return 0, Region{}, err
		}

		if r.Start == addr {
			return i, r, nil
		}
	}

	slog.Warn("releasing an address that was not allocated",
		"pool", p.Name(), "address", fmt.Sprintf("0x%08x", addr))

	return 0, Region{}, ErrRegionNotFound
}

func (p *VMPool) removeAllocated(i uint32) error {
	last := p.numAllocated - 1

	if i != last {
		r, err := p.readDescriptor(p.allocatedList(), last)
		if err != nil {
			return err
		}

		err = p.writeDescriptor(p.allocatedList(), i, r)
		if err != nil {
			return err
		}
	}

	p.numAllocated--

	return nil
}

// IsLegitimate checks if the address is part of the region lists or of an
// allocated region.
func (p *VMPool) IsLegitimate(addr uint32) bool {
	if addr < p.base || addr-p.base >= p.size {
		return false
	}

	if addr-p.base < reservedPages*paging.PageSize {
		return true
	}

	for i := uint32(0); i < p.numAllocated; i++ {
		r, err := p.readDescriptor(p.allocatedList(), i)
		if err != nil {
			slog.Error("cannot read allocated region list",
				"pool", p.Name(), "error", err)
			return false
		}

		if r.Contains(addr) {
			return true
		}
	}

	return false
}

func (p *VMPool) invoke(pos *sim.HookPos, r Region) {
	if p.NumHooks() == 0 {
		return
	}

	p.InvokeHook(sim.HookCtx{
		Domain: p,
		Pos:    pos,
		Item:   r,
	})
}
