// Package mmu provides the memory management unit that translates virtual
// addresses through the active page table and raises page faults.
package mmu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/kcore/cpu"
	"github.com/sarchlab/kcore/mem/vm/paging"
	"github.com/sarchlab/kcore/memory"
	"github.com/sarchlab/kcore/sim"
)

// ErrPageFault is returned when a fault cannot be resolved.
var ErrPageFault = errors.New("unresolved page fault")

// A FaultHandler resolves page faults. The faulting address is in CR2.
type FaultHandler interface {
	HandleFault(r *cpu.Regs) error
}

// MMU translates virtual addresses of the running address space. Fault
// handlers may access memory through the MMU while a fault is being raised,
// so the MMU is not safe for concurrent use.
type MMU struct {
	sim.NamedBase

	storage      *memory.Storage
	regs         *cpu.Registers
	faultHandler FaultHandler
	maxRetries   int
	tlb          *tlb

	numFaults uint64
}

// NumFaults returns the number of page faults raised so far.
func (m *MMU) NumFaults() uint64 {
	return m.numFaults
}

// SetFaultHandler replaces the fault handler.
func (m *MMU) SetFaultHandler(h FaultHandler) {
	m.faultHandler = h
}

// Translate returns the physical address of a virtual address. Page faults
// are raised and retried as needed.
func (m *MMU) Translate(vaddr uint32, write bool) (uint64, error) {
	if !m.regs.PagingEnabled() {
		return uint64(vaddr), nil
	}

	m.syncTLB()

	page := vaddr >> 12
	if f, ok := m.tlb.lookup(page); ok {
		return uint64(f)<<12 | uint64(paging.Offset(vaddr)), nil
	}

	for retry := 0; ; retry++ {
		pte, ok := m.walk(vaddr)
		if ok {
			m.tlb.insert(tlbEntry{page: page, frame: pte.Frame()})
			return uint64(pte.Address()) | uint64(paging.Offset(vaddr)), nil
		}

		if retry == m.maxRetries || m.faultHandler == nil {
			return 0, fmt.Errorf("%w at 0x%08x", ErrPageFault, vaddr)
		}

		err := m.raiseFault(vaddr, write)
		if err != nil {
			return 0, fmt.Errorf("%w at 0x%08x: %w", ErrPageFault, vaddr, err)
		}

		m.syncTLB()
	}
}

func (m *MMU) syncTLB() {
	gen := m.regs.CR3Generation()
	if gen != m.tlb.generation {
		m.tlb.flush()
		m.tlb.generation = gen
	}
}

func (m *MMU) walk(vaddr uint32) (paging.Entry, bool) {
	dir := m.regs.ReadCR3() &^ 0xFFF

	pde := m.readEntry(dir + paging.DirectoryIndex(vaddr)*4)
	if !pde.Present() {
		return 0, false
	}

	pte := m.readEntry(pde.Address() + paging.TableIndex(vaddr)*4)
	if !pte.Present() {
		return 0, false
	}

	return pte, true
}

func (m *MMU) readEntry(addr uint32) paging.Entry {
	v, err := m.storage.ReadUint32(uint64(addr))
	if err != nil {
		log.Panicf("%s: cannot read page table entry: %v", m.Name(), err)
	}

	return paging.Entry(v)
}

func (m *MMU) raiseFault(vaddr uint32, write bool) error {
	m.numFaults++
	m.regs.WriteCR2(vaddr)

	r := &cpu.Regs{IntNo: cpu.PageFaultVector}
	if write {
		r.ErrCode |= cpu.FaultWrite
	}

	return m.faultHandler.HandleFault(r)
}

// Read reads n bytes starting at a virtual address.
func (m *MMU) Read(vaddr uint32, n uint32) ([]byte, error) {
	data := make([]byte, 0, n)

	for n > 0 {
		chunk := m.chunkSize(vaddr, n)

		paddr, err := m.Translate(vaddr, false)
		if err != nil {
			return nil, err
		}

		buf, err := m.storage.Read(paddr, uint64(chunk))
		if err != nil {
			return nil, err
		}

		data = append(data, buf...)
		vaddr += chunk
		n -= chunk
	}

	return data, nil
}

// Write writes data starting at a virtual address.
func (m *MMU) Write(vaddr uint32, data []byte) error {
	for len(data) > 0 {
		chunk := m.chunkSize(vaddr, uint32(len(data)))

		paddr, err := m.Translate(vaddr, true)
		if err != nil {
			return err
		}

		err = m.storage.Write(paddr, data[:chunk])
		if err != nil {
			return err
		}

		vaddr += chunk
		data = data[chunk:]
	}

	return nil
}

func (m *MMU) chunkSize(vaddr uint32, n uint32) uint32 {
	left := paging.PageSize - paging.Offset(vaddr)
	if n < left {
		return n
	}

	return left
}

// ReadUint32 reads a little-endian word at a virtual address.
func (m *MMU) ReadUint32(vaddr uint32) (uint32, error) {
	data, err := m.Read(vaddr, 4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(data), nil
}

// WriteUint32 writes a little-endian word at a virtual address.
func (m *MMU) WriteUint32(vaddr uint32, value uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)

	return m.Write(vaddr, buf)
}
