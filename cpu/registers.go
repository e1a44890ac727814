// Package cpu models the processor state the memory and execution core
// depends on: the paging control registers, the fault register snapshot, and
// the interrupt flag.
package cpu

import "sync"

// CR0PagingBit is the CR0 bit that turns paging on.
const CR0PagingBit uint32 = 1 << 31

// Registers holds the control registers of the simulated processor.
type Registers struct {
	lock sync.Mutex

	cr0 uint32
	cr2 uint32
	cr3 uint32

	cr3Generation uint64
}

// ReadCR0 returns the value of CR0.
func (r *Registers) ReadCR0() uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.cr0
}

// WriteCR0 sets the value of CR0.
func (r *Registers) WriteCR0(v uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.cr0 = v
}

// ReadCR2 returns the last faulting address.
func (r *Registers) ReadCR2() uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.cr2
}

// WriteCR2 records the faulting address. Only the MMU writes CR2.
func (r *Registers) WriteCR2(v uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.cr2 = v
}

// ReadCR3 returns the physical address of the active page directory.
func (r *Registers) ReadCR3() uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.cr3
}

// WriteCR3 sets the page directory base. Every write, including rewriting the
// same value, invalidates cached translations.
func (r *Registers) WriteCR3(v uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.cr3 = v
	r.cr3Generation++
}

// CR3Generation counts the writes to CR3. Translation caches compare it with
// the generation they were filled under.
func (r *Registers) CR3Generation() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.cr3Generation
}

// PagingEnabled tells if the paging bit of CR0 is set.
func (r *Registers) PagingEnabled() bool {
	return r.ReadCR0()&CR0PagingBit != 0
}

// Fault error code bits, as pushed by the processor on a page fault.
const (
	FaultProtection uint32 = 1 << 0
	FaultWrite      uint32 = 1 << 1
	FaultUser       uint32 = 1 << 2
)

// Regs is the register snapshot handed to an exception handler.
type Regs struct {
	IntNo   uint32
	ErrCode uint32
	EIP     uint32
}

// PageFaultVector is the exception number of page faults.
const PageFaultVector uint32 = 14

// IsWrite tells if the fault was caused by a write access.
func (r *Regs) IsWrite() bool {
	return r.ErrCode&FaultWrite != 0
}

// IsProtectionViolation tells if the fault hit a present page.
func (r *Regs) IsProtectionViolation() bool {
	return r.ErrCode&FaultProtection != 0
}
