package cpu

import (
	"log"
	"sync"
)

// InterruptFlag models the processor interrupt-enable flag.
//
// Disabling interrupts grants exclusive access to the structures guarded by
// the flag, so Disable blocks while another party has interrupts disabled.
// A context switch hands the disabled state over to the resumed thread, which
// enables interrupts again. Enable may therefore be called by a different
// goroutine than the one that called Disable.
type InterruptFlag struct {
	mask     sync.Mutex
	lock     sync.Mutex
	disabled bool
}

// Disable masks interrupts.
func (f *InterruptFlag) Disable() {
	f.mask.Lock()

	f.lock.Lock()
	f.disabled = true
	f.lock.Unlock()
}

// Enable unmasks interrupts.
func (f *InterruptFlag) Enable() {
	f.lock.Lock()
	if !f.disabled {
		f.lock.Unlock()
		log.Panic("enabling interrupts that are not disabled")
	}
	f.disabled = false
	f.lock.Unlock()

	f.mask.Unlock()
}

// Enabled tells if interrupts are currently enabled.
func (f *InterruptFlag) Enabled() bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	return !f.disabled
}
