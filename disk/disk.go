// Package disk provides a disk driver that lets other threads run while the
// device is busy.
package disk

import (
	"errors"
	"fmt"

	"github.com/sarchlab/kcore/sim"
)

var (
	// ErrInvalidBuffer is returned when the buffer is not one block long.
	ErrInvalidBuffer = errors.New("buffer must be one block")

	// ErrBlockOutOfRange is returned for blocks beyond the end of the disk.
	ErrBlockOutOfRange = errors.New("block out of range")
)

// HookPosDiskOp marks a completed disk operation.
var HookPosDiskOp = &sim.HookPos{Name: "Disk Op"}

// Op is the item of a HookPosDiskOp hook.
type Op struct {
	Kind  Operation
	Block uint32
	Polls int
}

// A Yielder parks the running thread in the disk wait queue.
type Yielder interface {
	YieldDisk()
}

// BlockingDisk is a disk driver that yields to the disk wait queue instead
// of spinning while the controller is not ready.
type BlockingDisk struct {
	sim.NamedBase
	sim.HookableBase

	controller Controller
	yielder    Yielder
	numBlocks  uint32

	busy bool
}

// NumBlocks returns the number of blocks of the disk.
func (d *BlockingDisk) NumBlocks() uint32 {
	return d.numBlocks
}

// Read reads a block into buf.
func (d *BlockingDisk) Read(block uint32, buf []byte) error {
	err := d.check(block, buf)
	if err != nil {
		return err
	}

	d.acquire()
	defer d.release()

	d.controller.IssueOperation(OpRead, block)
	polls := d.waitUntilReady()

	for i := 0; i < WordsPerBlock; i++ {
		w := d.controller.ReadWord()
		buf[2*i] = byte(w)
		buf[2*i+1] = byte(w >> 8)
	}

	d.invoke(Op{Kind: OpRead, Block: block, Polls: polls})

	return nil
}

// Write writes buf to a block.
func (d *BlockingDisk) Write(block uint32, buf []byte) error {
	err := d.check(block, buf)
	if err != nil {
		return err
	}

	d.acquire()
	defer d.release()

	d.controller.IssueOperation(OpWrite, block)
	polls := d.waitUntilReady()

	for i := 0; i < WordsPerBlock; i++ {
		d.controller.WriteWord(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
	}

	d.invoke(Op{Kind: OpWrite, Block: block, Polls: polls})

	return nil
}

func (d *BlockingDisk) check(block uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidBuffer, len(buf))
	}

	if block >= d.numBlocks {
		return fmt.Errorf("%w: block %d of %d", ErrBlockOutOfRange,
			block, d.numBlocks)
	}

	return nil
}

// acquire waits until no other thread is using the controller.
func (d *BlockingDisk) acquire() {
	for d.busy {
		d.yield()
	}

	d.busy = true
}

func (d *BlockingDisk) release() {
	d.busy = false
}

func (d *BlockingDisk) waitUntilReady() int {
	polls := 0

	for !d.controller.IsReady() {
		polls++
		d.yield()
	}

	return polls
}

func (d *BlockingDisk) yield() {
	if d.yielder != nil {
		d.yielder.YieldDisk()
	}
}

func (d *BlockingDisk) invoke(op Op) {
	if d.NumHooks() == 0 {
		return
	}

	d.InvokeHook(sim.HookCtx{
		Domain: d,
		Pos:    HookPosDiskOp,
		Item:   op,
	})
}
