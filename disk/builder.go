package disk

import (
	"log"

	"github.com/sarchlab/kcore/sim"
)

// A Builder can build blocking disks.
type Builder struct {
	controller Controller
	yielder    Yielder
	numBlocks  uint32
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithController sets the controller that the disk talks to.
func (b Builder) WithController(c Controller) Builder {
	b.controller = c
	return b
}

// WithYielder sets where threads wait while the controller is busy. Without
// a yielder, the disk spins on the status port.
func (b Builder) WithYielder(y Yielder) Builder {
	b.yielder = y
	return b
}

// WithNumBlocks sets the number of blocks of the disk.
func (b Builder) WithNumBlocks(n uint32) Builder {
	b.numBlocks = n
	return b
}

// Build creates a new blocking disk.
func (b Builder) Build(name string) *BlockingDisk {
	if b.controller == nil {
		log.Panic("blocking disk requires a controller")
	}

	d := &BlockingDisk{
		controller: b.controller,
		yielder:    b.yielder,
		numBlocks:  b.numBlocks,
	}
	d.NamedBase = sim.MakeNamedBase(name)

	return d
}
