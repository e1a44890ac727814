package frame

import (
	"log"

	"github.com/sarchlab/kcore/memory"
	"github.com/sarchlab/kcore/sim"
)

// A Builder can build frame pools.
type Builder struct {
	storage   *memory.Storage
	registry  *Registry
	baseFrame uint32
	numFrames uint32
	infoFrame uint32
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithStorage sets the physical memory that holds the pool bitmap.
func (b Builder) WithStorage(s *memory.Storage) Builder {
	b.storage = s
	return b
}

// WithRegistry sets the registry that the pool joins.
func (b Builder) WithRegistry(r *Registry) Builder {
	b.registry = r
	return b
}

// WithBaseFrame sets the absolute number of the first frame of the pool.
func (b Builder) WithBaseFrame(frameNo uint32) Builder {
	b.baseFrame = frameNo
	return b
}

// WithNumFrames sets the number of frames that the pool manages.
func (b Builder) WithNumFrames(n uint32) Builder {
	b.numFrames = n
	return b
}

// WithInfoFrame sets the first frame that holds the bitmap. The frames must
// have been allocated elsewhere. With the default value 0, the bitmap is kept
// in the first frames of the pool itself.
func (b Builder) WithInfoFrame(frameNo uint32) Builder {
	b.infoFrame = frameNo
	return b
}

// Build creates a new pool with all frames free, except the ones that hold
// the bitmap.
func (b Builder) Build(name string) *Pool {
	b.mustBeValid()

	p := &Pool{
		baseFrame:  b.baseFrame,
		numFrames:  b.numFrames,
		infoFrame:  b.infoFrame,
		freeFrames: b.numFrames,
	}
	p.NamedBase = sim.MakeNamedBase(name)

	if p.infoFrame == 0 {
		p.infoFrame = b.baseFrame
	}

	p.states = bitmap{
		store: b.storage,
		addr:  uint64(p.infoFrame) * FrameSize,
		n:     b.numFrames,
	}
	p.states.clear()

	if b.infoFrame == 0 {
		p.MarkInaccessible(b.baseFrame, NeededInfoFrames(b.numFrames))
	}

	p.id = b.registry.add(p)

	return p
}

func (b Builder) mustBeValid() {
	if b.storage == nil {
		log.Panic("frame pool requires a storage")
	}

	if b.registry == nil {
		log.Panic("frame pool requires a registry")
	}

	if b.numFrames == 0 {
		log.Panic("frame pool must have at least one frame")
	}

	last := uint64(b.baseFrame) + uint64(b.numFrames)
	if last*FrameSize > b.storage.Capacity() {
		log.Panicf("frames [%d, %d) exceed the physical memory",
			b.baseFrame, last)
	}

	if b.infoFrame == 0 && NeededInfoFrames(b.numFrames) > b.numFrames {
		log.Panic("frame pool is too small to hold its own bitmap")
	}
}
