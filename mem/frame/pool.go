// Package frame provides the contiguous physical frame allocator.
package frame

import (
	"errors"
	"log"
	"log/slog"
	"sync"

	"github.com/sarchlab/kcore/sim"
)

var (
	// ErrPoolNotFound is returned when no pool owns the released frame.
	ErrPoolNotFound = errors.New("frame does not belong to any pool")

	// ErrNotHeadOfSequence is returned when the released frame is not the
	// first frame of an allocated run.
	ErrNotHeadOfSequence = errors.New("frame is not the head of a sequence")
)

// HookPosFramesAllocated marks a run of frames handed out by GetFrames.
var HookPosFramesAllocated = &sim.HookPos{Name: "Frames Allocated"}

// HookPosFramesReserved marks a run of frames marked inaccessible.
var HookPosFramesReserved = &sim.HookPos{Name: "Frames Reserved"}

// HookPosFramesReleased marks a run of frames returned to a pool.
var HookPosFramesReleased = &sim.HookPos{Name: "Frames Released"}

// FrameRun is a run of consecutive frames.
type FrameRun struct {
	First uint32
	Count uint32
}

// A Pool manages the frames [BaseFrame, BaseFrame+NumFrames). The state of
// each frame is kept in a packed bitmap stored in physical memory.
type Pool struct {
	sim.NamedBase
	sim.HookableBase

	lock sync.Mutex

	id         PoolID
	baseFrame  uint32
	numFrames  uint32
	infoFrame  uint32
	freeFrames uint32
	states     bitmap
}

// BaseFrame returns the absolute number of the first frame of the pool.
func (p *Pool) BaseFrame() uint32 {
	return p.baseFrame
}

// NumFrames returns the number of frames managed by the pool.
func (p *Pool) NumFrames() uint32 {
	return p.numFrames
}

// InfoFrame returns the first frame that holds the bitmap.
func (p *Pool) InfoFrame() uint32 {
	return p.infoFrame
}

// FreeFrames returns the number of free frames.
func (p *Pool) FreeFrames() uint32 {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.freeFrames
}

// Contains checks if the absolute frame number is owned by the pool.
func (p *Pool) Contains(frameNo uint32) bool {
	return frameNo >= p.baseFrame && frameNo-p.baseFrame < p.numFrames
}

// State returns the state of an absolute frame number.
func (p *Pool) State(frameNo uint32) State {
	if !p.Contains(frameNo) {
		log.Panicf("frame %d is not in pool %s", frameNo, p.Name())
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	return p.states.get(frameNo - p.baseFrame)
}

// States returns a snapshot of the state of every frame in the pool.
func (p *Pool) States() []State {
	p.lock.Lock()
	defer p.lock.Unlock()

	states := make([]State, p.numFrames)
	for i := range states {
		states[i] = p.states.get(uint32(i))
	}

	return states
}

// GetFrames allocates n consecutive frames, picking the lowest run that fits.
// It returns the absolute number of the first frame.
func (p *Pool) GetFrames(n uint32) uint32 {
	p.lock.Lock()

	if n == 0 {
		p.lock.Unlock()
		log.Panicf("pool %s: cannot allocate 0 frames", p.Name())
	}

	if n > p.freeFrames {
		p.lock.Unlock()
		log.Panicf("pool %s: requesting %d frames, only %d free",
			p.Name(), n, p.freeFrames)
	}

	start, found := p.findRun(n)
	if !found {
		p.lock.Unlock()
		log.Panicf("pool %s: no %d consecutive free frames", p.Name(), n)
	}

	p.markRun(start, n)
	p.lock.Unlock()

	run := FrameRun{First: p.baseFrame + start, Count: n}
	p.invoke(HookPosFramesAllocated, run)

	return run.First
}

func (p *Pool) findRun(n uint32) (uint32, bool) {
	length := uint32(0)

	for i := uint32(0); i < p.numFrames; i++ {
		if p.states.get(i) != Free {
			length = 0
			continue
		}

		length++
		if length == n {
			return i + 1 - n, true
		}
	}

	return 0, false
}

func (p *Pool) markRun(start, n uint32) {
	p.states.set(start, HeadOfSequence)
	for i := start + 1; i < start+n; i++ {
		p.states.set(i, Used)
	}

	p.freeFrames -= n
}

// MarkInaccessible marks the n frames starting at the absolute frame number
// base as allocated, so they are never handed out.
func (p *Pool) MarkInaccessible(base, n uint32) {
	if n == 0 {
		return
	}

	if !p.Contains(base) || !p.Contains(base+n-1) {
		log.Panicf("pool %s: frames [%d, %d) are out of range",
			p.Name(), base, base+n)
	}

	p.lock.Lock()

	start := base - p.baseFrame
	for i := start; i < start+n; i++ {
		if p.states.get(i) != Free {
			p.lock.Unlock()
			log.Panicf("pool %s: frame %d is already allocated",
				p.Name(), base+i-start)
		}
	}

	p.markRun(start, n)
	p.lock.Unlock()

	p.invoke(HookPosFramesReserved, FrameRun{First: base, Count: n})
}

func (p *Pool) release(frameNo uint32) error {
	p.lock.Lock()

	i := frameNo - p.baseFrame
	if p.states.get(i) != HeadOfSequence {
		p.lock.Unlock()
		slog.Warn("releasing a frame that is not the head of a sequence",
			"pool", p.Name(), "frame", frameNo)

		return ErrNotHeadOfSequence
	}

	p.states.set(i, Free)
	count := uint32(1)

	for j := i + 1; j < p.numFrames; j++ {
		if p.states.get(j) != Used {
			break
		}

		p.states.set(j, Free)
		count++
	}

	p.freeFrames += count
	p.lock.Unlock()

	p.invoke(HookPosFramesReleased, FrameRun{First: frameNo, Count: count})

	return nil
}

func (p *Pool) invoke(pos *sim.HookPos, run FrameRun) {
	if p.NumHooks() == 0 {
		return
	}

	p.InvokeHook(sim.HookCtx{
		Domain: p,
		Pos:    pos,
		Item:   run,
	})
}

// ID returns the index of the pool in its registry.
func (p *Pool) ID() PoolID {
	return p.id
}
