package frame

import "log"

// FrameSize is the size of a physical frame in bytes.
const FrameSize = 4096

// State is the allocation state of a single frame.
type State uint8

// The frame states. The values are the 2-bit codes kept in the bitmap.
const (
	Free           State = 0b00
	Used           State = 0b01
	HeadOfSequence State = 0b10
	invalidState   State = 0b11
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Used:
		return "used"
	case HeadOfSequence:
		return "head"
	default:
		return "invalid"
	}
}

const statesPerByte = 4

// NeededInfoFrames returns the number of frames required to keep the states
// of n frames.
func NeededInfoFrames(n uint32) uint32 {
	bytes := (n + statesPerByte - 1) / statesPerByte
	return (bytes + FrameSize - 1) / FrameSize
}

// bitmap is the packed state array of a pool. It lives in simulated physical
// memory starting at addr.
type bitmap struct {
	store storage
	addr  uint64
	n     uint32
}

type storage interface {
	Read(address uint64, length uint64) ([]byte, error)
	Write(address uint64, data []byte) error
	Zero(address uint64, length uint64) error
}

func (b bitmap) byteAddr(i uint32) uint64 {
	return b.addr + uint64(i/statesPerByte)
}

func (b bitmap) shift(i uint32) uint {
	return uint(i%statesPerByte) * 2
}

func (b bitmap) get(i uint32) State {
	data, err := b.store.Read(b.byteAddr(i), 1)
	if err != nil {
		log.Panicf("cannot read frame bitmap: %v", err)
	}

	s := State((data[0] >> b.shift(i)) & 0b11)
	if s == invalidState {
		log.Panicf("corrupted frame bitmap at index %d", i)
	}

	return s
}

func (b bitmap) set(i uint32, s State) {
	addr := b.byteAddr(i)

	data, err := b.store.Read(addr, 1)
	if err != nil {
		log.Panicf("cannot read frame bitmap: %v", err)
	}

	v := data[0]
	v &^= 0b11 << b.shift(i)
	v |= byte(s) << b.shift(i)

	err = b.store.Write(addr, []byte{v})
	if err != nil {
		log.Panicf("cannot write frame bitmap: %v", err)
	}
}

func (b bitmap) clear() {
	bytes := uint64((b.n + statesPerByte - 1) / statesPerByte)

	err := b.store.Zero(b.addr, bytes)
	if err != nil {
		log.Panicf("cannot clear frame bitmap: %v", err)
	}
}
