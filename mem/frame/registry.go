package frame

import (
	"log/slog"
	"sync"
)

// PoolID is the index of a pool in its registry.
type PoolID int

const noPool PoolID = -1

type poolRecord struct {
	pool *Pool
	prev PoolID
	next PoolID
}

// A Registry keeps track of all the frame pools of the machine, so that a
// frame can be released without knowing which pool it came from.
type Registry struct {
	lock    sync.Mutex
	records []poolRecord
	head    PoolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{head: noPool}
}

func (r *Registry) add(p *Pool) PoolID {
	r.lock.Lock()
	defer r.lock.Unlock()

	id := PoolID(len(r.records))
	r.records = append(r.records, poolRecord{
		pool: p,
		prev: noPool,
		next: r.head,
	})

	if r.head != noPool {
		r.records[r.head].prev = id
	}

	r.head = id

	return id
}

// Pools returns the registered pools, most recently created first.
func (r *Registry) Pools() []*Pool {
	r.lock.Lock()
	defer r.lock.Unlock()

	pools := make([]*Pool, 0, len(r.records))
	for id := r.head; id != noPool; id = r.records[id].next {
		pools = append(pools, r.records[id].pool)
	}

	return pools
}

// Pool returns the pool with the given ID.
func (r *Registry) Pool(id PoolID) *Pool {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.records[id].pool
}

// Find returns the pool that owns the frame.
func (r *Registry) Find(frameNo uint32) (*Pool, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for id := r.head; id != noPool; id = r.records[id].next {
		p := r.records[id].pool
		if p.Contains(frameNo) {
			return p, true
		}
	}

	return nil, false
}

// Release frees the run of frames that starts at frameNo in whichever pool
// owns it.
func (r *Registry) Release(frameNo uint32) error {
	p, found := r.Find(frameNo)
	if !found {
		slog.Warn("releasing a frame outside of all pools", "frame", frameNo)
		return ErrPoolNotFound
	}

	return p.release(frameNo)
}
