package mmu

type tlbEntry struct {
	page  uint32
	frame uint32
}

// tlb caches page to frame translations and evicts the oldest one when full.
type tlb struct {
	capacity   int
	entries    map[uint32]uint32
	order      []uint32
	generation uint64
}

func newTLB(capacity int) *tlb {
	return &tlb{
		capacity: capacity,
		entries:  make(map[uint32]uint32),
	}
}

func (t *tlb) lookup(page uint32) (uint32, bool) {
	f, ok := t.entries[page]
	return f, ok
}

func (t *tlb) insert(e tlbEntry) {
	if t.capacity == 0 {
		return
	}

	if _, ok := t.entries[e.page]; ok {
		t.entries[e.page] = e.frame
		return
	}

	if len(t.order) == t.capacity {
		delete(t.entries, t.order[0])
		t.order = t.order[1:]
	}

	t.entries[e.page] = e.frame
	t.order = append(t.order, e.page)
}

func (t *tlb) flush() {
	clear(t.entries)
	t.order = t.order[:0]
}

func (t *tlb) size() int {
	return len(t.entries)
}
