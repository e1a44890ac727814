// Package tracing collects the events that kernel components report through
// hooks.
package tracing

import (
	"sync"

	"github.com/sarchlab/kcore/sim"
)

// Attach registers a hook with every domain.
func Attach(hook sim.Hook, domains ...sim.Hookable) {
	for _, d := range domains {
		d.AcceptHook(hook)
	}
}

// CountTracer counts the events of each hook position.
type CountTracer struct {
	lock   sync.Mutex
	names  []string
	counts map[string]uint64
}

// NewCountTracer creates a new CountTracer.
func NewCountTracer() *CountTracer {
	return &CountTracer{
		counts: make(map[string]uint64),
	}
}

// Func counts the event.
func (t *CountTracer) Func(ctx sim.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	name := ctx.Pos.Name
	if _, ok := t.counts[name]; !ok {
		t.names = append(t.names, name)
	}

	t.counts[name]++
}

// Names returns the hook positions seen, in order of first appearance.
func (t *CountTracer) Names() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.names...)
}

// Count returns the number of events seen at a hook position.
func (t *CountTracer) Count(pos *sim.HookPos) uint64 {
	return t.CountByName(pos.Name)
}

// CountByName returns the number of events seen at the hook position with
// the given name.
func (t *CountTracer) CountByName(name string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[name]
}
