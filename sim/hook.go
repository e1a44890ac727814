// Package sim provides the pieces shared by all kernel components: names,
// hooks that report what a component does, and ID generators.
package sim

import (
	"log"
	"sync"
)

// HookPos names a point in a component where hooks are invoked.
type HookPos struct {
	Name string
}

// HookCtx describes one hook invocation. Item carries the event value that
// the position documents, such as a frame run or a page fault.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable is a named component that accepts hooks.
type Hookable interface {
	Named

	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// Hook is called by a hookable component at its hook positions.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a function to a Hook.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// HookableBase implements the hook list of a Hookable. Hooks may be added
// while other goroutines invoke them.
type HookableBase struct {
	lock     sync.RWMutex
	hookList []Hook
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return len(h.hookList)
}

// Hooks returns a copy of the registered hooks.
func (h *HookableBase) Hooks() []Hook {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return append([]Hook(nil), h.hookList...)
}

// AcceptHook registers a hook. A hook can only be registered once.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for _, registered := range h.hookList {
		if registered == hook {
			log.Panic("hook is already registered")
		}
	}

	h.hookList = append(h.hookList, hook)
}

// InvokeHook calls the hooks in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks() {
		hook.Func(ctx)
	}
}
