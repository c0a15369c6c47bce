// Package drain keeps the callbacks protocols register to give memory back
// when an allocator is starving. Callbacks take no arguments, may do nothing,
// and run only from the allocator's blocking path.
package drain

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Func is a drain callback.
type Func func()

type entry struct {
	id   uint64
	name string
	fn   Func
}

// Registry is an ordered set of drain callbacks. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	nextID  uint64
	log     *slog.Logger
	fatal   func(any) bool
}

// New creates an empty registry. A nil logger discards panic reports.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{log: log}
}

// SetFatal makes Run re-panic with any recovered value fatal reports true
// for, instead of logging it. It must be called before Run.
func (r *Registry) SetFatal(fatal func(any) bool) {
	r.mu.Lock()
	r.fatal = fatal
	r.mu.Unlock()
}

// Register adds fn under name and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (r *Registry) Register(name string, fn Func) (unregister func()) {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, entry{id: id, name: name, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Run invokes every callback in registration order and returns how many
// completed without panicking. Panics are logged and contained unless the
// fatal check set by SetFatal claims them. The registry lock is not held while callbacks
// run, so a callback may register or unregister others.
func (r *Registry) Run() int {
	r.mu.RLock()
	snapshot := make([]entry, len(r.entries))
	copy(snapshot, r.entries)
	fatal := r.fatal
	r.mu.RUnlock()

	ok := 0
	for _, e := range snapshot {
		if r.call(e, fatal) {
			ok++
		}
	}
	return ok
}

func (r *Registry) call(e entry, fatal func(any) bool) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			if fatal != nil && fatal(rec) {
				panic(rec)
			}
			r.log.Error("drain callback panicked", "name", e.name, "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	e.fn()
	return true
}
