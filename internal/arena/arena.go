// Package arena provides page sources: fixed-size reservations of raw memory
// that hand out page-aligned regions on demand and never take them back.
//
// An Arena reserves its whole map up front (anonymous mmap on unix,
// VirtualAlloc on windows, a heap slice elsewhere) and carves it with a bump
// pointer. Once a request cannot be satisfied the arena stays full: every
// later Carve fails fast with ErrExhausted.
package arena

import (
	"errors"
	"fmt"
	"sync"

	"github.com/joshuapare/mbpool/internal/buf"
	"github.com/joshuapare/mbpool/internal/format"
)

// ErrExhausted indicates the arena has no room for the requested region.
var ErrExhausted = errors.New("arena: map exhausted")

// Arena is a monotonic page source. It is safe for concurrent use.
type Arena struct {
	mu   sync.Mutex
	mem  []byte
	next int  // offset of the next uncarved page
	full bool // sticky once a request was refused

	release func() error
}

// New reserves size bytes (rounded up to whole pages) using the platform's
// anonymous mapping facility.
func New(size int) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("arena: invalid size %d", size)
	}
	size = format.AlignPage(size)
	mem, release, err := mapAnon(size)
	if err != nil {
		return nil, fmt.Errorf("arena: reserve %d bytes: %w", size, err)
	}
	return &Arena{mem: mem, release: release}, nil
}

// NewHeap reserves size bytes (rounded up to whole pages) on the Go heap.
func NewHeap(size int) *Arena {
	if size < 0 {
		size = 0
	}
	return &Arena{
		mem:     make([]byte, format.AlignPage(size)),
		release: func() error { return nil },
	}
}

// Carve returns the offset of a fresh page-aligned region of at least n bytes.
func (a *Arena) Carve(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("arena: invalid region size %d", n)
	}
	n = format.AlignPage(n)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.full {
		return 0, ErrExhausted
	}
	end, ok := buf.AddOverflowSafe(a.next, n)
	if !ok || end > len(a.mem) {
		a.full = true
		return 0, ErrExhausted
	}
	off := a.next
	a.next = end
	return off, nil
}

// Bytes returns the whole reservation. Offsets returned by Carve index into it.
func (a *Arena) Bytes() []byte { return a.mem }

// Size returns the reservation size in bytes.
func (a *Arena) Size() int { return len(a.mem) }

// Used returns the number of bytes carved so far.
func (a *Arena) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// Full reports whether the arena has refused a request.
func (a *Arena) Full() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.full
}

// Close releases the reservation. Every region carved from it becomes invalid.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.release == nil {
		return nil
	}
	err := a.release()
	a.release = nil
	a.mem = nil
	a.full = true
	return err
}
