package alloc

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted indicates no object of the requested class was available.
	ErrExhausted = errors.New("alloc: objects exhausted")

	// ErrWaitTimeout indicates a blocking allocation gave up after its
	// starvation wait. It wraps ErrExhausted.
	ErrWaitTimeout = fmt.Errorf("%w: starvation wait timed out", ErrExhausted)

	// ErrBadCPU indicates a CPU index outside [0, NumCPU).
	ErrBadCPU = errors.New("alloc: cpu index out of range")

	// ErrCPUOffline indicates a CPU that has no per-CPU containers.
	ErrCPUOffline = errors.New("alloc: cpu offline")

	// ErrBadClass indicates an unknown object class.
	ErrBadClass = errors.New("alloc: unknown object class")

	// ErrBadType indicates a sub-type outside [0, NumSubTypes).
	ErrBadType = errors.New("alloc: unknown sub-type")

	// ErrBadConfig indicates an invalid pool configuration.
	ErrBadConfig = errors.New("alloc: invalid config")

	// ErrBadLength indicates a chain request for a non-positive length.
	ErrBadLength = errors.New("alloc: invalid chain length")

	// ErrNotMbuf indicates an object that must be an mbuf is not one.
	ErrNotMbuf = errors.New("alloc: object is not an mbuf")

	// ErrNotCluster indicates an object that must be a cluster is not one.
	ErrNotCluster = errors.New("alloc: object is not a cluster")

	// ErrHasExt indicates the mbuf already carries external storage, or the
	// cluster is already attached somewhere.
	ErrHasExt = errors.New("alloc: external storage already attached")

	// ErrNoExt indicates the mbuf carries no external storage.
	ErrNoExt = errors.New("alloc: no external storage attached")
)
