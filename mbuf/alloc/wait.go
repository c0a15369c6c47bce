package alloc

import (
	"sync"
	"sync/atomic"
	"time"
)

// waitQueue parks allocators starving on a global container. Every field
// except the atomic mirror is guarded by the container lock.
type waitQueue struct {
	// waiters counts allocators between deciding to wait and giving up or
	// succeeding; it includes woken waiters that have not re-taken the lock.
	waiters atomic.Int32

	// parked holds waiters not yet signaled, oldest first.
	parked []chan struct{}
}

// wait parks the caller for at most d. mu is held on entry and on return.
// It reports whether a signal, rather than the timeout, ended the wait.
func (q *waitQueue) wait(mu *sync.Mutex, d time.Duration) bool {
	ch := make(chan struct{}, 1)
	q.parked = append(q.parked, ch)
	mu.Unlock()

	t := time.NewTimer(d)
	signaled := false
	select {
	case <-ch:
		signaled = true
	case <-t.C:
	}
	t.Stop()

	mu.Lock()
	if !signaled && !q.remove(ch) {
		// Signaled while the timer fired; the signal was consumed.
		signaled = true
	}
	return signaled
}

// signalOne wakes the oldest parked waiter, if any, and reports whether it
// woke one.
func (q *waitQueue) signalOne() bool {
	if len(q.parked) == 0 {
		return false
	}
	ch := q.parked[0]
	q.parked[0] = nil
	q.parked = q.parked[1:]
	ch <- struct{}{}
	return true
}

func (q *waitQueue) remove(ch chan struct{}) bool {
	for i, p := range q.parked {
		if p == ch {
			q.parked = append(q.parked[:i], q.parked[i+1:]...)
			return true
		}
	}
	return false
}

// numParked returns the number of parked waiters. mu must be held.
func (q *waitQueue) numParked() int { return len(q.parked) }
