package scheduler

import "sync/atomic"

// Semaphore caps concurrent fires. A nil *Semaphore never limits.
type Semaphore struct {
	slots   chan struct{}
	refused atomic.Int64
}

// NewSemaphore creates a semaphore with n slots; n <= 0 means one slot.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{slots: make(chan struct{}, n)}
}

// TryAcquire takes a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	if s == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		s.refused.Add(1)
		return false
	}
}

// Release returns a slot taken by TryAcquire.
func (s *Semaphore) Release() {
	if s == nil {
		return
	}
	<-s.slots
}

// InUse returns how many slots are taken.
func (s *Semaphore) InUse() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}

// Cap returns the number of slots.
func (s *Semaphore) Cap() int {
	if s == nil {
		return 0
	}
	return cap(s.slots)
}

// Refused returns how many acquisitions failed for lack of a slot.
func (s *Semaphore) Refused() int64 {
	if s == nil {
		return 0
	}
	return s.refused.Load()
}
