package locking

import (
	"context"
	"fmt"
	"time"
)

// Mutex is a channel-based mutex supporting context- and timeout-bounded
// acquisition. It is not re-entrant: holders pass their guard down instead
// of re-acquiring.
type Mutex struct {
	ch chan struct{}
}

// NewMutex creates an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() {
	m.ch <- struct{}{}
}

// Unlock releases the mutex. Unlocking an unheld mutex panics.
func (m *Mutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("locking: unlock of unlocked mutex")
	}
}

// TryLock acquires the mutex without blocking.
func (m *Mutex) TryLock() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// LockTimeout acquires the mutex, giving up when the timeout elapses or the
// context is done. A zero timeout waits until ctx is done.
// Timeout expiry returns ErrUnallowedColumnOperation.
func (m *Mutex) LockTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case m.ch <- struct{}{}:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("lock wait: %w", ctx.Err())
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrUnallowedColumnOperation
	case <-ctx.Done():
		return fmt.Errorf("lock wait: %w", ctx.Err())
	}
}
