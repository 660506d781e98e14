package scenario

import (
	"context"
	"sync"
	"time"
)

// Barrier is a process-wide spawn-completion gate. The hosting engine
// signals it once after all target actors have started; every
// scheduler reads it through SpawnGate. It is monotonic: Signal is
// idempotent and waits after signalling return immediately.
type Barrier struct {
	once sync.Once
	ch   chan struct{}
}

// NewBarrier creates an unsignalled barrier.
func NewBarrier() *Barrier {
	return &Barrier{ch: make(chan struct{})}
}

// Signal marks spawning as complete. Safe to call more than once.
func (b *Barrier) Signal() {
	b.once.Do(func() { close(b.ch) })
}

// Done reports whether the barrier has been signalled.
func (b *Barrier) Done() bool {
	select {
	case <-b.ch:
		return true
	default:
		return false
	}
}

// Wait implements SpawnGate. A negative timeout waits indefinitely.
// Once the barrier is signalled, Wait returns true regardless of the
// timeout: a fired timer must not shadow the closed channel.
func (b *Barrier) Wait(ctx context.Context, timeout time.Duration) bool {
	select {
	case <-b.ch:
		return true
	default:
	}
	if timeout < 0 {
		select {
		case <-b.ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-b.ch:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}
