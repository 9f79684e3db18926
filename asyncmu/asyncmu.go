// Package asyncmu provides the two suspending mutual-exclusion primitives
// the peer engine uses to keep piece-completion bookkeeping race-free
// against other goroutines without blocking the whole engine runner on a
// plain sync.Mutex.
package asyncmu

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Exclusive is a single-slot, FIFO-by-arrival async mutex. Unlike
// sync.Mutex, Enter returns a scoped release and composes naturally with
// defer at every exit path, which is what the piece-completion pipeline
// needs when it can bail out early on cancellation (spec §4.1, §4.4).
//
// Entrants are serialized by chaining completion signals: current always
// holds the signal the most recent entrant will close on release. A new
// entrant swaps in a fresh signal of its own and waits on whatever it
// displaced, so arrival order is preserved without a separate wait queue.
type Exclusive struct {
	mu      sync.Mutex
	current chan struct{}
	pool    sync.Pool
}

// Release ends the holder's turn in the critical section. It is idempotent
// in the sense that every acquisition must be released exactly once; the
// scope-exit guarantee is the caller's via defer.
type Release func()

func (e *Exclusive) newSignal() chan struct{} {
	if v := e.pool.Get(); v != nil {
		return v.(chan struct{})
	}
	return make(chan struct{})
}

// Enter blocks until the caller holds the critical section, or ctx is
// canceled first. On success it returns a Release that must be called
// exactly once to hand the section to the next entrant.
func (e *Exclusive) Enter(ctx context.Context) (Release, error) {
	e.mu.Lock()
	prior := e.current
	mine := e.newSignal()
	e.current = mine
	e.mu.Unlock()

	if prior != nil {
		select {
		case <-prior:
		case <-ctx.Done():
			// A later entrant may already be waiting on mine, so pass the
			// turn along once the prior holder releases.
			go func() {
				<-prior
				close(mine)
			}()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(mine)
			e.pool.Put(make(chan struct{}))
		})
	}
	return release, nil
}

// Semaphore wraps a counting permit pool: up to n callers may hold a
// permit concurrently. It is the bounded-parallelism counterpart to
// Exclusive, used where siblings may run concurrently up to a limit rather
// than strictly one at a time (spec §4.1's enter_async).
type Semaphore struct {
	w *semaphore.Weighted
}

// NewSemaphore constructs a Semaphore with n permits. n must be positive.
func NewSemaphore(n int64) *Semaphore {
	return &Semaphore{w: semaphore.NewWeighted(n)}
}

// Enter blocks until a permit is available or ctx is canceled.
func (s *Semaphore) Enter(ctx context.Context) (Release, error) {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.w.Release(1)
		})
	}
	return release, nil
}
