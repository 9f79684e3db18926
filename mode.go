package torrent

import (
	"context"
	"sync"
	"time"
)

// ModeState is the lifecycle state a Mode reflects (spec §4.7).
type ModeState int

const (
	StateStopped ModeState = iota
	StateHashing
	StateStarting
	StateDownloading
	StateSeeding
	StateError
)

func (s ModeState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateHashing:
		return "Hashing"
	case StateStarting:
		return "Starting"
	case StateDownloading:
		return "Downloading"
	case StateSeeding:
		return "Seeding"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Mode is the capability record (Design Notes §9) a torrent's current
// lifecycle policy substitutes: a struct of function references the
// dispatcher and tick loop call through, rather than a virtual-method
// override hierarchy. Exactly one Mode is live per torrent. Tick hooks left
// nil are skipped, except OnUnchokeReview: when it is nil the tick loop
// calls the torrent's Unchoker instead.
type Mode struct {
	State ModeState

	CanAcceptConnections bool
	CanHandleMessages    bool
	CanHashCheck         bool

	// OnUnchokeReview, OnInactivePeerSweep and OnWebSeedCheck let a Mode
	// override the mode-logic phase of the tick loop (spec §4.5) without
	// the tick loop needing to branch on State directly for every policy.
	OnUnchokeReview     func(t *Torrent)
	OnInactivePeerSweep func(t *Torrent)
	OnWebSeedCheck      func(t *Torrent)

	// writeProgress tracks in-flight piece writes: index -> counter of
	// blocks written so far plus the contributing-peer memo (spec §4.4).
	writeProgressMu sync.Mutex
	writeProgress   map[int]*pieceWriteProgress

	cancel context.CancelFunc
	ctx    context.Context

	hashingPendingFiles sync.Mutex // acts as the hashing_pending_files latch when locked via TryLock

	// lastInactiveSweep throttles OnInactivePeerSweep's default
	// StateDownloading wiring to at most once per inactiveSweepPeriod
	// (spec §4.5). Only ever touched from the single tick-loop goroutine.
	lastInactiveSweep time.Time
}

type pieceWriteProgress struct {
	blocksWritten int
	contributing  []*PeerSession
}

// NewMode constructs a Mode in the given state with a fresh cancellation
// scope derived from parent. StateDownloading gets its unconditional
// mode-logic wiring here — inactive-peer sweeps at most every
// inactiveSweepPeriod (spec §4.5) — rather than leaving it to every call
// site to remember; a caller that wants different sweep policy can still
// overwrite OnInactivePeerSweep afterward, the same way tests override
// OnUnchokeReview.
func NewMode(parent context.Context, state ModeState) *Mode {
	ctx, cancel := context.WithCancel(parent)
	m := &Mode{
		State:         state,
		writeProgress: make(map[int]*pieceWriteProgress),
		ctx:           ctx,
		cancel:        cancel,
	}
	if state == StateDownloading {
		m.OnInactivePeerSweep = func(t *Torrent) {
			if !m.throttleSweep(inactiveSweepPeriod) {
				return
			}
			inactivePeerSweep(t)
		}
	}
	return m
}

// throttleSweep reports whether at least period has elapsed since the last
// call that returned true, updating the timestamp when it has.
func (m *Mode) throttleSweep(period time.Duration) bool {
	now := time.Now()
	if now.Sub(m.lastInactiveSweep) < period {
		return false
	}
	m.lastInactiveSweep = now
	return true
}

// Canceled reports whether this Mode has been replaced. Every awaited
// resumption in the piece-write pipeline and the pending-file hash pass
// must check this before mutating shared state (spec §4.7, §5).
func (m *Mode) Canceled() bool {
	select {
	case <-m.ctx.Done():
		return true
	default:
		return false
	}
}

func (m *Mode) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Context returns this Mode's cancellation scope, for callers that need to
// abandon a suspend point (e.g. an asyncmu.Exclusive.Enter) the moment the
// Mode is replaced.
func (m *Mode) Context() context.Context {
	return m.ctx
}

// Dispose cancels this Mode. It is idempotent.
func (m *Mode) Dispose() {
	m.cancel()
}

func (m *Mode) progressFor(piece int) *pieceWriteProgress {
	m.writeProgressMu.Lock()
	defer m.writeProgressMu.Unlock()
	p, ok := m.writeProgress[piece]
	if !ok {
		p = &pieceWriteProgress{}
		m.writeProgress[piece] = p
	}
	return p
}

func (m *Mode) clearProgress(piece int) {
	m.writeProgressMu.Lock()
	delete(m.writeProgress, piece)
	m.writeProgressMu.Unlock()
}

// SetMode atomically replaces t's active Mode with next, disposing the
// prior Mode's cancellation so any fire-and-forget task it spawned aborts
// on its next cancellation check (spec §4.7).
func (t *Torrent) SetMode(next *Mode) {
	t.mu.Lock()
	prior := t.mode
	t.mode = next
	t.mu.Unlock()
	if prior != nil {
		prior.Dispose()
	}
}

func (t *Torrent) CurrentMode() *Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}
