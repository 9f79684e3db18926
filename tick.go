package torrent

import (
	"container/heap"
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/driftpeer/torrent/wire"
)

const (
	keepAliveInterval    = 90 * time.Second
	idleDisconnect       = 180 * time.Second
	blockStallDisconnect = 15 * time.Second
	inactiveSweepPeriod  = 5 * time.Second
	pexTickInterval      = time.Minute
)

// Tick runs one cadence of the engine's pre-logic -> mode-logic ->
// post-logic cycle (spec §4.5). counter increments once per call; it is
// the caller's job to invoke Tick on a fixed cadence (Settings.TickInterval).
func (t *Torrent) Tick(ctx context.Context, counter int64) {
	t.preLogic(ctx, counter)
	t.modeLogic(ctx)
	t.postLogic(ctx)
}

func (t *Torrent) preLogic(ctx context.Context, counter int64) {
	t.tryHashPendingFiles(ctx)

	if t.Lpd != nil {
		t.Lpd.Announce(ctx)
	}
	if t.Dht != nil {
		t.Dht.Announce(ctx)
	}

	ticksPerSecond := int64(t.Settings.TicksPerSecond)
	if ticksPerSecond <= 0 {
		ticksPerSecond = 1
	}
	if counter%ticksPerSecond == 0 {
		if t.Settings.DownloadRateLimiter != nil {
			t.Settings.DownloadRateLimiter.SetLimit(t.Settings.DownloadRateLimiter.Limit())
		}
		t.logRateSample()
	}

	if finished := t.drainFinishedPieces(); len(finished) > 0 {
		t.broadcastHave(finished)
	}

	for _, ps := range t.Peers() {
		if ps.pex != nil {
			// The tick loop does not drive PEX: no PEX message is built
			// or sent for this peer here, and pexTickInterval is unused.
			_ = pexTickInterval
		}
		ps.PendingMaxRequests = clampPendingRequests(
			t.Settings.RequestsMin,
			t.Settings.RequestsBase,
			t.Settings.RequestsBonusPerKB,
			ps.PeerMaxRequests,
		)
	}
}

// logRateSample emits a once-per-second human-readable rate line, the way
// an operator watching logs expects ("1.2 MB/s") rather than a raw
// bytes-per-second integer.
func (t *Torrent) logRateSample() {
	var down, up string
	if t.Settings.DownloadRateLimiter != nil {
		down = humanize.Bytes(uint64(max(0, t.Settings.DownloadRateLimiter.Limit())))
	}
	if t.Settings.UploadRateLimiter != nil {
		up = humanize.Bytes(uint64(max(0, t.Settings.UploadRateLimiter.Limit())))
	}
	if down == "" && up == "" {
		return
	}
	t.Logger.Printf("torrent %x: rate down=%s/s up=%s/s", t.InfoHash, down, up)
}

// clampPendingRequests computes max_pending_requests as base clamped to
// at least min and, when peerMax > 0, at most peerMax (min wins if
// peerMax < min). bonusPerKB is unused: no download-rate bonus is added.
func clampPendingRequests(min, base int, bonusPerKB int64, peerMax int) int {
	v := base
	if v < min {
		v = min
	}
	if peerMax > 0 && v > peerMax {
		v = peerMax
	}
	if v < min {
		v = min
	}
	return v
}

func (t *Torrent) modeLogic(ctx context.Context) {
	mode := t.CurrentMode()
	if mode == nil {
		return
	}
	if mode.OnWebSeedCheck != nil {
		mode.OnWebSeedCheck(t)
	}
	if mode.State == StateDownloading && mode.OnInactivePeerSweep != nil {
		mode.OnInactivePeerSweep(t)
	}
	if mode.OnUnchokeReview != nil {
		mode.OnUnchokeReview(t)
	} else if t.Unchoke != nil {
		t.Unchoke.UnchokeReview()
	}
}

func (t *Torrent) postLogic(ctx context.Context) {
	now := time.Now()
	for _, ps := range t.Peers() {
		if t.Conns != nil {
			t.Conns.TryProcessQueue(t, ps)
		}

		if now.Sub(ps.lastMessageSent) > keepAliveInterval {
			ps.enqueue(wire.NewKeepAlive(), nil)
		}
		if now.Sub(ps.lastMessageReceived) > idleDisconnect {
			if t.Conns != nil {
				t.Conns.CleanupSocket(t, ps)
			}
			continue
		}
		if now.Sub(ps.lastBlockReceived) > blockStallDisconnect && ps.outstandingRequestCount() > 0 {
			if t.Conns != nil {
				t.Conns.CleanupSocket(t, ps)
			}
			continue
		}
	}

	if t.Pieces != nil {
		t.Pieces.AddPieceRequests(t.Peers()...)
	}

	mode := t.CurrentMode()
	if mode != nil && (mode.State == StateDownloading || mode.State == StateSeeding) && t.Tracker != nil {
		go t.Tracker.AnnounceAsync(ctx, TrackerEventNone)
	}
}

// inactivePeerSweep evicts the least valuable connections once the
// torrent is over its configured connection cap, using the worseConn
// eviction ordering (spec §4.5's downloading-mode sweep, grounded in
// worse-conns.go's comparator).
func inactivePeerSweep(t *Torrent) {
	if t.Conns == nil {
		return
	}
	limit := t.Settings.MaximumConnections
	if limit <= 0 {
		return
	}
	over := t.PeerCount() - limit
	if over <= 0 {
		return
	}
	slice := &worseConnSlice{conns: t.Peers()}
	slice.initKeys()
	heap.Init(slice)
	for i := 0; i < over && slice.Len() > 0; i++ {
		worst := heap.Pop(slice).(*PeerSession)
		t.Conns.CleanupSocket(t, worst)
	}
}

// broadcastHave announces newly finished pieces to every connected peer,
// suppressing indices the peer already claims to have when have
// suppression is enabled, and skipping peers left with nothing to say
// (spec §4.5 "Have broadcast").
func (t *Torrent) broadcastHave(finished []int) {
	for _, ps := range t.Peers() {
		var bundle []int
		for _, idx := range finished {
			if t.Settings.AllowHaveSuppression && ps.claimed.Contains(uint32(idx)) {
				continue
			}
			bundle = append(bundle, idx)
		}
		if len(bundle) == 0 {
			continue
		}
		for _, idx := range bundle {
			ps.sentHaves.Add(uint32(idx))
			ps.enqueue(wire.NewHave(wire.Integer(idx)), nil)
			t.mu.Lock()
			t.haveMessageEstimatedDownloadedBytes += t.PieceLength
			t.mu.Unlock()
		}
	}
	for _, ps := range t.Peers() {
		recomputeInterest(t, ps)
	}
}
