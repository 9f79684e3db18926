package torrent

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampPendingRequestsBoundaries(t *testing.T) {
	assert.Equal(t, 4, clampPendingRequests(2, 4, 5, 0))     // no peer cap: floor to base
	assert.Equal(t, 3, clampPendingRequests(2, 4, 5, 3))     // peer cap below base wins
	assert.Equal(t, 2, clampPendingRequests(2, 1, 5, 0))     // base below min floors to min
	assert.Equal(t, 2, clampPendingRequests(2, 4, 5, 1))     // peer cap below min still floors to min
}

func TestPostLogicIdleDisconnect(t *testing.T) {
	tr, _, _, conns := newTestTorrent(t, 1, defaultChunkSize)
	ps := testPeer(1)
	ps.lastMessageReceived = time.Now().Add(-idleDisconnect - time.Second)
	tr.AddPeer(ps)

	tr.postLogic(context.Background())

	assert.True(t, conns.wasCleaned(ps))
}

func TestPostLogicKeepAliveEnqueued(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 1, defaultChunkSize)
	ps := testPeer(1)
	ps.lastMessageSent = time.Now().Add(-keepAliveInterval - time.Second)
	ps.lastMessageReceived = time.Now()
	tr.AddPeer(ps)

	tr.postLogic(context.Background())

	sent, err := ps.drainSendQueue(new(bytes.Buffer))
	assert.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestPostLogicBlockStallDisconnect(t *testing.T) {
	tr, _, _, conns := newTestTorrent(t, 1, defaultChunkSize)
	ps := testPeer(1)
	ps.lastMessageReceived = time.Now()
	ps.lastBlockReceived = time.Now().Add(-blockStallDisconnect - time.Second)
	ps.requests[RequestIndex(0)] = outstandingRequest{requested: time.Now()}
	tr.AddPeer(ps)

	tr.postLogic(context.Background())

	assert.True(t, conns.wasCleaned(ps))
}

func TestModeLogicFallsBackToUnchokerWhenModeHasNoOverride(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 1, defaultChunkSize)
	uc := &fakeUnchoker{}
	tr.Unchoke = uc

	tr.modeLogic(context.Background())

	assert.Equal(t, 1, uc.reviews)
}

func TestModeLogicPrefersModeOverrideOverUnchoker(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 1, defaultChunkSize)
	uc := &fakeUnchoker{}
	tr.Unchoke = uc

	overrideCalls := 0
	mode := NewMode(context.Background(), StateDownloading)
	mode.OnUnchokeReview = func(*Torrent) { overrideCalls++ }
	tr.SetMode(mode)

	tr.modeLogic(context.Background())

	assert.Equal(t, 1, overrideCalls)
	assert.Equal(t, 0, uc.reviews)
}

func TestModeLogicRunsInactivePeerSweepWhenDownloading(t *testing.T) {
	tr, _, _, conns := newTestTorrent(t, 1, defaultChunkSize)
	tr.Settings.MaximumConnections = 1
	tr.AddPeer(testPeer(1))
	worst := testPeer(2)
	tr.AddPeer(worst)

	tr.modeLogic(context.Background())

	assert.Equal(t, 1, len(conns.cleaned), "over-cap sweep evicts exactly the excess")
}

func TestModeLogicInactivePeerSweepThrottledWithinPeriod(t *testing.T) {
	tr, _, _, conns := newTestTorrent(t, 1, defaultChunkSize)
	tr.Settings.MaximumConnections = 1
	tr.AddPeer(testPeer(1))
	tr.AddPeer(testPeer(2))

	tr.modeLogic(context.Background())
	require.Len(t, conns.cleaned, 1)

	// A second peer joins immediately after; the sweep must not run again
	// inside inactiveSweepPeriod even though we're still over cap.
	tr.AddPeer(testPeer(3))
	tr.modeLogic(context.Background())
	assert.Len(t, conns.cleaned, 1, "sweep is throttled to at most once per inactiveSweepPeriod")
}

func TestModeLogicSkipsInactivePeerSweepWhenNotDownloading(t *testing.T) {
	tr, _, _, conns := newTestTorrent(t, 1, defaultChunkSize)
	tr.Settings.MaximumConnections = 1
	tr.SetMode(NewMode(context.Background(), StateSeeding))
	tr.AddPeer(testPeer(1))
	tr.AddPeer(testPeer(2))

	tr.modeLogic(context.Background())

	assert.Empty(t, conns.cleaned)
}

func TestBroadcastHaveSuppressesClaimedPieces(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 2, defaultChunkSize)
	tr.Settings.AllowHaveSuppression = true

	knowsPiece0 := testPeer(1)
	knowsPiece0.claimed.Add(0)
	knowsNothing := testPeer(2)

	tr.AddPeer(knowsPiece0)
	tr.AddPeer(knowsNothing)

	tr.broadcastHave([]int{0})

	sent0, _ := knowsPiece0.drainSendQueue(new(bytes.Buffer))
	sent1, _ := knowsNothing.drainSendQueue(new(bytes.Buffer))

	assert.Equal(t, 0, sent0, "peer that already claims the piece gets no Have")
	assert.Equal(t, 1, sent1, "peer without the piece gets exactly one Have")
}
