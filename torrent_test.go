package torrent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driftpeer/torrent/wire"
)

func TestBitfieldMessageDegenerateCases(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 4, defaultChunkSize)

	none := tr.bitfieldMessage(true)
	assert.Equal(t, wire.HaveNone, none.Type)

	tr.MarkOwned(0)
	tr.MarkOwned(1)
	tr.MarkOwned(2)
	tr.MarkOwned(3)
	all := tr.bitfieldMessage(true)
	assert.Equal(t, wire.HaveAll, all.Type)

	// Without fast-peer support the degenerate forms never apply.
	explicit := tr.bitfieldMessage(false)
	assert.Equal(t, wire.Bitfield, explicit.Type)
}

func TestBitfieldMessagePartialIsExplicit(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 4, defaultChunkSize)
	tr.MarkOwned(1)

	msg := tr.bitfieldMessage(true)
	assert.Equal(t, wire.Bitfield, msg.Type)
	assert.Equal(t, []bool{false, true, false, false}, msg.Bitfield)
}

func TestTrackRequestSentAndSettleRequest(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 4, defaultChunkSize)
	block := BlockInfo{PieceIndex: 0, Offset: 0, Length: defaultChunkSize}

	assert.Equal(t, 0, tr.PendingRequestCount(block))

	tr.TrackRequestSent(block)
	tr.TrackRequestSent(block)
	assert.Equal(t, 2, tr.PendingRequestCount(block))

	tr.settleRequest(block)
	assert.Equal(t, 1, tr.PendingRequestCount(block))

	tr.settleRequest(block)
	assert.Equal(t, 0, tr.PendingRequestCount(block))

	// Settling an already-settled block must not underflow.
	tr.settleRequest(block)
	assert.Equal(t, 0, tr.PendingRequestCount(block))
}

func TestPeersSnapshotSurvivesConcurrentMutation(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 1, defaultChunkSize)
	a, b := testPeer(1), testPeer(2)
	tr.AddPeer(a)
	tr.AddPeer(b)

	snapshot := tr.Peers()
	tr.RemovePeer(a)

	assert.Len(t, snapshot, 2, "snapshot taken before removal is unaffected")
	assert.Equal(t, 1, tr.PeerCount())
}

func TestSetErrorTransitionsToErrorStateAndLogs(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 1, defaultChunkSize)
	assert.Nil(t, tr.Err())

	cause := assert.AnError
	tr.setError(cause)

	assert.Equal(t, cause, tr.Err())
	assert.Equal(t, StateError, tr.CurrentMode().State)
}

func TestEnqueueAndDrainFinishedPieces(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 4, defaultChunkSize)
	tr.EnqueueFinishedPiece(1)
	tr.EnqueueFinishedPiece(2)

	drained := tr.drainFinishedPieces()
	assert.Equal(t, []int{1, 2}, drained)

	assert.Empty(t, tr.drainFinishedPieces(), "draining twice in a row yields nothing the second time")
}
