package torrent

import (
	"context"
	"crypto/sha1"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftpeer/torrent/wire"
)

func newTestTorrent(t *testing.T, numPieces int, pieceLength int64) (*Torrent, *fakeDisk, *fakePieces, *fakeConns) {
	t.Helper()
	settings := DefaultSettings()
	tr := NewTorrent([20]byte{1, 2, 3}, numPieces, pieceLength, settings)
	tr.BlocksPerPiece = int(pieceLength / defaultChunkSize)
	if tr.BlocksPerPiece == 0 {
		tr.BlocksPerPiece = 1
	}
	tr.Hashes = make([]PieceHash, numPieces)
	disk := newFakeDisk()
	pieces := newFakePieces()
	conns := newFakeConns()
	tr.Disk = disk
	tr.Pieces = pieces
	tr.Conns = conns
	tr.SetMode(NewMode(context.Background(), StateDownloading))
	return tr, disk, pieces, conns
}

func testPeer(port uint16) *PeerSession {
	addr := netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), port)
	return NewPeerSession([20]byte{byte(port)}, addr, addr, true, 4)
}

func pieceHashOf(data []byte) PieceHash {
	sum := sha1.Sum(data)
	return PieceHash(sum[:])
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition never became true")
}

func TestPieceCompletionHappyPath(t *testing.T) {
	const pieceLen = defaultChunkSize
	tr, disk, pieces, _ := newTestTorrent(t, 1, pieceLen)
	data := make([]byte, pieceLen)
	for i := range data {
		data[i] = byte(i)
	}
	tr.Hashes[0] = pieceHashOf(data)

	ps := testPeer(1)
	msg := wire.NewPiece(0, 0, data)

	released := false
	handlePieceMessage(tr, ps, &msg, func() { released = true })

	waitFor(t, func() bool { return tr.HasPiece(0) })
	assert.True(t, released)
	assert.Equal(t, []int{0}, disk.writtenPieceIndices())
	assert.Equal(t, int64(1), ps.stats.PiecesDirtiedGood.Int64())
	assert.Contains(t, pieces.hashed, 0)
}

func (d *fakeDisk) writtenPieceIndices() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []int
	for idx := range d.pieces {
		out = append(out, idx)
	}
	return out
}

// TestSmartBanAttributesOnlyBadPeer exercises the piece-completion pipeline
// across two contributing peers, one of which sends a block that doesn't
// match the piece's final content, and checks that hash-failure attribution
// blames only that peer rather than both contributors.
func TestSmartBanAttributesOnlyBadPeer(t *testing.T) {
	const pieceLen = 2 * defaultChunkSize
	tr, _, _, conns := newTestTorrent(t, 1, pieceLen)
	tr.BlocksPerPiece = 2

	good := make([]byte, defaultChunkSize)
	for i := range good {
		good[i] = byte(i)
	}
	bad := make([]byte, defaultChunkSize)
	for i := range bad {
		bad[i] = 0xFF
	}

	// The authoritative hash is over the good bytes in both halves; the
	// disk will actually contain good+bad, so the piece fails regardless.
	final := append(append([]byte{}, good...), good...)
	tr.Hashes[0] = pieceHashOf(final)

	goodPeer := testPeer(1)
	badPeer := testPeer(2)

	msg1 := wire.NewPiece(0, 0, good)
	handlePieceMessage(tr, goodPeer, &msg1, func() {})

	msg2 := wire.NewPiece(0, defaultChunkSize, bad)
	handlePieceMessage(tr, badPeer, &msg2, func() {})

	waitFor(t, func() bool { return tr.HashFailures() > 0 })

	// blamePieceFailure identifies the bad block by re-reading each block
	// off disk and comparing against the recorded per-peer hash: only the
	// peer whose block doesn't match is attributed a failure. A peer whose
	// block was fine is neither credited nor blamed on a piece that failed
	// overall.
	assert.Equal(t, int64(0), goodPeer.stats.PiecesDirtiedGood.Int64())
	assert.Equal(t, int64(0), goodPeer.stats.PiecesDirtiedBad.Int64())

	assert.Equal(t, int64(0), badPeer.stats.PiecesDirtiedGood.Int64())
	assert.Equal(t, int64(1), badPeer.stats.PiecesDirtiedBad.Int64())
	assert.Equal(t, 1, badPeer.TotalHashFailures)

	assert.False(t, conns.wasCleaned(goodPeer))
	assert.False(t, conns.wasCleaned(badPeer))
}

// TestAttributeHashOutcomeDisconnectsAtThreshold checks that a peer whose
// running hash-failure count reaches the disconnect threshold gets torn
// down, and not before.
func TestAttributeHashOutcomeDisconnectsAtThreshold(t *testing.T) {
	tr, _, _, conns := newTestTorrent(t, 1, defaultChunkSize)
	peer := testPeer(1)

	for i := 0; i < maxHashFailuresBeforeDisconnect-1; i++ {
		attributeHashOutcome(tr, peer, false)
		assert.False(t, conns.wasCleaned(peer))
	}
	attributeHashOutcome(tr, peer, false)
	assert.True(t, conns.wasCleaned(peer))
}
