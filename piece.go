package torrent

import (
	"context"
	"iter"
	"time"

	"github.com/pkg/errors"

	"github.com/driftpeer/torrent/errs"
	"github.com/driftpeer/torrent/wire"
)

// completePieceBlock's bookkeeping phase (the increment-and-check plus
// everything downstream of it) runs inside Torrent.completion, an
// asyncmu.Exclusive: two peers finishing blocks of different pieces at the
// same time must not race the per-piece block counters or interleave their
// hash-check/attribution steps (spec §4.4 "Ordering requirement", §5).

const (
	maxHashFailuresBeforeDisconnect = 5
	defaultChunkSize                = 0x4000 // 16KiB
)

// handlePieceMessage implements the piece-completion pipeline (spec §4.4).
// It owns bufferRelease: every return path either runs it directly or hands
// it to the async disk write, which releases on completion.
func handlePieceMessage(t *Torrent, ps *PeerSession, msg *wire.Message, bufferRelease func()) {
	ps.PiecesReceived++
	ps.lastBlockReceived = time.Now()

	if t.Pieces == nil {
		bufferRelease()
		return
	}

	accepted, contributing, err := t.Pieces.PieceDataReceived(ps, msg)
	if err != nil || !accepted {
		bufferRelease()
		return
	}

	mode := t.CurrentMode()
	block := wire.BlockInfoFromMessage(msg)
	data := msg.Piece
	ps.touched.Add(uint32(block.PieceIndex))

	t.settleRequest(block)

	if t.SmartBan != nil {
		t.SmartBan.RecordBlock(ps, block, data)
	}

	go func() {
		writeErr := t.Disk.Write(context.Background(), t, block, data)
		bufferRelease()
		if writeErr != nil {
			t.setError(&errs.WriteFailure{Cause: writeErr})
			return
		}
		if mode.Canceled() {
			return
		}
		completePieceBlock(t, mode, ps, int(block.PieceIndex), int(msg.Begin), contributing)
	}()
}

// completePieceBlock runs steps 4-7 of the piece-completion pipeline. The
// caller must already have checked mode.Canceled() once; this function
// re-checks before the final-block branch since a cancellation can land
// between the write and this call (spec §4.4 step 3, §5).
func completePieceBlock(t *Torrent, mode *Mode, ps *PeerSession, pieceIndex, _ int, contributing []*PeerSession) {
	release, err := t.completion.Enter(mode.Context())
	if err != nil {
		// Mode was replaced while we were waiting our turn; abandon this
		// contribution silently rather than act on a stale mode.
		return
	}
	defer release()

	progress := mode.progressFor(pieceIndex)

	progress.blocksWritten++
	if contributing != nil {
		progress.contributing = contributing
	}

	if progress.blocksWritten < t.BlocksPerPiece {
		return
	}

	mode.clearProgress(pieceIndex)
	if mode.Canceled() {
		return
	}

	hash, ok, err := t.Disk.GetHash(context.Background(), t, pieceIndex)
	if err != nil {
		t.setError(&errs.ReadFailure{Cause: err})
		return
	}
	if !ok {
		t.setError(&errs.ReadFailure{Cause: errPieceUnreadable})
		return
	}

	passed := pieceIndex < len(t.Hashes) && hash.Equal(t.Hashes[pieceIndex])

	if t.Pieces != nil {
		t.Pieces.PieceHashed(pieceIndex)
	}

	contributors := progress.contributing
	if contributors == nil {
		contributors = []*PeerSession{ps}
	}

	if passed {
		t.MarkOwned(pieceIndex)
		for _, peer := range contributors {
			attributeHashOutcome(t, peer, true)
		}
		t.EnqueueFinishedPiece(pieceIndex)
	} else {
		t.incrementHashFailures()
		blamePieceFailure(t, pieceIndex, contributors)
	}

	if t.SmartBan != nil {
		t.SmartBan.ForgetBlockSeq(blockKeysForPiece(t, pieceIndex))
	}
}

// blamePieceFailure attributes a failed piece to the peer(s) that actually
// sent the bad bytes, using the smart-ban block cache to re-check each
// block against what's now on disk. A peer whose recorded block hash
// matches the final content is exonerated even though it touched a piece
// that failed overall; this matters once more than one peer can supply
// the same block (endgame mode). When smart-ban can't identify anyone —
// no cache, or a storage error reading blocks back — every contributor is
// blamed, same as before smart-ban existed.
func blamePieceFailure(t *Torrent, pieceIndex int, contributors []*PeerSession) {
	bad := map[*PeerSession]bool{}
	identified := false
	if t.SmartBan != nil && t.Disk != nil {
		for block := range blockKeysForPiece(t, pieceIndex) {
			data, err := t.Disk.ReadBlock(context.Background(), t, block)
			if err != nil {
				continue
			}
			for _, peer := range t.SmartBan.CheckBlock(block, data) {
				bad[peer] = true
				identified = true
			}
		}
	}
	if !identified {
		for _, peer := range contributors {
			bad[peer] = true
		}
	}
	for peer := range bad {
		attributeHashOutcome(t, peer, false)
	}
}

// blockKeysForPiece enumerates the block keys of one piece, sized off
// ChunkSize with the final block in the final piece shortened to fit.
func blockKeysForPiece(t *Torrent, pieceIndex int) iter.Seq[BlockInfo] {
	return func(yield func(BlockInfo) bool) {
		pieceLen := t.PieceLength
		if pieceIndex == t.NumPieces-1 && t.LastPieceLength > 0 {
			pieceLen = t.LastPieceLength
		}
		chunk := t.ChunkSize
		if chunk <= 0 {
			chunk = defaultChunkSize
		}
		for off := int64(0); off < pieceLen; off += chunk {
			length := chunk
			if off+length > pieceLen {
				length = pieceLen - off
			}
			block := BlockInfo{
				PieceIndex: wire.Integer(pieceIndex),
				Offset:     wire.Integer(off),
				Length:     wire.Integer(length),
			}
			if !yield(block) {
				return
			}
		}
	}
}

// attributeHashOutcome credits or blames peer for a piece's hash outcome
// and disconnects it the moment its running failure count reaches exactly
// 5 (spec §3 invariant, §4.4 step 6, §8 boundary behavior).
func attributeHashOutcome(t *Torrent, peer *PeerSession, passed bool) {
	if passed {
		peer.stats.incrementPiecesDirtiedGood()
		return
	}
	peer.stats.incrementPiecesDirtiedBad()
	peer.TotalHashFailures++
	if peer.TotalHashFailures == maxHashFailuresBeforeDisconnect && t.Conns != nil {
		t.Conns.CleanupSocket(t, peer)
	}
}

var errPieceUnreadable = errors.New("piece unreadable after write")
