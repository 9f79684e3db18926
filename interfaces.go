package torrent

import (
	"context"
	"net/netip"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/driftpeer/torrent/wire"
)

// DiskManager is the storage collaborator: it owns the actual bytes on
// disk. The engine never touches a file handle directly.
type DiskManager interface {
	// Write persists data at the location block describes. The caller
	// retains the buffer until Write returns; on failure the torrent enters
	// the error state with reason WriteFailure.
	Write(ctx context.Context, t *Torrent, block BlockInfo, data []byte) error

	// GetHash computes the digest of a complete piece. ok is false when the
	// piece could not be read back (e.g. a storage error distinct from a
	// genuine hash mismatch); err carries the underlying cause.
	GetHash(ctx context.Context, t *Torrent, pieceIndex int) (hash PieceHash, ok bool, err error)

	// ReadBlock reads back exactly the bytes currently on disk for block.
	// Used only for smart-ban attribution after a piece fails its hash
	// check, to tell which contributing peer actually sent the bad bytes
	// rather than blaming everyone who touched the piece.
	ReadBlock(ctx context.Context, t *Torrent, block BlockInfo) ([]byte, error)
}

// PieceManager is the piece-picking collaborator.
type PieceManager interface {
	// PieceDataReceived hands a just-arrived block to the picker. accepted
	// reports whether the block was wanted; contributing is non-nil only
	// on the block that completes a piece, and lists every peer credited
	// with a block of it.
	PieceDataReceived(peer *PeerSession, msg *wire.Message) (accepted bool, contributing []*PeerSession, err error)

	AddPieceRequests(peers ...*PeerSession)
	CancelRequests(peer *PeerSession)
	RequestRejected(peer *PeerSession, block BlockInfo)
	IsInteresting(peer *PeerSession) bool
	PieceHashed(index int)
}

// ConnectionManager is the transport collaborator: it owns the socket and
// the raw read/write loop. The engine only asks it to drain a send queue or
// tear a connection down.
type ConnectionManager interface {
	TryProcessQueue(t *Torrent, peer *PeerSession)
	CleanupSocket(t *Torrent, peer *PeerSession)
}

// Unchoker runs the choking algorithm. The engine invokes it once per tick
// and otherwise leaves peer choke decisions to it entirely.
type Unchoker interface {
	UnchokeReview()
}

// TrackerEvent is the event parameter of an announce.
type TrackerEvent int

const (
	TrackerEventNone TrackerEvent = iota
	TrackerEventStarted
	TrackerEventStopped
	TrackerEventCompleted
)

type TrackerManager interface {
	AnnounceAsync(ctx context.Context, event TrackerEvent) error
}

// DhtEngine and LocalPeerDiscovery both present as recurring announce
// triggers with a declared interval; the tick loop treats them identically.
type DhtEngine interface {
	Announce(ctx context.Context) error
	AnnounceInterval() time.Duration
}

type LocalPeerDiscovery interface {
	Announce(ctx context.Context) error
	AnnounceInterval() time.Duration
}

// DiscoveredPeer is one peer surfaced by an out-of-band discovery
// mechanism (currently peer exchange).
type DiscoveredPeer struct {
	Addr netip.AddrPort
	Seed bool
}

// PeersFound is the event a discovery mechanism reports to the peer pool.
// An empty Peers slice is itself meaningful: it tells the pool a source
// fired but had nothing to contribute (spec §4.2's PeerExchange row, the
// private/disallowed case).
type PeersFound struct {
	Peers []DiscoveredPeer
}

// PeerPoolManager is the collaborator that turns discovered peers into
// dial attempts. The engine itself never dials; it only reports what it
// learned.
type PeerPoolManager interface {
	SubmitPeers(t *Torrent, found PeersFound)
}

// MetadataManager exposes the info-dict this torrent holds, if any, so the
// dispatcher can answer ut_metadata (BEP 9) requests without the engine
// itself owning metadata storage.
type MetadataManager interface {
	// MetadataPiece returns the raw bytes of the given metadata piece and
	// the info-dict's total size. ok is false if we don't have that piece.
	MetadataPiece(index int) (data []byte, totalSize int, ok bool)
}

// AllowedFastAlgorithm computes the BEP 6 allowed-fast set. It must be a
// pure function of its inputs so it can be called per-handshake without
// synchronization (spec Design Notes §9: prefer allocate-per-call over a
// process-wide singleton).
type AllowedFastAlgorithm func(addr netip.Addr, infoHash [20]byte, numPieces uint64, k uint64) (*roaring.Bitmap, error)
