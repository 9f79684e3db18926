package torrent

import (
	"context"
	"crypto/sha1"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/anacrolix/log"

	"github.com/driftpeer/torrent/allowedfast"
	"github.com/driftpeer/torrent/asyncmu"
	"github.com/driftpeer/torrent/smartban"
	"github.com/driftpeer/torrent/wire"
)

// Torrent is the TorrentManager collaborator (spec §3): the authoritative
// record of what we own, who we're talking to, and the settings and
// collaborators the engine drives through for this one torrent.
type Torrent struct {
	InfoHash   [20]byte
	HashFamily HashFamily
	Hashes     []PieceHash // per-piece authoritative hash, indexed by piece

	PieceLength     int64
	LastPieceLength int64
	NumPieces       int
	BlocksPerPiece  int
	ChunkSize       int64 // 16KiB unless the swarm negotiated otherwise

	Private bool

	Settings *Settings
	Logger   log.Logger

	Disk     DiskManager
	Pieces   PieceManager
	Conns    ConnectionManager
	Unchoke  Unchoker
	Tracker  TrackerManager
	Dht      DhtEngine
	Lpd      LocalPeerDiscovery
	Fast     AllowedFastAlgorithm
	PeerPool PeerPoolManager
	Metadata MetadataManager

	PendingFiles PendingFiles

	// completion serializes the bookkeeping phase of piece completion
	// (spec §4.4 steps 4-7) torrent-wide: two different pieces finishing
	// concurrently must not interleave their block-count-and-hash-check
	// bookkeeping, only the async write phases may overlap (spec §5).
	completion asyncmu.Exclusive

	// SmartBan records which peer contributed each received block, so a
	// piece that fails its hash check can blame the one peer that actually
	// sent bad bytes instead of every peer that touched the piece.
	SmartBan *smartban.Cache[*PeerSession, BlockInfo, [sha1.Size]byte]

	// globalRequests counts, across every peer, how many times each block
	// is currently outstanding. The piece picker (PieceManager) increments
	// it through TrackRequestSent when it races the same block against
	// multiple peers in the end-game; the dispatcher decrements it as soon
	// as a Piece or Reject settles one of those outstanding copies.
	globalRequests pendingRequests

	// mu guards every field below. It is a lockWithDeferreds rather than a
	// plain mutex so that state-change notifications (error logging, Have
	// broadcast triggers) can be queued with Defer while the lock is held
	// and run exactly once, right after Unlock, instead of racing whatever
	// the caller does next.
	mu    lockWithDeferreds
	mode  *Mode
	owned *roaring.Bitmap
	peers map[*PeerSession]struct{}

	finishedPieces []int
	hashFailures   int64

	haveMessageEstimatedDownloadedBytes int64

	errState error

	LpdPex *pexState
}

// NewTorrent constructs a Torrent ready to receive peers. It starts in
// StateHashing; callers transition it onward via SetMode once initial
// hash-checking (performed by the disk/storage layer, out of scope here)
// completes.
func NewTorrent(infoHash [20]byte, numPieces int, pieceLength int64, settings *Settings) *Torrent {
	t := &Torrent{
		InfoHash:    infoHash,
		NumPieces:   numPieces,
		PieceLength: pieceLength,
		ChunkSize:   defaultChunkSize,
		Settings:    settings,
		Logger:      settings.Logger,
		owned:       roaring.NewBitmap(),
		peers:       make(map[*PeerSession]struct{}),
		LpdPex:      &pexState{},
		Fast:        allowedfast.Set,
	}
	t.SmartBan = &smartban.Cache[*PeerSession, BlockInfo, [sha1.Size]byte]{
		Hash: sha1.Sum,
	}
	t.SmartBan.Init()
	t.globalRequests.Init()
	t.mode = NewMode(context.Background(), StateHashing)
	return t
}

// requestIndexOf flattens block into the scalar pendingRequests keys its
// counts by.
func (t *Torrent) requestIndexOf(block BlockInfo) RequestIndex {
	chunk := t.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return RequestIndex(int64(block.PieceIndex)*int64(t.BlocksPerPiece) + int64(block.Offset)/chunk)
}

// TrackRequestSent records that some peer now has block outstanding. A
// PieceManager implementation calls this when it sends a duplicate request
// for a block already in flight with another peer (end-game mode); a
// single, non-duplicate request needs no tracking here.
func (t *Torrent) TrackRequestSent(block BlockInfo) {
	t.mu.Lock()
	t.globalRequests.Inc(t.requestIndexOf(block))
	t.mu.Unlock()
}

// PendingRequestCount reports how many peers are currently racing for
// block, per TrackRequestSent.
func (t *Torrent) PendingRequestCount(block BlockInfo) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.globalRequests.Get(t.requestIndexOf(block))
}

// settleRequest decrements the outstanding count for block if and only if
// it was actually tracked, so an unsolicited or never-duplicated block
// can't underflow the counter.
func (t *Torrent) settleRequest(block BlockInfo) {
	idx := t.requestIndexOf(block)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.globalRequests.Get(idx) > 0 {
		t.globalRequests.Dec(idx)
	}
}

func (t *Torrent) Owned() *roaring.Bitmap {
	return t.owned
}

func (t *Torrent) HasPiece(index int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.owned.Contains(uint32(index))
}

func (t *Torrent) MarkOwned(index int) {
	t.mu.Lock()
	t.owned.Add(uint32(index))
	t.mu.Unlock()
}

func (t *Torrent) AddPeer(ps *PeerSession) {
	t.mu.Lock()
	t.peers[ps] = struct{}{}
	t.mu.Unlock()
}

func (t *Torrent) RemovePeer(ps *PeerSession) {
	t.mu.Lock()
	delete(t.peers, ps)
	t.mu.Unlock()
}

// Peers returns a snapshot slice of connected peers, safe to iterate while
// the engine concurrently mutates the underlying set (tick loop's
// "resilient removal" requirement, spec §4.5).
func (t *Torrent) Peers() []*PeerSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*PeerSession, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p)
	}
	return out
}

func (t *Torrent) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// EnqueueFinishedPiece appends index to the finished_pieces queue the tick
// loop drains to broadcast Have (spec §4.4 step 7).
func (t *Torrent) EnqueueFinishedPiece(index int) {
	t.mu.Lock()
	t.finishedPieces = append(t.finishedPieces, index)
	t.mu.Unlock()
}

// drainFinishedPieces atomically takes and clears the finished_pieces
// queue.
func (t *Torrent) drainFinishedPieces() []int {
	t.mu.Lock()
	out := t.finishedPieces
	t.finishedPieces = nil
	t.mu.Unlock()
	return out
}

func (t *Torrent) incrementHashFailures() {
	t.mu.Lock()
	t.hashFailures++
	t.mu.Unlock()
}

func (t *Torrent) HashFailures() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hashFailures
}

// setError puts the torrent into the Error state with reason err,
// replacing its Mode so any in-flight work observes the cancellation on
// its next check (spec §4.4 steps 2 and 5, §7). The log line is queued
// with Defer rather than emitted directly so it runs once, after the
// lock guarding errState is actually released.
func (t *Torrent) setError(err error) {
	t.mu.Lock()
	t.errState = err
	t.mu.Defer(func() {
		t.Logger.Printf("torrent %x: entering error state: %v", t.InfoHash, err)
	})
	t.mu.Unlock()
	t.SetMode(NewMode(context.Background(), StateError))
}

func (t *Torrent) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errState
}

// bitfieldMessage builds the bitfield-class message we present to a newly
// handshaken peer: HaveAll/HaveNone when the peer supports fast-peer and
// the owned set is a degenerate all/none case, else an explicit Bitfield
// (spec §4.3).
func (t *Torrent) bitfieldMessage(supportsFast bool) wire.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	card := t.owned.GetCardinality()
	if supportsFast && card == 0 {
		return wire.NewHaveNone()
	}
	if supportsFast && int(card) == t.NumPieces && t.NumPieces > 0 {
		return wire.NewHaveAll()
	}
	bits := make([]bool, t.NumPieces)
	it := t.owned.Iterator()
	for it.HasNext() {
		bits[it.Next()] = true
	}
	return wire.NewBitfield(bits)
}
