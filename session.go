package torrent

import (
	"bytes"
	"net/netip"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/driftpeer/torrent/wire"
)

// BlockInfo identifies a sub-range of a piece: the unit of request. It is
// the torrent package's name for wire.BlockInfo, since every collaborator
// interface in this package speaks in terms of it rather than raw wire
// messages.
type BlockInfo = wire.BlockInfo

// outstandingRequest is the bookkeeping entry for one block we've asked a
// peer for, keyed the way pendingRequests keys its counts.
type outstandingRequest struct {
	block     BlockInfo
	requested time.Time
}

// queuedMessage pairs an outbound wire message with the release of
// whatever buffer backs it, so the send queue can guarantee every buffer is
// released exactly once regardless of whether the message is ever written.
type queuedMessage struct {
	msg     wire.Message
	release func()
}

// PeerSession is the per-connected-peer state the dispatcher, tick loop,
// and connection layer all read and mutate. Ownership is single: only the
// engine runner goroutine touches these fields directly (spec §5, Design
// Notes §9) — the connection layer communicates by posting to sendQueue
// and by calling HandleMessage, never by reaching into this struct from
// another goroutine.
type PeerSession struct {
	PeerID     [20]byte
	RemoteAddr netip.AddrPort
	LocalAddr  netip.AddrPort
	Outgoing   bool

	// Choked is what we've told the peer: true means we are refusing their
	// requests (am_choking). PeerChoked is what the peer has told us: true
	// means they are refusing ours (is_choking).
	Choked     bool
	PeerChoked bool

	// Interested mirrors am_interested; PeerInterested mirrors is_interested.
	Interested     bool
	PeerInterested bool

	SupportsFast     bool
	SupportsExtended bool
	SupportsUtp      bool
	PrefersEncryption bool

	PeerExtensionIDs map[wire.ExtensionName]wire.ExtensionNumber
	PeerClientName   string
	PeerListenPort   int
	PeerDhtPort      uint16

	// claimed represents pieces our peer claims to have (the peer's
	// bitfield). peerfastset is what we've granted the peer as
	// allowed-fast; fastset is what the peer has granted us. touched is
	// pieces we've accepted at least one chunk for from this peer.
	// blacklisted is allocated empty and nothing in this package adds to
	// it. sentHaves records every Have index broadcastHave has sent this
	// peer; nothing reads it back.
	claimed     *roaring.Bitmap
	peerfastset *roaring.Bitmap
	fastset     *roaring.Bitmap
	touched     *roaring.Bitmap
	blacklisted *roaring.Bitmap
	sentHaves   *roaring.Bitmap

	// suggested is the set of piece indices the peer has told us to
	// prioritize via Suggest (BEP 6). Membership only; the picker decides
	// what to do with it.
	suggested *roaring.Bitmap

	peerSentHaveAll bool
	peerMinPieces   uint64

	requests     map[RequestIndex]outstandingRequest
	PeerRequests map[BlockInfo]struct{}

	PeerMaxRequests    int
	PendingMaxRequests int

	PiecesReceived     int64
	TotalHashFailures  int

	CompletedHandshake      time.Time
	lastMessageSent         time.Time
	lastMessageReceived     time.Time
	lastBlockReceived       time.Time
	lastBecameInterested    time.Time

	PexListed bool
	pex       *pexState

	stats ConnStats

	mu        sync.Mutex
	sendQueue []queuedMessage

	closed bool
}

// NewPeerSession constructs session state for a freshly handshaken
// connection. maxRequests is the locally configured pending-request cap
// before any peer-advertised override is applied.
func NewPeerSession(peerID [20]byte, addr, localAddr netip.AddrPort, outgoing bool, maxRequests int) *PeerSession {
	now := time.Now()
	return &PeerSession{
		PeerID:             peerID,
		RemoteAddr:         addr,
		LocalAddr:          localAddr,
		Outgoing:           outgoing,
		Choked:             true,
		PeerChoked:         true,
		claimed:            roaring.NewBitmap(),
		peerfastset:        roaring.NewBitmap(),
		fastset:            roaring.NewBitmap(),
		touched:            roaring.NewBitmap(),
		blacklisted:        roaring.NewBitmap(),
		sentHaves:          roaring.NewBitmap(),
		suggested:          roaring.NewBitmap(),
		requests:           make(map[RequestIndex]outstandingRequest),
		PeerRequests:       make(map[BlockInfo]struct{}),
		PeerExtensionIDs:   make(map[wire.ExtensionName]wire.ExtensionNumber),
		PeerMaxRequests:    maxRequests,
		PendingMaxRequests: maxRequests,
		CompletedHandshake: now,
		lastMessageReceived: now,
		lastMessageSent:     now,
	}
}

func (ps *PeerSession) IsSeed() bool {
	if ps.peerSentHaveAll {
		return true
	}
	return false
}

// useful reports whether this peer is worth keeping connected: either it's
// interested in us (we might upload to it) or we're interested in it (it
// might have pieces we want).
func (ps *PeerSession) useful() bool {
	return ps.PeerInterested || ps.Interested
}

func (ps *PeerSession) lastHelpful() time.Time {
	if ps.lastBlockReceived.After(ps.lastBecameInterested) {
		return ps.lastBlockReceived
	}
	return ps.lastBecameInterested
}

func (ps *PeerSession) peerPriority() (peerPriority, error) {
	return bep40Priority(ps.LocalAddr, ps.RemoteAddr)
}

func (ps *PeerSession) wroteBytes(n int64) {
	ps.stats.BytesWritten.Add(n)
}

func (ps *PeerSession) readBytes(n int64) {
	ps.stats.BytesRead.Add(n)
}

// enqueue appends msg to the send queue with release run once the
// connection layer finishes writing it (or drops it on disconnect).
func (ps *PeerSession) enqueue(msg wire.Message, release func()) {
	if release == nil {
		release = func() {}
	}
	ps.mu.Lock()
	ps.sendQueue = append(ps.sendQueue, queuedMessage{msg: msg, release: release})
	ps.mu.Unlock()
}

// drainSendQueue hands every currently-queued message to w in order,
// running each release exactly once regardless of write outcome, and
// advances lastMessageSent if anything was actually sent.
func (ps *PeerSession) drainSendQueue(w *bytes.Buffer) (sent int, err error) {
	ps.mu.Lock()
	queue := ps.sendQueue
	ps.sendQueue = nil
	ps.mu.Unlock()

	for _, qm := range queue {
		data, merr := qm.msg.MarshalBinary()
		if merr == nil {
			_, merr = w.Write(data)
		}
		qm.release()
		if merr != nil {
			err = merr
			continue
		}
		sent++
	}
	if sent > 0 {
		ps.lastMessageSent = time.Now()
	}
	return sent, err
}

// setChoked updates what we've told the peer. Flips are idempotent: no
// duplicate wire message is produced for a repeated call with the same
// value (mirrors setAmInterested's idempotence requirement in spec §8).
func (ps *PeerSession) setChoked(choked bool) (changed bool) {
	if ps.Choked == choked {
		return false
	}
	ps.Choked = choked
	msg := wire.NewUnchoke()
	if choked {
		msg = wire.NewChoke()
	}
	ps.enqueue(msg, nil)
	return true
}

// setAmInterested updates our advertised interest, emitting exactly one
// wire Interested/NotInterested message per actual flip.
func (ps *PeerSession) setAmInterested(interested bool) (changed bool) {
	if ps.Interested == interested {
		return false
	}
	ps.Interested = interested
	if interested {
		ps.lastBecameInterested = time.Now()
	}
	ps.enqueue(wire.NewInterested(interested), nil)
	return true
}

func (ps *PeerSession) outstandingRequestCount() int {
	return len(ps.requests)
}
