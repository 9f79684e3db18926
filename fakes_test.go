package torrent

import (
	"context"
	"crypto/sha1"
	"sync"

	"github.com/driftpeer/torrent/wire"
)

// fakeDisk is an in-memory DiskManager: pieces are just byte slices kept in
// a map, written a block at a time and hashed on demand.
type fakeDisk struct {
	mu     sync.Mutex
	pieces map[int][]byte

	failWrite  bool
	failHash   bool
	unreadable bool
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{pieces: make(map[int][]byte)}
}

func (d *fakeDisk) Write(_ context.Context, t *Torrent, block BlockInfo, data []byte) error {
	if d.failWrite {
		return errWriteRejected
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pieceLen := t.PieceLength
	buf, ok := d.pieces[int(block.PieceIndex)]
	if !ok {
		buf = make([]byte, pieceLen)
		d.pieces[int(block.PieceIndex)] = buf
	}
	copy(buf[block.Offset:], data)
	return nil
}

func (d *fakeDisk) GetHash(_ context.Context, t *Torrent, pieceIndex int) (PieceHash, bool, error) {
	if d.failHash {
		return nil, false, errHashUnavailable
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unreadable {
		return nil, false, nil
	}
	buf, ok := d.pieces[pieceIndex]
	if !ok {
		return nil, false, nil
	}
	sum := sha1.Sum(buf)
	return PieceHash(sum[:]), true, nil
}

func (d *fakeDisk) ReadBlock(_ context.Context, t *Torrent, block BlockInfo) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.pieces[int(block.PieceIndex)]
	if !ok {
		return nil, errHashUnavailable
	}
	end := int(block.Offset) + int(block.Length)
	if end > len(buf) {
		end = len(buf)
	}
	out := make([]byte, end-int(block.Offset))
	copy(out, buf[block.Offset:end])
	return out, nil
}

// fakePieces is a PieceManager that accepts every block it's handed and
// records what it was asked to do, so tests can assert on call shape
// without modeling a real piece picker.
type fakePieces struct {
	mu sync.Mutex

	acceptNext   bool
	contributors []*PeerSession

	requested map[*PeerSession]bool
	canceled  map[*PeerSession]bool
	rejected  []BlockInfo
	hashed    []int
	wantAll   bool
}

func newFakePieces() *fakePieces {
	return &fakePieces{
		acceptNext: true,
		requested:  make(map[*PeerSession]bool),
		canceled:   make(map[*PeerSession]bool),
	}
}

func (p *fakePieces) PieceDataReceived(peer *PeerSession, msg *wire.Message) (bool, []*PeerSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.acceptNext {
		return false, nil, nil
	}
	return true, p.contributors, nil
}

func (p *fakePieces) AddPieceRequests(peers ...*PeerSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, peer := range peers {
		p.requested[peer] = true
	}
}

func (p *fakePieces) CancelRequests(peer *PeerSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled[peer] = true
}

func (p *fakePieces) RequestRejected(peer *PeerSession, block BlockInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, block)
}

func (p *fakePieces) IsInteresting(peer *PeerSession) bool {
	return p.wantAll
}

func (p *fakePieces) PieceHashed(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hashed = append(p.hashed, index)
}

// fakeConns is a ConnectionManager recording which sessions it was asked
// to flush or tear down.
type fakeConns struct {
	mu       sync.Mutex
	flushed  []*PeerSession
	cleaned  []*PeerSession
}

func newFakeConns() *fakeConns { return &fakeConns{} }

func (c *fakeConns) TryProcessQueue(t *Torrent, peer *PeerSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushed = append(c.flushed, peer)
}

func (c *fakeConns) CleanupSocket(t *Torrent, peer *PeerSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleaned = append(c.cleaned, peer)
}

func (c *fakeConns) wasCleaned(peer *PeerSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.cleaned {
		if p == peer {
			return true
		}
	}
	return false
}

type fakeUnchoker struct{ reviews int }

func (u *fakeUnchoker) UnchokeReview() { u.reviews++ }

// fakePeerPool is a PeerPoolManager recording every PeersFound event it was
// handed, including empty ones (the private/disallowed case).
type fakePeerPool struct {
	mu     sync.Mutex
	events []PeersFound
}

func (p *fakePeerPool) SubmitPeers(t *Torrent, found PeersFound) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, found)
}

// fakeMetadataManager is a MetadataManager backed by a fixed set of piece
// bytes, keyed by piece index.
type fakeMetadataManager struct {
	pieces    map[int][]byte
	totalSize int
}

func (m *fakeMetadataManager) MetadataPiece(index int) ([]byte, int, bool) {
	data, ok := m.pieces[index]
	return data, m.totalSize, ok
}

var (
	errWriteRejected   = errNew("fake disk: write rejected")
	errHashUnavailable = errNew("fake disk: hash unavailable")
)

func errNew(s string) error { return simpleErr(s) }

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
