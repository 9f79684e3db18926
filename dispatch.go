package torrent

import (
	"net/netip"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/davecgh/go-spew/spew"

	"github.com/driftpeer/torrent/errs"
	"github.com/driftpeer/torrent/wire"
)

const (
	minRequestLength = 1
	maxRequestLength = 1 << 17 // 128 KiB, generous upper bound on a block
)

// HandleMessage consumes exactly one inbound peer message (spec §4.2). It
// is the single entry point the connection layer calls per received
// message; the engine runner is expected to invoke it non-concurrently per
// torrent (spec §5).
func HandleMessage(t *Torrent, ps *PeerSession, msg *wire.Message, bufferRelease func()) error {
	if bufferRelease == nil {
		bufferRelease = func() {}
	}
	mode := t.CurrentMode()
	if mode == nil || !mode.CanHandleMessages {
		bufferRelease()
		return nil
	}

	if msg.Keepalive {
		ps.lastMessageReceived = time.Now()
		bufferRelease()
		return nil
	}

	if msg.Type.FastExtension() && !ps.SupportsFast {
		bufferRelease()
		return errs.NewProtocolViolation("peer does not support fast-peer")
	}
	isExtendedHandshake := msg.Type == wire.Extended && msg.ExtendedID == wire.HandshakeExtendedID
	if msg.Type == wire.Extended && !ps.SupportsExtended && !isExtendedHandshake {
		bufferRelease()
		return errs.NewProtocolViolation("peer does not support extension messages")
	}

	ps.lastMessageReceived = time.Now()

	switch msg.Type {
	case wire.Choke:
		handleChoke(t, ps)
	case wire.Unchoke:
		handleUnchoke(t, ps)
	case wire.Interested:
		ps.PeerInterested = true
	case wire.NotInterested:
		ps.PeerInterested = false
	case wire.Have:
		handleHave(t, ps, int(msg.Index))
	case wire.HaveAll:
		handleHaveAll(t, ps)
	case wire.HaveNone:
		handleHaveNone(t, ps)
	case wire.Bitfield:
		handleBitfield(t, ps, msg.Bitfield)
	case wire.Request:
		if err := handleRequest(t, ps, msg); err != nil {
			bufferRelease()
			return err
		}
	case wire.Cancel:
		handleCancel(t, ps, msg)
	case wire.Piece:
		// Ownership of the buffer release transfers to the async write
		// path; do not run it here even on early return.
		handlePieceMessage(t, ps, msg, bufferRelease)
		return nil
	case wire.Reject:
		handleReject(t, ps, msg)
	case wire.Suggest:
		handleSuggest(ps, int(msg.Index))
	case wire.AllowedFast:
		handleAllowedFast(t, ps, int(msg.Index))
	case wire.Port:
		ps.PeerDhtPort = msg.Port
	case wire.Extended:
		if err := handleExtended(t, ps, msg); err != nil {
			bufferRelease()
			return err
		}
	case wire.HashRequest:
		handleHashRequest(ps, msg.HashPayload)
	case wire.Hashes, wire.HashReject:
		// Default v2 policy: ignore hash responses (spec §4.2). A mode
		// that supports v2 hash exchange would override this.
	default:
		bufferRelease()
		return &errs.UnsupportedMessage{Kind: msg.Type.String()}
	}

	bufferRelease()
	if t.Conns != nil {
		t.Conns.TryProcessQueue(t, ps)
	}
	return nil
}

func handleChoke(t *Torrent, ps *PeerSession) {
	ps.PeerChoked = true
	if !ps.SupportsFast {
		if t.Pieces != nil {
			t.Pieces.CancelRequests(ps)
		}
		ps.requests = make(map[RequestIndex]outstandingRequest)
	}
}

func handleUnchoke(t *Torrent, ps *PeerSession) {
	ps.PeerChoked = false
	if t.Pieces != nil {
		t.Pieces.AddPieceRequests(ps)
	}
}

func recomputeInterest(t *Torrent, ps *PeerSession) {
	if t.Pieces == nil {
		return
	}
	ps.setAmInterested(t.Pieces.IsInteresting(ps))
}

func handleHave(t *Torrent, ps *PeerSession, index int) {
	ps.claimed.Add(uint32(index))
	updateSeederFlag(t, ps)
	if !t.HasPiece(index) {
		ps.setAmInterested(true)
	}
}

func handleHaveAll(t *Torrent, ps *PeerSession) {
	ps.peerSentHaveAll = true
	ps.claimed = fullBitmap(t.NumPieces)
	recomputeInterest(t, ps)
}

func handleHaveNone(t *Torrent, ps *PeerSession) {
	ps.peerSentHaveAll = false
	ps.claimed.Clear()
	recomputeInterest(t, ps)
}

func handleBitfield(t *Torrent, ps *PeerSession, bits []bool) {
	ps.claimed.Clear()
	all := len(bits) > 0
	for i, have := range bits {
		if have {
			ps.claimed.Add(uint32(i))
		} else {
			all = false
		}
	}
	ps.peerSentHaveAll = all
	recomputeInterest(t, ps)
}

func updateSeederFlag(t *Torrent, ps *PeerSession) {
	ps.peerSentHaveAll = t.NumPieces > 0 && int(ps.claimed.GetCardinality()) == t.NumPieces
}

func fullBitmap(n int) *roaring.Bitmap {
	bm := roaring.NewBitmap()
	for i := 0; i < n; i++ {
		bm.Add(uint32(i))
	}
	return bm
}

func handleRequest(t *Torrent, ps *PeerSession, msg *wire.Message) error {
	length := int(msg.Length)
	lastPiece := int(msg.Index) == t.NumPieces-1
	if !lastPiece && (length < minRequestLength || length > maxRequestLength) {
		return errs.NewProtocolViolation("request length out of bounds")
	}
	block := wire.BlockInfoFromMessage(msg)
	if !ps.Choked {
		ps.enqueue(wire.NewPiece(msg.Index, msg.Begin, nil), nil) // payload filled in by the connection layer from disk
		return nil
	}
	if ps.SupportsFast && ps.peerfastset.Contains(uint32(msg.Index)) {
		ps.enqueue(wire.NewPiece(msg.Index, msg.Begin, nil), nil)
		return nil
	}
	if ps.SupportsFast {
		ps.enqueue(block.RejectMessage(), nil)
	}
	return nil
}

func handleCancel(t *Torrent, ps *PeerSession, msg *wire.Message) {
	block := wire.BlockInfoFromMessage(msg)
	ps.mu.Lock()
	for i, qm := range ps.sendQueue {
		if qm.msg.Type == wire.Piece && qm.msg.Index == block.PieceIndex && qm.msg.Begin == block.Offset {
			qm.release()
			ps.sendQueue = append(ps.sendQueue[:i], ps.sendQueue[i+1:]...)
			break
		}
	}
	ps.mu.Unlock()
}

func handleReject(t *Torrent, ps *PeerSession, msg *wire.Message) {
	block := wire.BlockInfoFromMessage(msg)
	t.settleRequest(block)
	if t.Pieces != nil {
		t.Pieces.RequestRejected(ps, block)
	}
}

// handleSuggest records index in the peer's suggested set (spec §4.2). The
// picker consults this membership; the dispatcher only tracks it.
func handleSuggest(ps *PeerSession, index int) {
	ps.suggested.Add(uint32(index))
}

// handleHashRequest implements the default BEP 52 policy: reject every
// hash request, since no mode in this engine currently negotiates the v2
// hash extension (spec §4.2's HashRequest row).
func handleHashRequest(ps *PeerSession, payload []byte) {
	var req wire.HashRequestMessage
	if err := req.Unmarshal(payload); err != nil {
		return
	}
	reject := wire.RejectFrom(req)
	body, err := reject.Marshal()
	if err != nil {
		return
	}
	ps.enqueue(wire.NewHashReject(body), nil)
}

func handleAllowedFast(t *Torrent, ps *PeerSession, index int) {
	if !t.HasPiece(index) {
		ps.fastset.Add(uint32(index))
	}
}

func handleExtended(t *Torrent, ps *PeerSession, msg *wire.Message) error {
	if msg.ExtendedID == wire.HandshakeExtendedID {
		return handleExtendedHandshake(t, ps, msg.ExtendedPayload)
	}
	for name, id := range ps.PeerExtensionIDs {
		if id == msg.ExtendedID {
			switch name {
			case wire.ExtensionNameMetadata:
				return handleLtMetadata(t, ps, msg.ExtendedPayload)
			case wire.ExtensionNamePex:
				return handlePeerExchange(t, ps, msg.ExtendedPayload)
			case wire.ExtensionNameChat:
				return nil // LtChat: ignored
			}
		}
	}
	return nil
}

func handleExtendedHandshake(t *Torrent, ps *PeerSession, payload []byte) error {
	var hs wire.ExtendedHandshakeMessage
	if err := hs.Unmarshal(payload); err != nil {
		return errs.NewProtocolViolation("malformed extended handshake")
	}
	if t.Settings.Debug {
		t.Logger.Printf("extended handshake from %v:\n%s", ps.RemoteAddr, spew.Sdump(hs))
	}

	ps.SupportsExtended = true
	ps.PeerListenPort = hs.Port
	ps.PeerClientName = hs.V
	ps.PrefersEncryption = hs.Encryption

	reqq := hs.Reqq
	if reqq > 0 {
		// Known legacy clients underreport their true capacity; floor it.
		const legacyFloor = 192
		if reqq < legacyFloor {
			reqq = legacyFloor
		}
		ps.PeerMaxRequests = reqq
	}

	for name := range hs.M {
		ps.PeerExtensionIDs[name] = wire.ExtensionNumber(hs.M[name])
	}

	if _, ok := ps.PeerExtensionIDs[wire.ExtensionNamePex]; ok && !t.Private && len(t.Hashes) > 0 {
		if ps.pex == nil {
			ps.pex = &pexState{}
		}
	}
	return nil
}

// handleLtMetadata answers a BEP 9 ut_metadata request: Data if we have the
// requested piece, Reject otherwise (spec §4.2's LtMetadata row). Anything
// other than a Request (Data, Reject) arriving from the peer is ignored;
// this engine never itself requests metadata over this path.
func handleLtMetadata(t *Torrent, ps *PeerSession, payload []byte) error {
	var msg wire.MetadataExtensionMessage
	if err := msg.Unmarshal(payload); err != nil {
		return errs.NewProtocolViolation("malformed metadata message")
	}
	if msg.MsgType != wire.MetadataRequestMsgType {
		return nil
	}
	id, ok := ps.PeerExtensionIDs[wire.ExtensionNameMetadata]
	if !ok {
		return nil
	}

	var data []byte
	reply := wire.NewMetadataReject(msg.Piece)
	if t.Metadata != nil {
		if pieceData, total, ok := t.Metadata.MetadataPiece(msg.Piece); ok {
			reply = wire.NewMetadataData(msg.Piece, total)
			data = pieceData
		}
	}

	body, err := reply.Marshal()
	if err != nil {
		return nil
	}
	if data != nil {
		body = append(body, data...)
	}
	ps.enqueue(wire.NewExtended(id, body), nil)
	return nil
}

// handlePeerExchange implements the BEP 11 PeerExchange row of the
// dispatch table (spec §4.2, scenario 6): a private or peer-exchange-
// disallowed torrent reports an empty PeersFound event; a torrent at or
// over its connection cap drops the message; otherwise the added peers are
// decoded, tagged seed/non-seed from the added.f flag byte, and handed to
// the peer pool.
func handlePeerExchange(t *Torrent, ps *PeerSession, payload []byte) error {
	if t.PeerPool == nil {
		return nil
	}
	if t.Private || !t.Settings.AllowPeerExchange {
		t.PeerPool.SubmitPeers(t, PeersFound{})
		return nil
	}
	if t.PeerCount() >= t.Settings.MaximumConnections {
		return nil
	}
	var m wire.PexMsg
	if err := m.Unmarshal(payload); err != nil {
		return errs.NewProtocolViolation("malformed peer exchange message")
	}
	t.PeerPool.SubmitPeers(t, PeersFound{Peers: decodePexAdded(m)})
	return nil
}

// decodePexAdded pairs each added compact address with its flag byte,
// reading the seed bit from bit 0x02 of the flags (wire.PexSeed).
func decodePexAdded(m wire.PexMsg) []DiscoveredPeer {
	var out []DiscoveredPeer
	if addrs, err := wire.ParseCompactAddrs(m.Added, 4); err == nil {
		out = append(out, pairPexFlags(addrs, m.AddedFlags)...)
	}
	if addrs, err := wire.ParseCompactAddrs(m.Added6, 16); err == nil {
		out = append(out, pairPexFlags(addrs, m.Added6Flags)...)
	}
	return out
}

func pairPexFlags(addrs []netip.AddrPort, flags []byte) []DiscoveredPeer {
	out := make([]DiscoveredPeer, 0, len(addrs))
	for i, addr := range addrs {
		var seed bool
		if i < len(flags) {
			seed = wire.PexPeerFlags(flags[i])&wire.PexSeed != 0
		}
		out = append(out, DiscoveredPeer{Addr: addr, Seed: seed})
	}
	return out
}
