package torrent

import (
	"net/netip"

	"github.com/driftpeer/torrent/errs"
	"github.com/driftpeer/torrent/wire"
)

// defaultAllowedFastK is how many piece indices we grant a fast-peer
// connection by default.
const defaultAllowedFastK = 10

// PeerConnected runs the handshake/bootstrap sequence (spec §4.3). It
// validates the peer's handshake against what we track, builds the
// session, and enqueues the initial message bundle atomically: a
// bitfield-class message, an optional extended handshake, and one
// AllowedFast per granted index.
//
// expectedPeerID is whatever peer id we already associated with this
// connection before the handshake completed — e.g. from a tracker or DHT
// response for an outgoing dial — or the zero value if we had none. Per
// spec §4.2's Handshake row: the session always takes the handshake's own
// peer id, but a mismatch against an expectation we actually held is a
// rejection on a private torrent and a silent overwrite on a public one.
func PeerConnected(t *Torrent, hs wire.HandshakeResult, expectedPeerID [20]byte, localAddr, remoteAddr netip.AddrPort, outgoing bool) (*PeerSession, error) {
	mode := t.CurrentMode()
	if mode == nil || !mode.CanAcceptConnections {
		return nil, errs.NewProtocolViolation("mode is not accepting connections")
	}
	if hs.InfoHash != t.InfoHash {
		return nil, &errs.UnknownInfoHash{Hash: string(hs.InfoHash[:])}
	}
	if expectedPeerID != ([20]byte{}) && expectedPeerID != hs.PeerID && t.Private {
		return nil, errs.NewProtocolViolation("handshake peer id does not match expected peer id")
	}

	ps := NewPeerSession(hs.PeerID, remoteAddr, localAddr, outgoing, t.Settings.RequestsBase)
	ps.SupportsFast = hs.Bits.GetBit(wire.ExtensionBitFast)
	ps.SupportsExtended = hs.Bits.GetBit(wire.ExtensionBitLtep)

	if ps.SupportsFast && t.Fast != nil {
		k := uint64(defaultAllowedFastK)
		if k > uint64(t.NumPieces) {
			k = uint64(t.NumPieces)
		}
		if set, err := t.Fast(remoteAddr.Addr(), t.InfoHash, uint64(t.NumPieces), k); err == nil {
			ps.peerfastset = set
		}
	}

	bundle := buildBootstrapBundle(t, ps)
	for _, msg := range bundle {
		ps.enqueue(msg, nil)
	}

	t.AddPeer(ps)

	return ps, nil
}

func buildBootstrapBundle(t *Torrent, ps *PeerSession) []wire.Message {
	var bundle []wire.Message
	bundle = append(bundle, t.bitfieldMessage(ps.SupportsFast))

	if ps.SupportsExtended {
		hs := wire.ExtendedHandshakeMessage{
			M: map[wire.ExtensionName]int64{
				wire.ExtensionNameMetadata: 1,
			},
			Port: t.Settings.ListenPort,
		}
		if t.Settings.AllowPeerExchange && !t.Private {
			hs.M[wire.ExtensionNamePex] = 2
		}
		if payload, err := hs.Marshal(); err == nil {
			bundle = append(bundle, wire.NewExtended(wire.HandshakeExtendedID, payload))
		}
	}

	if ps.peerfastset != nil {
		it := ps.peerfastset.Iterator()
		for it.HasNext() {
			bundle = append(bundle, wire.NewAllowedFast(wire.Integer(it.Next())))
		}
	}

	return bundle
}
