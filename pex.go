package torrent

import (
	"net/netip"

	"github.com/driftpeer/torrent/wire"
)

type pexEventType int

const (
	pexAdd pexEventType = iota
	pexDrop
)

// internal, based on BEP 11
const (
	pexTargAdded = 25 // put drops on hold when the number of alive connections is lower than this
	pexMaxHold   = 25 // length of the drop hold-back buffer
	pexMaxDelta  = 50 // upper bound on added+added6 and dropped+dropped6 in a single PEX message
)

// represents a single connection (t=pexAdd) or disconnection (t=pexDrop) event
type pexEvent struct {
	t    pexEventType
	addr netip.AddrPort
	f    wire.PexPeerFlags
}

type pexMsgAdded struct {
	addr  netip.AddrPort
	flags wire.PexPeerFlags
}

// pexMsgFactory makes generating a PexMsg more efficient by letting an add
// and a drop of the same peer within one delta cancel out.
type pexMsgFactory struct {
	added   map[netip.AddrPort]pexMsgAdded
	dropped map[netip.AddrPort]struct{}
}

func (me *pexMsgFactory) DeltaLen() int {
	if len(me.added) > len(me.dropped) {
		return len(me.added)
	}
	return len(me.dropped)
}

func (me *pexMsgFactory) Add(addr netip.AddrPort, flags wire.PexPeerFlags) {
	if _, ok := me.dropped[addr]; ok {
		delete(me.dropped, addr)
		return
	}
	if me.added == nil {
		me.added = make(map[netip.AddrPort]pexMsgAdded, pexMaxDelta)
	}
	me.added[addr] = pexMsgAdded{addr, flags}
}

func (me *pexMsgFactory) Drop(addr netip.AddrPort) {
	if _, ok := me.added[addr]; ok {
		delete(me.added, addr)
		return
	}
	if me.dropped == nil {
		me.dropped = make(map[netip.AddrPort]struct{}, pexMaxDelta)
	}
	me.dropped[addr] = struct{}{}
}

func (me *pexMsgFactory) addEvent(event pexEvent) {
	switch event.t {
	case pexAdd:
		me.Add(event.addr, event.f)
	case pexDrop:
		me.Drop(event.addr)
	default:
		panic(event.t)
	}
}

func (me *pexMsgFactory) PexMsg() (ret wire.PexMsg) {
	for addr, added := range me.added {
		if addr.Addr().Is4() {
			ret.Added = wire.AppendCompactAddr(ret.Added, addr)
			ret.AddedFlags = append(ret.AddedFlags, byte(added.flags))
		} else {
			ret.Added6 = wire.AppendCompactAddr(ret.Added6, addr)
			ret.Added6Flags = append(ret.Added6Flags, byte(added.flags))
		}
	}
	for addr := range me.dropped {
		if addr.Addr().Is4() {
			ret.Dropped = wire.AppendCompactAddr(ret.Dropped, addr)
		} else {
			ret.Dropped6 = wire.AppendCompactAddr(ret.Dropped6, addr)
		}
	}
	return
}

// pexEvent builds the event this session contributes when it joins (t ==
// pexAdd) or leaves (t == pexDrop) a torrent's swarm.
func (ps *PeerSession) pexEvent(t pexEventType) pexEvent {
	var f wire.PexPeerFlags
	if ps.PrefersEncryption {
		f |= wire.PexPrefersEncryption
	}
	if ps.IsSeed() {
		f |= wire.PexSeed
	}
	if ps.Outgoing {
		f |= wire.PexOutgoing
	}
	if ps.SupportsUtp {
		f |= wire.PexSupportsUtp
	}
	return pexEvent{t: t, addr: ps.RemoteAddr, f: f}
}

// pexState is the per-torrent PEX state: an append-only event feed plus a
// drop hold-back buffer so a peer that disconnects and reconnects quickly
// doesn't churn every other peer's PEX message.
type pexState struct {
	ev   []pexEvent // event feed, append-only
	hold []pexEvent // delayed drops
	nc   int        // net number of alive conns
}

func (s *pexState) Reset() {
	s.ev = nil
	s.hold = nil
	s.nc = 0
}

func (s *pexState) Add(ps *PeerSession) {
	s.nc++
	if s.nc >= pexTargAdded {
		s.ev = append(s.ev, s.hold...)
		s.hold = s.hold[:0]
	}
	e := ps.pexEvent(pexAdd)
	s.ev = append(s.ev, e)
	ps.PexListed = true
}

func (s *pexState) Drop(ps *PeerSession) {
	if !ps.PexListed {
		// skip connections which were not previously Added
		return
	}
	e := ps.pexEvent(pexDrop)
	s.nc--
	if s.nc < pexTargAdded && len(s.hold) < pexMaxHold {
		s.hold = append(s.hold, e)
	} else {
		s.ev = append(s.ev, e)
	}
}

// Genmsg generates a PEX message from the event feed starting at start,
// returning the index to pass to the next call so successive calls produce
// incremental deltas.
func (s *pexState) Genmsg(start int) (wire.PexMsg, int) {
	var factory pexMsgFactory
	n := start
	for _, e := range s.ev[start:] {
		if start > 0 && factory.DeltaLen() >= pexMaxDelta {
			break
		}
		factory.addEvent(e)
		n++
	}
	return factory.PexMsg(), n
}
