package torrent

import (
	"container/heap"
	"fmt"
	"time"
	"unsafe"

	"github.com/anacrolix/missinggo/v2"
	"github.com/anacrolix/multiless"
	"github.com/anacrolix/sync"
)

// hasPreferredNetworkOver reports whether ps should be preferred over r
// purely on networking properties, with ok false when neither differs. TCP
// is preferred over uTP (no uTP transport exists in this engine yet, so
// this is currently a no-op distinguisher kept for when one is added), then
// IPv6 over IPv4, matching the tie-break a connection manager applies
// before falling back to usefulness and peer priority.
func (ps *PeerSession) hasPreferredNetworkOver(r *PeerSession) (left, ok bool) {
	var ml missinggo.MultiLess
	ml.NextBool(!ps.SupportsUtp, !r.SupportsUtp)
	ml.NextBool(ps.RemoteAddr.Addr().Is6(), r.RemoteAddr.Addr().Is6())
	return ml.FinalOk()
}

type worseConnInput struct {
	Useful              bool
	LastHelpful         time.Time
	CompletedHandshake  time.Time
	Session             *PeerSession
	GetPeerPriority     func() (peerPriority, error)
	getPeerPriorityOnce sync.Once
	peerPriority        peerPriority
	peerPriorityErr     error
	Pointer             uintptr
}

func (i *worseConnInput) doGetPeerPriority() {
	i.peerPriority, i.peerPriorityErr = i.GetPeerPriority()
}

func (i *worseConnInput) doGetPeerPriorityOnce() {
	i.getPeerPriorityOnce.Do(i.doGetPeerPriority)
}

func worseConnInputFromSession(p *PeerSession) worseConnInput {
	return worseConnInput{
		Useful:             p.useful(),
		LastHelpful:        p.lastHelpful(),
		CompletedHandshake: p.CompletedHandshake,
		Session:            p,
		Pointer:            uintptr(unsafe.Pointer(p)),
		GetPeerPriority:    p.peerPriority,
	}
}

// worseConn reports whether l is a strictly worse peer to keep connected
// than r, used when the connection manager needs to free a slot by closing
// the least valuable established session.
func worseConn(l, r *PeerSession) bool {
	li := worseConnInputFromSession(l)
	ri := worseConnInputFromSession(r)
	return li.Less(&ri)
}

func (i *worseConnInput) Less(r *worseConnInput) bool {
	less, ok := multiless.New().Bool(
		i.Useful, r.Useful).CmpInt64(
		i.LastHelpful.Sub(r.LastHelpful).Nanoseconds()).CmpInt64(
		i.CompletedHandshake.Sub(r.CompletedHandshake).Nanoseconds()).LazySameLess(
		func() (same, less bool) {
			if i.Session == nil || r.Session == nil {
				same = true
				return
			}
			left, ok := i.Session.hasPreferredNetworkOver(r.Session)
			if !ok {
				same = true
				return
			}
			less = !left
			return
		}).LazySameLess(
		func() (same, less bool) {
			i.doGetPeerPriorityOnce()
			if i.peerPriorityErr != nil {
				same = true
				return
			}
			r.doGetPeerPriorityOnce()
			if r.peerPriorityErr != nil {
				same = true
				return
			}
			same = i.peerPriority == r.peerPriority
			less = i.peerPriority < r.peerPriority
			return
		}).Uintptr(
		i.Pointer, r.Pointer,
	).LessOk()
	if !ok {
		panic(fmt.Sprintf("cannot differentiate %#v and %#v", i, r))
	}
	return less
}

// worseConnSlice is a container/heap of sessions ordered worst-first, used
// to pick eviction candidates when the connection count exceeds its limit.
type worseConnSlice struct {
	conns []*PeerSession
	keys  []worseConnInput
}

func (s *worseConnSlice) initKeys() {
	s.keys = make([]worseConnInput, len(s.conns))
	for i, c := range s.conns {
		s.keys[i] = worseConnInputFromSession(c)
	}
}

var _ heap.Interface = &worseConnSlice{}

func (s worseConnSlice) Len() int {
	return len(s.conns)
}

func (s worseConnSlice) Less(i, j int) bool {
	return s.keys[i].Less(&s.keys[j])
}

func (s *worseConnSlice) Pop() interface{} {
	i := len(s.conns) - 1
	ret := s.conns[i]
	s.conns = s.conns[:i]
	return ret
}

func (s *worseConnSlice) Push(x interface{}) {
	panic("not implemented")
}

func (s worseConnSlice) Swap(i, j int) {
	s.conns[i], s.conns[j] = s.conns[j], s.conns[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}
