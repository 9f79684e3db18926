package wire

import (
	"net/netip"

	"github.com/pkg/errors"

	"github.com/driftpeer/torrent/bencode"
)

// PexPeerFlags are the per-peer flag byte accompanying each compact address
// in a BEP 11 peer-exchange message: bit 0 marks the peer as a prefers-encryption
// connection, bit 1 marks it as a seed, bit 2 marks uTP support, bit 4
// marks it as reachable (we connected out to it successfully).
type PexPeerFlags byte

const (
	PexPrefersEncryption PexPeerFlags = 1 << 0
	PexSeed              PexPeerFlags = 1 << 1
	PexSupportsUtp       PexPeerFlags = 1 << 2
	PexOutgoing          PexPeerFlags = 1 << 4
)

// PexMsg is the bencoded payload of a ut_pex extended message: added peers
// (with and without port 1), dropped peers, and a parallel flags byte
// string for the added set. IPv4 and IPv6 peers travel in separate key
// pairs since their compact address encodings differ in length.
type PexMsg struct {
	Added      []byte `bencode:"added"`
	AddedFlags []byte `bencode:"added.f"`
	Dropped    []byte `bencode:"dropped"`

	Added6      []byte `bencode:"added6"`
	Added6Flags []byte `bencode:"added6.f"`
	Dropped6    []byte `bencode:"dropped6"`
}

func (m *PexMsg) Marshal() ([]byte, error) {
	return bencode.Marshal(m)
}

func (m *PexMsg) Unmarshal(b []byte) error {
	return bencode.Unmarshal(b, m)
}

// AppendCompactAddr appends addr's compact wire representation (4 or 16
// byte address followed by a 2-byte big-endian port) to b.
func AppendCompactAddr(b []byte, addr netip.AddrPort) []byte {
	ip := addr.Addr()
	if ip.Is4() {
		a := ip.As4()
		b = append(b, a[:]...)
	} else {
		a := ip.As16()
		b = append(b, a[:]...)
	}
	port := addr.Port()
	return append(b, byte(port>>8), byte(port))
}

// ParseCompactAddrs splits a compact peer list (as used by added/added6 and
// the tracker compact response) into individual AddrPort values. addrLen is
// 4 for IPv4 entries, 16 for IPv6.
func ParseCompactAddrs(b []byte, addrLen int) ([]netip.AddrPort, error) {
	stride := addrLen + 2
	if len(b)%stride != 0 {
		return nil, errors.Errorf("wire: compact address list length %d not a multiple of %d", len(b), stride)
	}
	out := make([]netip.AddrPort, 0, len(b)/stride)
	for i := 0; i < len(b); i += stride {
		entry := b[i : i+stride]
		var ip netip.Addr
		if addrLen == 4 {
			ip = netip.AddrFrom4([4]byte(entry[:4]))
		} else {
			ip = netip.AddrFrom16([16]byte(entry[:16]))
		}
		port := uint16(entry[addrLen])<<8 | uint16(entry[addrLen+1])
		out = append(out, netip.AddrPortFrom(ip, port))
	}
	return out, nil
}
