// Package allowedfast computes the BEP 6 allowed-fast set: the pieces a peer
// may request from us while choked, derived deterministically from the
// peer's address, the torrent's infohash, and the piece count.
package allowedfast

import (
	"crypto/sha1"
	"encoding/binary"
	"net/netip"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
)

// Set computes the allowed-fast piece indices we grant a peer, per BEP 6.
//
// The reference algorithm hashes the masked peer IP concatenated with the
// infohash repeatedly, consuming the digest in 4-byte chunks modulo the
// piece count until k unique indices have been produced. The function is
// allocated fresh on every call and touches no shared state, so unlike the
// source's process-wide hasher singleton it needs no mutex: sha1.New() is
// cheap enough to construct per invocation.
func Set(addr netip.Addr, infohash [20]byte, numPieces uint64, k uint64) (*roaring.Bitmap, error) {
	if numPieces == 0 {
		return nil, errors.New("allowedfast: numPieces cannot be zero")
	}
	if k > numPieces {
		return nil, errors.New("allowedfast: k cannot exceed numPieces")
	}

	out := roaring.NewBitmap()
	if k == 0 {
		return out, nil
	}

	ip := addr.AsSlice()
	masked := make([]byte, 4)
	copy(masked, ip[:4])
	masked[3] = 0

	x := make([]byte, 0, len(masked)+len(infohash))
	x = append(x, masked...)
	x = append(x, infohash[:]...)

	for out.GetCardinality() < k {
		h := sha1.Sum(x)
		x = h[:]
		for i := 0; i < 5 && out.GetCardinality() < k; i++ {
			j := i * 4
			index := binary.BigEndian.Uint32(x[j:j+4]) % uint32(numPieces)
			out.Add(index)
		}
	}

	return out, nil
}
