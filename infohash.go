package torrent

import "encoding/hex"

// PieceHash is a piece digest. Its width depends on the torrent's hash
// family: 20 bytes for the v1 (SHA-1) family, 32 for v2 (SHA-256). A v2
// torrent's piece carries both, compared independently.
type PieceHash []byte

func (h PieceHash) String() string {
	return hex.EncodeToString(h)
}

func (h PieceHash) Equal(o PieceHash) bool {
	if len(h) != len(o) {
		return false
	}
	for i := range h {
		if h[i] != o[i] {
			return false
		}
	}
	return true
}

// HashFamily distinguishes which digest a torrent's pieces carry.
type HashFamily int

const (
	HashFamilyV1 HashFamily = iota // SHA-1, 20 bytes
	HashFamilyV2                   // SHA-256, 32 bytes
)

func (f HashFamily) Size() int {
	switch f {
	case HashFamilyV2:
		return 32
	default:
		return 20
	}
}
