package wire

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
)

// HandshakeResult carries the peer identity agreed on during the handshake
// exchange: the info-hash the peer confirmed, its peer ID, and the
// extension bits it advertised.
type HandshakeResult struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Bits     ExtensionBits
}

// Handshake performs the synchronous wire handshake over rw: writes our
// side, reads the peer's, and validates the protocol string and info-hash
// match before either party sends another message. Handshake does not
// itself enforce timeouts: ctx is checked only once the exchange has
// completed, so a blocked read on rw is not interrupted by it.
func Handshake(ctx context.Context, rw io.ReadWriter, infoHash [20]byte, peerID [20]byte, bits ExtensionBits) (res HandshakeResult, err error) {
	writeErr := make(chan error, 1)
	go func() {
		var buf bytes.Buffer
		buf.WriteString(Protocol)
		buf.Write(bits[:])
		buf.Write(infoHash[:])
		buf.Write(peerID[:])
		_, err := rw.Write(buf.Bytes())
		writeErr <- err
	}()

	var their [68]byte
	if _, err = io.ReadFull(rw, their[:]); err != nil {
		return res, errors.Wrap(err, "wire: reading handshake")
	}
	if err = <-writeErr; err != nil {
		return res, errors.Wrap(err, "wire: writing handshake")
	}

	if !bytes.Equal(their[:20], []byte(Protocol)) {
		return res, errors.New("wire: unrecognized protocol string in handshake")
	}
	copy(res.Bits[:], their[20:28])
	copy(res.InfoHash[:], their[28:48])
	copy(res.PeerID[:], their[48:68])

	if res.InfoHash != infoHash {
		return res, errors.New("wire: peer handshake info-hash mismatch")
	}

	select {
	case <-ctx.Done():
		return res, ctx.Err()
	default:
		return res, nil
	}
}
