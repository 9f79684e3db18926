package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const maxMessageLength = 1 << 23 // generous cap, larger than any legal piece-sized frame

// Decoder reads successive length-prefixed messages off r.
type Decoder struct {
	r io.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads exactly one message (or keep-alive) into msg.
func (d *Decoder) Decode(msg *Message) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	*msg = Message{}
	if length == 0 {
		msg.Keepalive = true
		return nil
	}
	if length > maxMessageLength {
		return errors.Errorf("wire: message length %d exceeds limit", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return err
	}

	msg.Type = MessageType(body[0])
	rest := body[1:]
	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone:
	case Have, AllowedFast, Suggest:
		if len(rest) != 4 {
			return errors.Errorf("wire: bad length for %v", msg.Type)
		}
		msg.Index = Integer(binary.BigEndian.Uint32(rest))
	case Request, Cancel, Reject:
		if len(rest) != 12 {
			return errors.Errorf("wire: bad length for %v", msg.Type)
		}
		msg.Index = Integer(binary.BigEndian.Uint32(rest[0:4]))
		msg.Begin = Integer(binary.BigEndian.Uint32(rest[4:8]))
		msg.Length = Integer(binary.BigEndian.Uint32(rest[8:12]))
	case Bitfield:
		msg.Bitfield = unmarshalBitfield(rest)
	case Piece:
		if len(rest) < 8 {
			return errors.Errorf("wire: bad piece message")
		}
		msg.Index = Integer(binary.BigEndian.Uint32(rest[0:4]))
		msg.Begin = Integer(binary.BigEndian.Uint32(rest[4:8]))
		msg.Piece = rest[8:]
	case Extended:
		if len(rest) < 1 {
			return errors.Errorf("wire: bad extended message")
		}
		msg.ExtendedID = ExtensionNumber(rest[0])
		msg.ExtendedPayload = rest[1:]
	case Port:
		if len(rest) != 2 {
			return errors.Errorf("wire: bad port message")
		}
		msg.Port = binary.BigEndian.Uint16(rest)
	case HashRequest, Hashes, HashReject:
		msg.HashPayload = rest
	default:
		return errors.Errorf("wire: unknown message type %d", msg.Type)
	}
	return nil
}
