package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Integer is the wire-format integer: a big-endian uint32 field as used by
// piece index, begin offset, and length throughout the base protocol.
type Integer uint32

// Message is a lazy union of every possible wire message. Go has no sum
// types, so — as in the source — one struct carries every field any
// message kind might need, and only the fields relevant to Type are valid.
type Message struct {
	Keepalive            bool
	Type                 MessageType
	Index, Begin, Length Integer
	Piece                []byte
	Bitfield             []bool
	ExtendedID           ExtensionNumber
	ExtendedPayload      []byte
	Port                 uint16

	// HashPayload carries the bencoded body of a BEP 52 HashRequest/
	// Hashes/HashReject message. Unlike Extended, these travel under
	// their own top-level message IDs rather than a shared envelope.
	HashPayload []byte
}

// BlockInfo identifies a sub-range of a piece: the unit of request.
type BlockInfo struct {
	PieceIndex Integer
	Offset     Integer
	Length     Integer
}

func (b BlockInfo) RequestMessage() Message {
	return Message{Type: Request, Index: b.PieceIndex, Begin: b.Offset, Length: b.Length}
}

func (b BlockInfo) CancelMessage() Message {
	return Message{Type: Cancel, Index: b.PieceIndex, Begin: b.Offset, Length: b.Length}
}

func (b BlockInfo) RejectMessage() Message {
	return Message{Type: Reject, Index: b.PieceIndex, Begin: b.Offset, Length: b.Length}
}

func BlockInfoFromMessage(m *Message) BlockInfo {
	length := m.Length
	if m.Type == Piece {
		length = Integer(len(m.Piece))
	}
	return BlockInfo{PieceIndex: m.Index, Offset: m.Begin, Length: length}
}

func NewKeepAlive() Message { return Message{Keepalive: true} }

func NewChoke() Message   { return Message{Type: Choke} }
func NewUnchoke() Message { return Message{Type: Unchoke} }

func NewInterested(v bool) Message {
	t := NotInterested
	if v {
		t = Interested
	}
	return Message{Type: t}
}

func NewHave(piece Integer) Message       { return Message{Type: Have, Index: piece} }
func NewHaveAll() Message                 { return Message{Type: HaveAll} }
func NewHaveNone() Message                { return Message{Type: HaveNone} }
func NewBitfield(bits []bool) Message     { return Message{Type: Bitfield, Bitfield: bits} }
func NewSuggest(piece Integer) Message    { return Message{Type: Suggest, Index: piece} }
func NewAllowedFast(piece Integer) Message {
	return Message{Type: AllowedFast, Index: piece}
}
func NewPort(p uint16) Message { return Message{Type: Port, Port: p} }

func NewPiece(index, begin Integer, data []byte) Message {
	return Message{Type: Piece, Index: index, Begin: begin, Piece: data}
}

func NewExtended(id ExtensionNumber, payload []byte) Message {
	return Message{Type: Extended, ExtendedID: id, ExtendedPayload: payload}
}

func NewHashRequest(payload []byte) Message {
	return Message{Type: HashRequest, HashPayload: payload}
}

func NewHashes(payload []byte) Message {
	return Message{Type: Hashes, HashPayload: payload}
}

func NewHashReject(payload []byte) Message {
	return Message{Type: HashReject, HashPayload: payload}
}

// MarshalBinary encodes msg into a length-prefixed wire frame.
func (msg Message) MarshalBinary() (data []byte, err error) {
	buf := &bytes.Buffer{}
	if !msg.Keepalive {
		if err = buf.WriteByte(byte(msg.Type)); err != nil {
			return nil, err
		}
		switch msg.Type {
		case Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone:
		case Have, AllowedFast, Suggest:
			err = binary.Write(buf, binary.BigEndian, msg.Index)
		case Request, Cancel, Reject:
			for _, v := range []Integer{msg.Index, msg.Begin, msg.Length} {
				if err = binary.Write(buf, binary.BigEndian, v); err != nil {
					break
				}
			}
		case Bitfield:
			_, err = buf.Write(marshalBitfield(msg.Bitfield))
		case Piece:
			for _, v := range []Integer{msg.Index, msg.Begin} {
				if err = binary.Write(buf, binary.BigEndian, v); err != nil {
					return nil, err
				}
			}
			_, err = buf.Write(msg.Piece)
		case Extended:
			if err = buf.WriteByte(byte(msg.ExtendedID)); err != nil {
				return nil, err
			}
			_, err = buf.Write(msg.ExtendedPayload)
		case Port:
			err = binary.Write(buf, binary.BigEndian, msg.Port)
		case HashRequest, Hashes, HashReject:
			_, err = buf.Write(msg.HashPayload)
		default:
			err = errors.Errorf("wire: unknown message type %v", msg.Type)
		}
		if err != nil {
			return nil, err
		}
	}
	data = make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(data, uint32(buf.Len()))
	copy(data[4:], buf.Bytes())
	return data, nil
}

func marshalBitfield(bf []bool) []byte {
	b := make([]byte, (len(bf)+7)/8)
	for i, have := range bf {
		if have {
			b[i/8] |= 1 << uint(7-i%8)
		}
	}
	return b
}

func unmarshalBitfield(b []byte) []bool {
	bf := make([]bool, len(b)*8)
	for i := range bf {
		bf[i] = b[i/8]&(1<<uint(7-i%8)) != 0
	}
	return bf
}
