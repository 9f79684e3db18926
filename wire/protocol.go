// Package wire implements the BitTorrent peer-wire protocol message types:
// BEP 3 (base protocol), BEP 6 (fast extension), BEP 10 (extension
// protocol), BEP 9 (metadata exchange) and BEP 11 (peer exchange) framing.
// Wire compatibility is exact; this package does not interpret messages,
// it only encodes and decodes them.
package wire

// Protocol is the BitTorrent handshake protocol tag. Any other string in
// that position aborts the connection.
const Protocol = "\x13BitTorrent protocol"

type MessageType byte

const (
	// BEP 3
	Choke         MessageType = 0
	Unchoke       MessageType = 1
	Interested    MessageType = 2
	NotInterested MessageType = 3
	Have          MessageType = 4
	Bitfield      MessageType = 5
	Request       MessageType = 6
	Piece         MessageType = 7
	Cancel        MessageType = 8
	Port          MessageType = 9

	// BEP 6 - fast extension
	Suggest     MessageType = 0x0d
	HaveAll     MessageType = 0x0e
	HaveNone    MessageType = 0x0f
	Reject      MessageType = 0x10
	AllowedFast MessageType = 0x11

	// BEP 10
	Extended MessageType = 0x14

	// BEP 52 - v2 hash exchange. These travel as their own top-level
	// message IDs, not through the extension protocol.
	HashRequest MessageType = 0x15
	Hashes      MessageType = 0x16
	HashReject  MessageType = 0x17
)

// FastExtension reports whether mt is one of the BEP 6 message kinds,
// which require the peer to have negotiated the fast-peer extension bit.
func (mt MessageType) FastExtension() bool {
	return mt >= Suggest && mt <= AllowedFast
}

func (mt MessageType) String() string {
	switch mt {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	case Port:
		return "Port"
	case Suggest:
		return "Suggest"
	case HaveAll:
		return "HaveAll"
	case HaveNone:
		return "HaveNone"
	case Reject:
		return "Reject"
	case AllowedFast:
		return "AllowedFast"
	case Extended:
		return "Extended"
	case HashRequest:
		return "HashRequest"
	case Hashes:
		return "Hashes"
	case HashReject:
		return "HashReject"
	default:
		return "Unknown"
	}
}

// Extension numbers used in the BEP 10 extended-message ID slot.
const (
	HandshakeExtendedID ExtensionNumber = 0
)

// Extension names, as exchanged in the 'm' dict of the extended handshake.
const (
	ExtensionNameMetadata ExtensionName = "ut_metadata"
	ExtensionNamePex      ExtensionName = "ut_pex"
	ExtensionNameChat     ExtensionName = "LT_chat"
)

type (
	ExtensionNumber int8
	ExtensionName   string
)

// Metadata extension (BEP 9) sub-message types.
const (
	MetadataRequestMsgType = 0
	MetadataDataMsgType    = 1
	MetadataRejectMsgType  = 2
)

// ExtensionBit positions within the 8-byte reserved handshake field.
const (
	ExtensionBitDht  = 0 // BEP 5
	ExtensionBitFast = 2 // BEP 6
	ExtensionBitLtep = 20
)

// ExtensionBits is the 8-byte reserved field of the handshake.
type ExtensionBits [8]byte

func NewExtensionBits(bits ...uint) (ret ExtensionBits) {
	for _, b := range bits {
		ret.SetBit(b, true)
	}
	return
}

func (b *ExtensionBits) SetBit(bit uint, on bool) {
	if on {
		b[7-bit/8] |= 1 << (bit % 8)
	} else {
		b[7-bit/8] &^= 1 << (bit % 8)
	}
}

func (b ExtensionBits) GetBit(bit uint) bool {
	return b[7-bit/8]&(1<<(bit%8)) != 0
}

// Supported reports whether every bit in bits is set in the peer's
// reserved field.
func (b ExtensionBits) Supported(bits ...uint) bool {
	for _, bit := range bits {
		if !b.GetBit(bit) {
			return false
		}
	}
	return true
}
