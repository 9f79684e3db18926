package wire

import "github.com/driftpeer/torrent/bencode"

// ExtendedHandshakeMessage is the payload of the BEP 10 extended handshake,
// sent as message id 0 on the Extended channel. Field names match the
// dictionary keys used on the wire; bencode tags drive encode/decode.
type ExtendedHandshakeMessage struct {
	M            map[ExtensionName]int64 `bencode:"m"`
	V            string                  `bencode:"v,omitempty"`
	Port         int                     `bencode:"p,omitempty"`
	MetadataSize int                     `bencode:"metadata_size,omitempty"`
	YourIP       string                  `bencode:"yourip,omitempty"`
	Ipv6         string                  `bencode:"ipv6,omitempty"`
	Ipv4         string                  `bencode:"ipv4,omitempty"`
	Reqq         int                     `bencode:"reqq,omitempty"`
	Encryption   bool                    `bencode:"e,omitempty"`
}

func (h *ExtendedHandshakeMessage) Marshal() ([]byte, error) {
	return bencode.Marshal(h)
}

func (h *ExtendedHandshakeMessage) Unmarshal(b []byte) error {
	return bencode.Unmarshal(b, h)
}

// MetadataExtensionMessage is the common envelope for BEP 9 ut_metadata
// request/data/reject sub-messages. For a data message, Piece's raw bytes
// follow the bencoded dict in the same extended payload and are handled by
// the caller, not this struct.
type MetadataExtensionMessage struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size,omitempty"`
}

func NewMetadataRequest(piece int) MetadataExtensionMessage {
	return MetadataExtensionMessage{MsgType: MetadataRequestMsgType, Piece: piece}
}

func NewMetadataReject(piece int) MetadataExtensionMessage {
	return MetadataExtensionMessage{MsgType: MetadataRejectMsgType, Piece: piece}
}

func NewMetadataData(piece, totalSize int) MetadataExtensionMessage {
	return MetadataExtensionMessage{MsgType: MetadataDataMsgType, Piece: piece, TotalSize: totalSize}
}

func (m *MetadataExtensionMessage) Marshal() ([]byte, error) {
	return bencode.Marshal(m)
}

func (m *MetadataExtensionMessage) Unmarshal(b []byte) error {
	return bencode.Unmarshal(b, m)
}

// HashRequestMessage, HashesMessage and HashRejectMessage are stub framings
// for the BEP 52 v2 hash-exchange extension messages (hashes request/reply
// over a merkle piece-layer tree). No torrent in this engine currently
// negotiates the v2 hash extension; these exist so the dispatch table has
// somewhere to route them rather than treating them as unsupported.
type HashRequestMessage struct {
	PiecesRoot [32]byte `bencode:"pieces_root"`
	BaseLayer  int      `bencode:"base_layer"`
	Index      int      `bencode:"index"`
	Length     int      `bencode:"length"`
	ProofLayers int     `bencode:"proof_layers"`
}

type HashesMessage struct {
	PiecesRoot [32]byte `bencode:"pieces_root"`
	BaseLayer  int      `bencode:"base_layer"`
	Index      int      `bencode:"index"`
	Length     int      `bencode:"length"`
	ProofLayers int     `bencode:"proof_layers"`
	Hashes     []byte   `bencode:"hashes"`
}

type HashRejectMessage struct {
	PiecesRoot [32]byte `bencode:"pieces_root"`
	BaseLayer  int      `bencode:"base_layer"`
	Index      int      `bencode:"index"`
	Length     int      `bencode:"length"`
	ProofLayers int     `bencode:"proof_layers"`
}

func (m *HashRequestMessage) Marshal() ([]byte, error) { return bencode.Marshal(m) }
func (m *HashRequestMessage) Unmarshal(b []byte) error { return bencode.Unmarshal(b, m) }

func (m *HashesMessage) Marshal() ([]byte, error) { return bencode.Marshal(m) }
func (m *HashesMessage) Unmarshal(b []byte) error { return bencode.Unmarshal(b, m) }

func (m *HashRejectMessage) Marshal() ([]byte, error) { return bencode.Marshal(m) }
func (m *HashRejectMessage) Unmarshal(b []byte) error { return bencode.Unmarshal(b, m) }

// RejectFrom builds the HashReject we send in response to req, mirroring
// its identifying fields back so the peer can match it to its request.
func RejectFrom(req HashRequestMessage) HashRejectMessage {
	return HashRejectMessage{
		PiecesRoot:  req.PiecesRoot,
		BaseLayer:   req.BaseLayer,
		Index:       req.Index,
		Length:      req.Length,
		ProofLayers: req.ProofLayers,
	}
}
