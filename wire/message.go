package wire

// MessageType identifies the type byte of a framed peer message. It has no
// meaning for KEEP_ALIVE, which carries no type byte at all.
type MessageType uint8

// Message type bytes, per the base BitTorrent peer protocol.
const (
	TypeChoke MessageType = iota
	TypeUnchoke
	TypeInterested
	TypeNotInterested
	TypeHave
	TypeBitfield
	TypeRequest
	TypePiece
	TypeCancel
	typeKeepAlive MessageType = 0xff // never written to the wire
)

func (t MessageType) String() string {
	switch t {
	case TypeChoke:
		return "choke"
	case TypeUnchoke:
		return "unchoke"
	case TypeInterested:
		return "interested"
	case TypeNotInterested:
		return "not_interested"
	case TypeHave:
		return "have"
	case TypeBitfield:
		return "bitfield"
	case TypeRequest:
		return "request"
	case TypePiece:
		return "piece"
	case TypeCancel:
		return "cancel"
	case typeKeepAlive:
		return "keep_alive"
	default:
		return "unknown"
	}
}

// Message is any parsed peer-protocol message. Concrete types below are
// immutable value structs; Type identifies which one a caller is holding
// without a type switch in the common case.
type Message interface {
	Type() MessageType
}

// KeepAliveMsg is sent (or received) as an empty, length-0 frame.
type KeepAliveMsg struct{}

func (KeepAliveMsg) Type() MessageType { return typeKeepAlive }

type ChokeMsg struct{}

func (ChokeMsg) Type() MessageType { return TypeChoke }

type UnchokeMsg struct{}

func (UnchokeMsg) Type() MessageType { return TypeUnchoke }

type InterestedMsg struct{}

func (InterestedMsg) Type() MessageType { return TypeInterested }

type NotInterestedMsg struct{}

func (NotInterestedMsg) Type() MessageType { return TypeNotInterested }

// HaveMsg announces that the sender now holds PieceIndex.
type HaveMsg struct {
	PieceIndex uint32
}

func (HaveMsg) Type() MessageType { return TypeHave }

// BitfieldMsg announces the full set of pieces the sender holds. Bits is
// sized to the torrent's piece count, not necessarily to a whole number of
// wire bytes.
type BitfieldMsg struct {
	Bits *BitSet
}

func (BitfieldMsg) Type() MessageType { return TypeBitfield }

// RequestMsg asks the receiver for a block: Length bytes of PieceIndex
// starting at byte Offset.
type RequestMsg struct {
	PieceIndex uint32
	Offset     uint32
	Length     uint32
}

func (RequestMsg) Type() MessageType { return TypeRequest }

// PieceMsg carries Block, the bytes of PieceIndex starting at Offset.
type PieceMsg struct {
	PieceIndex uint32
	Offset     uint32
	Block      []byte
}

func (PieceMsg) Type() MessageType { return TypePiece }

// CancelMsg withdraws a previously sent RequestMsg with the same fields.
type CancelMsg struct {
	PieceIndex uint32
	Offset     uint32
	Length     uint32
}

func (CancelMsg) Type() MessageType { return TypeCancel }
