package wire

import (
	"encoding/binary"
	"io"

	"peerwire/torrentiface"
)

// MaxFrameLength bounds a single frame's declared length to guard against
// a hostile or corrupt peer claiming a multi-gigabyte payload. It is well
// above any legitimate PIECE frame (a 9-byte payload header plus a block
// no larger than the 128 KiB maximum request size).
const MaxFrameLength = 1 << 20 // 1 MiB

// ReadFrame reads one length-prefixed frame from r: a 4-byte big-endian
// length followed by that many payload bytes. A zero-length frame (a
// KEEP_ALIVE) is reported as a nil payload with a nil error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, nil
	}
	if length > MaxFrameLength {
		return nil, ErrMalformedFrame
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Encode renders m as a complete frame: 4-byte big-endian length prefix
// followed by the type byte (if any) and type-specific fields, all
// integers big-endian.
func Encode(m Message) []byte {
	switch msg := m.(type) {
	case KeepAliveMsg:
		return []byte{0, 0, 0, 0}
	case ChokeMsg:
		return frame(TypeChoke, nil)
	case UnchokeMsg:
		return frame(TypeUnchoke, nil)
	case InterestedMsg:
		return frame(TypeInterested, nil)
	case NotInterestedMsg:
		return frame(TypeNotInterested, nil)
	case HaveMsg:
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, msg.PieceIndex)
		return frame(TypeHave, payload)
	case BitfieldMsg:
		return frame(TypeBitfield, msg.Bits.Bytes())
	case RequestMsg:
		return frame(TypeRequest, requestPayload(msg.PieceIndex, msg.Offset, msg.Length))
	case CancelMsg:
		return frame(TypeCancel, requestPayload(msg.PieceIndex, msg.Offset, msg.Length))
	case PieceMsg:
		payload := make([]byte, 8+len(msg.Block))
		binary.BigEndian.PutUint32(payload[0:4], msg.PieceIndex)
		binary.BigEndian.PutUint32(payload[4:8], msg.Offset)
		copy(payload[8:], msg.Block)
		return frame(TypePiece, payload)
	default:
		panic("wire: Encode: unknown message type")
	}
}

func requestPayload(piece, offset, length uint32) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], piece)
	binary.BigEndian.PutUint32(payload[4:8], offset)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return payload
}

func frame(t MessageType, fields []byte) []byte {
	length := uint32(1 + len(fields))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(t)
	copy(buf[5:], fields)
	return buf
}

// Decode parses an already-framed payload (as returned by ReadFrame)
// into a Message, then runs the semantic validation of §4.1 against t:
// HAVE and BITFIELD indices/highest-bit must be within t's piece count,
// and REQUEST/CANCEL/PIECE offsets and lengths must fit inside the
// target piece. A nil payload decodes to KeepAliveMsg.
func Decode(payload []byte, t torrentiface.Torrent) (Message, error) {
	if len(payload) == 0 {
		return KeepAliveMsg{}, nil
	}

	msgType := MessageType(payload[0])
	body := payload[1:]

	switch msgType {
	case TypeChoke:
		if len(body) != 0 {
			return nil, ErrMalformedFrame
		}
		return ChokeMsg{}, nil
	case TypeUnchoke:
		if len(body) != 0 {
			return nil, ErrMalformedFrame
		}
		return UnchokeMsg{}, nil
	case TypeInterested:
		if len(body) != 0 {
			return nil, ErrMalformedFrame
		}
		return InterestedMsg{}, nil
	case TypeNotInterested:
		if len(body) != 0 {
			return nil, ErrMalformedFrame
		}
		return NotInterestedMsg{}, nil
	case TypeHave:
		if len(body) != 4 {
			return nil, ErrMalformedFrame
		}
		index := binary.BigEndian.Uint32(body)
		if index >= t.PieceCount() {
			return nil, semanticf(TypeHave, "piece index %d >= piece count %d", index, t.PieceCount())
		}
		return HaveMsg{PieceIndex: index}, nil
	case TypeBitfield:
		pieceCount := int(t.PieceCount())
		// Check the raw payload before it's folded into a pieceCount-sized
		// BitSet: that BitSet's own Test/HighestSetBit are capped at
		// pieceCount, so a bit set past it would otherwise be silently
		// dropped instead of rejected.
		if hi := HighestSetBitRaw(body); hi >= pieceCount {
			return nil, semanticf(TypeBitfield, "highest set bit %d >= piece count %d", hi, pieceCount)
		}
		bits := BitSetFromBytes(body, pieceCount)
		return BitfieldMsg{Bits: bits}, nil
	case TypeRequest:
		piece, offset, length, err := parseBlockFields(body)
		if err != nil {
			return nil, err
		}
		if err := validateBlockRange(TypeRequest, t, piece, offset, length); err != nil {
			return nil, err
		}
		return RequestMsg{PieceIndex: piece, Offset: offset, Length: length}, nil
	case TypeCancel:
		piece, offset, length, err := parseBlockFields(body)
		if err != nil {
			return nil, err
		}
		if err := validateBlockRange(TypeCancel, t, piece, offset, length); err != nil {
			return nil, err
		}
		return CancelMsg{PieceIndex: piece, Offset: offset, Length: length}, nil
	case TypePiece:
		if len(body) < 8 {
			return nil, ErrMalformedFrame
		}
		piece := binary.BigEndian.Uint32(body[0:4])
		offset := binary.BigEndian.Uint32(body[4:8])
		block := body[8:]
		if err := validateBlockRange(TypePiece, t, piece, offset, uint32(len(block))); err != nil {
			return nil, err
		}
		return PieceMsg{PieceIndex: piece, Offset: offset, Block: block}, nil
	default:
		return nil, ErrUnknownType
	}
}

func parseBlockFields(body []byte) (piece, offset, length uint32, err error) {
	if len(body) != 12 {
		return 0, 0, 0, ErrMalformedFrame
	}
	piece = binary.BigEndian.Uint32(body[0:4])
	offset = binary.BigEndian.Uint32(body[4:8])
	length = binary.BigEndian.Uint32(body[8:12])
	return piece, offset, length, nil
}

func validateBlockRange(t MessageType, tor torrentiface.Torrent, piece, offset, length uint32) error {
	if piece >= tor.PieceCount() {
		return semanticf(t, "piece index %d >= piece count %d", piece, tor.PieceCount())
	}
	ph := tor.Piece(piece)
	if ph == nil {
		return semanticf(t, "piece index %d has no handle", piece)
	}
	size := ph.Size()
	if uint64(offset)+uint64(length) > uint64(size) {
		return semanticf(t, "offset %d + length %d exceeds piece size %d", offset, length, size)
	}
	return nil
}
