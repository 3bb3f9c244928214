package wire

import (
	"bytes"
	"errors"
	"testing"

	"peerwire/torrentfake"
)

func TestReadFrameKeepAlive(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0, 0, 0})
	payload, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if payload != nil {
		t.Fatalf("expected nil payload for keep-alive, got %v", payload)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	lenBuf := []byte{0, 0x20, 0, 0} // well above MaxFrameLength
	r := bytes.NewReader(lenBuf)
	if _, err := ReadFrame(r); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tor := torrentfake.New(4, 16384, 16384)

	cases := []Message{
		ChokeMsg{},
		UnchokeMsg{},
		InterestedMsg{},
		NotInterestedMsg{},
		HaveMsg{PieceIndex: 2},
		RequestMsg{PieceIndex: 1, Offset: 0, Length: 16384},
		CancelMsg{PieceIndex: 1, Offset: 0, Length: 16384},
		PieceMsg{PieceIndex: 0, Offset: 0, Block: bytes.Repeat([]byte{0xAB}, 16384)},
	}

	for _, want := range cases {
		t.Run(want.Type().String(), func(t *testing.T) {
			framed := Encode(want)
			length := framed[0:4]
			if length[0] != 0 {
				t.Fatalf("frame length prefix unexpectedly large: %v", length)
			}
			payload, err := ReadFrame(bytes.NewReader(framed))
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			got, err := Decode(payload, tor)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type() != want.Type() {
				t.Fatalf("type mismatch: got %v want %v", got.Type(), want.Type())
			}
		})
	}
}

func TestEncodeDecodeBitfieldRoundTrip(t *testing.T) {
	tor := torrentfake.New(17, 16384, 8192)

	bits := NewBitSet(17)
	bits.Set(0)
	bits.Set(5)
	bits.Set(16)

	framed := Encode(BitfieldMsg{Bits: bits})
	payload, err := ReadFrame(bytes.NewReader(framed))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	got, err := Decode(payload, tor)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	bf, ok := got.(BitfieldMsg)
	if !ok {
		t.Fatalf("expected BitfieldMsg, got %T", got)
	}
	for _, i := range []int{0, 5, 16} {
		if !bf.Bits.Test(i) {
			t.Errorf("bit %d should be set", i)
		}
	}
	for _, i := range []int{1, 2, 3, 4, 6, 15} {
		if bf.Bits.Test(i) {
			t.Errorf("bit %d should not be set", i)
		}
	}
}

func TestDecodeBitfieldRejectsBitBeyondPieceCount(t *testing.T) {
	tor := torrentfake.New(17, 16384, 8192)

	// Bit 17 lives in the third byte's padding range (piece_count=17 only
	// addresses bits 0..16); a BitSet capped at n=17 can never see it, so
	// decode must catch it against the raw payload instead.
	body := make([]byte, 3)
	body[2] = 0x40 // bit index 17
	framed := frame(TypeBitfield, body)

	payload, err := ReadFrame(bytes.NewReader(framed))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	_, err = Decode(payload, tor)
	if !errors.Is(err, ErrSemanticInvalid) {
		t.Fatalf("expected ErrSemanticInvalid, got %v", err)
	}
}

func TestDecodeBitfieldAcceptsHighestBitExactlyAtPieceCountMinusOne(t *testing.T) {
	tor := torrentfake.New(17, 16384, 8192)

	body := make([]byte, 3)
	body[2] = 0x80 // bit index 16, the last valid piece index (piece_count-1)
	framed := frame(TypeBitfield, body)

	payload, err := ReadFrame(bytes.NewReader(framed))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	got, err := Decode(payload, tor)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	bf := got.(BitfieldMsg)
	if !bf.Bits.Test(16) {
		t.Fatalf("expected bit 16 to be set")
	}
}

func TestDecodeHaveOutOfRange(t *testing.T) {
	tor := torrentfake.New(4, 16384, 16384)
	framed := Encode(HaveMsg{PieceIndex: 4}) // valid indices are 0..3
	payload, _ := ReadFrame(bytes.NewReader(framed))
	_, err := Decode(payload, tor)
	if !errors.Is(err, ErrSemanticInvalid) {
		t.Fatalf("expected ErrSemanticInvalid, got %v", err)
	}
}

func TestDecodeRequestOversizedForPiece(t *testing.T) {
	tor := torrentfake.New(2, 16384, 16384)
	framed := Encode(RequestMsg{PieceIndex: 0, Offset: 16000, Length: 1000})
	payload, _ := ReadFrame(bytes.NewReader(framed))
	_, err := Decode(payload, tor)
	if !errors.Is(err, ErrSemanticInvalid) {
		t.Fatalf("expected ErrSemanticInvalid, got %v", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	tor := torrentfake.New(1, 16384, 16384)
	_, err := Decode([]byte{0x7F}, tor)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeMalformedChoke(t *testing.T) {
	tor := torrentfake.New(1, 16384, 16384)
	_, err := Decode([]byte{byte(TypeChoke), 0x01}, tor)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}
