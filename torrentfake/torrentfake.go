// Package torrentfake is an in-memory stand-in for the torrentiface
// collaborator, used by tests of the wire, exchange and sharing
// packages. Piece hashing, on-disk storage and metainfo parsing are all
// explicitly out of scope for the peer wire core (§1); this fake gives
// tests something concrete to read, record and validate against without
// pulling any of that in.
package torrentfake

import (
	"sync"

	"peerwire/torrentiface"
)

// Piece is a fixed-size in-memory piece: its bytes accumulate via
// Record and "validation" is just a bool flip, since real hashing
// belongs to the excluded storage collaborator.
type Piece struct {
	mu      sync.Mutex
	index   uint32
	data    []byte
	valid   bool
	corrupt bool // if true, Validate() always reports false
}

func (p *Piece) Index() uint32 { return p.index }

func (p *Piece) Size() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(len(p.data))
}

func (p *Piece) Read(offset, length uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if uint64(offset)+uint64(length) > uint64(len(p.data)) {
		return nil, errOutOfRange
	}
	out := make([]byte, length)
	copy(out, p.data[offset:offset+length])
	return out, nil
}

func (p *Piece) Record(block []byte, offset uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if uint64(offset)+uint64(len(block)) > uint64(len(p.data)) {
		return errOutOfRange
	}
	copy(p.data[offset:], block)
	return nil
}

func (p *Piece) Validate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = !p.corrupt
	return p.valid
}

func (p *Piece) IsValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid
}

// MarkHeld seeds the piece as already complete and valid, for tests of
// the upload path (handling an incoming REQUEST).
func (p *Piece) MarkHeld(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.data, data)
	p.valid = true
}

var errOutOfRange = &rangeError{}

type rangeError struct{}

func (*rangeError) Error() string { return "torrentfake: offset+length out of range" }

// Torrent is an in-memory collection of fixed-size pieces.
type Torrent struct {
	pieces []*Piece
}

// New builds a Torrent of pieceCount pieces, each pieceSize bytes except
// the last which is lastPieceSize bytes (pass pieceSize again for a
// torrent with no short final piece).
func New(pieceCount int, pieceSize, lastPieceSize uint32) *Torrent {
	pieces := make([]*Piece, pieceCount)
	for i := range pieces {
		size := pieceSize
		if i == pieceCount-1 {
			size = lastPieceSize
		}
		pieces[i] = &Piece{index: uint32(i), data: make([]byte, size)}
	}
	return &Torrent{pieces: pieces}
}

func (t *Torrent) PieceCount() uint32 { return uint32(len(t.pieces)) }

// Piece implements torrentiface.Torrent. Use PieceAt in tests that need
// the concrete *Piece (e.g. to seed data with MarkHeld).
func (t *Torrent) Piece(index uint32) torrentiface.PieceHandle {
	p := t.PieceAt(index)
	if p == nil {
		return nil
	}
	return p
}

// PieceAt is a typed accessor for tests that want the concrete *Piece
// rather than the torrentiface.PieceHandle view.
func (t *Torrent) PieceAt(index uint32) *Piece {
	if int(index) >= len(t.pieces) {
		return nil
	}
	return t.pieces[index]
}

var _ torrentiface.Torrent = (*Torrent)(nil)
var _ torrentiface.PieceHandle = (*Piece)(nil)
