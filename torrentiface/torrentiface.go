// Package torrentiface defines the collaborator interfaces the peer wire
// core consumes but never implements: metainfo, piece selection, hashing
// and on-disk storage all live on the other side of these interfaces, in
// whatever client embeds this core.
package torrentiface

// Torrent exposes just enough about a shared torrent for the wire codec
// and the sharing-peer state machine to validate and act on messages.
type Torrent interface {
	// PieceCount returns the number of pieces the torrent is divided into.
	PieceCount() uint32
	// Piece returns the handle for piece index, or nil if index is out of
	// range. Callers that already validated index against PieceCount may
	// assume a non-nil result.
	Piece(index uint32) PieceHandle
}

// PieceHandle is a single piece of torrent content: its identity, its
// size, and the means to read, accumulate and validate its bytes. The
// core treats it as opaque aside from Index and Size.
type PieceHandle interface {
	// Index is this piece's position in the torrent.
	Index() uint32
	// Size is this piece's length in bytes (the last piece of a torrent
	// is typically shorter than PieceLength).
	Size() uint32
	// Read returns length bytes of the piece starting at offset, for
	// serving an upload request. Implementations own any backing file.
	Read(offset, length uint32) ([]byte, error)
	// Record stores a downloaded block at offset within the piece.
	Record(block []byte, offset uint32) error
	// Validate runs the piece's integrity check (e.g. SHA-1 against the
	// metainfo hash) now that all of its bytes have been recorded, and
	// reports whether it passed.
	Validate() bool
	// IsValid reports whether this piece has already been validated and
	// may be served to other peers.
	IsValid() bool
}
