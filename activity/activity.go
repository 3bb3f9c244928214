// Package activity defines the PeerActivityListener callback surface by
// which the sharing-peer core notifies the enclosing client of
// connection and transfer lifecycle events (§6, §9). A Listener is a
// small capability object, not a base class: the core holds a set of
// them and calls every method on every registered Listener for each
// event, per §9's "listener set instead of subclassing" design note.
package activity

import (
	"peerwire/peerid"
	"peerwire/wire"
)

// Listener receives peer lifecycle notifications. Implementations MUST
// NOT block indefinitely (§5); anything heavier than a counter bump or a
// channel send should be dispatched asynchronously by the implementation
// itself.
type Listener interface {
	// PeerChoked fires when the remote peer has started refusing to
	// serve us (we received CHOKE).
	PeerChoked(peer peerid.ID)
	// PeerReady fires when the remote peer is willing to serve us
	// (UNCHOKE) or when we just finished a piece and are open to
	// another assignment. The swarm scheduler should treat this as an
	// invitation to call downloadPiece on the peer.
	PeerReady(peer peerid.ID)
	// PieceAvailability fires when a HAVE updates one bit of a peer's
	// availability.
	PieceAvailability(peer peerid.ID, pieceIndex uint32)
	// BitfieldAvailability fires when a peer's full availability set is
	// installed or replaced by a BITFIELD message.
	BitfieldAvailability(peer peerid.ID, bits *wire.BitSet)
	// PieceSent fires after the last block of pieceIndex has been
	// queued for sending to a peer we are uploading to.
	PieceSent(peer peerid.ID, pieceIndex uint32)
	// PieceCompleted fires once a piece downloaded from peer has had
	// all of its blocks recorded and validation has run.
	PieceCompleted(peer peerid.ID, pieceIndex uint32)
	// PeerDisconnected fires once a connection has fully torn down,
	// gracefully or forcibly.
	PeerDisconnected(peer peerid.ID)
	// IOError fires on any I/O or codec failure attributable to peer,
	// whether or not it also triggers a forced unbind.
	IOError(peer peerid.ID, err error)
}

// NopListener implements Listener with no-op methods, useful as a base
// to embed when a caller only cares about one or two events.
type NopListener struct{}

func (NopListener) PeerChoked(peerid.ID)                              {}
func (NopListener) PeerReady(peerid.ID)                               {}
func (NopListener) PieceAvailability(peerid.ID, uint32)               {}
func (NopListener) BitfieldAvailability(peerid.ID, *wire.BitSet)      {}
func (NopListener) PieceSent(peerid.ID, uint32)                       {}
func (NopListener) PieceCompleted(peerid.ID, uint32)                  {}
func (NopListener) PeerDisconnected(peerid.ID)                        {}
func (NopListener) IOError(peerid.ID, error)                          {}

var _ Listener = NopListener{}
