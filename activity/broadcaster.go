package activity

import (
	"sync"

	"peerwire/peerid"
	"peerwire/wire"
)

// Broadcaster fans a single event stream out to any number of
// registered Listeners. It is itself a Listener, so a SharingPeer only
// ever needs to hold one.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewBroadcaster returns a Broadcaster with no listeners registered.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Register adds l to the set of listeners notified of every event.
func (b *Broadcaster) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *Broadcaster) snapshot() []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Listener, len(b.listeners))
	copy(out, b.listeners)
	return out
}

func (b *Broadcaster) PeerChoked(peer peerid.ID) {
	for _, l := range b.snapshot() {
		l.PeerChoked(peer)
	}
}

func (b *Broadcaster) PeerReady(peer peerid.ID) {
	for _, l := range b.snapshot() {
		l.PeerReady(peer)
	}
}

func (b *Broadcaster) PieceAvailability(peer peerid.ID, pieceIndex uint32) {
	for _, l := range b.snapshot() {
		l.PieceAvailability(peer, pieceIndex)
	}
}

func (b *Broadcaster) BitfieldAvailability(peer peerid.ID, bits *wire.BitSet) {
	for _, l := range b.snapshot() {
		l.BitfieldAvailability(peer, bits)
	}
}

func (b *Broadcaster) PieceSent(peer peerid.ID, pieceIndex uint32) {
	for _, l := range b.snapshot() {
		l.PieceSent(peer, pieceIndex)
	}
}

func (b *Broadcaster) PieceCompleted(peer peerid.ID, pieceIndex uint32) {
	for _, l := range b.snapshot() {
		l.PieceCompleted(peer, pieceIndex)
	}
}

func (b *Broadcaster) PeerDisconnected(peer peerid.ID) {
	for _, l := range b.snapshot() {
		l.PeerDisconnected(peer)
	}
}

func (b *Broadcaster) IOError(peer peerid.ID, err error) {
	for _, l := range b.snapshot() {
		l.IOError(peer, err)
	}
}

var _ Listener = (*Broadcaster)(nil)
