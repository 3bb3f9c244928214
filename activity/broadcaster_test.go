package activity

import (
	"testing"

	"peerwire/peerid"
)

type countingListener struct {
	NopListener
	chokedCount int
	lastPiece   uint32
}

func (c *countingListener) PeerChoked(peerid.ID)                 { c.chokedCount++ }
func (c *countingListener) PieceCompleted(_ peerid.ID, i uint32)  { c.lastPiece = i }

func testPeer() peerid.ID {
	return peerid.New("203.0.113.9", 6881, [20]byte{5, 5, 5})
}

func TestBroadcasterFansOutToAllListeners(t *testing.T) {
	b := NewBroadcaster()
	a := &countingListener{}
	c := &countingListener{}
	b.Register(a)
	b.Register(c)

	b.PeerChoked(testPeer())
	b.PieceCompleted(testPeer(), 3)

	for _, l := range []*countingListener{a, c} {
		if l.chokedCount != 1 {
			t.Errorf("chokedCount = %d, want 1", l.chokedCount)
		}
		if l.lastPiece != 3 {
			t.Errorf("lastPiece = %d, want 3", l.lastPiece)
		}
	}
}

func TestBroadcasterWithNoListenersIsSafe(t *testing.T) {
	b := NewBroadcaster()
	b.PeerChoked(testPeer())
	b.PieceCompleted(testPeer(), 1)
	b.IOError(testPeer(), nil)
}

func TestBroadcasterRegisterAfterEventsOnlyAffectsFutureEvents(t *testing.T) {
	b := NewBroadcaster()
	b.PeerChoked(testPeer()) // no listeners yet

	a := &countingListener{}
	b.Register(a)
	b.PeerChoked(testPeer())

	if a.chokedCount != 1 {
		t.Errorf("chokedCount = %d, want 1 (only events after Register)", a.chokedCount)
	}
}
