// Package peerid holds the immutable identity of a remote peer.
package peerid

import (
	"encoding/hex"
	"fmt"
)

// ID is the immutable (ip, port, peer_id) triple that identifies a remote
// peer. Two IDs are equal iff their PeerID fields are equal, per §3.
type ID struct {
	IP     string
	Port   uint16
	PeerID [20]byte
}

// New builds an ID, panicking if port is outside the valid 1..65535
// range (a programming error on the caller's part, same category as
// AlreadyBound/AlreadyDownloading in §7).
func New(ip string, port uint16, peerID [20]byte) ID {
	if port == 0 {
		panic("peerid: port must be in 1..65535")
	}
	return ID{IP: ip, Port: port, PeerID: peerID}
}

// Equal reports whether two identities refer to the same peer, by
// peer_id alone.
func (id ID) Equal(other ID) bool {
	return id.PeerID == other.PeerID
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.IP, id.Port)
}

// Hex returns the peer_id as a lowercase hex string, a stable map key
// and log field.
func (id ID) Hex() string {
	return hex.EncodeToString(id.PeerID[:])
}
