package store

import "gorm.io/gorm"

// SessionRecord is one bind/unbind cycle with a remote peer, the
// session-telemetry analogue of gTorrent's db/models.Download: not
// piece data (that stays with the storage collaborator per §6) but the
// lifecycle and throughput of the connection itself.
type SessionRecord struct {
	gorm.Model
	SessionID      string `gorm:"uniqueIndex"`
	PeerIP         string
	PeerPort       uint16
	PeerIDHex      string
	DisconnectedAt int64
	DisconnectErr  string

	Pieces []PieceRecord
}

// PieceRecord is one completed-piece event attributed to a session.
type PieceRecord struct {
	ID         uint `gorm:"primaryKey"`
	SessionID  uint
	PieceIndex uint32
	CompletedAt int64
}
