// Package store persists peer session telemetry — bind/unbind cycles,
// completed pieces, disconnect reasons — to sqlite via gorm, the way
// gTorrent's db package persists download/tracker/peer rows. It is a
// PeerActivityListener, not the excluded storage collaborator: it never
// touches piece bytes, only the events the core already emits.
package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"peerwire/activity"
	"peerwire/peerid"
)

// SessionStore records peer activity events into a sqlite database.
type SessionStore struct {
	activity.NopListener
	db *gorm.DB

	mu       sync.Mutex
	sessions map[string]*SessionRecord // peer_id hex -> open session row
}

// Open runs AutoMigrate against path and returns a ready SessionStore.
func Open(path string) (*SessionStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SessionRecord{}, &PieceRecord{}); err != nil {
		return nil, err
	}
	return &SessionStore{
		db:       db,
		sessions: make(map[string]*SessionRecord),
	}, nil
}

// Close releases the underlying sqlite connection.
func (s *SessionStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OpenSession inserts a row for a newly bound peer, keyed by sessionID
// (the exchange.Exchange.SessionID uuid).
func (s *SessionStore) OpenSession(sessionID string, peer peerid.ID) {
	rec := &SessionRecord{
		SessionID: sessionID,
		PeerIP:    peer.IP,
		PeerPort:  peer.Port,
		PeerIDHex: peer.Hex(),
	}
	if err := s.db.Create(rec).Error; err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("session store: create failed")
		return
	}
	s.mu.Lock()
	s.sessions[peer.Hex()] = rec
	s.mu.Unlock()
}

func (s *SessionStore) PeerDisconnected(peer peerid.ID) {
	s.mu.Lock()
	rec, ok := s.sessions[peer.Hex()]
	if ok {
		delete(s.sessions, peer.Hex())
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	rec.DisconnectedAt = time.Now().Unix()
	if err := s.db.Save(rec).Error; err != nil {
		log.Warn().Err(err).Str("peer", peer.String()).Msg("session store: save failed")
	}
}

func (s *SessionStore) IOError(peer peerid.ID, err error) {
	s.mu.Lock()
	rec, ok := s.sessions[peer.Hex()]
	s.mu.Unlock()
	if !ok {
		return
	}
	rec.DisconnectErr = err.Error()
	if saveErr := s.db.Save(rec).Error; saveErr != nil {
		log.Warn().Err(saveErr).Str("peer", peer.String()).Msg("session store: save failed")
	}
}

func (s *SessionStore) PieceCompleted(peer peerid.ID, pieceIndex uint32) {
	s.mu.Lock()
	rec, ok := s.sessions[peer.Hex()]
	s.mu.Unlock()
	if !ok {
		return
	}
	piece := &PieceRecord{
		SessionID:   rec.ID,
		PieceIndex:  pieceIndex,
		CompletedAt: time.Now().Unix(),
	}
	if err := s.db.Create(piece).Error; err != nil {
		log.Warn().Err(err).Str("peer", peer.String()).Msg("session store: piece insert failed")
	}
}

var _ activity.Listener = (*SessionStore)(nil)
