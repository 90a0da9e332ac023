// Package storage persists node session ids so a restarted process can
// resume its sessions.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/keshon/lavaplay/datastore"
	"github.com/rs/zerolog"
)

const sessionPrefix = "session:"

type SessionRecord struct {
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Storage struct {
	ds     *datastore.DataStore
	logger zerolog.Logger
	now    func() time.Time
}

func New(filePath string, logger zerolog.Logger) (*Storage, error) {
	cfg := datastore.DefaultConfig(filePath)
	cfg.Logger = logger
	ds, err := datastore.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Storage{
		ds:     ds,
		logger: logger.With().Str("component", "storage").Logger(),
		now:    time.Now,
	}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// LoadSession returns the last session id stored for a link label.
func (s *Storage) LoadSession(label string) (string, bool) {
	var rec SessionRecord
	ok, err := s.ds.Get(sessionPrefix+label, &rec)
	if err != nil {
		s.logger.Warn().Err(err).Str("label", label).Msg("failed to read session record")
		return "", false
	}
	if !ok || rec.SessionID == "" {
		return "", false
	}
	return rec.SessionID, true
}

// SaveSession stores the session id of a link label and flushes it to disk.
func (s *Storage) SaveSession(label, sessionID string) error {
	rec := SessionRecord{SessionID: sessionID, UpdatedAt: s.now().UTC()}
	if err := s.ds.Put(sessionPrefix+label, rec); err != nil {
		return fmt.Errorf("store session of %s: %w", label, err)
	}
	if err := s.ds.Save(); err != nil {
		return fmt.Errorf("flush session of %s: %w", label, err)
	}
	return nil
}

// Sessions returns every stored session record keyed by link label.
func (s *Storage) Sessions() (map[string]SessionRecord, error) {
	out := make(map[string]SessionRecord)
	for _, key := range s.ds.Keys() {
		label, ok := strings.CutPrefix(key, sessionPrefix)
		if !ok {
			continue
		}
		var rec SessionRecord
		if _, err := s.ds.Get(key, &rec); err != nil {
			return nil, err
		}
		out[label] = rec
	}
	return out, nil
}
