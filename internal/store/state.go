package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// GetState returns a relay_state value; ok is false when the key is
// absent.
func (s *Store) GetState(key string) (string, bool, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM relay_state WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return val, true, nil
}

// SetState persists a relay_state value.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO relay_state (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

// IngestWatermark returns the message-log row id of the last dispatched
// row; ok is false when the watermark was never initialized.
func (s *Store) IngestWatermark() (int64, bool, error) {
	val, ok, err := s.GetState(StateIngestWatermark)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// SetIngestWatermark persists the watermark.
func (s *Store) SetIngestWatermark(id int64) error {
	return s.SetState(StateIngestWatermark, strconv.FormatInt(id, 10))
}
