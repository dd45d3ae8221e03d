package store

import (
	"database/sql"
	"encoding/json"
)

// SetJSON marshals value and upserts it under key. Best-effort: errors are
// logged and swallowed.
func (s *Store) SetJSON(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		logSwallowed("SetJSON marshal "+key, err)
		return
	}
	_, err = s.db.Exec(
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), formatTime(timeNow()),
	)
	logSwallowed("SetJSON exec "+key, err)
}

// GetJSON loads the value under key into dest. Returns false if the key is
// absent, unreadable, or the stored JSON doesn't unmarshal into dest —
// callers should treat false the same as "nothing there yet".
func (s *Store) GetJSON(key string, dest any) bool {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		logSwallowed("GetJSON query "+key, err)
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		logSwallowed("GetJSON unmarshal "+key, err)
		return false
	}
	return true
}

// Delete removes a kv_store key, if present.
func (s *Store) Delete(key string) {
	_, err := s.db.Exec(`DELETE FROM kv_store WHERE key = ?`, key)
	logSwallowed("Delete "+key, err)
}

// timeNow exists so tests can monkeypatch via a package-level var without
// pulling a clock interface into every call site.
var timeNow = defaultNow
