package store

// SaveSystemLog appends one engine event to the system_logs table, the
// sink the UI tails for a human-readable activity feed.
func (s *Store) SaveSystemLog(level, module, message string) {
	_, err := s.db.Exec(
		`INSERT INTO system_logs (timestamp, level, module, message) VALUES (?, ?, ?, ?)`,
		formatTime(timeNow()), level, module, message,
	)
	logSwallowed("SaveSystemLog", err)
}

// Cleanup deletes trade logs and system logs older than ageDays, plus DONE
// commands older than the same cutoff. Returns the number of rows removed
// from each table (best-effort; zero on failure).
func (s *Store) Cleanup(ageDays int) (tradeLogs, systemLogs, commands int64) {
	cutoff := formatTime(timeNow().AddDate(0, 0, -ageDays))

	if res, err := s.db.Exec(`DELETE FROM trade_logs WHERE timestamp < ?`, cutoff); err == nil {
		tradeLogs, _ = res.RowsAffected()
	} else {
		logSwallowed("Cleanup trade_logs", err)
	}

	if res, err := s.db.Exec(`DELETE FROM system_logs WHERE timestamp < ?`, cutoff); err == nil {
		systemLogs, _ = res.RowsAffected()
	} else {
		logSwallowed("Cleanup system_logs", err)
	}

	if res, err := s.db.Exec(`DELETE FROM command_queue WHERE status = 'DONE' AND created_at < ?`, cutoff); err == nil {
		commands, _ = res.RowsAffected()
	} else {
		logSwallowed("Cleanup command_queue", err)
	}

	return
}
