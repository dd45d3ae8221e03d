package store

import (
	"database/sql"

	"github.com/kiwoom-bot/daytrader/internal/models"
)

// PushCommand enqueues a new PENDING command. Used by the UI/backtest
// callers, kept here so both sides share the schema.
func (s *Store) PushCommand(cmdType models.CommandType, payload string) error {
	_, err := s.db.Exec(
		`INSERT INTO command_queue (cmd_type, payload, status, created_at) VALUES (?, ?, 'PENDING', ?)`,
		string(cmdType), payload, formatTime(timeNow()),
	)
	return err
}

// PopCommand atomically selects the oldest PENDING command, marks it DONE,
// and returns it — one transaction on the store's single connection, so a
// command is delivered to at most one consumer even under concurrent
// callers.
func (s *Store) PopCommand() (*models.Command, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var cmd models.Command
	var id int64
	var cmdType, payload, status, createdAt string
	err = tx.QueryRow(
		`SELECT id, cmd_type, payload, status, created_at FROM command_queue
		 WHERE status = 'PENDING' ORDER BY id ASC LIMIT 1`,
	).Scan(&id, &cmdType, &payload, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`UPDATE command_queue SET status = 'DONE' WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	cmd = models.Command{
		ID:        id,
		Type:      models.CommandType(cmdType),
		Payload:   payload,
		Status:    models.CommandDone,
		CreatedAt: parseTime(createdAt),
	}
	return &cmd, nil
}
