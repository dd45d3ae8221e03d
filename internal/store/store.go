// Package store is the engine's persistence substrate: a kv table, an
// append-only trade log, a FIFO command queue, and a system log, all in one
// embedded sqlite database opened in WAL mode with a 30s busy timeout.
// Grounded on SynapseStrike/store/strategy.go's plain database/sql
// conventions and on original_source/python/kiwoom/database.py's schema,
// which this package reproduces table-for-table.
//
// All operations are best-effort per §4.1 of the engine's specification:
// readers return zero values on error, writers log and swallow transient
// failures. The engine never crashes on store I/O.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kiwoom-bot/daytrader/internal/logger"
)

// Store wraps the sqlite handle shared by all sub-tables.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite file at path, enables WAL mode and a
// 30s busy timeout, and ensures every table exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer; modernc.org/sqlite serializes per-connection anyway
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store tables: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS trade_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT,
			action TEXT,
			symbol TEXT,
			symbol_name TEXT,
			qty INTEGER,
			price REAL,
			reason TEXT,
			profit_rate REAL,
			profit_amount INTEGER,
			vision_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS command_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cmd_type TEXT,
			payload TEXT,
			status TEXT DEFAULT 'PENDING',
			created_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS system_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT,
			level TEXT,
			module TEXT,
			message TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// logSwallowed is the single place best-effort writers funnel their errors
// through so failures are visible in logs without propagating.
func logSwallowed(op string, err error) {
	if err != nil {
		logger.Warnf("store: %s failed (swallowed): %v", op, err)
	}
}
