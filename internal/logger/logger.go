// Package logger wraps zerolog behind the package-level Info/Infof/Warnf/
// Errorf helpers the rest of the engine calls, the way SynapseStrike's
// components reference a shared "logger" package rather than threading a
// logger value through every function. Output fans out to stderr (console,
// colorized when attached to a TTY) and a daily-rotating UTF-8 file under
// the data root, matching the source bot's "rotating daily log files,
// 7-day retention" file layout.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.Mutex
	log zerolog.Logger

	currentFile *os.File
	currentDay  string
	logDir      string
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}).
		With().Timestamp().Logger()
}

// Init points the logger at a data directory and switches it to a
// multi-writer (console + rotating file). Safe to call once at startup;
// a zero-value dir keeps console-only logging (useful in tests).
func Init(dataDir string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	if dataDir == "" {
		log = log.Level(level)
		return nil
	}

	logDir = filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	w, err := fileWriterForToday()
	if err != nil {
		return err
	}

	multi := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"},
		w,
	)
	log = zerolog.New(multi).Level(level).With().Timestamp().Logger()
	return nil
}

// fileWriterForToday opens (or rotates to) today's log file. Called lazily
// from Init and from a background day-change check driven by the caller
// via Rotate.
func fileWriterForToday() (io.Writer, error) {
	day := time.Now().Format("2006-01-02")
	if currentFile != nil && currentDay == day {
		return currentFile, nil
	}
	if currentFile != nil {
		currentFile.Close()
	}
	path := filepath.Join(logDir, fmt.Sprintf("bot-%s.log", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	currentFile = f
	currentDay = day
	return f, nil
}

// Rotate re-checks the calendar day and, if it changed, opens a fresh log
// file and prunes files older than retentionDays. Scheduler.Tick calls it
// once per minute.
func Rotate(retentionDays int) {
	mu.Lock()
	defer mu.Unlock()
	if logDir == "" {
		return
	}
	if w, err := fileWriterForToday(); err == nil {
		multi := zerolog.MultiLevelWriter(
			zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"},
			w,
		)
		log = log.Output(multi)
	}
	pruneOldLogs(retentionDays)
}

func pruneOldLogs(retentionDays int) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(logDir, e.Name()))
		}
	}
}

func Debugf(format string, args ...any) { log.Debug().Msg(fmt.Sprintf(format, args...)) }
func Info(args ...any)                  { log.Info().Msg(fmt.Sprint(args...)) }
func Infof(format string, args ...any)  { log.Info().Msg(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { log.Warn().Msg(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { log.Error().Msg(fmt.Sprintf(format, args...)) }
func Error(args ...any)                 { log.Error().Msg(fmt.Sprint(args...)) }
