// Package notify is the Telegram notification boundary. The engine sends
// scheduler-change notices, overnight-hold approvals, bulk-sell notices and
// the daily report through it; it sends no buy/sell alerts, crash alerts
// or periodic heartbeat. Grounded on
// original_source/python/kiwoom/test_telegram.py's sendMessage call and
// its daily-report HTML format.
package notify

import "context"

// Notifier sends a human-readable message to whatever channel is
// configured. A Notifier must never block the caller for long or return
// an error the caller is expected to retry on — notification failures are
// logged and swallowed by the engine, per §7.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// NoopNotifier discards every message. Used when no Telegram bot token or
// chat id is configured, or in tests.
type NoopNotifier struct{}

// Send does nothing and never errors.
func (NoopNotifier) Send(ctx context.Context, message string) error { return nil }
