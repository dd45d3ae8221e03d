package store

import (
	"github.com/kiwoom-bot/daytrader/internal/models"
)

// LogTrade appends one trade record. Best-effort.
func (s *Store) LogTrade(rec models.TradeRecord) {
	_, err := s.db.Exec(
		`INSERT INTO trade_logs
			(timestamp, action, symbol, symbol_name, qty, price, reason, profit_rate, profit_amount, vision_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(rec.Timestamp), string(rec.Action), rec.Symbol, rec.Name,
		rec.Qty, rec.Price, rec.Reason, rec.ProfitRate, rec.ProfitAmount, rec.VisionReason,
	)
	logSwallowed("LogTrade", err)
}

// RecentTrades returns up to limit most-recent trade records, newest first.
func (s *Store) RecentTrades(limit int) []models.TradeRecord {
	rows, err := s.db.Query(
		`SELECT id, timestamp, action, symbol, symbol_name, qty, price, reason, profit_rate, profit_amount, vision_reason
		 FROM trade_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		logSwallowed("RecentTrades query", err)
		return nil
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var r models.TradeRecord
		var ts, action string
		if err := rows.Scan(&r.ID, &ts, &action, &r.Symbol, &r.Name, &r.Qty, &r.Price,
			&r.Reason, &r.ProfitRate, &r.ProfitAmount, &r.VisionReason); err != nil {
			logSwallowed("RecentTrades scan", err)
			continue
		}
		r.Timestamp = parseTime(ts)
		r.Action = models.TradeAction(action)
		out = append(out, r)
	}
	return out
}
