// Package candles converts raw ka10080 minute-chart rows into chronological
// indicators.Candle series and renders them into a chart image for the
// vision gate, shared by the Signal Pipeline's entry analysis and the
// Position Manager's end-of-day overnight re-analysis — both of which run
// the same analyze_chart_pattern-style candle read in
// original_source/python/kiwoom/strategy.py.
package candles

import (
	"github.com/kiwoom-bot/daytrader/internal/indicators"
	"github.com/kiwoom-bot/daytrader/internal/restclient"
)

// FromRows parses the OHLC fields of ka10080 rows (broker order:
// newest-first) into oldest-first indicators.Candle values. Unlike
// restclient.SafeInt (used for account fields, where +/- is a genuine
// sign), price columns here carry a +/- prefix purely as a direction
// decoration: the reference implementation strips it unconditionally
// (`str.replace(r'[+-,]', '', regex=True)`), so parsing here takes the
// absolute value rather than preserving sign.
func FromRows(rows []map[string]any) []indicators.Candle {
	out := make([]indicators.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		out = append(out, indicators.Candle{
			Open:  float64(absInt(restclient.FirstNonEmpty(r, "open_pric", "open_prc"))),
			High:  float64(absInt(r["high_pric"])),
			Low:   float64(absInt(r["low_pric"])),
			Close: float64(absInt(r["cur_prc"])),
		})
	}
	return out
}

func absInt(v any) int64 {
	n := restclient.SafeInt(v)
	if n < 0 {
		return -n
	}
	return n
}
