// Package backtest implements the BACKTEST_REQ replay harness: it drives
// a list of historical {symbol, date, time} signals through the same
// technical gate and exit rules the live engine uses, against a frozen
// historical price source instead of live ticks, and writes a summary
// (trade count, win rate, total P&L) to Store. Grounded on
// original_source/python/kiwoom/backtesting.py's signal-replay loop,
// reusing internal/fees and internal/indicators rather than duplicating
// their formulas.
package backtest

import (
	"context"

	"github.com/kiwoom-bot/daytrader/internal/fees"
	"github.com/kiwoom-bot/daytrader/internal/indicators"
	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/store"
)

// ChartSource resolves the historical minute-candle series for a symbol
// around a given date/time, oldest-first. A real implementation replays
// from the broker's paginated chart endpoint (internal/restclient's
// GetMinuteChart) pinned to the signal's date; tests and the simulator
// supply a fixed table instead.
type ChartSource interface {
	MinuteCandles(ctx context.Context, symbol, date, time string) ([]indicators.Candle, error)
}

// TradeResult is one simulated entry/exit pair.
type TradeResult struct {
	Symbol     string  `json:"symbol"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	ExitReason string  `json:"exit_reason"`
	ProfitRate float64 `json:"profit_rate"`
}

// Result is the summary a BACKTEST_REQ command produces, mirroring §4.9's
// "dispatch to simulator and write result to Store".
type Result struct {
	RequestSignals int           `json:"request_signals"`
	Trades         []TradeResult `json:"trades"`
	WinCount       int           `json:"win_count"`
	LossCount      int           `json:"loss_count"`
	WinRate        float64       `json:"win_rate"`
	TotalProfitPct float64       `json:"total_profit_pct"`
}

// Runner replays BACKTEST_REQ signals against a ChartSource, applying the
// same RSI/upper-shadow technical gate and stop-loss/trailing-stop exit
// rules as the live Signal Pipeline and Position Manager. The time-cut
// rule is not replayed; a trade with no exit closes at the last bar.
type Runner struct {
	charts  ChartSource
	baseSet models.Settings
}

// New builds a Runner. baseSettings supplies the default exit-policy
// parameters for any signal whose request doesn't override them.
func New(charts ChartSource, baseSettings models.Settings) *Runner {
	return &Runner{charts: charts, baseSet: baseSettings}
}

// Run replays every signal in req and returns the aggregate Result. It
// never returns an error for an individual signal's failure — a symbol
// with no resolvable candles or insufficient history is simply skipped
// from the trade list, matching the live pipeline's "insufficient
// candles -> reject" behavior.
func (r *Runner) Run(ctx context.Context, req models.BacktestRequest) Result {
	settings := r.mergedSettings(req.SettingOverrides)

	res := Result{RequestSignals: len(req.Signals)}
	for _, sig := range req.Signals {
		trade, ok := r.simulate(ctx, sig, settings)
		if !ok {
			continue
		}
		res.Trades = append(res.Trades, trade)
		res.TotalProfitPct += trade.ProfitRate
		if trade.ProfitRate >= 0 {
			res.WinCount++
		} else {
			res.LossCount++
		}
	}
	if len(res.Trades) > 0 {
		res.WinRate = float64(res.WinCount) / float64(len(res.Trades)) * 100
	}
	return res
}

func (r *Runner) simulate(ctx context.Context, sig models.BacktestSignal, s models.Settings) (TradeResult, bool) {
	series, err := r.charts.MinuteCandles(ctx, sig.Symbol, sig.Date, sig.Time)
	if err != nil || len(series) < 31 {
		return TradeResult{}, false
	}

	rsiLimit := s.RSILimit
	if rsiLimit == 0 {
		rsiLimit = 70
	}
	entryIdx := len(series) - 1
	entrySeries := series[:entryIdx+1]
	if rsi, ok := indicators.RSI(entrySeries, 14); ok && rsi > rsiLimit {
		return TradeResult{}, false
	}
	lastComplete := entrySeries[len(entrySeries)-2]
	if indicators.UpperShadowRatio(lastComplete) > 0.4 {
		return TradeResult{}, false
	}

	entryPrice := series[entryIdx].Close
	if entryPrice <= 0 {
		return TradeResult{}, false
	}
	qty := int64(1000) // notional-agnostic unit; only the rate matters for the summary

	trailingActive := false
	peak := 0.0

	for i := entryIdx + 1; i < len(series); i++ {
		price := series[i].Close
		_, profitRate := fees.NetProfit(entryPrice, qty, price, fees.For(s.MockTrade))

		if profitRate <= s.StopLossRate {
			return TradeResult{Symbol: sig.Symbol, EntryPrice: entryPrice, ExitPrice: price, ExitReason: "stop_loss", ProfitRate: round2(profitRate)}, true
		}
		if !trailingActive && profitRate >= s.TrailingStartRate {
			trailingActive = true
			peak = profitRate
		}
		if trailingActive {
			if profitRate > peak {
				peak = profitRate
			}
			if profitRate-peak <= s.TrailingStopRate {
				return TradeResult{Symbol: sig.Symbol, EntryPrice: entryPrice, ExitPrice: price, ExitReason: "take_profit", ProfitRate: round2(profitRate)}, true
			}
		}
	}

	// no exit triggered within the replayed window: close at the last bar,
	// matching the original simulator's end-of-data liquidation.
	last := series[len(series)-1].Close
	_, profitRate := fees.NetProfit(entryPrice, qty, last, fees.For(s.MockTrade))
	return TradeResult{Symbol: sig.Symbol, EntryPrice: entryPrice, ExitPrice: last, ExitReason: "window_end", ProfitRate: round2(profitRate)}, true
}

func (r *Runner) mergedSettings(overrides map[string]any) models.Settings {
	s := r.baseSet
	if overrides == nil {
		return s
	}
	if v, ok := overrides["stop_loss_rate"].(float64); ok {
		s.StopLossRate = v
	}
	if v, ok := overrides["trailing_start_rate"].(float64); ok {
		s.TrailingStartRate = v
	}
	if v, ok := overrides["trailing_stop_rate"].(float64); ok {
		s.TrailingStopRate = v
	}
	if v, ok := overrides["rsi_limit"].(float64); ok {
		s.RSILimit = v
	}
	if v, ok := overrides["mock_trade"].(bool); ok {
		s.MockTrade = v
	}
	return s
}

func round2(v float64) float64 {
	return float64(int64(v*100)) / 100
}

// resultKeyFor namespaces the stored summary by the originating command id
// so multiple BACKTEST_REQ commands don't overwrite each other's results.
func resultKeyFor(commandID int64) string {
	return "backtest_result_" + itoa(commandID)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SaveResult persists a Result under its command's namespaced key, per
// §4.9's "write result to Store".
func SaveResult(sto *store.Store, commandID int64, res Result) {
	sto.SetJSON(resultKeyFor(commandID), res)
	logger.Infof("backtest: command %d replayed %d/%d signals, win rate %.1f%%, total %.2f%%",
		commandID, len(res.Trades), res.RequestSignals, res.WinRate, res.TotalProfitPct)
}

// LoadResult returns the persisted Result for a command id, if any.
func LoadResult(sto *store.Store, commandID int64) (Result, bool) {
	var out Result
	ok := sto.GetJSON(resultKeyFor(commandID), &out)
	return out, ok
}
