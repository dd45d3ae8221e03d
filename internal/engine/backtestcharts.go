package engine

import (
	"context"

	"github.com/kiwoom-bot/daytrader/internal/candles"
	"github.com/kiwoom-bot/daytrader/internal/indicators"
	"github.com/kiwoom-bot/daytrader/internal/restclient"
)

// backtestChartAdapter turns restclient.Client's raw ka10080 rows into the
// oldest-first indicators.Candle series backtest.Runner replays over,
// implementing backtest.ChartSource. date/time are accepted to satisfy
// the interface but ka10080 only returns the broker's current trailing
// window, so a live BACKTEST_REQ effectively replays "recent history for
// this symbol" rather than an arbitrary historical date.
type backtestChartAdapter struct {
	rest *restclient.Client
}

func newBacktestChartAdapter(rest *restclient.Client) backtestChartAdapter {
	return backtestChartAdapter{rest: rest}
}

func (a backtestChartAdapter) MinuteCandles(ctx context.Context, symbol, date, time string) ([]indicators.Candle, error) {
	rows, err := a.rest.GetMinuteChart(ctx, symbol, "1")
	if err != nil {
		return nil, err
	}
	return candles.FromRows(rows), nil
}
