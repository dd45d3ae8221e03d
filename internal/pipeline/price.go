package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/candles"
	"github.com/kiwoom-bot/daytrader/internal/indicators"
	"github.com/kiwoom-bot/daytrader/internal/logger"
)

// resolvePrice implements step 3: prefer the price the condition-hit frame
// carried, else poll stock-info up to 3 times 200ms apart, else fall back
// to the newest 3-minute candle's close, mirroring
// process_single_stock_signal's identical three-tier fallback.
func (p *Pipeline) resolvePrice(ctx context.Context, code string, carried float64) (float64, error) {
	if carried > 0 {
		return carried, nil
	}

	var price float64
	for attempt := 0; attempt < 3; attempt++ {
		info, err := p.deps.REST.GetStockInfo(ctx, code)
		if err == nil && info != nil {
			if info.CurrentPrice != 0 {
				price = absFloat(info.CurrentPrice)
			} else if info.OpenPrice != 0 {
				price = absFloat(info.OpenPrice)
			}
			if price > 0 {
				break
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	if price > 0 {
		return price, nil
	}

	rows, err := p.deps.REST.GetMinuteChart(ctx, code, "3")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("pipeline: no price available for %s", code)
	}
	recovered := candles.FromRows(rows[:1])
	if len(recovered) == 0 || recovered[0].Close <= 0 {
		return 0, fmt.Errorf("pipeline: no price available for %s", code)
	}
	logger.Infof("pipeline: %s recovered price %.0f from minute chart after stock-info miss", code, recovered[0].Close)
	return recovered[0].Close, nil
}

func absFloat(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}

// fetchCandles issues a 1-minute candle request and converts the broker's
// newest-first rows into chronological-order indicators.Candle values.
func (p *Pipeline) fetchCandles(ctx context.Context, code string) ([]indicators.Candle, error) {
	rows, err := p.deps.REST.GetMinuteChart(ctx, code, "1")
	if err != nil {
		return nil, err
	}
	return candles.FromRows(rows), nil
}
