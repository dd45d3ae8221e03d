package engine

import (
	"context"
	"sync"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/candles"
	"github.com/kiwoom-bot/daytrader/internal/indicators"
	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/models"
)

// regimeRefreshInterval bounds how often each index's MA20 is refetched;
// the gate only needs to move once the minute chart rolls a new bar.
const regimeRefreshInterval = 5 * time.Minute

// indexProxyCodes maps each Market to the ETF/index code the minute-chart
// TR (ka10080) is queried with. The broker pack retrieved for this spec
// carries no daily-index TR, so KODEX 200/150 ETF codes stand in as a
// liquid, continuously-quoted proxy for KOSPI/KOSDAQ direction — the same
// role STOCK_MARKET_MAP's KOSPI/KOSDAQ split plays for per-symbol routing.
var indexProxyCodes = map[models.Market]string{
	models.MarketKOSPI:  "069500", // KODEX 200
	models.MarketKOSDAQ: "229200", // KODEX KOSDAQ150
}

// ChartSource is the minute-chart surface RegimeTracker polls.
type ChartSource interface {
	GetMinuteChart(ctx context.Context, stockCode, tick string) ([]map[string]any, error)
}

// RegimeTracker implements pipeline.RegimeSource by periodically
// refreshing each market's MarketRegime off its index-proxy minute chart,
// matching the market-filter gate of original_source/python/kiwoom/strategy.py's
// check_market_condition.
type RegimeTracker struct {
	rest ChartSource

	mu      sync.RWMutex
	regimes map[models.Market]models.MarketRegime
}

// NewRegimeTracker builds a tracker with no warmed-up state; the first
// Regime() call for each market will report !ok until Refresh runs once.
func NewRegimeTracker(rest ChartSource) *RegimeTracker {
	return &RegimeTracker{rest: rest, regimes: map[models.Market]models.MarketRegime{}}
}

// Regime returns the most recently computed regime for market, if any.
func (t *RegimeTracker) Regime(market models.Market) (models.MarketRegime, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.regimes[market]
	return r, ok
}

// Snapshot returns a copy of every tracked market's current regime, for
// the control loop's status-snapshot flush.
func (t *RegimeTracker) Snapshot() map[models.Market]models.MarketRegime {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[models.Market]models.MarketRegime, len(t.regimes))
	for k, v := range t.regimes {
		out[k] = v
	}
	return out
}

// Refresh recomputes any regime that's stale or missing, for every market
// this tracker knows a proxy code for. The engine calls it once a minute
// from its regime refresh loop; cheap no-op when nothing is due.
func (t *RegimeTracker) Refresh(ctx context.Context, now time.Time) {
	for market, code := range indexProxyCodes {
		t.mu.RLock()
		cur, ok := t.regimes[market]
		t.mu.RUnlock()
		if ok && !cur.Stale(regimeRefreshInterval, now) {
			continue
		}

		rows, err := t.rest.GetMinuteChart(ctx, code, "5")
		if err != nil {
			logger.Warnf("engine: regime refresh failed for %s (%s): %v", market, code, err)
			continue
		}
		series := candles.FromRows(rows)
		ma20, ok := indicators.MA(series, 20)
		if !ok || len(series) == 0 {
			continue
		}
		close := series[len(series)-1].Close

		var next models.MarketRegime
		next.Market = market
		next.Refresh(close, ma20, now)

		t.mu.Lock()
		t.regimes[market] = next
		t.mu.Unlock()
	}
}
