// Package position implements the Position Manager: the per-cycle exit
// evaluation over every live Position (stop-loss, time-cut, trailing
// stop), the forced-price-for-unsubscribed-symbol fallback, and the two
// liquidation windows (market-close overnight screening, next-morning
// gap handling), all mirroring
// original_source/python/kiwoom/strategy.py's
// manage_open_positions/try_market_close_liquidation/
// try_morning_liquidation trio.
package position

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/candles"
	"github.com/kiwoom-bot/daytrader/internal/fees"
	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/metrics"
	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/notify"
	"github.com/kiwoom-bot/daytrader/internal/restclient"
	"github.com/kiwoom-bot/daytrader/internal/state"
	"github.com/kiwoom-bot/daytrader/internal/store"
	"github.com/kiwoom-bot/daytrader/internal/vision"
)

// carryOverSentinels are the legacy condition_source markers for positions
// that were already held at startup or synced in from an external buy
// rather than opened by a scanner hit. The morning liquidation window
// treats both as carry-over targets, same as a real overnight-strategy
// condition id.
const (
	SourceExistingHolding = "existing_holding"
	SourceExternalSync    = "external_sync"
)

// RESTClient is the subset of restclient.Client the Position Manager calls.
type RESTClient interface {
	GetStockInfo(ctx context.Context, stockCode string) (*restclient.StockInfo, error)
	GetMinuteChart(ctx context.Context, stockCode, tick string) ([]map[string]any, error)
	SellOrder(ctx context.Context, stockCode string, qty, price int64) (string, error)
}

// PriceSource answers the "0B then 00" pull-store price lookup the
// Position Manager prefers over a REST call.
type PriceSource interface {
	Latest(code, subType string) (map[string]string, bool)
	AddSubscription(code, subType string)
}

// Manager runs the exit-evaluation and liquidation-window cycles over the
// shared state.Book.
type Manager struct {
	state    *state.Book
	store    *store.Store
	rest     RESTClient
	vision   vision.Client
	prices   PriceSource
	notifier notify.Notifier
	settings func() models.Settings
	now      func() time.Time
	start    time.Time

	mu           sync.Mutex
	lastAPICall  map[string]time.Time
	lastCancel   map[string]time.Time
}

// New builds a Manager. start is the engine's boot time, used for the
// Python original's 5s post-boot price-resolution grace window.
func New(st *state.Book, sto *store.Store, rest RESTClient, vc vision.Client, prices PriceSource, notifier notify.Notifier, settings func() models.Settings, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Manager{
		state:       st,
		store:       sto,
		rest:        rest,
		vision:      vc,
		prices:      prices,
		notifier:    notifier,
		settings:    settings,
		now:         now,
		start:       now(),
		lastAPICall: map[string]time.Time{},
		lastCancel:  map[string]time.Time{},
	}
}

// Run evaluates every live position once: a single pass of
// manage_open_positions. The caller drives the cadence (a 2s loop);
// Run itself performs no scheduling.
func (m *Manager) Run(ctx context.Context) {
	for code, pos := range m.state.Positions() {
		if pos.Status.IsSellOrdered() {
			continue
		}
		m.evaluate(ctx, code, pos)
	}
}

func (m *Manager) evaluate(ctx context.Context, code string, pos *models.Position) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("position: panic evaluating %s: %v", code, r)
		}
	}()

	price, err := m.resolvePrice(ctx, code)
	if err != nil || price <= 0 {
		return
	}

	if pos.BuyPrice <= 0 || pos.BuyQty <= 0 {
		return
	}

	s := m.settings()
	_, profitRate := fees.NetProfit(pos.BuyPrice, pos.BuyQty, price, fees.For(s.MockTrade))
	profitRate = roundTo2(profitRate)
	pos.CurrentProfitRate = profitRate
	metrics.SetPositionPnL(code, profitRate)

	if !s.UseAutoSell {
		return
	}

	applySL := s.StopLossRate
	isAICustom := false
	if s.UseAIStopLoss && pos.CustomStopLossRate != nil {
		applySL = *pos.CustomStopLossRate
		isAICustom = true
	}

	var sellReason string
	if profitRate <= applySL {
		label := "stop_loss"
		if isAICustom {
			label = "stop_loss(ai)"
		}
		sellReason = label
	}

	if sellReason == "" {
		elapsedMin := m.now().Sub(pos.OrderTime).Minutes()
		timeCutMin := s.TimeCutMinutes
		if timeCutMin == 0 {
			timeCutMin = 20
		}
		if elapsedMin > float64(timeCutMin) && profitRate < 0.5 {
			sellReason = "time_cut"
		}
	}

	// trailing stop: arm, then separately check drop-from-peak, matching
	// the original's if/if (not if/elif) structure so a position can arm
	// and immediately trail-stop within the same evaluation.
	if sellReason == "" {
		if !pos.TrailingActive && profitRate >= s.TrailingStartRate {
			pos.TrailingActive = true
			pos.PeakProfitRate = profitRate
		}
		if pos.TrailingActive {
			if profitRate > pos.PeakProfitRate {
				pos.PeakProfitRate = profitRate
			}
			if profitRate-pos.PeakProfitRate <= s.TrailingStopRate {
				sellReason = "take_profit"
			}
		}
	}

	if sellReason == "" {
		m.state.SetPosition(code, pos)
		return
	}

	m.sell(ctx, code, pos, price, sellReason, models.PositionSellOrdered, s)
}

// resolvePrice prefers the pull-store's streamed "0B" then "00" snapshot
// and falls back to a REST call at most once per symbol per 60s, matching
// manage_open_positions's exact fallback order (and its initial 5s
// post-boot grace window during which a REST miss is simply skipped
// rather than retried).
func (m *Manager) resolvePrice(ctx context.Context, code string) (float64, error) {
	if values, ok := m.prices.Latest(code, "0B"); ok {
		if p := priceFromValues(values); p > 0 {
			return p, nil
		}
	}
	if values, ok := m.prices.Latest(code, "00"); ok {
		if p := priceFromValues(values); p > 0 {
			return p, nil
		}
	}

	if m.now().Sub(m.start) < 5*time.Second {
		return 0, nil
	}

	m.mu.Lock()
	last, seen := m.lastAPICall[code]
	due := !seen || m.now().Sub(last) > 60*time.Second
	if due {
		m.lastAPICall[code] = m.now()
	}
	m.mu.Unlock()
	if !due {
		return 0, nil
	}

	m.prices.AddSubscription(code, "0B")
	info, err := m.rest.GetStockInfo(ctx, code)
	if err != nil || info == nil {
		return 0, err
	}
	return absFloat(info.CurrentPrice), nil
}

func priceFromValues(values map[string]string) float64 {
	raw := restclient.FirstNonEmpty(anyMap(values), "10", "cur_prc")
	n := restclient.SafeInt(raw)
	if n < 0 {
		n = -n
	}
	return float64(n)
}

func anyMap(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func absFloat(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}

func (m *Manager) sell(ctx context.Context, code string, pos *models.Position, price float64, reason string, status models.PositionStatus, s models.Settings) {
	orderNo, err := m.rest.SellOrder(ctx, code, pos.BuyQty, 0)
	if err != nil || orderNo == "" {
		logger.Errorf("position: %s sell order failed (%s): %v", code, reason, err)
		m.state.SetPosition(code, pos)
		return
	}

	netAmount, profitRate := fees.NetProfit(pos.BuyPrice, pos.BuyQty, price, fees.For(s.MockTrade))
	tradeReason := reason
	if pos.TrailingActive {
		tradeReason = reason + " (peak " + trimFloat(pos.PeakProfitRate) + "%)"
	}
	m.store.LogTrade(models.TradeRecord{
		Timestamp:    m.now(),
		Action:       models.TradeSell,
		Symbol:       code,
		Qty:          pos.BuyQty,
		Price:        price,
		Reason:       tradeReason,
		ProfitAmount: int64(netAmount),
		ProfitRate:   roundTo2(profitRate),
	})

	pos.Status = status
	pos.ActiveOrderID = orderNo
	m.state.SetPosition(code, pos)
	m.state.SetCooldown(code, time.Duration(cooldownMinutes(s))*time.Minute)
	metrics.ClearPositionPnL(code)
	metrics.RecordExit(reason)

	logger.Infof("position: %s sell ordered (%s), profit %.2f%%", code, reason, profitRate)
}

func cooldownMinutes(s models.Settings) int {
	if s.ReEntryCooldownMin == 0 {
		return 30
	}
	return s.ReEntryCooldownMin
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100)) / 100
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(roundTo2(v), 'f', 2, 64)
}

func conditionIDOf(source string) string {
	if idx := strings.Index(source, ":"); idx >= 0 {
		return source[:idx]
	}
	return "999"
}

func overnightIDs(s models.Settings) map[string]struct{} {
	out := make(map[string]struct{}, len(s.OvernightCondIDs))
	for _, id := range s.OvernightCondIDs {
		out[strings.TrimSpace(id)] = struct{}{}
	}
	return out
}
