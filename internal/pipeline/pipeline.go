// Package pipeline implements the Signal Pipeline: the admission filter
// chain that turns a broker condition-hit event into a market-buy order.
// It is triggered by draining the gateway's condition-event channel and
// runs each candidate symbol through, in order, the dedup gates, the index
// regime gate, price acquisition, the order-book gate, the technical gate,
// the vision gate, AI stop-loss sizing, and finally order sizing/
// submission — mirroring, step for step,
// original_source/python/kiwoom/strategy.py's
// check_for_new_stocks/process_single_stock_signal pair.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kiwoom-bot/daytrader/internal/candles"
	"github.com/kiwoom-bot/daytrader/internal/fees"
	"github.com/kiwoom-bot/daytrader/internal/indicators"
	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/metrics"
	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/restclient"
	"github.com/kiwoom-bot/daytrader/internal/state"
	"github.com/kiwoom-bot/daytrader/internal/store"
	"github.com/kiwoom-bot/daytrader/internal/vision"
)

// maxConcurrentRuns bounds the number of simultaneous pipeline branches so
// the (expensive) vision calls don't fan out unbounded across a burst of
// condition events.
const maxConcurrentRuns = 5

// RESTClient is the subset of restclient.Client the pipeline calls.
type RESTClient interface {
	GetStockInfo(ctx context.Context, stockCode string) (*restclient.StockInfo, error)
	GetOrderBook(ctx context.Context, stockCode string) (*restclient.OrderBookTotals, error)
	GetMinuteChart(ctx context.Context, stockCode, tick string) ([]map[string]any, error)
	BuyOrder(ctx context.Context, stockCode string, qty, price int64) (string, error)
}

// RegimeSource answers the index regime gate.
type RegimeSource interface {
	Regime(market models.Market) (models.MarketRegime, bool)
}

// MarketLookup resolves which exchange a symbol trades on, defaulting to
// KOSPI when unknown, matching STOCK_MARKET_MAP.get(code, 'KOSPI').
type MarketLookup interface {
	MarketOf(code string) models.Market
}

// Subscriber is notified so it can start streaming ticks for a newly
// opened position (the MDG's AddSubscription).
type Subscriber interface {
	AddSubscription(code, subType string)
}

// Deps bundles the Signal Pipeline's collaborators.
type Deps struct {
	State    *state.Book
	Store    *store.Store
	REST     RESTClient
	Vision   vision.Client
	Regimes  RegimeSource
	Markets  MarketLookup
	Sub      Subscriber
	Settings func() models.Settings
	Now      func() time.Time
}

// Pipeline is the Signal Pipeline's runtime: bounded-concurrency admission
// over a stream of condition events.
type Pipeline struct {
	deps Deps
	sem  *semaphore.Weighted
}

// New builds a Pipeline over the given collaborators.
func New(deps Deps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps, sem: semaphore.NewWeighted(maxConcurrentRuns)}
}

// Drain pulls every condition event currently queued on events (a
// non-blocking loop, matching check_for_new_stocks's pop-until-empty) and
// dispatches each ConditionInsert onto a bounded-concurrency worker.
// ConditionDelete events are ignored; the pipeline only reacts to scanner
// inserts.
func (p *Pipeline) Drain(ctx context.Context, events <-chan models.ConditionEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != models.ConditionInsert {
				continue
			}
			p.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (p *Pipeline) dispatch(ctx context.Context, ev models.ConditionEvent) {
	code := ev.Code
	admitted, reason := p.deps.State.Admit(code)
	if !admitted {
		logger.Debugf("pipeline: %s rejected at dedup gate (%s)", code, reason)
		return
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.deps.State.Release(code)
		return
	}

	go func() {
		defer p.sem.Release(1)
		defer p.deps.State.Release(code)
		p.process(ctx, ev)
	}()
}

// reject records a filter rejection with its cooldown and metric.
func (p *Pipeline) reject(code, filter string, cooldown time.Duration) {
	metrics.RecordRejection(filter)
	if cooldown > 0 {
		p.deps.State.SetCooldown(code, cooldown)
	}
	logger.Infof("pipeline: %s rejected by %s filter", code, filter)
}

// process runs one candidate through the admission chain (steps 2-8; the
// dedup gates of step 1 already ran in dispatch via State.Admit).
func (p *Pipeline) process(ctx context.Context, ev models.ConditionEvent) {
	s := p.deps.Settings()
	code := ev.Code

	if s.UseMarketFilter {
		market := p.deps.Markets.MarketOf(code)
		if regime, ok := p.deps.Regimes.Regime(market); ok && !regime.IsBullish {
			p.reject(code, "index_regime", 10*time.Minute)
			return
		}
	}

	price, err := p.resolvePrice(ctx, code, ev.Price)
	if err != nil || price <= 0 {
		p.reject(code, "no_price", time.Minute)
		return
	}

	if s.UseHogaFilter {
		ob, err := p.deps.REST.GetOrderBook(ctx, code)
		if err != nil || ob == nil || ob.SellTotal <= 0 {
			p.reject(code, "order_book_unavailable", time.Minute)
			return
		}
		ratio := float64(ob.BuyTotal) / float64(ob.SellTotal)
		if ratio < s.MinBuySellRatio {
			p.reject(code, "order_book_ratio", 5*time.Minute)
			return
		}
	}

	series, err := p.fetchCandles(ctx, code)
	if err != nil || len(series) < 30 {
		p.reject(code, "insufficient_candles", time.Minute)
		return
	}

	rsiLimit := s.RSILimit
	if rsiLimit == 0 {
		rsiLimit = 70
	}
	if rsi, ok := indicators.RSI(series, 14); ok && rsi > rsiLimit {
		p.reject(code, "rsi_overbought", 10*time.Minute)
		return
	}
	lastComplete := series[len(series)-2]
	if indicators.UpperShadowRatio(lastComplete) > 0.4 {
		p.reject(code, "upper_shadow", 10*time.Minute)
		return
	}

	image, err := candles.Render(series, code)
	if err != nil {
		p.reject(code, "chart_render_error", 10*time.Minute)
		return
	}
	prompt := vision.PromptFor(s.ConditionID)
	verdict, err := p.deps.Vision.Analyze(ctx, image, prompt)
	if err != nil || verdict.Decision != vision.DecisionYes {
		p.reject(code, "vision_reject", 10*time.Minute)
		return
	}

	qty := int64(float64(s.OrderAmount) * 0.95 / price)
	if qty <= 0 {
		logger.Warnf("pipeline: %s order amount too small for price %.0f, skipping", code, price)
		return
	}

	var customStopLoss *float64
	if s.UseAIStopLoss && verdict.StopLossPrice > 0 {
		calcRate := fees.NetRateAtPrice(price, qty, verdict.StopLossPrice, s.MockTrade)
		safetyLimit := s.AIStopLossSafetyLimit
		if safetyLimit > 0 {
			safetyLimit = -safetyLimit
		}
		if calcRate < safetyLimit || calcRate >= 0 {
			logger.Infof("pipeline: %s AI stop-loss rate %.2f unsafe (limit %.2f), skipping entry", code, calcRate, safetyLimit)
			return
		}
		rounded := roundTo2(calcRate)
		customStopLoss = &rounded
	}

	p.deps.State.RecordAttempt(code)

	orderNo, err := p.deps.REST.BuyOrder(ctx, code, qty, 0)
	if err != nil || orderNo == "" {
		logger.Errorf("pipeline: %s buy order failed: %v", code, err)
		return
	}

	now := p.deps.Now()
	condSource := ev.ScannerID
	if s.ConditionID != "" {
		condSource = s.ConditionID + ":" + ev.ScannerID
	}
	pos := &models.Position{
		Symbol:             code,
		BuyPrice:           price,
		BuyQty:             qty,
		Status:             models.PositionBuyOrdered,
		OrderTime:          now,
		ActiveOrderID:      orderNo,
		ConditionSource:    condSource,
		CustomStopLossRate: customStopLoss,
	}
	p.deps.State.SetPosition(code, pos)
	p.deps.Sub.AddSubscription(code, "0B")
	metrics.PipelineEntries.Inc()

	p.deps.Store.LogTrade(models.TradeRecord{
		Timestamp: now,
		Action:    models.TradeBuy,
		Symbol:    code,
		Qty:       qty,
		Price:     price,
		Reason:    "condition(" + ev.ScannerID + ")",
	})
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100)) / 100
}
