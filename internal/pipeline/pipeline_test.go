package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/restclient"
	"github.com/kiwoom-bot/daytrader/internal/state"
	"github.com/kiwoom-bot/daytrader/internal/store"
	"github.com/kiwoom-bot/daytrader/internal/vision"
)

type fakeREST struct {
	mu          sync.Mutex
	orderBook   *restclient.OrderBookTotals
	chartRows   []map[string]any
	buyCalls    int
	buyErr      error
	stockInfo   *restclient.StockInfo
}

func (f *fakeREST) GetStockInfo(ctx context.Context, stockCode string) (*restclient.StockInfo, error) {
	return f.stockInfo, nil
}

func (f *fakeREST) GetOrderBook(ctx context.Context, stockCode string) (*restclient.OrderBookTotals, error) {
	return f.orderBook, nil
}

func (f *fakeREST) GetMinuteChart(ctx context.Context, stockCode, tick string) ([]map[string]any, error) {
	return f.chartRows, nil
}

func (f *fakeREST) BuyOrder(ctx context.Context, stockCode string, qty, price int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buyCalls++
	if f.buyErr != nil {
		return "", f.buyErr
	}
	return "ORD-1", nil
}

type fakeVision struct {
	mu       sync.Mutex
	calls    int
	verdict  vision.Verdict
	err      error
}

func (f *fakeVision) Analyze(ctx context.Context, image []byte, prompt string) (vision.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.verdict, f.err
}

type fakeRegimes struct {
	bullish map[models.Market]bool
}

func (f fakeRegimes) Regime(market models.Market) (models.MarketRegime, bool) {
	bullish, ok := f.bullish[market]
	if !ok {
		return models.MarketRegime{}, false
	}
	return models.MarketRegime{Market: market, IsBullish: bullish}, true
}

type fakeMarkets struct{}

func (fakeMarkets) MarketOf(code string) models.Market { return models.MarketKOSPI }

type fakeSub struct {
	mu   sync.Mutex
	subs []string
}

func (f *fakeSub) AddSubscription(code, subType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, code+"_"+subType)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// oscillatingCandleRows builds n synthetic broker rows (newest-first, the
// wire order) whose chronological closes alternate up/down so RSI lands in
// a moderate mid-range instead of pegging at 100, and whose wicks keep the
// last-complete candle's upper-shadow ratio comfortably under the 0.4 gate.
func oscillatingCandleRows(n int) []map[string]any {
	closes := make([]int, n)
	opens := make([]int, n)
	closes[0] = 70000
	opens[0] = 69950
	for i := 1; i < n; i++ {
		opens[i] = closes[i-1]
		if i%2 == 1 {
			closes[i] = closes[i-1] + 50
		} else {
			closes[i] = closes[i-1] - 45
		}
	}

	rows := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		hi := opens[i]
		if closes[i] > hi {
			hi = closes[i]
		}
		lo := opens[i]
		if closes[i] < lo {
			lo = closes[i]
		}
		rows[n-1-i] = map[string]any{
			"cur_prc":   closes[i],
			"open_pric": opens[i],
			"high_pric": hi + 20,
			"low_pric":  lo - 20,
		}
	}
	return rows
}

func baseDeps(t *testing.T) (Deps, *fakeREST, *fakeVision, *fakeSub) {
	rest := &fakeREST{
		orderBook: &restclient.OrderBookTotals{BuyTotal: 120, SellTotal: 100},
		chartRows: oscillatingCandleRows(35),
	}
	vis := &fakeVision{verdict: vision.Verdict{Decision: vision.DecisionYes, StopLossPrice: 0}}
	sub := &fakeSub{}
	s := openTestStore(t)

	settings := models.Default()
	settings.UseMarketFilter = false
	settings.UseHogaFilter = true
	settings.MinBuySellRatio = 0.5
	settings.RSILimit = 90
	settings.UseAIStopLoss = false
	settings.OrderAmount = 1_000_000
	settings.MockTrade = true

	return Deps{
		State:    state.New(),
		Store:    s,
		REST:     rest,
		Vision:   vis,
		Regimes:  fakeRegimes{bullish: map[models.Market]bool{}},
		Markets:  fakeMarkets{},
		Sub:      sub,
		Settings: func() models.Settings { return settings },
		Now:      func() time.Time { return time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC) },
	}, rest, vis, sub
}

func TestProcessHappyPathCreatesPosition(t *testing.T) {
	deps, rest, vis, sub := baseDeps(t)
	p := New(deps)

	p.process(context.Background(), models.ConditionEvent{Code: "005930", Type: models.ConditionInsert, ScannerID: "0", Price: 70000})

	pos, ok := deps.State.Position("005930")
	require.True(t, ok)
	assert.Equal(t, models.PositionBuyOrdered, pos.Status)
	assert.Equal(t, 1, rest.buyCalls)
	assert.Equal(t, 1, vis.calls)
	assert.Contains(t, sub.subs, "005930_0B")
}

func TestProcessRejectsOnIndexRegimeBeforeVisionCall(t *testing.T) {
	deps, _, vis, _ := baseDeps(t)
	settings := deps.Settings()
	settings.UseMarketFilter = true
	deps.Settings = func() models.Settings { return settings }
	deps.Regimes = fakeRegimes{bullish: map[models.Market]bool{models.MarketKOSPI: false}}

	p := New(deps)
	p.process(context.Background(), models.ConditionEvent{Code: "005930", Type: models.ConditionInsert, ScannerID: "0", Price: 70000})

	_, ok := deps.State.Position("005930")
	assert.False(t, ok)
	assert.Equal(t, 0, vis.calls, "a symbol failing the regime gate must never reach the vision gate")
}

func TestProcessRejectsOnOrderBookRatioBeforeVisionCall(t *testing.T) {
	deps, rest, vis, _ := baseDeps(t)
	rest.orderBook = &restclient.OrderBookTotals{BuyTotal: 10, SellTotal: 100}

	p := New(deps)
	p.process(context.Background(), models.ConditionEvent{Code: "005930", Type: models.ConditionInsert, ScannerID: "0", Price: 70000})

	_, ok := deps.State.Position("005930")
	assert.False(t, ok)
	assert.Equal(t, 0, vis.calls)
}

func TestProcessRejectsOnRSIOverboughtBeforeVisionCall(t *testing.T) {
	deps, _, vis, _ := baseDeps(t)
	settings := deps.Settings()
	settings.RSILimit = 1 // the alternating synthetic rows sit near RSI 50, far above 1
	deps.Settings = func() models.Settings { return settings }

	p := New(deps)
	p.process(context.Background(), models.ConditionEvent{Code: "005930", Type: models.ConditionInsert, ScannerID: "0", Price: 70000})

	_, ok := deps.State.Position("005930")
	assert.False(t, ok)
	assert.Equal(t, 0, vis.calls)
}

func TestProcessRejectsOnVisionNo(t *testing.T) {
	deps, rest, vis, _ := baseDeps(t)
	vis.verdict = vision.Verdict{Decision: vision.DecisionNo}

	p := New(deps)
	p.process(context.Background(), models.ConditionEvent{Code: "005930", Type: models.ConditionInsert, ScannerID: "0", Price: 70000})

	_, ok := deps.State.Position("005930")
	assert.False(t, ok)
	assert.Equal(t, 0, rest.buyCalls)
}

func TestProcessAppliesAIStopLossWhenSafe(t *testing.T) {
	deps, _, vis, _ := baseDeps(t)
	settings := deps.Settings()
	settings.UseAIStopLoss = true
	settings.AIStopLossSafetyLimit = -5.0
	deps.Settings = func() models.Settings { return settings }
	vis.verdict = vision.Verdict{Decision: vision.DecisionYes, StopLossPrice: 69300}

	p := New(deps)
	p.process(context.Background(), models.ConditionEvent{Code: "005930", Type: models.ConditionInsert, ScannerID: "0", Price: 70000})

	pos, ok := deps.State.Position("005930")
	require.True(t, ok)
	require.NotNil(t, pos.CustomStopLossRate)
	assert.Less(t, *pos.CustomStopLossRate, 0.0)
	assert.GreaterOrEqual(t, *pos.CustomStopLossRate, -5.0)
}

func TestProcessRejectsUnsafeAIStopLoss(t *testing.T) {
	deps, rest, vis, _ := baseDeps(t)
	settings := deps.Settings()
	settings.UseAIStopLoss = true
	settings.AIStopLossSafetyLimit = -1.0
	deps.Settings = func() models.Settings { return settings }
	vis.verdict = vision.Verdict{Decision: vision.DecisionYes, StopLossPrice: 60000}

	p := New(deps)
	p.process(context.Background(), models.ConditionEvent{Code: "005930", Type: models.ConditionInsert, ScannerID: "0", Price: 70000})

	_, ok := deps.State.Position("005930")
	assert.False(t, ok)
	assert.Equal(t, 0, rest.buyCalls)
}

func TestDrainRespectsDedupAcrossRepeatEvents(t *testing.T) {
	deps, rest, _, _ := baseDeps(t)
	p := New(deps)

	events := make(chan models.ConditionEvent, 4)
	events <- models.ConditionEvent{Code: "005930", Type: models.ConditionInsert, ScannerID: "0", Price: 70000}
	events <- models.ConditionEvent{Code: "005930", Type: models.ConditionInsert, ScannerID: "0", Price: 70000}
	close(events)

	p.Drain(context.Background(), events)

	// both events raced dispatch; only one should have been admitted into
	// the processing set (the other observes already_processing or, once
	// the first completes fast enough in-process, already_held).
	deadline := time.Now().Add(2 * time.Second)
	for rest.buyCalls == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	rest.mu.Lock()
	calls := rest.buyCalls
	rest.mu.Unlock()
	assert.Equal(t, 1, calls)
}
