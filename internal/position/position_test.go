package position

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/notify"
	"github.com/kiwoom-bot/daytrader/internal/restclient"
	"github.com/kiwoom-bot/daytrader/internal/state"
	"github.com/kiwoom-bot/daytrader/internal/store"
	"github.com/kiwoom-bot/daytrader/internal/vision"
)

type fakeRESTPos struct {
	mu         sync.Mutex
	sellCalls  int
	sellErr    error
	stockInfo  *restclient.StockInfo
	chartRows  []map[string]any
}

func (f *fakeRESTPos) GetStockInfo(ctx context.Context, stockCode string) (*restclient.StockInfo, error) {
	return f.stockInfo, nil
}

func (f *fakeRESTPos) GetMinuteChart(ctx context.Context, stockCode, tick string) ([]map[string]any, error) {
	return f.chartRows, nil
}

func (f *fakeRESTPos) SellOrder(ctx context.Context, stockCode string, qty, price int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellCalls++
	if f.sellErr != nil {
		return "", f.sellErr
	}
	return "SELL-1", nil
}

type fakePrices struct {
	mu   sync.Mutex
	vals map[string]map[string]string
	subs []string
}

func (f *fakePrices) Latest(code, subType string) (map[string]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vals[code+"_"+subType]
	return v, ok
}

func (f *fakePrices) AddSubscription(code, subType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, code+"_"+subType)
}

type fakeVisionPos struct {
	verdict vision.Verdict
	err     error
}

func (f *fakeVisionPos) Analyze(ctx context.Context, image []byte, prompt string) (vision.Verdict, error) {
	return f.verdict, f.err
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestManager(t *testing.T, now time.Time, settings models.Settings) (*Manager, *fakeRESTPos, *fakePrices, *fakeVisionPos) {
	rest := &fakeRESTPos{}
	prices := &fakePrices{vals: map[string]map[string]string{}}
	vis := &fakeVisionPos{verdict: vision.Verdict{Decision: vision.DecisionYes, Reason: "looks fine"}}
	st := state.New()
	sto := openTestStore(t)

	mgr := New(st, sto, rest, vis, prices, notify.NoopNotifier{}, func() models.Settings { return settings }, func() time.Time { return now })
	return mgr, rest, prices, vis
}

func TestEvaluateSellsOnStopLoss(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	settings := models.Default()
	settings.UseAutoSell = true
	settings.StopLossRate = -2.5
	settings.MockTrade = true

	mgr, rest, prices, _ := newTestManager(t, now, settings)
	prices.vals["005930_0B"] = map[string]string{"10": "-68000"}

	pos := &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld, OrderTime: now.Add(-time.Minute)}
	mgr.state.SetPosition("005930", pos)

	mgr.Run(context.Background())

	updated, ok := mgr.state.Position("005930")
	require.True(t, ok)
	assert.Equal(t, models.PositionSellOrdered, updated.Status)
	assert.Equal(t, 1, rest.sellCalls)
}

func TestEvaluateArmsAndTrailsStopWithinSameCycle(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	settings := models.Default()
	settings.UseAutoSell = true
	settings.StopLossRate = -10
	settings.TrailingStartRate = 1.0
	settings.TrailingStopRate = -0.3
	settings.MockTrade = true

	mgr, rest, prices, _ := newTestManager(t, now, settings)
	// a price that nets a profit rate above trailing-start but whose
	// distance from "peak" (itself, on first observation) is 0, so it must
	// NOT immediately trail-stop on the arming cycle.
	prices.vals["005930_0B"] = map[string]string{"10": "71500"}

	pos := &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld, OrderTime: now.Add(-time.Minute)}
	mgr.state.SetPosition("005930", pos)

	mgr.Run(context.Background())

	updated, ok := mgr.state.Position("005930")
	require.True(t, ok)
	assert.True(t, updated.TrailingActive)
	assert.NotEqual(t, models.PositionSellOrdered, updated.Status)
	assert.Equal(t, 0, rest.sellCalls)
}

func TestEvaluateTrailingStopTriggersAfterPeakDrop(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	settings := models.Default()
	settings.UseAutoSell = true
	settings.StopLossRate = -10
	settings.TrailingStartRate = 1.0
	settings.TrailingStopRate = -0.3
	settings.MockTrade = true

	mgr, rest, prices, _ := newTestManager(t, now, settings)
	prices.vals["005930_0B"] = map[string]string{"10": "70500"}

	pos := &models.Position{
		Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld,
		OrderTime: now.Add(-time.Minute), TrailingActive: true, PeakProfitRate: 2.0,
	}
	mgr.state.SetPosition("005930", pos)

	mgr.Run(context.Background())

	updated, ok := mgr.state.Position("005930")
	require.True(t, ok)
	assert.Equal(t, models.PositionSellOrdered, updated.Status)
	assert.Equal(t, 1, rest.sellCalls)
}

func TestEvaluateTimeCutTriggersOnStalledSmallGain(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	settings := models.Default()
	settings.UseAutoSell = true
	settings.StopLossRate = -10
	settings.TimeCutMinutes = 20
	settings.TrailingStartRate = 5.0
	settings.MockTrade = true

	mgr, rest, prices, _ := newTestManager(t, now, settings)
	prices.vals["005930_0B"] = map[string]string{"10": "70100"}

	pos := &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld, OrderTime: now.Add(-30 * time.Minute)}
	mgr.state.SetPosition("005930", pos)

	mgr.Run(context.Background())

	updated, ok := mgr.state.Position("005930")
	require.True(t, ok)
	assert.Equal(t, models.PositionSellOrdered, updated.Status)
	assert.Equal(t, 1, rest.sellCalls)
}

func TestEvaluateSkipsAlreadySellOrderedPositions(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	settings := models.Default()
	settings.UseAutoSell = true
	settings.StopLossRate = -2.5

	mgr, rest, prices, _ := newTestManager(t, now, settings)
	prices.vals["005930_0B"] = map[string]string{"10": "60000"}

	pos := &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionSellOrdered, OrderTime: now}
	mgr.state.SetPosition("005930", pos)

	mgr.Run(context.Background())

	assert.Equal(t, 0, rest.sellCalls)
}

func TestMorningLiquidationSellsOnWeakOpen(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 1, 0, 0, time.UTC)
	settings := models.Default()
	settings.OvernightCondIDs = []string{"2"}

	mgr, rest, prices, _ := newTestManager(t, now, settings)
	prices.vals["005930_0B"] = map[string]string{"10": "-69000"}

	pos := &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld, ConditionSource: "2:scanner"}
	mgr.state.SetPosition("005930", pos)

	mgr.MorningLiquidation(context.Background())

	updated, ok := mgr.state.Position("005930")
	require.True(t, ok)
	assert.Equal(t, models.PositionSellOrdered, updated.Status)
	assert.Equal(t, 1, rest.sellCalls)
}

func TestMorningLiquidationArmsTrailingOnStrongOpen(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 1, 0, 0, time.UTC)
	settings := models.Default()
	settings.OvernightCondIDs = []string{"2"}

	mgr, rest, prices, _ := newTestManager(t, now, settings)
	prices.vals["005930_0B"] = map[string]string{"10": "71500"}

	pos := &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld, ConditionSource: "2:scanner"}
	mgr.state.SetPosition("005930", pos)

	mgr.MorningLiquidation(context.Background())

	updated, ok := mgr.state.Position("005930")
	require.True(t, ok)
	assert.True(t, updated.TrailingActive)
	assert.Equal(t, 0, rest.sellCalls)
}

func TestMorningLiquidationIgnoresOrdinaryPositions(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 1, 0, 0, time.UTC)
	settings := models.Default()
	settings.OvernightCondIDs = []string{"2"}

	mgr, rest, prices, _ := newTestManager(t, now, settings)
	prices.vals["005930_0B"] = map[string]string{"10": "-69000"}

	pos := &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld, ConditionSource: "0:scanner"}
	mgr.state.SetPosition("005930", pos)

	mgr.MorningLiquidation(context.Background())

	assert.Equal(t, 0, rest.sellCalls)
}

func TestMarketCloseLiquidationApprovesOvernightHold(t *testing.T) {
	now := time.Date(2026, 7, 31, 15, 12, 0, 0, time.UTC)
	settings := models.Default()
	settings.OvernightCondIDs = []string{}

	mgr, rest, _, vis := newTestManager(t, now, settings)
	vis.verdict = vision.Verdict{Decision: vision.DecisionYes, Reason: "near day high"}
	rest.chartRows = oscillatingRows(35)

	pos := &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld, ConditionSource: "0:scanner"}
	mgr.state.SetPosition("005930", pos)

	mgr.MarketCloseLiquidation(context.Background())

	updated, ok := mgr.state.Position("005930")
	require.True(t, ok)
	assert.True(t, updated.OvernightApproved)
	assert.Equal(t, 0, rest.sellCalls)
}

func TestMarketCloseLiquidationSellsOnRejection(t *testing.T) {
	now := time.Date(2026, 7, 31, 15, 12, 0, 0, time.UTC)
	settings := models.Default()
	settings.OvernightCondIDs = []string{}

	mgr, rest, _, vis := newTestManager(t, now, settings)
	vis.verdict = vision.Verdict{Decision: vision.DecisionNo, Reason: "closing weak"}
	rest.chartRows = oscillatingRows(35)

	pos := &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld, ConditionSource: "0:scanner"}
	mgr.state.SetPosition("005930", pos)

	mgr.MarketCloseLiquidation(context.Background())

	assert.Equal(t, 1, rest.sellCalls)
}

func TestBulkSellLiquidatesEveryOpenPosition(t *testing.T) {
	now := time.Date(2026, 7, 31, 11, 0, 0, 0, time.UTC)
	settings := models.Default()

	mgr, rest, _, _ := newTestManager(t, now, settings)
	mgr.state.SetPosition("005930", &models.Position{Symbol: "005930", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld})
	mgr.state.SetPosition("000660", &models.Position{Symbol: "000660", BuyPrice: 50000, BuyQty: 5, Status: models.PositionHeld})

	mgr.BulkSell(context.Background())

	assert.Equal(t, 2, rest.sellCalls)
}

// oscillatingRows mirrors the pipeline test helper: mixed up/down closes so
// any indicator computed over them stays in a moderate range.
func oscillatingRows(n int) []map[string]any {
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
