package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiwoom-bot/daytrader/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKVRoundTrip(t *testing.T) {
	s := openTestStore(t)

	type payload struct {
		A int    `json:"a"`
		B string `json:"b"`
	}

	var out payload
	assert.False(t, s.GetJSON("missing", &out))

	s.SetJSON("k", payload{A: 1, B: "x"})
	assert.True(t, s.GetJSON("k", &out))
	assert.Equal(t, payload{A: 1, B: "x"}, out)

	s.Delete("k")
	assert.False(t, s.GetJSON("k", &out))
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok := s.LoadSettings()
	assert.False(t, ok)

	want := models.Default()
	want.OrderAmount = 2_000_000
	s.SaveSettings(want)

	got, ok := s.LoadSettings()
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestPositionsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	empty := s.LoadPositions()
	assert.NotNil(t, empty)
	assert.Len(t, empty, 0)

	pos := map[string]*models.Position{
		"005930": {Symbol: "005930", SymbolName: "Samsung", BuyPrice: 70000, BuyQty: 10, Status: models.PositionHeld},
	}
	s.SavePositions(pos)

	got := s.LoadPositions()
	require.Contains(t, got, "005930")
	assert.Equal(t, 70000.0, got["005930"].BuyPrice)
}

func TestTradeLog(t *testing.T) {
	s := openTestStore(t)

	s.LogTrade(models.TradeRecord{
		Timestamp: time.Now(), Action: models.TradeBuy, Symbol: "005930", Name: "Samsung",
		Qty: 10, Price: 70000, Reason: "entry",
	})
	s.LogTrade(models.TradeRecord{
		Timestamp: time.Now(), Action: models.TradeSell, Symbol: "005930", Name: "Samsung",
		Qty: 10, Price: 71000, Reason: "stop_loss",
	})

	recent := s.RecentTrades(10)
	require.Len(t, recent, 2)
	assert.Equal(t, models.TradeSell, recent[0].Action) // newest first
}

func TestCommandQueueFIFOAndExactlyOnce(t *testing.T) {
	s := openTestStore(t)

	cmd, err := s.PopCommand()
	require.NoError(t, err)
	assert.Nil(t, cmd)

	require.NoError(t, s.PushCommand(models.CommandBulkSell, `{"symbol":"005930"}`))
	require.NoError(t, s.PushCommand(models.CommandBacktestReq, `{"signals":[]}`))

	first, err := s.PopCommand()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, models.CommandBulkSell, first.Type)
	assert.Equal(t, models.CommandDone, first.Status)

	second, err := s.PopCommand()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, models.CommandBacktestReq, second.Type)

	third, err := s.PopCommand()
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestCleanupPrunesOldRows(t *testing.T) {
	s := openTestStore(t)

	old := time.Now().AddDate(0, 0, -10)
	s.LogTrade(models.TradeRecord{Timestamp: old, Action: models.TradeBuy, Symbol: "005930", Qty: 1, Price: 1})
	s.LogTrade(models.TradeRecord{Timestamp: time.Now(), Action: models.TradeBuy, Symbol: "005930", Qty: 1, Price: 1})

	tradeLogs, _, _ := s.Cleanup(7)
	assert.Equal(t, int64(1), tradeLogs)
	assert.Len(t, s.RecentTrades(10), 1)
}

func TestConditionListRoundTrip(t *testing.T) {
	s := openTestStore(t)

	empty := s.LoadConditionList()
	assert.NotNil(t, empty)

	s.SaveConditionList(map[string]string{"0": "golden-cross"})
	got := s.LoadConditionList()
	assert.Equal(t, "golden-cross", got["0"])
}
