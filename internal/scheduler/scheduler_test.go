package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/store"
)

type fakePresets struct {
	presets map[string]models.StrategyPreset
}

func (f *fakePresets) Preset(conditionID string) (models.StrategyPreset, bool) {
	p, ok := f.presets[conditionID]
	return p, ok
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Send(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	sto, err := store.Open(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sto.Close() })
	return sto
}

func TestScheduler_RotatesToLatestPassedWindow(t *testing.T) {
	sto := newTestStore(t)
	presets := &fakePresets{presets: map[string]models.StrategyPreset{
		"1": {ConditionID: "1", Name: "midday", StopLossRate: -3},
	}}
	notifier := &fakeNotifier{}

	current := models.Settings{
		UseScheduler: true,
		ConditionID:  "0",
		ScheduleTable: []models.ScheduleWindow{
			{StartTime: "09:00", ConditionID: "0"},
			{StartTime: "11:00", ConditionID: "1"},
			{StartTime: "14:00", ConditionID: "2"},
		},
	}

	var applied models.Settings
	var applyCalled int
	apply := func(s models.Settings) { applied = s; applyCalled++ }

	noon := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	s := New(sto, presets, notifier, func() models.Settings { return current }, apply, func() time.Time { return noon })

	s.Tick(context.Background())

	require.Equal(t, 1, applyCalled)
	assert.Equal(t, "1", applied.ConditionID)
	assert.Equal(t, models.StatusRestarting, applied.BotStatus)
	assert.Equal(t, -3.0, applied.StopLossRate)
}

func TestScheduler_IdempotentWithinSameMinute(t *testing.T) {
	sto := newTestStore(t)
	presets := &fakePresets{presets: map[string]models.StrategyPreset{
		"1": {ConditionID: "1", Name: "midday"},
	}}

	current := models.Settings{
		UseScheduler: true,
		ConditionID:  "1", // already rotated
		ScheduleTable: []models.ScheduleWindow{
			{StartTime: "11:00", ConditionID: "1"},
		},
	}

	applyCount := 0
	noon := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	s := New(sto, presets, nil, func() models.Settings { return current }, func(models.Settings) { applyCount++ }, func() time.Time { return noon })

	s.Tick(context.Background())
	s.Tick(context.Background())

	assert.Equal(t, 0, applyCount)
}

func TestScheduler_DailyReportSentOnceInWindow(t *testing.T) {
	sto := newTestStore(t)
	notifier := &fakeNotifier{}
	sto.LogTrade(models.TradeRecord{Timestamp: time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC), Action: models.TradeBuy, Symbol: "005930"})
	sto.LogTrade(models.TradeRecord{Timestamp: time.Date(2026, 7, 31, 13, 0, 0, 0, time.UTC), Action: models.TradeSell, Symbol: "005930", ProfitAmount: 5000})

	reportTime := time.Date(2026, 7, 31, 15, 45, 0, 0, time.UTC)
	s := New(sto, &fakePresets{}, notifier, func() models.Settings { return models.Settings{} }, func(models.Settings) {}, func() time.Time { return reportTime })

	s.Tick(context.Background())
	s.Tick(context.Background())

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "Buys: 1")
}

func TestScheduler_RunStartupCleanup(t *testing.T) {
	sto := newTestStore(t)
	s := New(sto, &fakePresets{}, nil, func() models.Settings { return models.Settings{} }, func(models.Settings) {}, nil)
	s.RunStartupCleanup()
}
