// Package models holds the shared data types of the trading engine: the
// listed-security reference data, the runtime Settings bundle, per-symbol
// Positions, Strategy Presets, the re-entry cooldown bookkeeping, and the
// Command/TradeRecord records that flow through Store.
package models

import "time"

// Market tags a listed Symbol's exchange.
type Market string

const (
	MarketKOSPI  Market = "KOSPI"
	MarketKOSDAQ Market = "KOSDAQ"
)

// Symbol identifies a listed security. Loaded once per trading day from the
// external listing source and persisted in Store.
type Symbol struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market Market `json:"market"`
}

// BotStatus is the engine's desired run mode, driven by Settings.
type BotStatus string

const (
	StatusRunning    BotStatus = "RUNNING"
	StatusStopped    BotStatus = "STOPPED"
	StatusRestarting BotStatus = "RESTARTING"
	StatusBooting    BotStatus = "BOOTING"
)

// ScheduleWindow is one entry of the intraday strategy-rotation table.
type ScheduleWindow struct {
	StartTime   string `json:"start_time"` // "HH:MM"
	ConditionID string `json:"condition_id"`
}

// Settings is the process-wide configuration. Every recognized field is
// enumerated here; unknown keys loaded from Store are ignored rather than
// rejected.
type Settings struct {
	BotStatus  BotStatus `json:"bot_status"`
	MockTrade  bool      `json:"mock_trade"`
	ConditionID string   `json:"condition_id"`

	OrderAmount int64 `json:"order_amount"`

	StopLossRate      float64 `json:"stop_loss_rate"`
	TrailingStartRate float64 `json:"trailing_start_rate"`
	TrailingStopRate  float64 `json:"trailing_stop_rate"`

	ReEntryCooldownMin int `json:"re_entry_cooldown_min"`
	TimeCutMinutes     int `json:"time_cut_minutes"`

	RSILimit float64 `json:"rsi_limit"`

	UseHogaFilter   bool    `json:"use_hoga_filter"`
	MinBuySellRatio float64 `json:"min_buy_sell_ratio"`

	UseAIStopLoss         bool    `json:"use_ai_stop_loss"`
	AIStopLossSafetyLimit float64 `json:"ai_stop_loss_safety_limit"`

	UseMarketFilter bool `json:"use_market_filter"`
	UseMarketTime   bool `json:"use_market_time"`
	UseAutoSell     bool `json:"use_auto_sell"`

	UseScheduler   bool             `json:"use_scheduler"`
	ScheduleTable  []ScheduleWindow `json:"schedule_table"`

	OvernightCondIDs []string `json:"overnight_cond_ids"`

	UseTelegram bool `json:"use_telegram"`
	DebugMode   bool `json:"debug_mode"`
}

// Default returns the baseline Settings used when Store has none persisted
// yet, mirroring the original bot's conservative defaults.
func Default() Settings {
	return Settings{
		BotStatus:             StatusBooting,
		MockTrade:             true,
		ConditionID:           "",
		OrderAmount:           1_000_000,
		StopLossRate:          -2.5,
		TrailingStartRate:     1.5,
		TrailingStopRate:      -1.0,
		ReEntryCooldownMin:    30,
		TimeCutMinutes:        30,
		RSILimit:              75,
		UseHogaFilter:         true,
		MinBuySellRatio:       0.5,
		UseAIStopLoss:         true,
		AIStopLossSafetyLimit: -5.0,
		UseMarketFilter:       true,
		UseMarketTime:         true,
		UseAutoSell:           true,
		UseScheduler:          false,
		UseTelegram:           false,
		DebugMode:             false,
	}
}

// StrategyPreset is an immutable, named bundle of exit-policy parameters
// selected by CONDITION_ID.
type StrategyPreset struct {
	ConditionID        string  `json:"condition_id"`
	Name                string  `json:"name"`
	Description         string  `json:"description"`
	StopLossRate        float64 `json:"stop_loss_rate"`
	TrailingStartRate   float64 `json:"trailing_start_rate"`
	TrailingStopRate    float64 `json:"trailing_stop_rate"`
	ReEntryCooldownMin  int     `json:"re_entry_cooldown_min"`
	MinBuySellRatio     float64 `json:"min_buy_sell_ratio"`
}

// PositionStatus enumerates the lifecycle states of a Position.
type PositionStatus string

const (
	PositionBuyOrdered      PositionStatus = "BUY_ORDERED"
	PositionHeld            PositionStatus = "HELD"
	PositionSellOrdered     PositionStatus = "SELL_ORDERED"
	PositionSellOrderedBulk PositionStatus = "SELL_ORDERED_BULK"
	PositionSellOrderedGap  PositionStatus = "SELL_ORDERED_GAP"
)

// IsSellOrdered reports whether status is one of the SELL_ORDERED* variants.
func (s PositionStatus) IsSellOrdered() bool {
	return s == PositionSellOrdered || s == PositionSellOrderedBulk || s == PositionSellOrderedGap
}

// Position is the per-symbol record tracked by the engine.
type Position struct {
	Symbol               string         `json:"symbol"`
	SymbolName           string         `json:"symbol_name"`
	BuyPrice             float64        `json:"buy_price"`
	BuyQty               int64          `json:"buy_qty"`
	Status               PositionStatus `json:"status"`
	OrderTime            time.Time      `json:"order_time"`
	LastCancelAttemptTime time.Time     `json:"last_cancel_attempt_time,omitempty"`
	ActiveOrderID        string         `json:"active_order_id,omitempty"`
	ConditionSource      string         `json:"condition_source"` // "strategy-id:name"
	TrailingActive       bool           `json:"trailing_active"`
	PeakProfitRate       float64        `json:"peak_profit_rate"`
	CurrentProfitRate    float64        `json:"current_profit_rate"`
	CustomStopLossRate   *float64       `json:"custom_stop_loss_rate,omitempty"`
	OvernightApproved    bool           `json:"overnight_approved"`
}

// EffectiveStopLoss returns the custom per-trade stop if set, else the
// supplied global rate.
func (p *Position) EffectiveStopLoss(globalRate float64) float64 {
	if p.CustomStopLossRate != nil {
		return *p.CustomStopLossRate
	}
	return globalRate
}

// HasInFlightOrder reports whether exactly one order is outstanding for
// this position (the at-most-one-order invariant).
func (p *Position) HasInFlightOrder() bool {
	return p.ActiveOrderID != ""
}

// TradeAction enumerates append-only trade-log entry kinds.
type TradeAction string

const (
	TradeBuy  TradeAction = "BUY"
	TradeSell TradeAction = "SELL"
)

// TradeRecord is one append-only entry in the trade log.
type TradeRecord struct {
	ID           int64       `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	Action       TradeAction `json:"action"`
	Symbol       string      `json:"symbol"`
	Name         string      `json:"name"`
	Qty          int64       `json:"qty"`
	Price        float64     `json:"price"`
	Reason       string      `json:"reason"`
	ProfitRate   float64     `json:"profit_rate"`
	ProfitAmount int64       `json:"profit_amount"`
	VisionReason string      `json:"vision_reason,omitempty"`
}

// CommandType enumerates the UI->engine command queue's command kinds.
type CommandType string

const (
	CommandBulkSell    CommandType = "BULK_SELL"
	CommandBacktestReq CommandType = "BACKTEST_REQ"
)

// CommandStatus tracks delivery of a queued Command.
type CommandStatus string

const (
	CommandPending CommandStatus = "PENDING"
	CommandDone    CommandStatus = "DONE"
)

// Command is one row of the command_queue table.
type Command struct {
	ID        int64         `json:"id"`
	Type      CommandType   `json:"type"`
	Payload   string        `json:"payload"` // raw JSON
	Status    CommandStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// BacktestSignal is one entry of a BACKTEST_REQ payload.
type BacktestSignal struct {
	Symbol string `json:"symbol"`
	Date   string `json:"date"`
	Time   string `json:"time"`
}

// BacktestRequest is the parsed payload of a BACKTEST_REQ command.
type BacktestRequest struct {
	Signals          []BacktestSignal  `json:"signals"`
	SettingOverrides map[string]any    `json:"setting_overrides,omitempty"`
}

// MarketRegime tracks a single index's bullish/bearish state.
type MarketRegime struct {
	Market        Market    `json:"market"`
	CurrentClose  float64   `json:"current_close"`
	MA20          float64   `json:"ma20"`
	IsBullish     bool      `json:"is_bullish"`
	LastCheckTime time.Time `json:"last_check_time"`
}

// Refresh updates the regime from a fresh close/MA20 pair and recomputes
// IsBullish := current_close >= ma20.
func (m *MarketRegime) Refresh(close, ma20 float64, at time.Time) {
	m.CurrentClose = close
	m.MA20 = ma20
	m.IsBullish = close >= ma20
	m.LastCheckTime = at
}

// Stale reports whether the regime is older than the given max age.
func (m *MarketRegime) Stale(maxAge time.Duration, now time.Time) bool {
	return m.LastCheckTime.IsZero() || now.Sub(m.LastCheckTime) > maxAge
}

// ConditionEventType enumerates the condition-hit push kinds.
type ConditionEventType string

const (
	ConditionInsert ConditionEventType = "I"
	ConditionDelete ConditionEventType = "D"
)

// ConditionEvent is a broker-pushed scanner hit/miss notification.
type ConditionEvent struct {
	Code      string
	Type      ConditionEventType
	ScannerID string
	Price     float64 // 0 if not carried by the frame
}
