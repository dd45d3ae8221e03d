package position

import (
	"context"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/candles"
	"github.com/kiwoom-bot/daytrader/internal/fees"
	"github.com/kiwoom-bot/daytrader/internal/indicators"
	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/vision"
)

// MarketCloseLiquidation runs the 15:10-15:19 overnight screening: every
// held position not already claimed by an overnight condition id is
// re-analyzed by the vision gate under the "2" (overnight) prompt, and
// liquidated unless the model approves holding it through the close,
// mirroring try_market_close_liquidation.
func (m *Manager) MarketCloseLiquidation(ctx context.Context) {
	now := m.now()
	if !(now.Hour() == 15 && now.Minute() >= 10 && now.Minute() < 20) {
		return
	}

	s := m.settings()
	overnight := overnightIDs(s)

	for code, pos := range m.state.Positions() {
		if pos.Status.IsSellOrdered() || pos.OvernightApproved || pos.BuyQty <= 0 {
			continue
		}
		if _, isOvernightCond := overnight[conditionIDOf(pos.ConditionSource)]; isOvernightCond {
			continue
		}

		series, err := m.fetchCandles(ctx, code)
		if err != nil || len(series) == 0 {
			continue
		}
		image, err := candles.Render(series, code)
		if err != nil {
			continue
		}
		verdict, err := m.vision.Analyze(ctx, image, vision.PromptFor("2"))
		if err != nil {
			continue
		}

		if verdict.Decision == vision.DecisionYes {
			pos.OvernightApproved = true
			m.state.SetPosition(code, pos)
			logger.Infof("position: %s overnight hold approved (%s)", code, verdict.Reason)
			m.notifier.Send(ctx, "overnight hold approved: "+code+" - "+verdict.Reason)
			continue
		}

		logger.Infof("position: %s overnight hold rejected (%s), liquidating", code, verdict.Reason)
		m.sell(ctx, code, pos, pos.BuyPrice, "overnight_reject", models.PositionSellOrderedBulk, s)
	}
}

// MorningLiquidation runs the 09:00-09:02 gap-open handling over every
// position the previous session flagged as a carry-over target (an
// overnight condition id, AI overnight approval, or a legacy carry-over
// source marker): a weak open sells immediately, a strong open arms the
// trailing stop instead, mirroring try_morning_liquidation.
func (m *Manager) MorningLiquidation(ctx context.Context) {
	now := m.now()
	if !(now.Hour() == 9 && now.Minute() <= 2) {
		return
	}

	s := m.settings()
	overnight := overnightIDs(s)

	for code, pos := range m.state.Positions() {
		if pos.Status.IsSellOrdered() || pos.TrailingActive {
			continue
		}
		condID := conditionIDOf(pos.ConditionSource)
		_, isOvernightCond := overnight[condID]
		isCarryOver := condID == SourceExistingHolding || condID == SourceExternalSync ||
			pos.ConditionSource == SourceExistingHolding || pos.ConditionSource == SourceExternalSync
		if !isOvernightCond && !pos.OvernightApproved && !isCarryOver {
			continue
		}
		if pos.BuyQty <= 0 || pos.BuyPrice <= 0 {
			continue
		}

		price, err := m.resolvePrice(ctx, code)
		if err != nil || price <= 0 {
			continue
		}
		_, profitRate := fees.NetProfit(pos.BuyPrice, pos.BuyQty, price, fees.For(s.MockTrade))

		if profitRate <= 0 {
			logger.Infof("position: %s weak open (%.2f%%), liquidating", code, profitRate)
			m.sell(ctx, code, pos, price, "morning_liquidation", models.PositionSellOrdered, s)
			continue
		}

		logger.Infof("position: %s strong open (%.2f%%), trailing stop armed", code, profitRate)
		pos.TrailingActive = true
		pos.PeakProfitRate = profitRate
		m.state.SetPosition(code, pos)
	}
}

// BulkSell immediately market-sells every held position, for a
// user-issued BULK_SELL command.
func (m *Manager) BulkSell(ctx context.Context) {
	s := m.settings()
	m.notifier.Send(ctx, "bulk sell: liquidating all open positions")
	for code, pos := range m.state.Positions() {
		if pos.Status.IsSellOrdered() || pos.BuyQty <= 0 {
			continue
		}
		m.sell(ctx, code, pos, pos.BuyPrice, "bulk_sell", models.PositionSellOrderedBulk, s)
		time.Sleep(200 * time.Millisecond)
	}
}

func (m *Manager) fetchCandles(ctx context.Context, code string) ([]indicators.Candle, error) {
	rows, err := m.rest.GetMinuteChart(ctx, code, "1")
	if err != nil {
		return nil, err
	}
	return candles.FromRows(rows), nil
}
