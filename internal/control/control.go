// Package control implements the Control Loop: drains Store's UI->engine
// command queue, reloads Settings (detecting a mock_trade flip as a
// restart signal), manages unfilled orders, and dispatches to the Signal
// Pipeline / Position Manager / Reconciler at the cadence and gating
// rules of §4.9. Grounded on
// original_source/python/kiwoom/main.py's run_bot_cycle main loop.
package control

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/backtest"
	"github.com/kiwoom-bot/daytrader/internal/calendar"
	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/metrics"
	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/state"
	"github.com/kiwoom-bot/daytrader/internal/store"
)

// conditionDropStart/End bound the times outside which RUNNING
// discards incoming condition events even though the market is formally
// closed, per §4.9's "drop condition events outside 08:30-15:35".
var (
	conditionDropStart = 8*time.Hour + 30*time.Minute
	conditionDropEnd   = 15*time.Hour + 35*time.Minute

	reconcileStart = 8*time.Hour + 40*time.Minute

	unfilledOrderAge       = 20 * time.Second
	cancelRetryInterval    = 10 * time.Second
	statusSnapshotInterval = 5 * time.Second
)

// PipelineRunner is the Signal Pipeline surface the control loop drives.
type PipelineRunner interface {
	Drain(ctx context.Context, events <-chan models.ConditionEvent)
}

// PositionRunner is the Position Manager surface the control loop drives.
type PositionRunner interface {
	Run(ctx context.Context)
	MarketCloseLiquidation(ctx context.Context)
	MorningLiquidation(ctx context.Context)
	BulkSell(ctx context.Context)
}

// ReconcilerRunner is the Reconciler surface the control loop drives.
type ReconcilerRunner interface {
	Run(ctx context.Context)
	RunDailyProfit(ctx context.Context)
}

// SchedulerRunner is the Scheduler surface the control loop drives.
type SchedulerRunner interface {
	Tick(ctx context.Context)
}

// BacktestRunner replays a BACKTEST_REQ payload.
type BacktestRunner interface {
	Run(ctx context.Context, req models.BacktestRequest) backtest.Result
}

// CancelRequester is a narrow order-cancel surface so unfilled-order
// management doesn't need the full restclient.Client type here.
type CancelRequester interface {
	CancelOrder(ctx context.Context, stockCode string, qty int64, origOrderNo string, isBuy bool) (string, error)
}

// Loop drives one engine iteration: command drain, settings reload,
// status snapshot, and the RUNNING/STOPPED cadence dispatch.
type Loop struct {
	state     *state.Book
	store     *store.Store
	clock     calendar.Clock
	rest      CancelRequester
	pipeline  PipelineRunner
	positions PositionRunner
	recon     ReconcilerRunner
	scheduler SchedulerRunner
	backtest  BacktestRunner
	events    <-chan models.ConditionEvent

	settings func() models.Settings
	apply    func(models.Settings)
	now      func() time.Time
	regimes  func() map[models.Market]models.MarketRegime
	boot     time.Time

	lastPositionCycle time.Time
	lastReconcile     time.Time
	lastSnapshot      time.Time
	lastMockTrade     bool

	cancelAttempt map[string]time.Time
}

// Deps bundles Loop's collaborators.
type Deps struct {
	State     *state.Book
	Store     *store.Store
	Clock     calendar.Clock
	REST      CancelRequester
	Pipeline  PipelineRunner
	Positions PositionRunner
	Recon     ReconcilerRunner
	Scheduler SchedulerRunner
	Backtest  BacktestRunner
	Events    <-chan models.ConditionEvent
	Settings  func() models.Settings
	Apply     func(models.Settings)
	Now       func() time.Time
	Regimes   func() map[models.Market]models.MarketRegime // optional, snapshot-only
}

// New builds a Loop.
func New(d Deps) *Loop {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{
		state:         d.State,
		store:         d.Store,
		clock:         d.Clock,
		rest:          d.REST,
		pipeline:      d.Pipeline,
		positions:     d.Positions,
		recon:         d.Recon,
		scheduler:     d.Scheduler,
		backtest:      d.Backtest,
		events:        d.Events,
		settings:      d.Settings,
		apply:         d.Apply,
		now:           now,
		regimes:       d.Regimes,
		boot:          now(),
		lastMockTrade: d.Settings().MockTrade,
		cancelAttempt: map[string]time.Time{},
	}
}

// Iterate runs exactly one control-loop pass, matching §4.9's five-step
// pseudocode, and reports whether the outer restart loop should break
// (status became RESTARTING).
func (l *Loop) Iterate(ctx context.Context) (restart bool) {
	l.drainCommand(ctx)

	set := l.settings()
	if set.MockTrade != l.lastMockTrade {
		l.lastMockTrade = set.MockTrade
		set.BotStatus = models.StatusRestarting
		l.apply(set)
	}

	now := l.now()
	if now.Sub(l.lastSnapshot) >= statusSnapshotInterval {
		l.lastSnapshot = now
		l.snapshot(set)
	}

	l.scheduler.Tick(ctx)
	set = l.settings()

	if set.BotStatus == models.StatusRestarting {
		return true
	}

	switch set.BotStatus {
	case models.StatusRunning:
		l.runRunning(ctx, set, now)
	case models.StatusStopped:
		l.runStopped(ctx, now)
	default:
		// BOOTING: nothing to drive yet.
	}

	return false
}

func (l *Loop) drainCommand(ctx context.Context) {
	cmd, err := l.store.PopCommand()
	if err != nil {
		logger.Warnf("control: command pop failed: %v", err)
		return
	}
	if cmd == nil {
		return
	}

	switch cmd.Type {
	case models.CommandBulkSell:
		logger.Infof("control: BULK_SELL command received")
		l.positions.BulkSell(ctx)
	case models.CommandBacktestReq:
		var req models.BacktestRequest
		if err := json.Unmarshal([]byte(cmd.Payload), &req); err != nil {
			logger.Warnf("control: malformed BACKTEST_REQ payload: %v", err)
			return
		}
		res := l.backtest.Run(ctx, req)
		backtest.SaveResult(l.store, cmd.ID, res)
	}
}

func (l *Loop) runRunning(ctx context.Context, set models.Settings, now time.Time) {
	marketOpen := (!set.UseMarketTime) || l.clock.IsMarketOpen(now)
	pastOpeningGrace := now.Hour() > 9 || (now.Hour() == 9 && now.Minute() > 0) || (now.Hour() == 9 && now.Minute() == 0 && now.Second() > 30)

	if marketOpen && pastOpeningGrace {
		l.pipeline.Drain(ctx, l.events)

		if now.Sub(l.lastPositionCycle) >= 2*time.Second {
			l.lastPositionCycle = now
			l.positions.Run(ctx)
			l.positions.MarketCloseLiquidation(ctx)
			l.positions.MorningLiquidation(ctx)
		}

		l.manageUnfilledOrders(ctx, now)

		if now.Sub(l.lastReconcile) >= 20*time.Second {
			l.lastReconcile = now
			l.recon.Run(ctx)
		}
		l.recon.RunDailyProfit(ctx)
		return
	}

	// market closed: only periodic reconciliation during the
	// 08:40->close window; drop condition events outside 08:30-15:35.
	sinceMidnight := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute
	if sinceMidnight < conditionDropStart || sinceMidnight >= conditionDropEnd {
		l.drainAndDiscard()
	}
	if sinceMidnight >= reconcileStart && now.Sub(l.lastReconcile) >= 20*time.Second {
		l.lastReconcile = now
		l.recon.Run(ctx)
	}
}

func (l *Loop) runStopped(ctx context.Context, now time.Time) {
	// exit automation must continue even while stopped: keep running the
	// Position Manager and account-event processing, but never open new
	// positions, and drop every pending condition event.
	l.drainAndDiscard()

	if now.Sub(l.lastPositionCycle) >= 2*time.Second {
		l.lastPositionCycle = now
		l.positions.Run(ctx)
	}
}

func (l *Loop) drainAndDiscard() {
	for {
		select {
		case _, ok := <-l.events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (l *Loop) snapshot(set models.Settings) {
	var regimes map[models.Market]models.MarketRegime
	if l.regimes != nil {
		regimes = l.regimes()
	}
	l.store.SaveStatusSnapshot(store.StatusSnapshot{
		BotStatus: set.BotStatus,
		MockTrade: set.MockTrade,
		Positions: l.state.Positions(),
		Settings:  set,
		Regimes:   regimes,
	})
	l.store.SavePositions(l.state.Positions())
	metrics.SetBotRunning(set.BotStatus == models.StatusRunning)
	metrics.PositionsOpen.Set(float64(l.state.Count()))
}

// manageUnfilledOrders cancels any *_ORDERED position whose order has
// been outstanding more than 20s and hasn't had a cancel attempt in the
// last 10s; a cancelled buy order removes the Position, a cancelled sell
// order reverts it to HELD, per §4.9.
func (l *Loop) manageUnfilledOrders(ctx context.Context, now time.Time) {
	for code, pos := range l.state.Positions() {
		if !pos.HasInFlightOrder() {
			continue
		}
		if now.Sub(pos.OrderTime) <= unfilledOrderAge {
			continue
		}
		if last, ok := l.cancelAttempt[code]; ok && now.Sub(last) < cancelRetryInterval {
			continue
		}
		l.cancelAttempt[code] = now
		pos.LastCancelAttemptTime = now

		isBuy := pos.Status == models.PositionBuyOrdered
		_, err := l.rest.CancelOrder(ctx, code, pos.BuyQty, pos.ActiveOrderID, isBuy)
		if err != nil {
			logger.Warnf("control: cancel failed for %s: %v", code, err)
			l.state.SetPosition(code, pos)
			continue
		}

		if isBuy {
			logger.Infof("control: cancelled unfilled buy for %s", code)
			l.state.DeletePosition(code)
			continue
		}

		logger.Infof("control: cancelled unfilled sell for %s, reverting to HELD", code)
		pos.Status = models.PositionHeld
		pos.ActiveOrderID = ""
		l.state.SetPosition(code, pos)
	}
}
