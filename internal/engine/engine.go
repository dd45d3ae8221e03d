// Package engine wires every collaborator package into the running bot:
// credentials, REST client, MDG gateway, Signal Pipeline, Position
// Manager, Reconciler, Scheduler, and the Control Loop, then drives the
// outer restart loop. A RESTARTING status tears down and rebuilds the
// settings-dependent component graph in place rather than exiting the
// process, since a Go Engine carries no interpreter-global state that
// only a process restart could clear; see DESIGN.md's "RESTARTING
// handling" entry.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kiwoom-bot/daytrader/internal/backtest"
	"github.com/kiwoom-bot/daytrader/internal/calendar"
	"github.com/kiwoom-bot/daytrader/internal/config"
	"github.com/kiwoom-bot/daytrader/internal/control"
	"github.com/kiwoom-bot/daytrader/internal/creds"
	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/mdg"
	"github.com/kiwoom-bot/daytrader/internal/metrics"
	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/notify"
	"github.com/kiwoom-bot/daytrader/internal/pipeline"
	"github.com/kiwoom-bot/daytrader/internal/position"
	"github.com/kiwoom-bot/daytrader/internal/reconciler"
	"github.com/kiwoom-bot/daytrader/internal/restclient"
	"github.com/kiwoom-bot/daytrader/internal/scheduler"
	"github.com/kiwoom-bot/daytrader/internal/state"
	"github.com/kiwoom-bot/daytrader/internal/store"
	"github.com/kiwoom-bot/daytrader/internal/vision"
)

// iterationInterval is the control loop's outer tick: fast enough to honor
// the 2s position cycle and 5s snapshot cadences without busy-spinning.
const iterationInterval = 500 * time.Millisecond

// Engine owns the process-lifetime collaborators (store, state, notifier,
// vision, reference data) and rebuilds the settings-dependent ones
// (credentials, REST client, MDG gateway, pipeline, position manager,
// reconciler, scheduler, control loop) every time RESTARTING fires.
type Engine struct {
	cfg   config.Env
	store *store.Store
	state *state.Book

	notifier notify.Notifier
	visionC  vision.Client
	clock    calendar.Clock

	symbols *SymbolIndex
	presets *PresetRegistry
}

// New builds the process-lifetime half of the engine. Credentials/REST/MDG
// and the settings-dependent services are constructed lazily by run, once
// per (re)start, off whatever Settings is current at that moment.
func New(cfg config.Env, sto *store.Store, visionC vision.Client, notifier notify.Notifier) *Engine {
	if visionC == nil {
		visionC = vision.NoopClient{}
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Engine{
		cfg:      cfg,
		store:    sto,
		state:    state.New(),
		notifier: notifier,
		visionC:  visionC,
		clock:    calendar.New(nil),
		symbols:  NewSymbolIndex(sto.LoadSymbols()),
		presets:  NewPresetRegistry(cfg.LoadPresets()),
	}
}

// Run drives the outer restart loop until ctx is cancelled: build the
// settings-bound component graph, run the control loop's cadence until it
// reports RESTARTING (or ctx ends), tear down, and rebuild against the
// settings that triggered the restart.
func (e *Engine) Run(ctx context.Context) {
	e.state.LoadPositions(e.store.LoadPositions())

	for ctx.Err() == nil {
		set, ok := e.store.LoadSettings()
		if !ok {
			set = models.Default()
		}
		set.BotStatus = models.StatusBooting
		e.store.SaveSettings(set)

		comp, teardown, generationID := e.build(ctx, set)
		logger.Infof("engine: (re)starting generation=%s in %s mode", generationID, modeLabel(set.MockTrade))

		set.BotStatus = models.StatusRunning
		e.store.SaveSettings(set)
		metrics.SetBotRunning(true)

		e.runUntilRestart(ctx, comp)
		teardown()
	}

	logger.Infof("engine: context cancelled, flushing final snapshot")
	e.flushFinalSnapshot()
}

// components bundles one generation of the settings-dependent collaborator
// graph, rebuilt whole on every restart.
type components struct {
	rest      *restclient.Client
	gateway   *mdg.Gateway
	regimes   *RegimeTracker
	pipeline  *pipeline.Pipeline
	positions *position.Manager
	recon     *reconciler.Reconciler
	scheduler *scheduler.Scheduler
	control   *control.Loop
}

func (e *Engine) build(ctx context.Context, set models.Settings) (*components, func(), string) {
	genCtx, cancel := context.WithCancel(ctx)
	generationID := uuid.NewString()

	cacheKey := "token_real"
	if set.MockTrade {
		cacheKey = "token_mock"
	}
	tokenSvc := creds.New(e.store, e.cfg.HostURL(), e.cfg.AppKey(), e.cfg.Secret(), cacheKey)
	rest := restclient.New(tokenSvc, e.cfg.HostURL(), e.cfg.AccountNo(), set.MockTrade)
	gateway := mdg.New(e.cfg.SocketURL(), tokenSvc)
	regimes := NewRegimeTracker(rest)

	settingsFn := func() models.Settings {
		s, ok := e.store.LoadSettings()
		if !ok {
			return set
		}
		return s
	}
	applyFn := func(s models.Settings) { e.store.SaveSettings(s) }
	nowFn := time.Now

	pipe := pipeline.New(pipeline.Deps{
		State: e.state, Store: e.store, REST: rest, Vision: e.visionC,
		Regimes: regimes, Markets: e.symbols, Sub: gateway,
		Settings: settingsFn, Now: nowFn,
	})
	positions := position.New(e.state, e.store, rest, e.visionC, gateway, e.notifier, settingsFn, nowFn)
	recon := reconciler.New(e.state, e.store, rest, gateway, settingsFn, nowFn)
	sched := scheduler.New(e.store, e.presets, e.notifier, settingsFn, applyFn, nowFn)
	sched.RunStartupCleanup()

	bt := backtest.New(newBacktestChartAdapter(rest), set)

	loop := control.New(control.Deps{
		State: e.state, Store: e.store, Clock: e.clock, REST: rest,
		Pipeline: pipe, Positions: positions, Recon: recon, Scheduler: sched,
		Backtest: bt, Events: gateway.ConditionEvents(),
		Settings: settingsFn, Apply: applyFn, Now: nowFn,
		Regimes: regimes.Snapshot,
	})

	go gateway.Run(genCtx)
	go e.regimeRefreshLoop(genCtx, regimes)
	go e.accountEventLoop(genCtx, gateway)

	comp := &components{
		rest: rest, gateway: gateway, regimes: regimes, pipeline: pipe,
		positions: positions, recon: recon, scheduler: sched, control: loop,
	}
	return comp, func() { cancel() }, generationID
}

// runUntilRestart ticks the control loop until it reports a RESTARTING
// status transition or ctx ends.
func (e *Engine) runUntilRestart(ctx context.Context, comp *components) {
	ticker := time.NewTicker(iterationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if comp.control.Iterate(ctx) {
				logger.Infof("engine: RESTARTING observed, rebuilding component graph")
				return
			}
		}
	}
}

// regimeRefreshLoop keeps the market-filter gate warm independently of the
// control loop's cadence, since RegimeTracker.Refresh is cheap to call
// often and the pipeline needs a non-stale regime the instant a condition
// hit arrives.
func (e *Engine) regimeRefreshLoop(ctx context.Context, regimes *RegimeTracker) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	regimes.Refresh(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			regimes.Refresh(ctx, time.Now())
		}
	}
}

// accountEventLoop drains the MDG's account/fill push stream. The push
// payload's field keys are broker-internal and not authoritative on their
// own, so fill confirmation is left to the Reconciler's balance diff and
// the Control Loop's unfilled-order cancel/revert logic; this loop only
// keeps the channel from filling up and logs for operator visibility.
func (e *Engine) accountEventLoop(ctx context.Context, gateway *mdg.Gateway) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-gateway.AccountEvents():
			if !ok {
				return
			}
			logger.Debugf("engine: account event type=%s", evt.Type)
		}
	}
}

func (e *Engine) flushFinalSnapshot() {
	set, _ := e.store.LoadSettings()
	set.BotStatus = models.StatusStopped
	e.store.SaveSettings(set)
	e.store.SaveStatusSnapshot(store.StatusSnapshot{
		BotStatus: models.StatusStopped,
		MockTrade: set.MockTrade,
		Positions: e.state.Positions(),
		Settings:  set,
	})
	e.store.SavePositions(e.state.Positions())
	metrics.SetBotRunning(false)
}

func modeLabel(mockTrade bool) string {
	if mockTrade {
		return "paper"
	}
	return "real"
}
