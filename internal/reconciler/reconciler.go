// Package reconciler periodically reconciles local Position state against
// the broker's authoritative account balance: promoting newly-filled
// buys, raising peak profit toward the server's reported rate, absorbing
// external fills the engine never ordered, and dropping positions that
// vanished from the server balance once the opening-window and
// in-flight-order protections have expired. Grounded on
// original_source/python/kiwoom/strategy.py's reconcile_positions and its
// companion daily P&L poll.
package reconciler

import (
	"context"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/calendar"
	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/metrics"
	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/restclient"
	"github.com/kiwoom-bot/daytrader/internal/state"
	"github.com/kiwoom-bot/daytrader/internal/store"
)

// openingWindowStart/End is the 08:50-09:10 protected window: a local
// Position absent from the server balance here is not deleted unless a
// sell order is outstanding for it, since the broker can lag the fill
// feed right at the open.
var (
	openingWindowStart = 8*time.Hour + 50*time.Minute
	openingWindowEnd   = 9*time.Hour + 10*time.Minute

	safeWindowStart = 8*time.Hour + 30*time.Minute
	safeWindowEnd   = 16*time.Hour + 30*time.Minute
)

// RESTClient is the subset of restclient.Client the Reconciler calls.
type RESTClient interface {
	GetAccountBalance(ctx context.Context) (*restclient.AccountSummary, error)
	DailyProfit(ctx context.Context, dateYYYYMMDD string) (int64, error)
}

// Subscriber lets the Reconciler start streaming ticks for a position it
// discovers on the server but not locally (an external fill).
type Subscriber interface {
	AddSubscription(code, subType string)
}

// Holding is the resolved shape of one server-reported balance row, after
// the broker's renamed-field resolution (see holdingFrom).
type Holding struct {
	Code     string
	Name     string
	BuyPrice float64
	Qty      int64
	PnLRate  float64
}

// Reconciler merges local Position state with the broker's account
// balance on a fixed cadence.
type Reconciler struct {
	state    *state.Book
	store    *store.Store
	rest     RESTClient
	sub      Subscriber
	settings func() models.Settings
	now      func() time.Time

	lastDailyProfit time.Time
}

// New builds a Reconciler over the shared engine state.
func New(st *state.Book, sto *store.Store, rest RESTClient, sub Subscriber, settings func() models.Settings, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{state: st, store: sto, rest: rest, sub: sub, settings: settings, now: now}
}

// Run performs one 20s-cadence reconciliation pass: fetch the account
// balance, merge server holdings into local Positions, and drop local
// Positions the server no longer lists (subject to the protection
// windows). The caller drives the cadence.
func (r *Reconciler) Run(ctx context.Context) {
	summary, err := r.rest.GetAccountBalance(ctx)
	if err != nil || summary == nil {
		logger.Warnf("reconciler: account balance fetch failed: %v", err)
		return
	}

	serverHoldings := map[string]Holding{}
	for _, row := range summary.Holdings {
		h, ok := holdingFrom(row)
		if !ok || h.Qty <= 0 {
			continue
		}
		serverHoldings[h.Code] = h
		r.mergeServerHolding(h)
	}

	r.dropVanished(serverHoldings)
	metrics.PositionsOpen.Set(float64(r.state.Count()))
}

// RunDailyProfit performs the independent 60s-cadence realized-P&L poll.
func (r *Reconciler) RunDailyProfit(ctx context.Context) {
	now := r.now()
	if !r.lastDailyProfit.IsZero() && now.Sub(r.lastDailyProfit) < 60*time.Second {
		return
	}
	r.lastDailyProfit = now

	profit, err := r.rest.DailyProfit(ctx, now.Format("20060102"))
	if err != nil {
		logger.Warnf("reconciler: daily profit fetch failed: %v", err)
		return
	}
	metrics.SetDailyRealizedProfit(profit)
}

func (r *Reconciler) mergeServerHolding(h Holding) {
	pos, existed := r.state.Position(h.Code)
	if !existed {
		pos = &models.Position{
			Symbol:          h.Code,
			SymbolName:      h.Name,
			BuyPrice:        h.BuyPrice,
			BuyQty:          h.Qty,
			Status:          models.PositionHeld,
			OrderTime:       r.now(),
			ConditionSource: "external_sync",
		}
		r.state.SetPosition(h.Code, pos)
		r.sub.AddSubscription(h.Code, "0B")
		metrics.ReconcileDrift.Inc()
		logger.Infof("reconciler: discovered external holding %s qty=%d", h.Code, h.Qty)
		return
	}

	pos.BuyPrice = h.BuyPrice
	pos.BuyQty = h.Qty
	if pos.Status == models.PositionBuyOrdered {
		pos.Status = models.PositionHeld
		pos.ActiveOrderID = ""
		metrics.ReconcileDrift.Inc()
		logger.Infof("reconciler: %s buy fill confirmed", h.Code)
	}
	if h.PnLRate > pos.PeakProfitRate {
		pos.PeakProfitRate = h.PnLRate
	}
	r.state.SetPosition(h.Code, pos)
}

func (r *Reconciler) dropVanished(serverHoldings map[string]Holding) {
	now := r.now()
	s := r.settings()

	for code, pos := range r.state.Positions() {
		if _, onServer := serverHoldings[code]; onServer {
			continue
		}

		sinceMidnight := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute + time.Duration(now.Second())*time.Second

		if calendar.InWindow(now, openingWindowStart, openingWindowEnd) && !pos.Status.IsSellOrdered() {
			continue
		}
		if !(sinceMidnight >= safeWindowStart && sinceMidnight <= safeWindowEnd) && !pos.Status.IsSellOrdered() {
			continue
		}
		if pos.Status == models.PositionBuyOrdered {
			if now.Sub(pos.OrderTime) < 5*time.Minute {
				continue
			}
			logger.Infof("reconciler: dropping stale unfilled buy %s", code)
			r.state.DeletePosition(code)
			continue
		}

		logger.Infof("reconciler: %s no longer on server balance, treating as filled-sell", code)
		r.state.DeletePosition(code)
		r.state.SetCooldown(code, time.Duration(cooldownMinutes(s))*time.Minute)
		metrics.ReconcileDrift.Inc()
	}
}

func cooldownMinutes(s models.Settings) int {
	if s.ReEntryCooldownMin == 0 {
		return 30
	}
	return s.ReEntryCooldownMin
}

// holdingFrom resolves one server balance row (a map[string]any from the
// JSON-decoded kt00018 holdings list) into a Holding, tolerating the
// broker's inconsistently-named fields per §9's dynamic-typed-response
// design note.
func holdingFrom(row any) (Holding, bool) {
	m, ok := row.(map[string]any)
	if !ok {
		return Holding{}, false
	}
	code := stringField(restclient.FirstNonEmpty(m, "stk_cd", "stock_code"))
	if code == "" {
		return Holding{}, false
	}
	qty := restclient.SafeInt(restclient.FirstNonEmpty(m, "rmnd_qty", "hold_qty", "qty"))
	buyPrice := restclient.SafeFloat(restclient.FirstNonEmpty(m, "pur_pric", "avg_prc", "buy_price"))
	pnlRate := restclient.SafeFloat(restclient.FirstNonEmpty(m, "prft_rt", "evltv_prft_rt"))
	name := stringField(restclient.FirstNonEmpty(m, "stk_nm", "stock_name"))
	return Holding{Code: code, Name: name, BuyPrice: buyPrice, Qty: qty, PnLRate: pnlRate}, true
}

func stringField(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
