// Package scheduler rotates the active scanning strategy by wall-clock,
// triggers the once-daily report, and runs Store retention cleanup on
// startup. Grounded on original_source/python/kiwoom/strategy.py's
// check_schedule/send_daily_report and scheduler.py's retention job.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/models"
	"github.com/kiwoom-bot/daytrader/internal/notify"
	"github.com/kiwoom-bot/daytrader/internal/store"
)

// reportWindowStart/End is the 15:40-15:49 daily-report window.
var (
	reportWindowStart = 15*time.Hour + 40*time.Minute
	reportWindowEnd   = 15*time.Hour + 49*time.Minute

	retentionAgeDays = 7
)

// StrategyPresets resolves a condition id to its immutable exit-policy
// bundle, applied to Settings when the scheduler rotates strategies.
type StrategyPresets interface {
	Preset(conditionID string) (models.StrategyPreset, bool)
}

// Scheduler owns the three wall-clock-driven duties listed in §4.8: the
// intraday rotation table, the once-per-day report, and startup
// retention.
type Scheduler struct {
	store    *store.Store
	presets  StrategyPresets
	notifier notify.Notifier
	settings func() models.Settings
	apply    func(models.Settings)
	now      func() time.Time

	lastReportDate string
}

// New builds a Scheduler. settings reads the live Settings; apply installs
// a changed Settings back into the engine (persisting it and, per the
// spec's RESTARTING contract, signalling the control loop to break).
func New(sto *store.Store, presets StrategyPresets, notifier notify.Notifier, settings func() models.Settings, apply func(models.Settings), now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Scheduler{store: sto, presets: presets, notifier: notifier, settings: settings, apply: apply, now: now}
}

// RunStartupCleanup performs the 7-day retention pass. Call once at boot.
func (s *Scheduler) RunStartupCleanup() {
	trades, logs, cmds := s.store.Cleanup(retentionAgeDays)
	logger.Infof("scheduler: startup retention cleanup removed %d trade logs, %d system logs, %d commands", trades, logs, cmds)
}

// Tick runs the 1-minute-cadence checks: log-file rotation, schedule
// rotation and the daily report window. The caller drives the cadence.
func (s *Scheduler) Tick(ctx context.Context) {
	logger.Rotate(retentionAgeDays)
	set := s.settings()
	if set.UseScheduler {
		s.checkRotation(set)
	}
	s.checkDailyReport(ctx, set)
}

// checkRotation compares now to the three configured window starts and
// picks the latest whose start has passed; if its condition id differs
// from the live one, the matching Strategy Preset is applied, persisted,
// and bot_status is set to RESTARTING so the control loop breaks and the
// next start observes the new scanner subscription. Invoking this twice
// within the same minute with no time change is idempotent: the selected
// window doesn't change, so no write happens.
func (s *Scheduler) checkRotation(set models.Settings) {
	if len(set.ScheduleTable) == 0 {
		return
	}

	now := s.now()
	nowMinutes := now.Hour()*60 + now.Minute()

	type candidate struct {
		startMinutes int
		conditionID  string
	}
	var candidates []candidate
	for _, w := range set.ScheduleTable {
		start, ok := parseHHMM(w.StartTime)
		if !ok || start > nowMinutes {
			continue
		}
		candidates = append(candidates, candidate{startMinutes: start, conditionID: w.ConditionID})
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].startMinutes > candidates[j].startMinutes })
	selected := candidates[0].conditionID

	if selected == set.ConditionID {
		return
	}

	preset, ok := s.presets.Preset(selected)
	if !ok {
		logger.Warnf("scheduler: no strategy preset for condition id %s, skipping rotation", selected)
		return
	}

	next := set
	next.ConditionID = preset.ConditionID
	next.StopLossRate = preset.StopLossRate
	next.TrailingStartRate = preset.TrailingStartRate
	next.TrailingStopRate = preset.TrailingStopRate
	next.ReEntryCooldownMin = preset.ReEntryCooldownMin
	next.MinBuySellRatio = preset.MinBuySellRatio
	next.BotStatus = models.StatusRestarting

	s.store.SaveSettings(next)
	s.apply(next)
	logger.Infof("scheduler: rotated strategy to %s (%s), restarting", preset.ConditionID, preset.Name)
	s.notifier.Send(context.Background(), "scheduler: rotated strategy to "+preset.Name)
}

// checkDailyReport builds and sends the daily report once per calendar
// day within the 15:40-15:49 window, marking the date in Store to prevent
// duplicates.
func (s *Scheduler) checkDailyReport(ctx context.Context, set models.Settings) {
	now := s.now()
	sinceMidnight := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute
	if sinceMidnight < reportWindowStart || sinceMidnight >= reportWindowEnd {
		return
	}

	dateKey := now.Format("2006-01-02")
	if s.lastReportDate == dateKey {
		return
	}
	var persisted string
	if s.store.GetJSON(reportSentKey, &persisted) && persisted == dateKey {
		s.lastReportDate = dateKey
		return
	}

	report := s.buildDailyReport(dateKey)
	message := notify.FormatDailyReport(report)
	if err := s.notifier.Send(ctx, message); err != nil {
		logger.Warnf("scheduler: daily report send failed: %v", err)
	}

	s.lastReportDate = dateKey
	s.store.SetJSON(reportSentKey, dateKey)
}

const reportSentKey = "daily_report_sent_date"

func (s *Scheduler) buildDailyReport(dateKey string) notify.DailyReport {
	trades := s.store.RecentTrades(500)
	r := notify.DailyReport{Date: dateKey}
	for _, t := range trades {
		if t.Timestamp.Format("2006-01-02") != dateKey {
			continue
		}
		switch t.Action {
		case models.TradeBuy:
			r.BuyCount++
		case models.TradeSell:
			r.SellCount++
			r.NetProfit += t.ProfitAmount
			if t.ProfitAmount >= 0 {
				r.WinCount++
			} else {
				r.LossCount++
			}
		}
	}
	return r
}

func parseHHMM(hhmm string) (int, bool) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, false
	}
	h := int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	m := int(hhmm[3]-'0')*10 + int(hhmm[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
