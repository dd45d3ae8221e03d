package store

import "github.com/kiwoom-bot/daytrader/internal/models"

const settingsKey = "settings"

// SaveSettings persists Settings under the well-known "settings" kv key —
// the same key original_source/python/kiwoom/config.py reads on startup to
// let Store override the .env defaults.
func (s *Store) SaveSettings(settings models.Settings) {
	s.SetJSON(settingsKey, settings)
}

// LoadSettings returns the persisted Settings and true, or the zero value
// and false if nothing has been saved yet.
func (s *Store) LoadSettings() (models.Settings, bool) {
	var out models.Settings
	ok := s.GetJSON(settingsKey, &out)
	return out, ok
}

const symbolsKey = "symbols"

// SaveSymbols persists the day's listed-security universe.
func (s *Store) SaveSymbols(symbols []models.Symbol) {
	s.SetJSON(symbolsKey, symbols)
}

// LoadSymbols returns the persisted symbol universe, or nil if none.
func (s *Store) LoadSymbols() []models.Symbol {
	var out []models.Symbol
	s.GetJSON(symbolsKey, &out)
	return out
}

const conditionListKey = "condition_list"

// SaveConditionList persists the scanner id->name map pushed by CNSRLST.
func (s *Store) SaveConditionList(list map[string]string) {
	s.SetJSON(conditionListKey, list)
}

// LoadConditionList returns the persisted scanner id->name map.
func (s *Store) LoadConditionList() map[string]string {
	out := map[string]string{}
	s.GetJSON(conditionListKey, &out)
	return out
}

const statusSnapshotKey = "status_snapshot"

// StatusSnapshot is the user-visible surface refreshed every <=5s per §7:
// bot status, mode, account, per-position state, account summary, current
// settings digest, and market regime.
type StatusSnapshot struct {
	BotStatus      models.BotStatus               `json:"bot_status"`
	MockTrade      bool                           `json:"mock_trade"`
	Positions      map[string]*models.Position    `json:"positions"`
	AccountSummary map[string]float64             `json:"account_summary"`
	Settings       models.Settings                `json:"settings"`
	Regimes        map[models.Market]models.MarketRegime `json:"regimes"`
	UpdatedAt      string                         `json:"updated_at"`
}

// SaveStatusSnapshot persists the latest status snapshot for the UI to poll.
func (s *Store) SaveStatusSnapshot(snap StatusSnapshot) {
	snap.UpdatedAt = formatTime(timeNow())
	s.SetJSON(statusSnapshotKey, snap)
}

// LoadStatusSnapshot returns the last persisted snapshot, if any.
func (s *Store) LoadStatusSnapshot() (StatusSnapshot, bool) {
	var out StatusSnapshot
	ok := s.GetJSON(statusSnapshotKey, &out)
	return out, ok
}
