package engine

import (
	"sync"

	"github.com/kiwoom-bot/daytrader/internal/models"
)

// PresetRegistry implements scheduler.StrategyPresets by resolving a
// condition id to its named exit-policy bundle, loaded from the
// operator-maintained preset table (Settings.ScheduleTable names the
// condition ids; the presets themselves are seeded here once at startup
// from the presets file).
type PresetRegistry struct {
	mu      sync.RWMutex
	presets map[string]models.StrategyPreset
}

// NewPresetRegistry builds a registry from an initial preset list.
func NewPresetRegistry(presets []models.StrategyPreset) *PresetRegistry {
	r := &PresetRegistry{presets: map[string]models.StrategyPreset{}}
	r.Replace(presets)
	return r
}

// Replace swaps the registry's full preset table. NewPresetRegistry uses
// it to seed the initial table.
func (r *PresetRegistry) Replace(presets []models.StrategyPreset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets = make(map[string]models.StrategyPreset, len(presets))
	for _, p := range presets {
		r.presets[p.ConditionID] = p
	}
}

// Preset resolves a condition id's StrategyPreset.
func (r *PresetRegistry) Preset(conditionID string) (models.StrategyPreset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[conditionID]
	return p, ok
}
