package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kiwoom-bot/daytrader/internal/models"
)

func TestPresetRegistry_ResolvesByConditionID(t *testing.T) {
	reg := NewPresetRegistry([]models.StrategyPreset{
		{ConditionID: "101", Name: "momentum", StopLossRate: -2.5},
	})

	p, ok := reg.Preset("101")
	assert.True(t, ok)
	assert.Equal(t, "momentum", p.Name)

	_, ok = reg.Preset("999")
	assert.False(t, ok)
}

func TestPresetRegistry_Replace(t *testing.T) {
	reg := NewPresetRegistry([]models.StrategyPreset{{ConditionID: "101"}})
	reg.Replace([]models.StrategyPreset{{ConditionID: "202", Name: "breakout"}})

	_, ok := reg.Preset("101")
	assert.False(t, ok)

	p, ok := reg.Preset("202")
	assert.True(t, ok)
	assert.Equal(t, "breakout", p.Name)
}
