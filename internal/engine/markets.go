package engine

import (
	"sync"

	"github.com/kiwoom-bot/daytrader/internal/models"
)

// SymbolIndex implements pipeline.MarketLookup by resolving a symbol code
// to its listed market from the day's loaded universe, defaulting to
// KOSPI for any code not yet seen (the listing loader may race the first
// few condition-hit events), matching STOCK_MARKET_MAP.get(code, 'KOSPI').
type SymbolIndex struct {
	mu     sync.RWMutex
	byCode map[string]models.Symbol
}

// NewSymbolIndex builds an index from the day's loaded Symbol universe.
func NewSymbolIndex(symbols []models.Symbol) *SymbolIndex {
	idx := &SymbolIndex{byCode: make(map[string]models.Symbol, len(symbols))}
	idx.Reload(symbols)
	return idx
}

// Reload replaces the index's universe. NewSymbolIndex uses it to seed
// the initial universe.
func (i *SymbolIndex) Reload(symbols []models.Symbol) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byCode = make(map[string]models.Symbol, len(symbols))
	for _, s := range symbols {
		i.byCode[s.Code] = s
	}
}

// MarketOf resolves code's exchange, defaulting to KOSPI when unknown.
func (i *SymbolIndex) MarketOf(code string) models.Market {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if s, ok := i.byCode[code]; ok && s.Market != "" {
		return s.Market
	}
	return models.MarketKOSPI
}

// Name returns the human-readable name for code, if known.
func (i *SymbolIndex) Name(code string) string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.byCode[code].Name
}
