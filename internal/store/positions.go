package store

import "github.com/kiwoom-bot/daytrader/internal/models"

const positionsKey = "positions"

// SavePositions persists the full in-memory Position table as a single JSON
// blob, the way the kv_store table is used for every other piece of engine
// state (settings, condition list, dashboard cache).
func (s *Store) SavePositions(positions map[string]*models.Position) {
	s.SetJSON(positionsKey, positions)
}

// LoadPositions reconstructs the Position table on restart. Returns an
// empty, non-nil map if nothing was persisted yet.
func (s *Store) LoadPositions() map[string]*models.Position {
	out := map[string]*models.Position{}
	s.GetJSON(positionsKey, &out)
	if out == nil {
		out = map[string]*models.Position{}
	}
	return out
}
