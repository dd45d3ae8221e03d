// Package state holds the engine's shared mutable bookkeeping: the live
// Positions map, the re-entry cooldown table, the recent buy-attempt
// history, and the in-flight processing set. The Signal Pipeline, Position
// Manager, Reconciler, and Control Loop all read and mutate this one
// guarded structure rather than each keeping a private copy, matching the
// single-engine-lock option the concurrency model allows for this group of
// tables.
package state

import (
	"sync"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/models"
)

// Book is the engine's shared position/cooldown/attempt/processing state.
type Book struct {
	mu         sync.Mutex
	positions  map[string]*models.Position
	cooldown   map[string]time.Time
	attempts   map[string]time.Time
	processing map[string]struct{}
	now        func() time.Time
}

// New returns an empty Book.
func New() *Book {
	return &Book{
		positions:  map[string]*models.Position{},
		cooldown:   map[string]time.Time{},
		attempts:   map[string]time.Time{},
		processing: map[string]struct{}{},
		now:        time.Now,
	}
}

// LoadPositions seeds the book from a Store snapshot (startup recovery).
func (b *Book) LoadPositions(positions map[string]*models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for code, p := range positions {
		b.positions[code] = p
	}
}

// Position returns the live Position for code, if any.
func (b *Book) Position(code string) (*models.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[code]
	return p, ok
}

// SetPosition installs or replaces the Position for code.
func (b *Book) SetPosition(code string, p *models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[code] = p
}

// DeletePosition removes code's Position, if present.
func (b *Book) DeletePosition(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, code)
}

// Positions returns a shallow snapshot of the live position map, safe to
// range over or persist without holding the Book's lock.
func (b *Book) Positions() map[string]*models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*models.Position, len(b.positions))
	for code, p := range b.positions {
		out[code] = p
	}
	return out
}

// Count returns the number of live positions.
func (b *Book) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// Admit performs the Signal Pipeline's four dedup gates atomically: already
// held, already processing, in re-entry cooldown, or a buy attempt within
// the last 60s. On success it marks code as processing and returns true;
// the caller must call Release when finished. On failure it reports which
// gate rejected so the caller can log/count accordingly.
func (b *Book) Admit(code string) (admitted bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, held := b.positions[code]; held {
		return false, "already_held"
	}
	if _, inFlight := b.processing[code]; inFlight {
		return false, "already_processing"
	}
	now := b.now()
	if until, ok := b.cooldown[code]; ok {
		if now.Before(until) {
			return false, "cooldown"
		}
		delete(b.cooldown, code)
	}
	if at, ok := b.attempts[code]; ok {
		if now.Sub(at) < 60*time.Second {
			return false, "recent_attempt"
		}
		delete(b.attempts, code)
	}

	b.processing[code] = struct{}{}
	return true, ""
}

// Release clears code from the processing set.
func (b *Book) Release(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.processing, code)
}

// SetCooldown installs a re-entry cooldown for code lasting d from now.
func (b *Book) SetCooldown(code string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldown[code] = b.now().Add(d)
}

// RecordAttempt stamps code with a buy attempt at the current time, feeding
// the 60s recent-attempt dedup gate.
func (b *Book) RecordAttempt(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[code] = b.now()
}
