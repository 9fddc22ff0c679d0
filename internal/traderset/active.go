// Package traderset holds the mutable trader sets owned by the checker and
// liquidator stages. Both sets keep insertion order and let their owner block
// until they become non-empty.
package traderset

import (
	"context"
	"sync"
	"time"

	"liquidation-bot-go/internal/models"
)

// Active maps traders with an open position to the time they were last checked.
// A zero time means the trader has not been checked yet.
type Active struct {
	mu          sync.Mutex
	order       []models.Trader
	lastChecked map[models.Trader]time.Time
	notify      chan struct{}
}

// NewActive creates an empty set.
func NewActive() *Active {
	return &Active{
		lastChecked: make(map[models.Trader]time.Time),
		notify:      make(chan struct{}),
	}
}

// Replace swaps the whole set for traders. Traders that were already present
// keep their last-checked time; traders that are gone are forgotten.
func (s *Active) Replace(traders []models.Trader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[models.Trader]time.Time, len(traders))
	order := make([]models.Trader, 0, len(traders))
	for _, t := range traders {
		if _, dup := next[t]; dup {
			continue
		}
		next[t] = s.lastChecked[t]
		order = append(order, t)
	}
	s.lastChecked = next
	s.order = order

	if len(order) > 0 {
		close(s.notify)
		s.notify = make(chan struct{})
	}
}

// Snapshot returns the traders in insertion order.
func (s *Active) Snapshot() []models.Trader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Trader(nil), s.order...)
}

// Len returns the number of traders in the set.
func (s *Active) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// LastChecked returns the last-checked time of trader and whether it is present.
func (s *Active) LastChecked(trader models.Trader) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastChecked[trader]
	return at, ok
}

// MarkChecked records a check of trader made by a pass started at passTime.
// It returns false, leaving the set untouched, when the trader is no longer
// active or was already checked by a pass started at or after passTime.
func (s *Active) MarkChecked(trader models.Trader, passTime time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastChecked[trader]
	if !ok || !last.Before(passTime) {
		return false
	}
	s.lastChecked[trader] = passTime
	return true
}

// WaitNonEmpty blocks until the set has at least one trader or ctx is done.
func (s *Active) WaitNonEmpty(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.order) > 0 {
			s.mu.Unlock()
			return nil
		}
		wake := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}
