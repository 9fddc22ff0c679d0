package traderset

import (
	"context"
	"sync"

	"liquidation-bot-go/internal/models"
)

// Liquidatable is the ordered set of traders waiting to be liquidated.
type Liquidatable struct {
	mu      sync.Mutex
	order   []models.Trader
	members map[models.Trader]struct{}
	notify  chan struct{}
}

// NewLiquidatable creates an empty set.
func NewLiquidatable() *Liquidatable {
	return &Liquidatable{
		members: make(map[models.Trader]struct{}),
		notify:  make(chan struct{}),
	}
}

// Add unions traders into the set and wakes a waiter if the set is non-empty.
// It returns how many traders were new.
func (s *Liquidatable) Add(traders ...models.Trader) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, t := range traders {
		if _, ok := s.members[t]; ok {
			continue
		}
		s.members[t] = struct{}{}
		s.order = append(s.order, t)
		added++
	}
	if len(s.order) > 0 {
		close(s.notify)
		s.notify = make(chan struct{})
	}
	return added
}

// Remove deletes traders from the set.
func (s *Liquidatable) Remove(traders ...models.Trader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for _, t := range traders {
		if _, ok := s.members[t]; ok {
			delete(s.members, t)
			removed = true
		}
	}
	if !removed {
		return
	}

	kept := s.order[:0]
	for _, t := range s.order {
		if _, ok := s.members[t]; ok {
			kept = append(kept, t)
		}
	}
	s.order = kept
}

// Contains reports whether trader is pending.
func (s *Liquidatable) Contains(trader models.Trader) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[trader]
	return ok
}

// Snapshot returns the pending traders in the order they were added.
func (s *Liquidatable) Snapshot() []models.Trader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Trader(nil), s.order...)
}

// Len returns the number of pending traders.
func (s *Liquidatable) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// WaitNonEmpty blocks until the set has at least one trader or ctx is done.
func (s *Liquidatable) WaitNonEmpty(ctx context.Context) error {
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
