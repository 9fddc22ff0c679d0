package checker

import (
	"context"
	"sync"
	"time"

	"liquidation-bot-go/internal/models"
	"liquidation-bot-go/internal/pipeline"
	"liquidation-bot-go/internal/traderset"

	"go.uber.org/zap"
)

// Result is one output of the checker: either the traders a pass newly found
// liquidatable or a failed chunk.
type Result struct {
	Provider string
	Traders  []models.Trader
	Err      *models.CheckError
}

// Checker keeps the set of active traders and re-checks it with every
// provider on its own cadence.
type Checker struct {
	filters  []*Filter
	interval time.Duration
	active   *traderset.Active
	now      func() time.Time
	logger   *zap.Logger
}

// NewChecker creates a checker. filters[0] is the primary provider, the rest
// are support providers; all of them run as independent loops.
func NewChecker(filters []*Filter, interval time.Duration, logger *zap.Logger) *Checker {
	return &Checker{
		filters:  filters,
		interval: interval,
		active:   traderset.NewActive(),
		now:      time.Now,
		logger:   logger,
	}
}

// ActiveCount returns the number of traders currently considered active.
func (c *Checker) ActiveCount() int {
	return c.active.Len()
}

// Run replaces the active set with every list received on in and emits check
// results on out. It returns when ctx is done.
func (c *Checker) Run(ctx context.Context, in <-chan []models.Trader, out chan<- Result) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.consume(ctx, in)
	}()

	for _, f := range c.filters {
		wg.Add(1)
		go func(f *Filter) {
			defer wg.Done()
			c.checkLoop(ctx, f, out)
		}(f)
	}

	wg.Wait()
	return ctx.Err()
}

func (c *Checker) consume(ctx context.Context, in <-chan []models.Trader) {
	for {
		select {
		case <-ctx.Done():
			return
		case traders, ok := <-in:
			if !ok {
				return
			}
			c.active.Replace(traders)
			c.logger.Debug("Active traders replaced", zap.Int("count", len(traders)))
		}
	}
}

func (c *Checker) checkLoop(ctx context.Context, f *Filter, out chan<- Result) {
	logger := c.logger.With(zap.String("provider", f.Name()))
	for {
		if err := c.active.WaitNonEmpty(ctx); err != nil {
			return
		}
		if !c.pass(ctx, f, out, logger) {
			return
		}
		if !pipeline.Sleep(ctx, c.interval) {
			return
		}
	}
}

// pass checks a snapshot of the active set once. It returns false if ctx was
// cancelled while sending.
func (c *Checker) pass(ctx context.Context, f *Filter, out chan<- Result, logger *zap.Logger) bool {
	passTime := c.now()
	traders := c.active.Snapshot()

	var liquidatable []models.Trader
	for res := range f.Check(ctx, traders) {
		if res.Err != nil {
			logger.Warn("Check chunk failed",
				zap.Int("offset", res.Err.Offset), zap.Int("size", len(res.Err.Traders)), zap.Error(res.Err.Err))
			if !pipeline.Send(ctx, out, Result{Provider: f.Name(), Err: res.Err}) {
				return false
			}
			continue
		}
		for i, t := range res.Traders {
			// Only the newest pass may decide for a trader, and only while it is still active.
			if c.active.MarkChecked(t, passTime) && res.Liquidatable[i] {
				liquidatable = append(liquidatable, t)
			}
		}
	}

	logger.Debug("Check pass finished", zap.Int("checked", len(traders)), zap.Int("liquidatable", len(liquidatable)))
	if len(liquidatable) == 0 {
		return ctx.Err() == nil
	}
	return pipeline.Send(ctx, out, Result{Provider: f.Name(), Traders: liquidatable})
}
