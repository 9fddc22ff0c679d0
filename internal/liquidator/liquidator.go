// Package liquidator sends liquidation transactions for traders the checker
// found liquidatable and retries the ones that fail.
package liquidator

import (
	"context"
	"errors"
	"sync"
	"time"

	"liquidation-bot-go/internal/checker"
	"liquidation-bot-go/internal/exchange"
	"liquidation-bot-go/internal/models"
	"liquidation-bot-go/internal/pipeline"
	"liquidation-bot-go/internal/traderset"

	"go.uber.org/zap"
)

var errNoOutcome = errors.New("no outcome returned for trader")

// Settings configures a Liquidator.
type Settings struct {
	RetryInterval time.Duration            // pause before re-validating failed traders
	Policy        checker.CompletionPolicy // how re-validation waits for providers
	CallTimeout   time.Duration            // bound for one Liquidate call; zero means none
	SettleWindow  time.Duration            // how long a liquidated trader is ignored by inbound batches
}

// Result reports the outcome of one liquidation attempt, or the errors of
// the re-validation that follows a failed attempt.
type Result struct {
	Liquidated []models.LiquidationOutcome
	Errors     []error // *models.LiquidationError and *models.CheckError values
}

// Liquidator owns the set of pending traders.
type Liquidator struct {
	sender   exchange.LiquidationSender
	filters  []*checker.Filter
	settings Settings
	pending  *traderset.Liquidatable
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex                  // orders admissions against settlements
	settled map[models.Trader]time.Time // liquidation time of recently liquidated traders
}

// New creates a liquidator. filters are used to re-validate failed traders.
func New(sender exchange.LiquidationSender, filters []*checker.Filter, settings Settings, logger *zap.Logger) *Liquidator {
	return &Liquidator{
		sender:   sender,
		filters:  filters,
		settings: settings,
		pending:  traderset.NewLiquidatable(),
		logger:   logger,
		now:      time.Now,
		settled:  make(map[models.Trader]time.Time),
	}
}

// Pending returns the traders waiting to be liquidated.
func (l *Liquidator) Pending() []models.Trader {
	return l.pending.Snapshot()
}

// Run adds every batch received on in to the pending set and liquidates the
// set until it is empty. It returns when ctx is done and closes out.
//
// The result of an attempt is delivered even after ctx is done, so the
// caller must keep reading out until it is closed.
func (l *Liquidator) Run(ctx context.Context, in <-chan []models.Trader, out chan<- Result) error {
	defer close(out)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.consume(ctx, in)
	}()

	for {
		if err := l.pending.WaitNonEmpty(ctx); err != nil {
			break
		}
		if !l.cycle(ctx, out) {
			break
		}
	}

	wg.Wait()
	return ctx.Err()
}

func (l *Liquidator) consume(ctx context.Context, in <-chan []models.Trader) {
	for {
		select {
		case <-ctx.Done():
			return
		case traders, ok := <-in:
			if !ok {
				return
			}
			if added := l.admit(traders); added > 0 {
				l.logger.Debug("Traders queued for liquidation", zap.Int("added", added), zap.Int("pending", l.pending.Len()))
			}
		}
	}
}

// cycle attempts every pending trader once and reports the outcome. Failed
// traders are re-validated after the retry interval and dropped if no
// provider still finds them liquidatable. It returns false if ctx was done.
func (l *Liquidator) cycle(ctx context.Context, out chan<- Result) bool {
	batch := l.pending.Snapshot()
	res, failed := l.attempt(ctx, batch)
	if len(res.Liquidated) > 0 || len(res.Errors) > 0 {
		out <- res
	}

	if len(failed) == 0 {
		return ctx.Err() == nil
	}
	if !pipeline.Sleep(ctx, l.settings.RetryInterval) {
		return false
	}

	recheck := checker.CheckAny(ctx, l.filters, failed, l.settings.Policy)
	l.pending.Remove(recheck.NotLiquidatable...)
	if len(recheck.NotLiquidatable) > 0 {
		l.logger.Info("Dropped traders that are no longer liquidatable", zap.Int("count", len(recheck.NotLiquidatable)))
	}
	if len(recheck.Unanswered) > 0 {
		l.logger.Warn("No provider could re-check failed traders, keeping them", zap.Int("count", len(recheck.Unanswered)))
	}
	if len(recheck.Errors) == 0 {
		return ctx.Err() == nil
	}

	var checkRes Result
	for _, err := range recheck.Errors {
		checkRes.Errors = append(checkRes.Errors, err)
	}
	return pipeline.Send(ctx, out, checkRes)
}

// admit adds traders to the pending set, skipping those liquidated less
// than SettleWindow ago so a liquidation that providers do not see yet is
// not sent twice. It returns how many traders were new.
func (l *Liquidator) admit(traders []models.Trader) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.settings.SettleWindow <= 0 {
		return l.pending.Add(traders...)
	}

	now := l.now()
	for t, at := range l.settled {
		if now.Sub(at) >= l.settings.SettleWindow {
			delete(l.settled, t)
		}
	}

	kept := make([]models.Trader, 0, len(traders))
	for _, t := range traders {
		if _, ok := l.settled[t]; ok {
			l.logger.Debug("Skipping recently liquidated trader", zap.String("trader", t.Hex()))
			continue
		}
		kept = append(kept, t)
	}
	return l.pending.Add(kept...)
}

// settle removes a liquidated trader from the pending set.
func (l *Liquidator) settle(trader models.Trader) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.settings.SettleWindow > 0 {
		l.settled[trader] = l.now()
	}
	l.pending.Remove(trader)
}

// attempt sends one Liquidate call for batch. Successful traders leave the
// pending set; failed ones are returned.
func (l *Liquidator) attempt(ctx context.Context, batch []models.Trader) (Result, []models.Trader) {
	var res Result

	outcomes, err := l.liquidate(ctx, batch)
	if err != nil {
		l.logger.Error("Liquidation batch failed", zap.Int("size", len(batch)), zap.Error(err))
		for _, t := range batch {
			res.Errors = append(res.Errors, &models.LiquidationError{Trader: t, Err: err})
		}
		return res, batch
	}

	byTrader := make(map[models.Trader]models.LiquidationOutcome, len(outcomes))
	for _, o := range outcomes {
		byTrader[o.Trader] = o
	}

	var failed []models.Trader
	for _, t := range batch {
		o, ok := byTrader[t]
		if !ok {
			o = models.LiquidationOutcome{Trader: t, Err: errNoOutcome}
		}
		if o.Succeeded() {
			l.settle(t)
			res.Liquidated = append(res.Liquidated, o)
			l.logger.Info("Trader liquidated", zap.String("trader", t.Hex()), zap.String("tx", o.Tx.Hex()))
			continue
		}
		l.logger.Warn("Liquidation failed", zap.String("trader", t.Hex()), zap.Error(o.Err))
		res.Errors = append(res.Errors, &models.LiquidationError{Trader: t, Err: o.Err})
		failed = append(failed, t)
	}
	return res, failed
}

func (l *Liquidator) liquidate(ctx context.Context, batch []models.Trader) ([]models.LiquidationOutcome, error) {
	callCtx := context.WithoutCancel(ctx)
	if l.settings.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, l.settings.CallTimeout)
		defer cancel()
	}
	return l.sender.Liquidate(callCtx, batch)
}
