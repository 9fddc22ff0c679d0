// Package fetcher discovers traders with open positions by replaying the
// exchange's position-change history.
package fetcher

import (
	"context"
	"time"

	"liquidation-bot-go/internal/exchange"
	"liquidation-bot-go/internal/models"
	"liquidation-bot-go/internal/pipeline"

	"go.uber.org/zap"
)

// Settings configures a Fetcher.
type Settings struct {
	StartBlock  uint64        // exchange launch block
	MaxBlocks   uint64        // largest block window per query
	Interval    time.Duration // pause between scans, also after a failure
	CallTimeout time.Duration // bound for a single RPC call; zero means none
}

// Result is either the full list of traders with an open position, in
// discovery order, or the error that interrupted a scan.
type Result struct {
	Traders []models.Trader
	Err     *models.FetchError
}

// Fetcher scans new blocks on every tick and keeps its progress in memory, so
// only the first scan replays the whole history.
type Fetcher struct {
	source   exchange.PositionEventSource
	settings Settings
	logger   *zap.Logger

	next       uint64 // first block not scanned yet
	discovered []models.Trader
	open       map[models.Trader]bool
}

// New creates a fetcher starting at settings.StartBlock.
func New(source exchange.PositionEventSource, settings Settings, logger *zap.Logger) *Fetcher {
	if settings.MaxBlocks == 0 {
		settings.MaxBlocks = 1
	}
	return &Fetcher{
		source:   source,
		settings: settings,
		logger:   logger,
		next:     settings.StartBlock,
		open:     make(map[models.Trader]bool),
	}
}

// Run scans, emits a Result and waits Interval, until ctx is done. RPC
// failures are reported on out and never stop the loop.
func (f *Fetcher) Run(ctx context.Context, out chan<- Result) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var res Result
		if err := f.scan(ctx); err != nil {
			f.logger.Warn("Position scan failed, retrying later",
				zap.Uint64("from", err.FromBlock), zap.Uint64("to", err.ToBlock), zap.Error(err.Err))
			res.Err = err
		} else if ctx.Err() == nil {
			res.Traders = f.Traders()
			f.logger.Debug("Position scan finished",
				zap.Uint64("next_block", f.next), zap.Int("open", len(res.Traders)))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !pipeline.Send(ctx, out, res) {
			return ctx.Err()
		}
		if !pipeline.Sleep(ctx, f.settings.Interval) {
			return ctx.Err()
		}
	}
}

// Traders returns the traders currently holding an open position.
func (f *Fetcher) Traders() []models.Trader {
	out := make([]models.Trader, 0, len(f.open))
	for _, t := range f.discovered {
		if f.open[t] {
			out = append(out, t)
		}
	}
	return out
}

// NextBlock returns the first block the next scan will query.
func (f *Fetcher) NextBlock() uint64 {
	return f.next
}

// scan queries every window between the last scanned block and the chain
// head. Each completed window is committed, so a failure only loses the
// window it happened in.
func (f *Fetcher) scan(ctx context.Context) *models.FetchError {
	head, err := f.blockNumber(ctx)
	if err != nil {
		return &models.FetchError{FromBlock: f.next, ToBlock: f.next, Err: err}
	}

	for f.next <= head {
		if ctx.Err() != nil {
			return nil
		}
		from := f.next
		to := min(from+f.settings.MaxBlocks-1, head)

		changes, err := f.positionChanges(ctx, from, to)
		if err != nil {
			return &models.FetchError{FromBlock: from, ToBlock: to, Err: err}
		}
		f.apply(changes)
		f.next = to + 1
	}
	return nil
}

// apply folds changes, sorted by block and log index, into the open set.
// The latest change of a trader decides whether its position is open.
func (f *Fetcher) apply(changes []models.PositionChange) {
	for _, c := range changes {
		if _, seen := f.open[c.Trader]; !seen {
			f.discovered = append(f.discovered, c.Trader)
		}
		f.open[c.Trader] = c.Open
	}
}

func (f *Fetcher) blockNumber(ctx context.Context) (uint64, error) {
	callCtx, cancel := f.callContext(ctx)
	defer cancel()
	return f.source.BlockNumber(callCtx)
}

func (f *Fetcher) positionChanges(ctx context.Context, from, to uint64) ([]models.PositionChange, error) {
	callCtx, cancel := f.callContext(ctx)
	defer cancel()
	return f.source.PositionChanges(callCtx, from, to)
}

func (f *Fetcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx := context.WithoutCancel(ctx)
	if f.settings.CallTimeout > 0 {
		return context.WithTimeout(callCtx, f.settings.CallTimeout)
	}
	return callCtx, func() {}
}
