package checker

import (
	"context"
	"fmt"
	"iter"
	"time"

	"liquidation-bot-go/internal/exchange"
	"liquidation-bot-go/internal/models"
)

// Filter runs chunked liquidatability checks against one provider.
type Filter struct {
	name        string
	provider    exchange.LiquidationChecker
	chunkSize   int
	callTimeout time.Duration
}

// NewFilter binds a provider. chunkSize is the number of traders per call and
// callTimeout bounds a single call; zero means no timeout.
func NewFilter(name string, provider exchange.LiquidationChecker, chunkSize int, callTimeout time.Duration) *Filter {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &Filter{name: name, provider: provider, chunkSize: chunkSize, callTimeout: callTimeout}
}

// Name identifies the provider in logs and metrics.
func (f *Filter) Name() string {
	return f.name
}

// Check yields one CheckResult per chunk of traders, in order. A failing
// chunk yields a CheckError and the remaining chunks are still checked.
// The sequence stops early when ctx is done or the consumer stops ranging;
// a call already in flight is not interrupted by ctx.
func (f *Filter) Check(ctx context.Context, traders []models.Trader) iter.Seq[models.CheckResult] {
	traders = append([]models.Trader(nil), traders...)
	total := len(traders)

	return func(yield func(models.CheckResult) bool) {
		for offset := 0; offset < total; offset += f.chunkSize {
			if ctx.Err() != nil {
				return
			}

			end := min(offset+f.chunkSize, total)
			chunk := traders[offset:end]

			if !yield(f.checkChunk(ctx, chunk, offset, total)) {
				return
			}
		}
	}
}

func (f *Filter) checkChunk(ctx context.Context, chunk []models.Trader, offset, total int) models.CheckResult {
	callCtx := context.WithoutCancel(ctx)
	if f.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, f.callTimeout)
		defer cancel()
	}

	flags, err := f.provider.IsLiquidatable(callCtx, chunk)
	if err == nil && len(flags) != len(chunk) {
		err = fmt.Errorf("provider %s returned %d results for %d traders", f.name, len(flags), len(chunk))
	}
	if err != nil {
		return models.CheckResult{
			Offset:  offset,
			Traders: chunk,
			Err: &models.CheckError{
				Traders: chunk,
				Offset:  offset,
				Total:   total,
				Err:     err,
			},
		}
	}
	return models.CheckResult{
		Offset:       offset,
		Traders:      chunk,
		Liquidatable: flags,
	}
}
