package checker

import (
	"context"

	"liquidation-bot-go/internal/models"
)

// CompletionPolicy decides when CheckAny stops waiting for providers.
type CompletionPolicy int

const (
	// FirstCleanPass returns as soon as one provider has answered every chunk
	// without error, or when all providers are done. Answers that arrive after
	// that point are discarded.
	FirstCleanPass CompletionPolicy = iota
	// AwaitAll always waits for every provider.
	AwaitAll
)

func (p CompletionPolicy) String() string {
	switch p {
	case FirstCleanPass:
		return "first-clean-pass"
	case AwaitAll:
		return "await-all"
	default:
		return "unknown"
	}
}

// RecheckResult is the combined answer of several providers. A trader is
// liquidatable if any provider said so.
type RecheckResult struct {
	Liquidatable    []models.Trader // at least one provider answered true
	NotLiquidatable []models.Trader // answered, and every answer was false
	Unanswered      []models.Trader // no provider produced an answer
	Errors          []*models.CheckError
}

type raceMessage struct {
	result models.CheckResult
	done   bool
	clean  bool
}

// CheckAny runs every filter concurrently over traders and merges the answers
// with OR semantics. Providers still running when the policy is satisfied are
// cancelled at their next chunk.
func CheckAny(ctx context.Context, filters []*Filter, traders []models.Trader, policy CompletionPolicy) RecheckResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan raceMessage)
	for _, f := range filters {
		go func(f *Filter) {
			clean := true
			for res := range f.Check(ctx, traders) {
				if res.Err != nil {
					clean = false
				}
				select {
				case msgs <- raceMessage{result: res}:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			select {
			case msgs <- raceMessage{done: true, clean: clean}:
			case <-ctx.Done():
			}
		}(f)
	}

	verdicts := make(map[models.Trader]bool, len(traders))
	var errs []*models.CheckError

	for finished := 0; finished < len(filters); {
		select {
		case <-ctx.Done():
			return combine(traders, verdicts, errs)
		case m := <-msgs:
			if m.done {
				finished++
				if m.clean && policy == FirstCleanPass {
					return combine(traders, verdicts, errs)
				}
				continue
			}
			if m.result.Err != nil {
				errs = append(errs, m.result.Err)
				continue
			}
			for i, t := range m.result.Traders {
				verdicts[t] = verdicts[t] || m.result.Liquidatable[i]
			}
		}
	}
	return combine(traders, verdicts, errs)
}

func combine(traders []models.Trader, verdicts map[models.Trader]bool, errs []*models.CheckError) RecheckResult {
	res := RecheckResult{Errors: errs}
	for _, t := range traders {
		liquidatable, answered := verdicts[t]
		switch {
		case !answered:
			res.Unanswered = append(res.Unanswered, t)
		case liquidatable:
			res.Liquidatable = append(res.Liquidatable, t)
		default:
			res.NotLiquidatable = append(res.NotLiquidatable, t)
		}
	}
	return res
}
