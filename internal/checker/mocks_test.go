package checker

import (
	"context"
	"math/big"
	"sync"

	"liquidation-bot-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

func trader(i int) models.Trader {
	return common.BigToAddress(big.NewInt(int64(i)))
}

func traders(from, to int) []models.Trader {
	out := make([]models.Trader, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, trader(i))
	}
	return out
}

// mockProvider is a LiquidationChecker whose answers come from a function.
type mockProvider struct {
	sync.Mutex
	answer func(call int, traders []models.Trader) ([]bool, error)
	gate   chan struct{} // when set, every call blocks until it is closed
	calls  [][]models.Trader
}

func (m *mockProvider) IsLiquidatable(ctx context.Context, traders []models.Trader) ([]bool, error) {
	m.Lock()
	call := len(m.calls)
	m.calls = append(m.calls, append([]models.Trader(nil), traders...))
	gate := m.gate
	m.Unlock()

	if gate != nil {
		<-gate
	}
	return m.answer(call, traders)
}

func (m *mockProvider) callCount() int {
	m.Lock()
	defer m.Unlock()
	return len(m.calls)
}

// answerSet marks the given traders liquidatable and everyone else not.
func answerSet(liquidatable ...models.Trader) func(int, []models.Trader) ([]bool, error) {
	set := make(map[models.Trader]bool, len(liquidatable))
	for _, t := range liquidatable {
		set[t] = true
	}
	return func(_ int, traders []models.Trader) ([]bool, error) {
		out := make([]bool, len(traders))
		for i, t := range traders {
			out[i] = set[t]
		}
		return out, nil
	}
}

func answerErr(err error) func(int, []models.Trader) ([]bool, error) {
	return func(int, []models.Trader) ([]bool, error) {
		return nil, err
	}
}
