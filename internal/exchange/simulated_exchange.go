package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"liquidation-bot-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SimulatedExchange is an in-memory exchange with a fake block history.
// It implements Exchange and is used for offline runs and tests.
type SimulatedExchange struct {
	mu sync.Mutex

	head         uint64
	logs         []models.PositionChange
	open         map[models.Trader]bool
	liquidatable map[models.Trader]bool
	failures     map[models.Trader]int // remaining forced liquidation failures

	// Injected faults
	QueryErr error // returned by PositionChanges while set
	CheckErr error // returned by IsLiquidatable while set

	Liquidations   []models.LiquidationOutcome // successful liquidations, in order
	Queries        [][2]uint64                 // every PositionChanges window requested
	LiquidateCalls int
	nonce          uint64
}

// NewSimulatedExchange creates an empty exchange whose head is startBlock.
func NewSimulatedExchange(startBlock uint64) *SimulatedExchange {
	return &SimulatedExchange{
		head:         startBlock,
		open:         make(map[models.Trader]bool),
		liquidatable: make(map[models.Trader]bool),
		failures:     make(map[models.Trader]int),
	}
}

// OpenPosition mines a block in which trader opens a position.
func (e *SimulatedExchange) OpenPosition(traders ...models.Trader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendBlock(traders, true)
}

// ClosePosition mines a block in which trader closes its position.
func (e *SimulatedExchange) ClosePosition(traders ...models.Trader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendBlock(traders, false)
}

// MineEmptyBlocks advances the head without any position change.
func (e *SimulatedExchange) MineEmptyBlocks(n uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.head += n
}

// SetLiquidatable marks traders as (not) liquidatable.
func (e *SimulatedExchange) SetLiquidatable(liquidatable bool, traders ...models.Trader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range traders {
		e.liquidatable[t] = liquidatable
	}
}

// FailLiquidations makes the next n liquidation attempts of trader fail.
func (e *SimulatedExchange) FailLiquidations(trader models.Trader, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[trader] = n
}

// SetQueryErr sets or clears the error returned by PositionChanges.
func (e *SimulatedExchange) SetQueryErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.QueryErr = err
}

// SetCheckErr sets or clears the error returned by IsLiquidatable.
func (e *SimulatedExchange) SetCheckErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CheckErr = err
}

// IsOpen reports whether trader currently holds a position.
func (e *SimulatedExchange) IsOpen(trader models.Trader) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open[trader]
}

// LiquidatedTraders returns the successfully liquidated traders in order.
func (e *SimulatedExchange) LiquidatedTraders() []models.Trader {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Trader, len(e.Liquidations))
	for i, o := range e.Liquidations {
		out[i] = o.Trader
	}
	return out
}

// Windows returns a copy of every block window requested so far.
func (e *SimulatedExchange) Windows() [][2]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][2]uint64(nil), e.Queries...)
}

// appendBlock expects the caller to hold the lock.
func (e *SimulatedExchange) appendBlock(traders []models.Trader, open bool) {
	e.head++
	for i, t := range traders {
		e.logs = append(e.logs, models.PositionChange{
			Trader:      t,
			BlockNumber: e.head,
			LogIndex:    uint(i),
			Open:        open,
		})
		e.open[t] = open
		if !open {
			e.liquidatable[t] = false
		}
	}
}

func (e *SimulatedExchange) BlockNumber(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.head, nil
}

func (e *SimulatedExchange) PositionChanges(ctx context.Context, fromBlock, toBlock uint64) ([]models.PositionChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Queries = append(e.Queries, [2]uint64{fromBlock, toBlock})
	if e.QueryErr != nil {
		return nil, e.QueryErr
	}
	if fromBlock > toBlock {
		return nil, fmt.Errorf("invalid block range [%d, %d]", fromBlock, toBlock)
	}

	var out []models.PositionChange
	for _, l := range e.logs {
		if l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

func (e *SimulatedExchange) IsLiquidatable(ctx context.Context, traders []models.Trader) ([]bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.CheckErr != nil {
		return nil, e.CheckErr
	}
	out := make([]bool, len(traders))
	for i, t := range traders {
		out[i] = e.open[t] && e.liquidatable[t]
	}
	return out, nil
}

func (e *SimulatedExchange) Liquidate(ctx context.Context, traders []models.Trader) ([]models.LiquidationOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.LiquidateCalls++
	outcomes := make([]models.LiquidationOutcome, 0, len(traders))
	for _, t := range traders {
		switch {
		case e.failures[t] > 0:
			e.failures[t]--
			outcomes = append(outcomes, models.LiquidationOutcome{Trader: t, Err: errors.New("execution reverted: nonce too low")})
		case !e.open[t] || !e.liquidatable[t]:
			outcomes = append(outcomes, models.LiquidationOutcome{Trader: t, Err: errors.New("execution reverted: not liquidatable")})
		default:
			e.nonce++
			tx := common.BytesToHash(crypto.Keccak256(t.Bytes(), common.BigToHash(new(big.Int).SetUint64(e.nonce)).Bytes()))
			outcome := models.LiquidationOutcome{Trader: t, Tx: tx}
			e.Liquidations = append(e.Liquidations, outcome)
			outcomes = append(outcomes, outcome)
			e.appendBlock([]models.Trader{t}, false)
		}
	}
	return outcomes, nil
}
