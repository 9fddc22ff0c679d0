package exchange

import (
	"context"

	"liquidation-bot-go/internal/models"
)

// PositionEventSource pages through the exchange's position-change history.
type PositionEventSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	PositionChanges(ctx context.Context, fromBlock, toBlock uint64) ([]models.PositionChange, error)
}

// LiquidationChecker answers whether traders are liquidatable.
// The answer is aligned positionally with traders.
type LiquidationChecker interface {
	IsLiquidatable(ctx context.Context, traders []models.Trader) ([]bool, error)
}

// LiquidationSender submits liquidation transactions, one outcome per trader.
type LiquidationSender interface {
	Liquidate(ctx context.Context, traders []models.Trader) ([]models.LiquidationOutcome, error)
}

// Exchange is everything the bot needs from the primary chain connection.
type Exchange interface {
	PositionEventSource
	LiquidationChecker
	LiquidationSender
}

var (
	_ Exchange = (*LiveExchange)(nil)
	_ Exchange = (*SimulatedExchange)(nil)

	_ LiquidationChecker = (*ContractChecker)(nil)
)
