package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// Config holds every setting the liquidation bot needs.
type Config struct {
	RPCURL                   string `json:"rpc_url"`                      // JSON-RPC endpoint of the primary node
	ChainID                  int64  `json:"chain_id"`                     // Chain ID used to sign liquidation transactions
	ExchangeAddress          string `json:"exchange_address"`             // Exchange contract whose positions are watched
	LiquidationBotAPIAddress string `json:"liquidation_bot_api_address"` // Batch isLiquidatable helper contract

	ExchangeLaunchBlock           uint64 `json:"exchange_launch_block"`            // First block to replay position changes from
	MaxBlocksPerJSONRPCQuery      uint64 `json:"max_blocks_per_json_rpc_query"`    // Upper bound of one eth_getLogs window
	FetcherRetryIntervalSec       int    `json:"fetcher_retry_interval_sec"`       // Fetch cadence and retry delay
	RecheckIntervalSec            int    `json:"recheck_interval_sec"`             // Per-provider check cadence
	LiquidatorRetryIntervalSec    int    `json:"liquidator_retry_interval_sec"`    // Pause after failed liquidations
	MaxTradersPerLiquidationCheck int    `json:"max_traders_per_liquidation_check"` // Chunk size of one check call
	LiquidationSettleSec          int    `json:"liquidation_settle_sec,omitempty"`  // Hold on re-liquidating a liquidated trader

	SupportProviders []ProviderConfig `json:"support_providers,omitempty"` // Redundant check providers

	RPCTimeoutSec   int    `json:"rpc_timeout_sec,omitempty"`   // Timeout of a single external call
	RecheckAwaitAll bool   `json:"recheck_await_all,omitempty"` // Wait for every provider when re-validating failures
	EventBufferSize int    `json:"event_buffer_size,omitempty"` // Capacity of the published event channel
	GasLimit        uint64 `json:"gas_limit,omitempty"`         // Fixed gas limit for liquidation txs; 0 estimates

	MetricsAddr string    `json:"metrics_addr,omitempty"` // Listen address for /metrics and /events, empty disables
	JournalPath string    `json:"journal_path,omitempty"` // Badger directory for the event journal, empty disables
	LogConfig   LogConfig `json:"log"`
}

// ProviderConfig describes one liquidatability check provider.
type ProviderConfig struct {
	Name                     string `json:"name"`
	RPCURL                   string `json:"rpc_url"`
	LiquidationBotAPIAddress string `json:"liquidation_bot_api_address,omitempty"` // Defaults to the primary helper contract
}

// LogConfig configures logging output.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // Log file path
	MaxSize    int    `json:"max_size"`    // Max size of one log file (MB)
	MaxBackups int    `json:"max_backups"` // Number of rotated files to keep
	MaxAge     int    `json:"max_age"`     // Days to keep rotated files
	Compress   bool   `json:"compress"`    // Gzip rotated files
}

// Trader is an account holding a position on the exchange.
type Trader = common.Address

// PositionChange is one decoded position-change log of the exchange.
type PositionChange struct {
	Trader      Trader
	BlockNumber uint64
	LogIndex    uint
	Open        bool // true when the new position is non-zero
}

// CheckResult is the answer for one chunk of a liquidatability check.
// Exactly one of Liquidatable or Err is set.
type CheckResult struct {
	Offset       int
	Traders      []Trader
	Liquidatable []bool
	Err          *CheckError
}

// LiquidationOutcome is the result of one liquidation attempt.
type LiquidationOutcome struct {
	Trader Trader
	Tx     common.Hash
	Err    error
}

// Succeeded reports whether the liquidation transaction was submitted.
func (o LiquidationOutcome) Succeeded() bool {
	return o.Err == nil
}
