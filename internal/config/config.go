package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"liquidation-bot-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultRPCTimeoutSec   = 30
	DefaultEventBufferSize = 1024
	DefaultSettleSec       = 60
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// LoadConfig reads a JSON config file, applies defaults and validates it.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills optional fields left at their zero value.
func ApplyDefaults(cfg *models.Config) {
	if cfg.RPCTimeoutSec == 0 {
		cfg.RPCTimeoutSec = DefaultRPCTimeoutSec
	}
	if cfg.EventBufferSize == 0 {
		cfg.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.LiquidationSettleSec == 0 {
		cfg.LiquidationSettleSec = DefaultSettleSec
	}
	for i := range cfg.SupportProviders {
		p := &cfg.SupportProviders[i]
		if p.LiquidationBotAPIAddress == "" {
			p.LiquidationBotAPIAddress = cfg.LiquidationBotAPIAddress
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("support-%d", i+1)
		}
	}
}

// Validate checks that all required settings are present and positive.
func Validate(cfg *models.Config) error {
	if cfg.RPCURL == "" {
		return invalid("rpc_url is required")
	}
	if cfg.ChainID <= 0 {
		return invalid("chain_id must be positive")
	}
	if !common.IsHexAddress(cfg.ExchangeAddress) {
		return invalid("exchange_address %q is not a hex address", cfg.ExchangeAddress)
	}
	if !common.IsHexAddress(cfg.LiquidationBotAPIAddress) {
		return invalid("liquidation_bot_api_address %q is not a hex address", cfg.LiquidationBotAPIAddress)
	}
	if cfg.ExchangeLaunchBlock == 0 {
		return invalid("exchange_launch_block must be positive")
	}
	if cfg.MaxBlocksPerJSONRPCQuery == 0 {
		return invalid("max_blocks_per_json_rpc_query must be positive")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"fetcher_retry_interval_sec", cfg.FetcherRetryIntervalSec},
		{"recheck_interval_sec", cfg.RecheckIntervalSec},
		{"liquidator_retry_interval_sec", cfg.LiquidatorRetryIntervalSec},
		{"max_traders_per_liquidation_check", cfg.MaxTradersPerLiquidationCheck},
		{"rpc_timeout_sec", cfg.RPCTimeoutSec},
		{"event_buffer_size", cfg.EventBufferSize},
		{"liquidation_settle_sec", cfg.LiquidationSettleSec},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return invalid("%s must be positive, got %d", p.name, p.value)
		}
	}

	names := map[string]bool{"primary": true}
	for _, p := range cfg.SupportProviders {
		if p.RPCURL == "" {
			return invalid("support provider %q has no rpc_url", p.Name)
		}
		if !common.IsHexAddress(p.LiquidationBotAPIAddress) {
			return invalid("support provider %q has invalid liquidation_bot_api_address %q", p.Name, p.LiquidationBotAPIAddress)
		}
		if names[p.Name] {
			return invalid("duplicate provider name %q", p.Name)
		}
		names[p.Name] = true
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
