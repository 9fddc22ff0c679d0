package config

import (
	"os"
	"path/filepath"
	"testing"

	"liquidation-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigJSON = `{
	"rpc_url": "http://localhost:8545",
	"chain_id": 42161,
	"exchange_address": "0x1111111111111111111111111111111111111111",
	"liquidation_bot_api_address": "0x2222222222222222222222222222222222222222",
	"exchange_launch_block": 100,
	"max_blocks_per_json_rpc_query": 5000,
	"fetcher_retry_interval_sec": 10,
	"recheck_interval_sec": 5,
	"liquidator_retry_interval_sec": 15,
	"max_traders_per_liquidation_check": 100,
	"support_providers": [
		{"rpc_url": "http://backup:8545"}
	],
	"log": {"level": "debug", "output": "console"}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func validConfig() *models.Config {
	cfg := &models.Config{
		RPCURL:                        "http://localhost:8545",
		ChainID:                       1,
		ExchangeAddress:               "0x1111111111111111111111111111111111111111",
		LiquidationBotAPIAddress:      "0x2222222222222222222222222222222222222222",
		ExchangeLaunchBlock:           1,
		MaxBlocksPerJSONRPCQuery:      1000,
		FetcherRetryIntervalSec:       1,
		RecheckIntervalSec:            1,
		LiquidatorRetryIntervalSec:    1,
		MaxTradersPerLiquidationCheck: 10,
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigJSON))
	require.NoError(t, err)

	assert.Equal(t, uint64(100), cfg.ExchangeLaunchBlock)
	assert.Equal(t, uint64(5000), cfg.MaxBlocksPerJSONRPCQuery)
	assert.Equal(t, 100, cfg.MaxTradersPerLiquidationCheck)
	assert.Equal(t, "debug", cfg.LogConfig.Level)

	// Defaults
	assert.Equal(t, DefaultRPCTimeoutSec, cfg.RPCTimeoutSec)
	assert.Equal(t, DefaultEventBufferSize, cfg.EventBufferSize)
	assert.Equal(t, DefaultSettleSec, cfg.LiquidationSettleSec)
	require.Len(t, cfg.SupportProviders, 1)
	assert.Equal(t, "support-1", cfg.SupportProviders[0].Name)
	assert.Equal(t, cfg.LiquidationBotAPIAddress, cfg.SupportProviders[0].LiquidationBotAPIAddress)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfigUnknownField(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"rpc_url": "x", "grid_spacing": 0.1}`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *models.Config)
	}{
		{"missing rpc url", func(cfg *models.Config) { cfg.RPCURL = "" }},
		{"bad exchange address", func(cfg *models.Config) { cfg.ExchangeAddress = "not-an-address" }},
		{"zero launch block", func(cfg *models.Config) { cfg.ExchangeLaunchBlock = 0 }},
		{"zero window", func(cfg *models.Config) { cfg.MaxBlocksPerJSONRPCQuery = 0 }},
		{"negative fetch interval", func(cfg *models.Config) { cfg.FetcherRetryIntervalSec = -1 }},
		{"zero recheck interval", func(cfg *models.Config) { cfg.RecheckIntervalSec = 0 }},
		{"zero chunk size", func(cfg *models.Config) { cfg.MaxTradersPerLiquidationCheck = 0 }},
		{"support without url", func(cfg *models.Config) {
			cfg.SupportProviders = []models.ProviderConfig{{Name: "b", LiquidationBotAPIAddress: cfg.LiquidationBotAPIAddress}}
		}},
		{"duplicate support name", func(cfg *models.Config) {
			p := models.ProviderConfig{Name: "b", RPCURL: "http://b", LiquidationBotAPIAddress: cfg.LiquidationBotAPIAddress}
			cfg.SupportProviders = []models.ProviderConfig{p, p}
		}},
	}

	require.NoError(t, Validate(validConfig()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
