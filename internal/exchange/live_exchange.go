package exchange

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"liquidation-bot-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

const maxDialAttempts = 8

// ErrNoSigner is returned by NewLiveExchange when live mode has no private key.
var ErrNoSigner = errors.New("no signing key configured")

// Dial connects to a JSON-RPC endpoint, retrying with exponential backoff
// until the node answers eth_blockNumber.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*ethclient.Client, error) {
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; ; attempt++ {
		client, err := ethclient.DialContext(ctx, url)
		if err == nil {
			if _, err = client.BlockNumber(ctx); err == nil {
				return client, nil
			}
			client.Close()
			err = fmt.Errorf("fetch head: %w", err)
		}
		if attempt >= maxDialAttempts {
			return nil, fmt.Errorf("dial %s after %d attempts: %w", url, attempt, err)
		}

		wait := b.Duration()
		logger.Warn("RPC connection failed, retrying",
			zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// LiveExchange talks to the exchange contract over JSON-RPC.
type LiveExchange struct {
	*ContractChecker

	client   *ethclient.Client
	exchange common.Address
	contract *bind.BoundContract
	signer   *bind.TransactOpts
	from     common.Address
	gasLimit uint64
	dryRun   bool
	logger   *zap.Logger
}

// LiveExchangeConfig collects the settings of a LiveExchange.
type LiveExchangeConfig struct {
	Exchange          common.Address
	LiquidationBotAPI common.Address
	ChainID           *big.Int
	PrivateKey        *ecdsa.PrivateKey // nil is allowed in dry-run mode
	GasLimit          uint64
	DryRun            bool
}

// NewLiveExchange binds the exchange contract on an established connection.
func NewLiveExchange(client *ethclient.Client, cfg LiveExchangeConfig, logger *zap.Logger) (*LiveExchange, error) {
	e := &LiveExchange{
		ContractChecker: NewContractChecker(client, cfg.Exchange, cfg.LiquidationBotAPI),
		client:          client,
		exchange:        cfg.Exchange,
		contract:        bind.NewBoundContract(cfg.Exchange, exchangeABI, client, client, client),
		gasLimit:        cfg.GasLimit,
		dryRun:          cfg.DryRun,
		logger:          logger,
	}

	if cfg.PrivateKey != nil {
		opts, err := bind.NewKeyedTransactorWithChainID(cfg.PrivateKey, cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("create transactor: %w", err)
		}
		e.signer = opts
		e.from = crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey)
	} else if !cfg.DryRun {
		return nil, ErrNoSigner
	}

	return e, nil
}

// From returns the address liquidations are sent from.
func (e *LiveExchange) From() common.Address {
	return e.from
}

// BlockNumber returns the current chain head.
func (e *LiveExchange) BlockNumber(ctx context.Context) (uint64, error) {
	return e.client.BlockNumber(ctx)
}

// PositionChanges returns the decoded PositionChanged logs in [fromBlock, toBlock],
// ordered by block and log index.
func (e *LiveExchange) PositionChanges(ctx context.Context, fromBlock, toBlock uint64) ([]models.PositionChange, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{e.exchange},
		Topics:    [][]common.Hash{{positionChangedTopic}},
	}

	logs, err := e.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	changes := make([]models.PositionChange, 0, len(logs))
	for _, vLog := range logs {
		if vLog.Removed {
			continue
		}
		change, err := decodePositionChanged(vLog)
		if err != nil {
			return nil, fmt.Errorf("decode log %s#%d: %w", vLog.TxHash.Hex(), vLog.Index, err)
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func decodePositionChanged(vLog types.Log) (models.PositionChange, error) {
	if len(vLog.Topics) < 2 || vLog.Topics[0] != positionChangedTopic {
		return models.PositionChange{}, fmt.Errorf("unexpected topics len=%d", len(vLog.Topics))
	}

	var out struct {
		PrevAsset  *big.Int
		PrevStable *big.Int
		NewAsset   *big.Int
		NewStable  *big.Int
	}
	if err := exchangeABI.UnpackIntoInterface(&out, "PositionChanged", vLog.Data); err != nil {
		return models.PositionChange{}, err
	}

	return models.PositionChange{
		Trader:      common.BytesToAddress(vLog.Topics[1].Bytes()),
		BlockNumber: vLog.BlockNumber,
		LogIndex:    vLog.Index,
		Open:        out.NewAsset.Sign() != 0 || out.NewStable.Sign() != 0,
	}, nil
}

// Liquidate simulates and then sends one liquidation transaction per trader,
// then waits for the receipts. A trader whose simulation reverts is reported
// as failed without sending. The simulation runs against the pending state,
// so a liquidation already in the mempool is not sent again. Traders not
// reached before ctx is done fail with the context error; a sent transaction
// whose receipt does not arrive in time is reported as sent.
func (e *LiveExchange) Liquidate(ctx context.Context, traders []models.Trader) ([]models.LiquidationOutcome, error) {
	outcomes := make([]models.LiquidationOutcome, len(traders))
	sent := make([]*types.Transaction, len(traders))
	for i, trader := range traders {
		if err := ctx.Err(); err != nil {
			outcomes[i] = models.LiquidationOutcome{Trader: trader, Err: err}
			continue
		}
		tx, err := e.send(ctx, trader)
		outcomes[i] = models.LiquidationOutcome{Trader: trader, Err: err}
		if tx != nil {
			outcomes[i].Tx = tx.Hash()
			sent[i] = tx
		}
	}

	for i, tx := range sent {
		if tx == nil {
			continue
		}
		receipt, err := bind.WaitMined(ctx, e.client, tx)
		switch {
		case err != nil:
			e.logger.Warn("Liquidation not mined yet", zap.String("trader", traders[i].Hex()),
				zap.String("tx", tx.Hash().Hex()), zap.Error(err))
		case receipt.Status != types.ReceiptStatusSuccessful:
			outcomes[i].Err = fmt.Errorf("tx %s reverted in block %d", tx.Hash().Hex(), receipt.BlockNumber)
		default:
			e.logger.Info("Liquidation mined", zap.String("trader", traders[i].Hex()),
				zap.String("tx", tx.Hash().Hex()), zap.Uint64("gas_used", receipt.GasUsed))
		}
	}
	return outcomes, nil
}

// send simulates the liquidation and, unless in dry-run mode, submits it.
// It returns a nil transaction when nothing was sent.
func (e *LiveExchange) send(ctx context.Context, trader models.Trader) (*types.Transaction, error) {
	data, err := exchangeABI.Pack("liquidate", trader)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{From: e.from, To: &e.exchange, Data: data}
	if _, err := e.client.PendingCallContract(ctx, msg); err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}

	if e.dryRun {
		e.logger.Info("Dry run: liquidation simulated", zap.String("trader", trader.Hex()))
		return nil, nil
	}

	opts := *e.signer
	opts.Context = ctx
	opts.GasLimit = e.gasLimit

	tx, err := e.contract.Transact(&opts, "liquidate", trader)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	e.logger.Info("Liquidation submitted", zap.String("trader", trader.Hex()), zap.String("tx", tx.Hash().Hex()))
	return tx, nil
}

// ContractChecker asks the liquidation bot API contract which traders are liquidatable.
type ContractChecker struct {
	caller   bind.ContractCaller
	exchange common.Address
	api      common.Address
}

// NewContractChecker binds the helper contract for one exchange.
func NewContractChecker(caller bind.ContractCaller, exchange, api common.Address) *ContractChecker {
	return &ContractChecker{caller: caller, exchange: exchange, api: api}
}

// IsLiquidatable returns one flag per trader, in order.
func (c *ContractChecker) IsLiquidatable(ctx context.Context, traders []models.Trader) ([]bool, error) {
	data, err := liquidationBotAPIABI.Pack("isLiquidatable", c.exchange, traders)
	if err != nil {
		return nil, err
	}

	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.api, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	values, err := liquidationBotAPIABI.Unpack("isLiquidatable", out)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected isLiquidatable output count %d", len(values))
	}
	flags, ok := values[0].([]bool)
	if !ok {
		return nil, fmt.Errorf("unexpected isLiquidatable output type %T", values[0])
	}
	return flags, nil
}
