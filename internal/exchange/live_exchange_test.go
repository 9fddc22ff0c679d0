package exchange

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"liquidation-bot-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCaller is a bind.ContractCaller returning canned isLiquidatable answers.
type mockCaller struct {
	sync.Mutex
	answer []bool
	err    error
	calls  []ethereum.CallMsg
}

func (m *mockCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (m *mockCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.Lock()
	defer m.Unlock()
	m.calls = append(m.calls, call)
	if m.err != nil {
		return nil, m.err
	}
	return liquidationBotAPIABI.Methods["isLiquidatable"].Outputs.Pack(m.answer)
}

func TestContractCheckerIsLiquidatable(t *testing.T) {
	exchangeAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	apiAddr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	caller := &mockCaller{answer: []bool{false, true, false}}
	checker := NewContractChecker(caller, exchangeAddr, apiAddr)

	traders := []models.Trader{
		common.HexToAddress("0xa1"),
		common.HexToAddress("0xa2"),
		common.HexToAddress("0xa3"),
	}
	flags, err := checker.IsLiquidatable(context.Background(), traders)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, flags)

	// The call must target the helper contract with the packed arguments.
	require.Len(t, caller.calls, 1)
	call := caller.calls[0]
	require.NotNil(t, call.To)
	assert.Equal(t, apiAddr, *call.To)

	method := liquidationBotAPIABI.Methods["isLiquidatable"]
	args, err := method.Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, exchangeAddr, args[0])
	assert.Equal(t, traders, args[1])
}

func TestContractCheckerPropagatesErrors(t *testing.T) {
	caller := &mockCaller{err: errors.New("rate limited")}
	checker := NewContractChecker(caller, common.Address{}, common.Address{})

	_, err := checker.IsLiquidatable(context.Background(), []models.Trader{common.HexToAddress("0xa1")})
	assert.EqualError(t, err, "rate limited")
}

func positionChangedLog(t *testing.T, trader models.Trader, block uint64, index uint, newAsset, newStable int64) types.Log {
	t.Helper()
	data, err := exchangeABI.Events["PositionChanged"].Inputs.NonIndexed().Pack(
		big.NewInt(0), big.NewInt(0), big.NewInt(newAsset), big.NewInt(newStable),
	)
	require.NoError(t, err)
	return types.Log{
		Topics:      []common.Hash{positionChangedTopic, common.BytesToHash(trader.Bytes())},
		Data:        data,
		BlockNumber: block,
		Index:       index,
	}
}

func TestDecodePositionChanged(t *testing.T) {
	trader := common.HexToAddress("0xbeef")

	change, err := decodePositionChanged(positionChangedLog(t, trader, 42, 3, 10, -5))
	require.NoError(t, err)
	assert.Equal(t, trader, change.Trader)
	assert.Equal(t, uint64(42), change.BlockNumber)
	assert.Equal(t, uint(3), change.LogIndex)
	assert.True(t, change.Open)

	closed, err := decodePositionChanged(positionChangedLog(t, trader, 43, 0, 0, 0))
	require.NoError(t, err)
	assert.False(t, closed.Open)

	// Only stable balance left still counts as an open position.
	stableOnly, err := decodePositionChanged(positionChangedLog(t, trader, 44, 0, 0, 7))
	require.NoError(t, err)
	assert.True(t, stableOnly.Open)
}

func TestDecodePositionChangedRejectsForeignLog(t *testing.T) {
	_, err := decodePositionChanged(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	assert.Error(t, err)
}
