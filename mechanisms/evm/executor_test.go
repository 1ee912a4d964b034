package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweepstack/batchrelay"
)

func packError(t *testing.T, name string, args ...interface{}) []byte {
	t.Helper()
	abiErr := executorABI.Errors[name]
	encoded, err := abiErr.Inputs.Pack(args...)
	require.NoError(t, err)
	return append(append([]byte{}, abiErr.ID[:4]...), encoded...)
}

func eventLog(t *testing.T, name string, index int64, target common.Address, values ...interface{}) *types.Log {
	t.Helper()
	event := executorABI.Events[name]
	data, err := event.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)
	return &types.Log{
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(index)),
			common.BytesToHash(target.Bytes()),
		},
		Data: data,
	}
}

func TestDecodeBatchRevert(t *testing.T) {
	t.Run("CallFailed names the failing call", func(t *testing.T) {
		data := packError(t, ErrorCallFailed, big.NewInt(1), USDCBase, []byte{0xa9, 0x05, 0x9c, 0xbb})

		revert, err := DecodeBatchRevert(data)
		require.NoError(t, err)
		assert.Equal(t, ErrorCallFailed, revert.Name)
		assert.Equal(t, uint64(1), revert.Index)
		assert.Equal(t, USDCBase, revert.Target)
		assert.Contains(t, revert.Error(), "call 1")
	})

	t.Run("InvalidInputLength carries both lengths", func(t *testing.T) {
		data := packError(t, ErrorInvalidInputLength, big.NewInt(2), big.NewInt(1))

		revert, err := DecodeBatchRevert(data)
		require.NoError(t, err)
		assert.Equal(t, ErrorInvalidInputLength, revert.Name)
		assert.Equal(t, uint64(2), revert.TargetsLength)
		assert.Equal(t, uint64(1), revert.DataLength)
	})

	t.Run("Unknown selector is an error", func(t *testing.T) {
		_, err := DecodeBatchRevert([]byte{0x01, 0x02, 0x03, 0x04})
		assert.Error(t, err)
	})

	t.Run("Short data is an error", func(t *testing.T) {
		_, err := DecodeBatchRevert([]byte{0x01})
		assert.Error(t, err)
	})
}

func TestParseCallOutcomes(t *testing.T) {
	t.Run("Outcomes are ordered by index", func(t *testing.T) {
		logs := []*types.Log{
			eventLog(t, EventCallExecuted, 1, USDCBase, []byte{0x02}, []byte{0x01}),
			eventLog(t, EventCallExecuted, 0, USDTBase, []byte{0x01}, []byte{0x01}),
		}

		outcomes, err := ParseCallOutcomes(logs)
		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		assert.Equal(t, uint64(0), outcomes[0].Index)
		assert.Equal(t, USDTBase, outcomes[0].Target)
		assert.True(t, outcomes[0].Success)
		assert.Equal(t, USDCBase, outcomes[1].Target)
	})

	t.Run("CallResult wins over CallExecuted", func(t *testing.T) {
		logs := []*types.Log{
			eventLog(t, EventCallResult, 0, USDCBase, []byte{0x01}, false, []byte{}),
			eventLog(t, EventCallExecuted, 0, USDCBase, []byte{0x01}, []byte{0x01}),
		}

		outcomes, err := ParseCallOutcomes(logs)
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.False(t, outcomes[0].Success)
	})

	t.Run("Unrelated logs are ignored", func(t *testing.T) {
		outcomes, err := ParseCallOutcomes([]*types.Log{
			{Topics: []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"), {}, {}}},
			nil,
		})
		require.NoError(t, err)
		assert.Empty(t, outcomes)
	})
}

func TestReceiptFromChain(t *testing.T) {
	hash := common.HexToHash("0xabc")
	receipt, err := ReceiptFromChain(&types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: big.NewInt(1000),
		GasUsed:     21000,
		Logs: []*types.Log{
			eventLog(t, EventCallExecuted, 0, USDCBase, []byte{0x01}, []byte{0x01}),
		},
	}, ChainIDBase)
	require.NoError(t, err)
	assert.Equal(t, batchrelay.ReceiptStatusSuccess, receipt.Status)
	assert.Equal(t, uint64(1000), receipt.BlockNumber)
	assert.Equal(t, hash, receipt.TxHash)
	assert.Len(t, receipt.Calls, 1)

	failed, err := ReceiptFromChain(&types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(5)}, ChainIDBase)
	require.NoError(t, err)
	assert.Equal(t, batchrelay.ReceiptStatusReverted, failed.Status)
}
