package evm

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgsOverTheWire(t *testing.T) {
	targets := []common.Address{USDTBase, USDCBase}
	data := [][]byte{{0xa9, 0x05}, {0x09, 0x5e, 0xa7, 0xb3}}

	raw, err := MarshalArgs([]interface{}{targets, data})
	require.NoError(t, err)
	require.Len(t, raw, 2)

	var hexTargets []string
	require.NoError(t, json.Unmarshal(raw[0], &hexTargets))
	assert.Equal(t, USDTBase.Hex(), hexTargets[0])

	var hexData []string
	require.NoError(t, json.Unmarshal(raw[1], &hexData))
	assert.Equal(t, "0x095ea7b3", hexData[1])

	method := executorABI.Methods[FunctionExecuteBatch]
	args, err := ParseArgs(method, raw)
	require.NoError(t, err)
	assert.Equal(t, targets, args[0])
	assert.Equal(t, data, args[1])

	_, err = executorABI.Pack(FunctionExecuteBatch, args...)
	assert.NoError(t, err)
}

func TestParseArgs(t *testing.T) {
	transfer := erc20ABI.Methods[FunctionERC20Transfer]

	t.Run("Decimal and hex amounts", func(t *testing.T) {
		for _, amount := range []string{`"69"`, `"0x45"`, `69`} {
			args, err := ParseArgs(transfer, []json.RawMessage{json.RawMessage(`"` + testRecipient.Hex() + `"`), json.RawMessage(amount)})
			require.NoError(t, err, amount)
			assert.Equal(t, 0, big.NewInt(69).Cmp(args[1].(*big.Int)), amount)
		}
	})

	t.Run("Wrong arity", func(t *testing.T) {
		_, err := ParseArgs(transfer, []json.RawMessage{json.RawMessage(`"0x01"`)})
		assert.Error(t, err)
	})

	t.Run("Invalid address", func(t *testing.T) {
		_, err := ParseArgs(transfer, []json.RawMessage{json.RawMessage(`"nope"`), json.RawMessage(`"1"`)})
		assert.Error(t, err)
	})

	t.Run("Negative uint", func(t *testing.T) {
		_, err := ParseArgs(transfer, []json.RawMessage{json.RawMessage(`"` + testRecipient.Hex() + `"`), json.RawMessage(`"-1"`)})
		assert.Error(t, err)
	})

	t.Run("Unsupported Go type", func(t *testing.T) {
		_, err := MarshalArgs([]interface{}{struct{}{}})
		assert.Error(t, err)
	})
}

func TestSplitSignature(t *testing.T) {
	sig := make([]byte, 65)
	sig[0] = 0x11
	sig[32] = 0x22

	tests := []struct {
		name    string
		v       byte
		wantV   uint8
		wantY   uint8
		wantErr bool
	}{
		{"v 27", 27, 27, 0, false},
		{"v 28", 28, 28, 1, false},
		{"Raw recovery id 0", 0, 27, 0, false},
		{"Raw recovery id 1", 1, 28, 1, false},
		{"Invalid v", 35, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig[64] = tt.v
			split, err := SplitSignature(sig)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantV, split.V)
			assert.Equal(t, tt.wantY, split.YParity)
			assert.Equal(t, byte(0x11), split.R[0])
			assert.Equal(t, byte(0x22), split.S[0])
		})
	}

	t.Run("Wrong length", func(t *testing.T) {
		_, err := SplitSignature(make([]byte, 64))
		assert.Error(t, err)
	})
}
