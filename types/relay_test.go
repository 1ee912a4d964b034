package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweepstack/batchrelay"
)

func TestQuantity(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
	}{
		{"JSON number", `8453`, 8453},
		{"Decimal string", `"8453"`, 8453},
		{"Hex string", `"0x2105"`, 8453},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Quantity
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &q))
			n, err := q.Big()
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Int64())
		})
	}

	t.Run("Emitted as decimal string", func(t *testing.T) {
		out, err := json.Marshal(Quantity("0x10"))
		require.NoError(t, err)
		assert.Equal(t, `"16"`, string(out))
	})

	t.Run("Garbage fails to parse", func(t *testing.T) {
		_, err := Quantity("twelve").Big()
		assert.Error(t, err)
	})
}

func TestAuthorizationJSON(t *testing.T) {
	auth := batchrelay.Authorization{
		ChainID: big.NewInt(8453),
		Address: common.HexToAddress("0x5d6EBDDD42f3668073b2707b763A201872d6Eca0"),
		Nonce:   9,
		R:       common.HexToHash("0x01"),
		S:       common.HexToHash("0x02"),
		V:       28,
		YParity: 1,
	}

	t.Run("Survives the wire", func(t *testing.T) {
		raw, err := json.Marshal(AuthorizationToJSON(auth))
		require.NoError(t, err)

		var in AuthorizationJSON
		require.NoError(t, json.Unmarshal(raw, &in))
		out, err := AuthorizationFromJSON(in)
		require.NoError(t, err)
		assert.Equal(t, auth, out)
	})

	t.Run("Rejects yParity above one", func(t *testing.T) {
		in := AuthorizationToJSON(auth)
		in.YParity = "2"
		_, err := AuthorizationFromJSON(in)
		assert.Error(t, err)
	})

	t.Run("Rejects a bad address", func(t *testing.T) {
		in := AuthorizationToJSON(auth)
		in.Address = "0x1234"
		_, err := AuthorizationFromJSON(in)
		assert.Error(t, err)
	})
}

func TestReceiptFromJSON(t *testing.T) {
	t.Run("Pending is nil", func(t *testing.T) {
		receipt, err := ReceiptFromJSON(ReceiptResponse{TxHash: "0x01", Status: ReceiptPending})
		require.NoError(t, err)
		assert.Nil(t, receipt)
	})

	t.Run("Numeric status is normalised", func(t *testing.T) {
		receipt, err := ReceiptFromJSON(ReceiptResponse{
			TxHash:      common.HexToHash("0xabc").Hex(),
			Status:      "0x1",
			BlockNumber: 12,
			ChainID:     "8453",
			Calls:       []CallOutcomeJSON{{Index: 0, Target: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Success: true, Result: "0x01"}},
		})
		require.NoError(t, err)
		assert.True(t, receipt.Succeeded())
		assert.Equal(t, uint64(12), receipt.BlockNumber)
		require.Len(t, receipt.Calls, 1)
		assert.Equal(t, []byte{0x01}, receipt.Calls[0].Result)
	})
}
