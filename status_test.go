package batchrelay_test

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/sweepstack/batchrelay"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		name   string
		status interface{}
		want   batchrelay.ReceiptStatus
	}{
		{"Viem success", "success", batchrelay.ReceiptStatusSuccess},
		{"Viem reverted", "reverted", batchrelay.ReceiptStatusReverted},
		{"Hex one", "0x1", batchrelay.ReceiptStatusSuccess},
		{"Padded hex one", "0x01", batchrelay.ReceiptStatusSuccess},
		{"Hex zero", "0x0", batchrelay.ReceiptStatusReverted},
		{"Decimal string", "1", batchrelay.ReceiptStatusSuccess},
		{"Decimal zero", "0", batchrelay.ReceiptStatusReverted},
		{"Upper case with spaces", " SUCCESS ", batchrelay.ReceiptStatusSuccess},
		{"Uint64 one", uint64(1), batchrelay.ReceiptStatusSuccess},
		{"Uint64 zero", uint64(0), batchrelay.ReceiptStatusReverted},
		{"Int one", 1, batchrelay.ReceiptStatusSuccess},
		{"JSON number", float64(1), batchrelay.ReceiptStatusSuccess},
		{"Big int", big.NewInt(1), batchrelay.ReceiptStatusSuccess},
		{"Nil big int", (*big.Int)(nil), batchrelay.ReceiptStatusReverted},
		{"Bool", true, batchrelay.ReceiptStatusSuccess},
		{"Typed status", batchrelay.ReceiptStatusSuccess, batchrelay.ReceiptStatusSuccess},
		{"Nil", nil, batchrelay.ReceiptStatusReverted},
		{"Garbage", "mined", batchrelay.ReceiptStatusReverted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, batchrelay.NormalizeStatus(tt.status))
		})
	}
}

func TestNormalizeStatusProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("only one is success", prop.ForAll(
		func(n uint64) bool {
			got := batchrelay.NormalizeStatus(n)
			if n == 1 {
				return got == batchrelay.ReceiptStatusSuccess
			}
			return got == batchrelay.ReceiptStatusReverted
		},
		gen.UInt64Range(0, 1000),
	))

	properties.Property("result is always success or reverted", prop.ForAll(
		func(s string) bool {
			got := batchrelay.NormalizeStatus(s)
			return got == batchrelay.ReceiptStatusSuccess || got == batchrelay.ReceiptStatusReverted
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
