package batchrelay

import (
	"math/big"
	"strings"
)

// NormalizeStatus maps the many shapes a receipt status comes in (viem-style
// "success", hex "0x1", decimal "1", numeric 1, JSON float 1) to a
// ReceiptStatus. Anything not recognized as success is treated as reverted.
func NormalizeStatus(status interface{}) ReceiptStatus {
	switch v := status.(type) {
	case ReceiptStatus:
		if v == ReceiptStatusSuccess {
			return ReceiptStatusSuccess
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "success", "1", "0x1", "0x01":
			return ReceiptStatusSuccess
		}
	case bool:
		if v {
			return ReceiptStatusSuccess
		}
	case uint64:
		if v == 1 {
			return ReceiptStatusSuccess
		}
	case uint8:
		if v == 1 {
			return ReceiptStatusSuccess
		}
	case int:
		if v == 1 {
			return ReceiptStatusSuccess
		}
	case int64:
		if v == 1 {
			return ReceiptStatusSuccess
		}
	case float64:
		if v == 1 {
			return ReceiptStatusSuccess
		}
	case *big.Int:
		if v != nil && v.Cmp(big.NewInt(1)) == 0 {
			return ReceiptStatusSuccess
		}
	}
	return ReceiptStatusReverted
}
