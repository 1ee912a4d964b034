// Package http provides the HTTP side of the batch relay: the relay server
// that pays for delegated batches, and the clients the pipeline uses to
// submit to it and to read receipts back.
package http

import (
	"github.com/sweepstack/batchrelay"
)

var (
	_ batchrelay.RelaySubmitter    = (*RelayClient)(nil)
	_ batchrelay.ReceiptSource     = (*ReceiptClient)(nil)
	_ batchrelay.TransactionLookup = (*ReceiptClient)(nil)
)
