package mcp

import (
	"github.com/sweepstack/batchrelay/types"
)

// Tool names.
const (
	ToolEncodeTransferBatch = "encode_transfer_batch"
	ToolRelayTransaction    = "relay_transaction"
	ToolTransactionStatus   = "transaction_status"
)

// TransferArg is one ERC-20 transfer.
type TransferArg struct {
	Token  string         `json:"token"`
	To     string         `json:"to"`
	Amount types.Quantity `json:"amount"`
}

// EncodeTransferBatchArgs are the encode_transfer_batch arguments.
type EncodeTransferBatchArgs struct {
	Transfers []TransferArg `json:"transfers"`
}

// EncodedBatch is the encode_transfer_batch result.
type EncodedBatch struct {
	Targets  []string `json:"targets"`
	Data     []string `json:"data"`
	Calldata string   `json:"calldata"`
}

// RelayTransactionArgs are the relay_transaction arguments.
type RelayTransactionArgs struct {
	SenderAddress string                  `json:"senderAddress"`
	Authorization types.AuthorizationJSON `json:"authorization"`
	Transfers     []TransferArg           `json:"transfers"`
}

// RelayTransactionResult is the relay_transaction result.
type RelayTransactionResult struct {
	TxHash  string `json:"txHash"`
	ChainID string `json:"chainId"`
}

// TransactionStatusArgs are the transaction_status arguments.
type TransactionStatusArgs struct {
	TxHash string `json:"txHash"`
}

var (
	transferItemSchema = `{
		"type": "object",
		"required": ["token", "to", "amount"],
		"properties": {
			"token": {"type": "string", "description": "ERC-20 token address"},
			"to": {"type": "string", "description": "Recipient address"},
			"amount": {"type": ["string", "integer"], "description": "Amount in base units"}
		}
	}`

	encodeTransferBatchSchema = `{
		"type": "object",
		"required": ["transfers"],
		"properties": {
			"transfers": {"type": "array", "minItems": 1, "items": ` + transferItemSchema + `}
		}
	}`

	relayTransactionSchema = `{
		"type": "object",
		"required": ["senderAddress", "authorization", "transfers"],
		"properties": {
			"senderAddress": {"type": "string"},
			"authorization": {
				"type": "object",
				"required": ["chainId", "address", "nonce", "r", "s", "v", "yParity"],
				"properties": {
					"chainId": {"type": ["string", "integer"]},
					"address": {"type": "string"},
					"nonce": {"type": ["string", "integer"]},
					"r": {"type": "string"},
					"s": {"type": "string"},
					"v": {"type": ["string", "integer"]},
					"yParity": {"type": ["string", "integer"]}
				}
			},
			"transfers": {"type": "array", "minItems": 1, "items": ` + transferItemSchema + `}
		}
	}`

	transactionStatusSchema = `{
		"type": "object",
		"required": ["txHash"],
		"properties": {
			"txHash": {"type": "string", "description": "0x-prefixed transaction hash"}
		}
	}`
)
