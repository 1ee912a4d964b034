package batchrelay

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Authorization is a signed delegation of code execution from an EOA to a
// batch-executor contract. Nonce is the EOA's pending transaction count at
// signing time. An authorization is consumed by exactly one relay submission.
type Authorization struct {
	ChainID *big.Int       `json:"chainId"`
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
	R       common.Hash    `json:"r"`
	S       common.Hash    `json:"s"`
	V       uint8          `json:"v"`
	YParity uint8          `json:"yParity"`
}

// Signature reassembles the 65-byte r || s || v signature.
func (a Authorization) Signature() []byte {
	sig := make([]byte, 65)
	copy(sig[0:32], a.R[:])
	copy(sig[32:64], a.S[:])
	sig[64] = a.V
	return sig
}

// Call is one unit of work inside a batch.
type Call struct {
	Target common.Address
	Data   []byte
}

// CallBatch is an ordered list of calls executed atomically by the
// batch-executor contract. Order and duplicates are preserved.
type CallBatch []Call

// Targets returns the call targets in batch order.
func (b CallBatch) Targets() []common.Address {
	targets := make([]common.Address, len(b))
	for i, c := range b {
		targets[i] = c.Target
	}
	return targets
}

// Data returns the calldata of each call in batch order.
func (b CallBatch) Data() [][]byte {
	data := make([][]byte, len(b))
	for i, c := range b {
		data[i] = c.Data
	}
	return data
}

// RelayRequest is everything the relay needs to submit a batch on behalf of
// the sender: the signed authorization plus the executor call to make.
type RelayRequest struct {
	Sender        common.Address
	Authorization Authorization
	ContractABI   []byte
	FunctionName  string
	Args          []interface{}
}

// TransactionHandle identifies a relayed transaction.
type TransactionHandle struct {
	TxHash  common.Hash
	ChainID *big.Int
}

// ReceiptStatus is the normalized on-chain outcome of a mined transaction.
type ReceiptStatus string

const (
	ReceiptStatusSuccess  ReceiptStatus = "success"
	ReceiptStatusReverted ReceiptStatus = "reverted"
)

// CallOutcome is the per-call result recovered from executor events.
type CallOutcome struct {
	Index   uint64
	Target  common.Address
	Success bool
	Result  []byte
}

// Receipt is the terminal record of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      ReceiptStatus
	BlockNumber uint64
	ChainID     *big.Int
	GasUsed     uint64
	Calls       []CallOutcome
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccess
}

// BroadcastRequest is what a relayer needs to put a delegated batch on chain.
// The transaction is sent to the sender itself so that the delegated code runs
// in the sender's context.
type BroadcastRequest struct {
	Sender        common.Address
	Authorization Authorization
	Calldata      []byte
}
