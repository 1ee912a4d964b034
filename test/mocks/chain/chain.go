// Package chain provides an in-memory EVM node for tests. It implements the
// signer backend interface and simulates EIP-7702 delegation to the batch
// executor closely enough to exercise the whole pipeline.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	batchevm "github.com/sweepstack/batchrelay/mechanisms/evm"
)

// DefaultGasEstimate is returned by EstimateGas unless overridden.
const DefaultGasEstimate = 120_000

// ============================================================================
// Chain
// ============================================================================

// Chain is a fake node. Configure the exported fields before use; they are
// read under the chain's lock.
type Chain struct {
	mu sync.Mutex

	chainID *big.Int
	head    uint64
	baseFee *big.Int
	tip     *big.Int

	nonces      map[common.Address]uint64
	delegations map[common.Address]common.Address
	txs         map[common.Hash]*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	held        map[common.Hash]*types.Receipt
	reverts     map[common.Hash][]byte
	sent        []*types.Transaction

	// Executor is the only delegate whose code the chain simulates.
	Executor common.Address

	// FailAt makes the executor revert with CallFailed at this call index.
	// Negative disables it.
	FailAt int

	// HoldReceipts keeps mined receipts invisible until Release is called.
	HoldReceipts bool

	// Error injection
	NonceErr    error
	EstimateErr error
	SendErr     error
	ReceiptErr  error
	LookupErr   error
}

// New creates a chain at block 100 with the default executor.
func New(chainID *big.Int) *Chain {
	return &Chain{
		chainID:     new(big.Int).Set(chainID),
		head:        100,
		baseFee:     big.NewInt(1_000_000),
		tip:         big.NewInt(100_000),
		nonces:      make(map[common.Address]uint64),
		delegations: make(map[common.Address]common.Address),
		txs:         make(map[common.Hash]*types.Transaction),
		receipts:    make(map[common.Hash]*types.Receipt),
		held:        make(map[common.Hash]*types.Receipt),
		reverts:     make(map[common.Hash][]byte),
		Executor:    batchevm.DefaultBatchExecutorAddress,
		FailAt:      -1,
	}
}

// SetNonce sets an account nonce.
func (c *Chain) SetNonce(account common.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[account] = nonce
}

// Nonce returns an account nonce.
func (c *Chain) Nonce(account common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account]
}

// Delegation returns the code delegate installed on account.
func (c *Chain) Delegation(account common.Address) (common.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delegate, ok := c.delegations[account]
	return delegate, ok
}

// Sent returns every transaction accepted by SendTransaction.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// Advance moves the head forward by n blocks.
func (c *Chain) Advance(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head += n
}

// Release publishes held receipts.
func (c *Chain) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, receipt := range c.held {
		c.receipts[hash] = receipt
		delete(c.held, hash)
	}
}

// Drop forgets a transaction, as a node does when it evicts it from the pool.
func (c *Chain) Drop(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.txs, hash)
	delete(c.held, hash)
	delete(c.receipts, hash)
}

// ============================================================================
// Backend
// ============================================================================

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NonceErr != nil {
		return 0, c.NonceErr
	}
	return c.nonces[account], nil
}

func (c *Chain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.tip), nil
}

func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{
		Number:  new(big.Int).SetUint64(c.head),
		BaseFee: new(big.Int).Set(c.baseFee),
	}, nil
}

func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EstimateErr != nil {
		return 0, c.EstimateErr
	}
	return DefaultGasEstimate, nil
}

func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, tx := range c.txs {
		if msg.To != nil && tx.To() != nil && *tx.To() == *msg.To && string(tx.Data()) == string(msg.Data) {
			if data, ok := c.reverts[hash]; ok {
				return nil, &RevertError{Data: data}
			}
		}
	}
	return nil, nil
}

func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() != c.nonces[from] {
		return fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", c.nonces[from], tx.Nonce())
	}
	c.nonces[from]++

	for _, auth := range tx.SetCodeAuthorizations() {
		authority, err := auth.Authority()
		if err != nil || auth.Nonce != c.nonces[authority] {
			continue
		}
		if auth.ChainID.Sign() != 0 && auth.ChainID.ToBig().Cmp(c.chainID) != 0 {
			continue
		}
		c.delegations[authority] = auth.Address
		c.nonces[authority]++
	}

	c.head++
	receipt := &types.Receipt{
		Type:        tx.Type(),
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.head),
		GasUsed:     tx.Gas() / 2,
	}
	if to := tx.To(); to != nil && c.delegations[*to] == c.Executor {
		c.execute(tx, receipt)
	}

	c.txs[tx.Hash()] = tx
	c.sent = append(c.sent, tx)
	if c.HoldReceipts {
		c.held[tx.Hash()] = receipt
	} else {
		c.receipts[tx.Hash()] = receipt
	}
	return nil
}

// execute simulates the batch executor running in the delegated account.
func (c *Chain) execute(tx *types.Transaction, receipt *types.Receipt) {
	batch, err := batchevm.NewCallEncoder().UnpackExecuteBatch(tx.Data())
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
		return
	}
	executor := batchevm.ExecutorABI()
	for i, call := range batch {
		if i == c.FailAt {
			abiErr := executor.Errors[batchevm.ErrorCallFailed]
			encoded, _ := abiErr.Inputs.Pack(big.NewInt(int64(i)), call.Target, call.Data)
			c.reverts[tx.Hash()] = append(append([]byte{}, abiErr.ID[:4]...), encoded...)
			receipt.Status = types.ReceiptStatusFailed
			receipt.Logs = nil
			return
		}
		event := executor.Events[batchevm.EventCallExecuted]
		data, _ := event.Inputs.NonIndexed().Pack(call.Data, []byte{0x01})
		receipt.Logs = append(receipt.Logs, &types.Log{
			Address: *tx.To(),
			Topics: []common.Hash{
				event.ID,
				common.BigToHash(big.NewInt(int64(i))),
				common.BytesToHash(call.Target.Bytes()),
			},
			Data:   data,
			TxHash: tx.Hash(),
		})
	}
}

func (c *Chain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LookupErr != nil {
		return nil, false, c.LookupErr
	}
	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, pending := c.held[hash]
	return tx, pending, nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReceiptErr != nil {
		return nil, c.ReceiptErr
	}
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// RevertError mimics the JSON-RPC error a node returns for a reverted call.
type RevertError struct {
	Data []byte
}

func (e *RevertError) Error() string { return "execution reverted" }

func (e *RevertError) ErrorCode() int { return 3 }

func (e *RevertError) ErrorData() interface{} { return hexutil.Encode(e.Data) }
