package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/sweepstack/batchrelay"
	batchevm "github.com/sweepstack/batchrelay/mechanisms/evm"
)

// Backend is the subset of *ethclient.Client used by the signers and the relayer.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ChainReader reads receipts straight from a node. It implements
// batchrelay.ReceiptSource, batchrelay.TransactionLookup and
// batchrelay.RevertInspector.
type ChainReader struct {
	backend Backend
	chainID *big.Int
}

// NewChainReader creates a reader for the chain served by backend.
func NewChainReader(backend Backend, chainID *big.Int) *ChainReader {
	return &ChainReader{backend: backend, chainID: chainID}
}

// Receipt returns the receipt for hash, or nil while the transaction is pending.
func (c *ChainReader) Receipt(ctx context.Context, hash common.Hash) (*batchrelay.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return batchevm.ReceiptFromChain(receipt, c.chainID)
}

// BlockNumber returns the current head.
func (c *ChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// PendingNonceAt returns the pending nonce of account.
func (c *ChainReader) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.backend.PendingNonceAt(ctx, account)
}

// TransactionKnown reports whether the node still knows about hash, mined or pending.
func (c *ChainReader) TransactionKnown(ctx context.Context, hash common.Hash) (bool, error) {
	_, _, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RevertData replays a mined, reverted transaction one block before its
// inclusion and returns the raw revert payload.
func (c *ChainReader) RevertData(ctx context.Context, hash common.Hash) ([]byte, error) {
	tx, pending, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if pending {
		return nil, fmt.Errorf("transaction %s is still pending", hash.Hex())
	}
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s did not revert", hash.Hex())
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}

	var block *big.Int
	if receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		block = new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	}

	_, err = c.backend.CallContract(ctx, ethereum.CallMsg{
		From:              from,
		To:                tx.To(),
		Gas:               tx.Gas(),
		Value:             tx.Value(),
		Data:              tx.Data(),
		AuthorizationList: tx.SetCodeAuthorizations(),
	}, block)
	if err == nil {
		return nil, fmt.Errorf("replay of %s did not revert", hash.Hex())
	}
	return revertPayload(err)
}

// InspectRevert replays a reverted transaction and decodes the batch
// executor revert. The cause is a *batchevm.BatchRevert; for CallFailed it
// names the call that stopped the batch.
func (c *ChainReader) InspectRevert(ctx context.Context, receipt *batchrelay.Receipt) (cause error, err error) {
	data, err := c.RevertData(ctx, receipt.TxHash)
	if err != nil {
		return nil, err
	}
	revert, err := batchevm.DecodeBatchRevert(data)
	if err != nil {
		return nil, err
	}
	return revert, nil
}

// revertPayload extracts the hex error data a node attaches to a failed call.
func revertPayload(err error) ([]byte, error) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, err
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return nil, err
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil {
		return nil, fmt.Errorf("malformed revert data: %w", decodeErr)
	}
	return data, nil
}
