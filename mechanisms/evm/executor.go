package evm

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sweepstack/batchrelay"
)

// BatchRevert is a decoded batch executor revert.
type BatchRevert struct {
	// Name is CallFailed, InvalidInputLength, or Error for a plain revert
	// string.
	Name string

	// CallFailed
	Index  uint64
	Target common.Address
	Data   []byte

	// InvalidInputLength
	TargetsLength uint64
	DataLength    uint64

	// Error(string)
	Reason string
}

func (r *BatchRevert) Error() string {
	switch r.Name {
	case ErrorCallFailed:
		return fmt.Sprintf("call %d to %s failed", r.Index, r.Target.Hex())
	case ErrorInvalidInputLength:
		return fmt.Sprintf("invalid input length: %d targets, %d data", r.TargetsLength, r.DataLength)
	default:
		return fmt.Sprintf("execution reverted: %s", r.Reason)
	}
}

// DecodeBatchRevert decodes revert data produced by the batch executor.
// Because the executor aborts on the first failing call, a CallFailed revert
// names the call that stopped the batch.
func DecodeBatchRevert(data []byte) (*BatchRevert, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("revert data too short: %d bytes", len(data))
	}

	if reason, err := abi.UnpackRevert(data); err == nil {
		return &BatchRevert{Name: "Error", Reason: reason}, nil
	}

	for name, abiErr := range executorABI.Errors {
		if !bytes.Equal(abiErr.ID[:4], data[:4]) {
			continue
		}
		values, err := abiErr.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", name, err)
		}
		switch name {
		case ErrorCallFailed:
			index, _ := values[0].(*big.Int)
			target, _ := values[1].(common.Address)
			callData, _ := values[2].([]byte)
			return &BatchRevert{
				Name:   name,
				Index:  bigToUint64(index),
				Target: target,
				Data:   callData,
			}, nil
		case ErrorInvalidInputLength:
			targetsLength, _ := values[0].(*big.Int)
			dataLength, _ := values[1].(*big.Int)
			return &BatchRevert{
				Name:          name,
				TargetsLength: bigToUint64(targetsLength),
				DataLength:    bigToUint64(dataLength),
			}, nil
		}
	}

	return nil, fmt.Errorf("unknown revert selector %#x", data[:4])
}

// ParseCallOutcomes extracts per-call outcomes from executor logs. A
// CallResult event takes precedence over CallExecuted for the same index.
// Outcomes are returned in index order.
func ParseCallOutcomes(logs []*types.Log) ([]batchrelay.CallOutcome, error) {
	executed := executorABI.Events[EventCallExecuted]
	result := executorABI.Events[EventCallResult]

	byIndex := make(map[uint64]batchrelay.CallOutcome)
	fromResult := make(map[uint64]bool)

	for _, lg := range logs {
		if lg == nil || len(lg.Topics) < 3 {
			continue
		}
		switch lg.Topics[0] {
		case executed.ID:
			values, err := executorABI.Unpack(EventCallExecuted, lg.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to unpack %s: %w", EventCallExecuted, err)
			}
			index := new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
			if fromResult[index] {
				continue
			}
			ret, _ := values[1].([]byte)
			byIndex[index] = batchrelay.CallOutcome{
				Index:   index,
				Target:  common.BytesToAddress(lg.Topics[2].Bytes()),
				Success: true,
				Result:  ret,
			}
		case result.ID:
			values, err := executorABI.Unpack(EventCallResult, lg.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to unpack %s: %w", EventCallResult, err)
			}
			index := new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
			success, _ := values[1].(bool)
			ret, _ := values[2].([]byte)
			byIndex[index] = batchrelay.CallOutcome{
				Index:   index,
				Target:  common.BytesToAddress(lg.Topics[2].Bytes()),
				Success: success,
				Result:  ret,
			}
			fromResult[index] = true
		}
	}

	outcomes := make([]batchrelay.CallOutcome, 0, len(byIndex))
	for _, o := range byIndex {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })
	return outcomes, nil
}

// ReceiptFromChain converts a go-ethereum receipt to a pipeline receipt,
// decoding executor events when present.
func ReceiptFromChain(r *types.Receipt, chainID *big.Int) (*batchrelay.Receipt, error) {
	if r == nil {
		return nil, nil
	}
	calls, err := ParseCallOutcomes(r.Logs)
	if err != nil {
		return nil, err
	}
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	return &batchrelay.Receipt{
		TxHash:      r.TxHash,
		Status:      batchrelay.NormalizeStatus(r.Status),
		BlockNumber: block,
		ChainID:     chainID,
		GasUsed:     r.GasUsed,
		Calls:       calls,
	}, nil
}

func bigToUint64(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}
