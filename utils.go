package batchrelay

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ValidateBatch checks that batch has at least one call and that every call
// has a target.
func ValidateBatch(batch CallBatch) error {
	if len(batch) == 0 {
		return NewPipelineError(KindEmptyBatch, PhaseValidate, "batch has no calls", nil)
	}
	for i, call := range batch {
		if call.Target == (common.Address{}) {
			return NewPipelineError(KindPrecondition, PhaseValidate, fmt.Sprintf("call %d has no target", i), nil)
		}
	}
	return nil
}

// ValidateRelayRequest checks the fields a relay needs before any network
// call is made.
func ValidateRelayRequest(req RelayRequest) error {
	if req.Sender == (common.Address{}) {
		return NewPipelineError(KindPrecondition, PhaseRelay, "sender address is required", nil)
	}
	if req.Authorization.ChainID == nil || req.Authorization.ChainID.Sign() <= 0 {
		return NewPipelineError(KindPrecondition, PhaseRelay, "authorization chain id is required", nil)
	}
	if req.Authorization.Address == (common.Address{}) {
		return NewPipelineError(KindPrecondition, PhaseRelay, "authorization contract address is required", nil)
	}
	if req.Authorization.R == (common.Hash{}) || req.Authorization.S == (common.Hash{}) {
		return NewPipelineError(KindPrecondition, PhaseRelay, "authorization signature is required", nil)
	}
	if req.FunctionName == "" {
		return NewPipelineError(KindPrecondition, PhaseRelay, "function name is required", nil)
	}
	if len(req.ContractABI) == 0 {
		return NewPipelineError(KindPrecondition, PhaseRelay, "contract ABI is required", nil)
	}
	return nil
}
