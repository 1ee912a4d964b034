package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/sweepstack/batchrelay"
)

// AuthorizationToJSON converts an authorization to its wire form.
func AuthorizationToJSON(auth batchrelay.Authorization) AuthorizationJSON {
	return AuthorizationJSON{
		ChainID: NewQuantity(auth.ChainID),
		Address: auth.Address.Hex(),
		Nonce:   QuantityFromUint64(auth.Nonce),
		R:       auth.R.Hex(),
		S:       auth.S.Hex(),
		V:       QuantityFromUint64(uint64(auth.V)),
		YParity: QuantityFromUint64(uint64(auth.YParity)),
	}
}

// AuthorizationFromJSON parses a wire authorization.
func AuthorizationFromJSON(in AuthorizationJSON) (batchrelay.Authorization, error) {
	var auth batchrelay.Authorization

	chainID, err := in.ChainID.Big()
	if err != nil {
		return auth, fmt.Errorf("authorization.chainId: %w", err)
	}
	if !common.IsHexAddress(in.Address) {
		return auth, fmt.Errorf("authorization.address: invalid address %q", in.Address)
	}
	nonce, err := in.Nonce.Uint64()
	if err != nil {
		return auth, fmt.Errorf("authorization.nonce: %w", err)
	}
	r, err := parseWord(in.R)
	if err != nil {
		return auth, fmt.Errorf("authorization.r: %w", err)
	}
	s, err := parseWord(in.S)
	if err != nil {
		return auth, fmt.Errorf("authorization.s: %w", err)
	}
	v, err := in.V.Uint64()
	if err != nil || v > 255 {
		return auth, fmt.Errorf("authorization.v: invalid value %q", in.V)
	}
	yParity, err := in.YParity.Uint64()
	if err != nil || yParity > 1 {
		return auth, fmt.Errorf("authorization.yParity: invalid value %q", in.YParity)
	}

	return batchrelay.Authorization{
		ChainID: chainID,
		Address: common.HexToAddress(in.Address),
		Nonce:   nonce,
		R:       r,
		S:       s,
		V:       uint8(v),
		YParity: uint8(yParity),
	}, nil
}

func parseWord(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) > common.HashLength {
		return common.Hash{}, fmt.Errorf("value longer than 32 bytes")
	}
	return common.BytesToHash(b), nil
}

// ReceiptToJSON converts a receipt to its wire form.
func ReceiptToJSON(receipt *batchrelay.Receipt) ReceiptResponse {
	resp := ReceiptResponse{
		TxHash:      receipt.TxHash.Hex(),
		Status:      string(receipt.Status),
		BlockNumber: receipt.BlockNumber,
		ChainID:     NewQuantity(receipt.ChainID),
		GasUsed:     receipt.GasUsed,
	}
	for _, call := range receipt.Calls {
		out := CallOutcomeJSON{
			Index:   call.Index,
			Target:  call.Target.Hex(),
			Success: call.Success,
		}
		if len(call.Result) > 0 {
			out.Result = hexutil.Encode(call.Result)
		}
		resp.Calls = append(resp.Calls, out)
	}
	return resp
}

// ReceiptFromJSON parses a wire receipt. It returns nil for a pending
// transaction.
func ReceiptFromJSON(resp ReceiptResponse) (*batchrelay.Receipt, error) {
	if resp.Status == ReceiptPending {
		return nil, nil
	}
	hash, err := parseWord(resp.TxHash)
	if err != nil {
		return nil, fmt.Errorf("txHash: %w", err)
	}
	receipt := &batchrelay.Receipt{
		TxHash:      hash,
		Status:      batchrelay.NormalizeStatus(resp.Status),
		BlockNumber: resp.BlockNumber,
		GasUsed:     resp.GasUsed,
	}
	if resp.ChainID != "" {
		if receipt.ChainID, err = resp.ChainID.Big(); err != nil {
			return nil, fmt.Errorf("chainId: %w", err)
		}
	}
	for _, call := range resp.Calls {
		outcome := batchrelay.CallOutcome{
			Index:   call.Index,
			Target:  common.HexToAddress(call.Target),
			Success: call.Success,
		}
		if call.Result != "" {
			if outcome.Result, err = hexutil.Decode(call.Result); err != nil {
				return nil, fmt.Errorf("calls[%d].result: %w", call.Index, err)
			}
		}
		receipt.Calls = append(receipt.Calls, outcome)
	}
	return receipt, nil
}
