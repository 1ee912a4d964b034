// Package evm provides the EVM side of the batch relay pipeline: EIP-712
// delegation authorizations, ERC-20 and batch executor call encoding, and
// decoding of executor reverts and events.
package evm

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParseABI parses an ABI JSON document.
func ParseABI(raw []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// ExecutorABI returns the parsed default batch executor ABI.
func ExecutorABI() abi.ABI {
	return executorABI
}
