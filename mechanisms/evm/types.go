package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WalletSigner is the wallet signing boundary: a connected account that can
// produce EIP-712 typed-data signatures.
type WalletSigner interface {
	Address() common.Address
	SignTypedData(
		ctx context.Context,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]interface{},
	) ([]byte, error)
}

// NonceSource returns an account's pending transaction count.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// ChainIDSource returns the chain the wallet is connected to.
type ChainIDSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// TypedDataDomain represents an EIP-712 domain. VerifyingContract is omitted
// from the domain type when empty.
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract,omitempty"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ErrUserRejected is returned (or wrapped) by wallets when the user declines
// a signature request.
var ErrUserRejected = errors.New("user rejected the request")

// WalletError is a provider error carrying an EIP-1193 code.
type WalletError struct {
	Code    int
	Message string
}

func (e *WalletError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// IsUserRejection reports whether err means the user declined the prompt.
func IsUserRejection(err error) bool {
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var we *WalletError
	return errors.As(err, &we) && we.Code == EIP1193UserRejectedCode
}

// Signature is a split 65-byte secp256k1 signature.
type Signature struct {
	R       common.Hash
	S       common.Hash
	V       uint8
	YParity uint8
}
