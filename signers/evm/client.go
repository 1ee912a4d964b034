package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/sweepstack/batchrelay"
	batchevm "github.com/sweepstack/batchrelay/mechanisms/evm"
)

// ClientSigner is a key-backed wallet. It implements batchevm.WalletSigner,
// and batchevm.NonceSource and batchevm.ChainIDSource when a chain backend is
// attached.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	backend    Backend
}

// NewClientSignerFromPrivateKey creates a wallet from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//
// Returns:
//
//	Wallet ready for use with batchevm.NewAuthorizationSigner()
//	Error if private key is invalid
//
// Example:
//
//	wallet, err := evm.NewClientSignerFromPrivateKey(os.Getenv("SENDER_PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	signer := batchevm.NewAuthorizationSigner(wallet, nil, batchevm.DefaultBatchExecutorAddress,
//	    batchevm.WithChainID(batchevm.ChainIDBase))
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	return NewClientSignerFromPrivateKeyWithBackend(privateKeyHex, nil)
}

// NewClientSignerFromPrivateKeyWithBackend creates a wallet with a chain
// backend (usually *ethclient.Client) for nonce and chain id reads.
//
// If backend is nil, PendingNonceAt and ChainID return an error when called.
func NewClientSignerFromPrivateKeyWithBackend(privateKeyHex string, backend Backend) (*ClientSigner, error) {
	privateKey, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		backend:    backend,
	}, nil
}

func parsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return privateKey, nil
}

// Address returns the Ethereum address of the signer.
func (s *ClientSigner) Address() common.Address {
	return s.address
}

// SignTypedData signs EIP-712 typed data.
//
// Args:
//
//	ctx: Context for cancellation and timeout control
//	domain: EIP-712 domain separator
//	types: Type definitions for the structured data
//	primaryType: The primary type being signed
//	message: The message data to sign
//
// Returns:
//
//	65-byte signature (r, s, v) with v in {27, 28}
//	Error if signing fails
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain batchevm.TypedDataDomain,
	types map[string][]batchevm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := batchevm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 → 27/28)
	signature[64] += 27

	return signature, nil
}

// PendingNonceAt returns the pending nonce of account.
func (s *ClientSigner) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if s.backend == nil {
		return 0, fmt.Errorf("PendingNonceAt requires a backend; use NewClientSignerFromPrivateKeyWithBackend")
	}
	return s.backend.PendingNonceAt(ctx, account)
}

// ChainID returns the backend's chain id.
func (s *ClientSigner) ChainID(ctx context.Context) (*big.Int, error) {
	if s.backend == nil {
		return nil, fmt.Errorf("ChainID requires a backend; use NewClientSignerFromPrivateKeyWithBackend")
	}
	return s.backend.ChainID(ctx)
}

// SignSetCodeAuthorization signs a native authorization tuple delegating the
// signer's code to contract. Unlike the typed-data form, this is the exact
// tuple nodes verify when applying a type-4 transaction.
func (s *ClientSigner) SignSetCodeAuthorization(chainID *big.Int, contract common.Address, nonce uint64) (*batchrelay.Authorization, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain id is required")
	}
	chain, overflow := uint256.FromBig(chainID)
	if overflow {
		return nil, fmt.Errorf("chain id overflows uint256")
	}
	signed, err := types.SignSetCode(s.privateKey, types.SetCodeAuthorization{
		ChainID: *chain,
		Address: contract,
		Nonce:   nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}
	auth := batchevm.FromSetCodeAuthorization(signed)
	return &auth, nil
}

// NativeAuthorizationSigner signs native authorization tuples with a key.
// It implements batchrelay.AuthorizationSigner.
type NativeAuthorizationSigner struct {
	wallet   *ClientSigner
	contract common.Address
}

// NewNativeAuthorizationSigner creates a signer for key-backed accounts.
// The wallet must have a backend for nonce and chain id reads.
func NewNativeAuthorizationSigner(wallet *ClientSigner, contract common.Address) *NativeAuthorizationSigner {
	return &NativeAuthorizationSigner{wallet: wallet, contract: contract}
}

// Account returns the wallet address.
func (n *NativeAuthorizationSigner) Account() common.Address {
	if n.wallet == nil {
		return common.Address{}
	}
	return n.wallet.Address()
}

// SignAuthorization signs a native tuple at the account's pending nonce.
func (n *NativeAuthorizationSigner) SignAuthorization(ctx context.Context) (*batchrelay.Authorization, error) {
	if n.wallet == nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindSigningUnavailable, batchrelay.PhaseSign, "no wallet configured", nil)
	}
	if n.contract == (common.Address{}) {
		return nil, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseSign, "delegation contract address is required", nil)
	}
	chainID, err := n.wallet.ChainID(ctx)
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindSigningUnavailable, batchrelay.PhaseSign, "failed to read chain id", err)
	}
	nonce, err := n.wallet.PendingNonceAt(ctx, n.wallet.Address())
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindNonceFetchFailed, batchrelay.PhaseSign, "failed to fetch pending nonce", err)
	}
	auth, err := n.wallet.SignSetCodeAuthorization(chainID, n.contract, nonce)
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindSigningUnavailable, batchrelay.PhaseSign, "failed to sign authorization", err)
	}
	return auth, nil
}
