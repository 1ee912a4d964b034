package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/sweepstack/batchrelay"
)

func signNative(t *testing.T, chainID *big.Int, nonce uint64) batchrelay.Authorization {
	t.Helper()
	key, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to parse key: %v", err)
	}
	signed, err := types.SignSetCode(key, types.SetCodeAuthorization{
		ChainID: *uint256.MustFromBig(chainID),
		Address: DefaultBatchExecutorAddress,
		Nonce:   nonce,
	})
	if err != nil {
		t.Fatalf("Failed to sign tuple: %v", err)
	}
	return FromSetCodeAuthorization(signed)
}

func TestSetCodeAuthorization(t *testing.T) {
	wallet := newKeyWallet(t)

	t.Run("Native tuple round-trips and recovers the signer", func(t *testing.T) {
		auth := signNative(t, ChainIDBase, 9)
		if auth.V != auth.YParity+27 {
			t.Errorf("Expected v = yParity + 27, got v=%d yParity=%d", auth.V, auth.YParity)
		}

		sc, err := ToSetCodeAuthorization(auth)
		if err != nil {
			t.Fatalf("Failed to convert: %v", err)
		}
		if sc.Nonce != 9 || sc.Address != DefaultBatchExecutorAddress || sc.ChainID.Uint64() != 8453 {
			t.Errorf("Unexpected tuple %+v", sc)
		}

		authority, err := RecoverSetCodeAuthority(auth)
		if err != nil {
			t.Fatalf("Failed to recover: %v", err)
		}
		if authority != wallet.Address() {
			t.Errorf("Expected %s, got %s", wallet.Address(), authority)
		}
	})

	t.Run("Invalid yParity is rejected", func(t *testing.T) {
		auth := signNative(t, ChainIDBase, 1)
		auth.YParity = 27
		if _, err := ToSetCodeAuthorization(auth); err == nil {
			t.Error("Expected error for yParity 27")
		}
	})

	t.Run("Missing chain id is rejected", func(t *testing.T) {
		auth := signNative(t, ChainIDBase, 1)
		auth.ChainID = nil
		if _, err := ToSetCodeAuthorization(auth); err == nil {
			t.Error("Expected error for nil chain id")
		}
	})

	t.Run("AuthorizedBy accepts both signature forms", func(t *testing.T) {
		native := signNative(t, ChainIDBase, 3)
		if !AuthorizedBy(native, wallet.Address()) {
			t.Error("Native tuple should authorize its signer")
		}

		signer := NewAuthorizationSigner(wallet, &fixedNonces{nonce: 3}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase))
		typed, err := signer.SignAuthorization(context.Background())
		if err != nil {
			t.Fatalf("Failed to sign typed data: %v", err)
		}
		if !AuthorizedBy(*typed, wallet.Address()) {
			t.Error("Typed-data signature should authorize its signer")
		}
	})

	t.Run("AuthorizedBy rejects another account", func(t *testing.T) {
		auth := signNative(t, ChainIDBase, 3)
		other := common.HexToAddress("0x2222222222222222222222222222222222222222")
		if AuthorizedBy(auth, other) {
			t.Error("Signature should not authorize a different account")
		}
	})

	t.Run("Tampered nonce no longer recovers the signer", func(t *testing.T) {
		auth := signNative(t, ChainIDBase, 3)
		auth.Nonce = 4
		if AuthorizedBy(auth, wallet.Address()) {
			t.Error("Changing the nonce should invalidate the signature")
		}
	})
}
