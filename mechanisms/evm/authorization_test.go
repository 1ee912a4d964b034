package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sweepstack/batchrelay"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// keyWallet signs typed data with a local key, like a browser wallet would.
type keyWallet struct {
	key     *ecdsa.PrivateKey
	signErr error
	rawV    bool
	calls   int
}

func newKeyWallet(t *testing.T) *keyWallet {
	t.Helper()
	key, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to parse key: %v", err)
	}
	return &keyWallet{key: key}
}

func (w *keyWallet) Address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

func (w *keyWallet) SignTypedData(
	ctx context.Context,
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	w.calls++
	if w.signErr != nil {
		return nil, w.signErr
	}
	digest, err := HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, err
	}
	if !w.rawV {
		sig[64] += 27
	}
	return sig, nil
}

type fixedNonces struct {
	nonce uint64
	err   error
}

func (n *fixedNonces) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return n.nonce, n.err
}

type fixedChain struct {
	id  *big.Int
	err error
}

func (c fixedChain) ChainID(ctx context.Context) (*big.Int, error) {
	return c.id, c.err
}

func TestHashAuthorization(t *testing.T) {
	t.Run("Matches manual EIP-712 encoding without verifying contract", func(t *testing.T) {
		chainID := big.NewInt(8453)
		contract := DefaultBatchExecutorAddress
		nonce := uint64(7)

		domainTypeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
		domainSeparator := crypto.Keccak256(
			domainTypeHash,
			crypto.Keccak256([]byte(AuthorizationDomainName)),
			crypto.Keccak256([]byte(AuthorizationDomainVersion)),
			math.U256Bytes(new(big.Int).Set(chainID)),
		)
		structTypeHash := crypto.Keccak256([]byte("Authorization(uint256 chainId,address contractAddress,uint256 nonce)"))
		structHash := crypto.Keccak256(
			structTypeHash,
			math.U256Bytes(new(big.Int).Set(chainID)),
			common.LeftPadBytes(contract.Bytes(), 32),
			math.U256Bytes(new(big.Int).SetUint64(nonce)),
		)
		expected := crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, structHash)

		got, err := HashAuthorization(chainID, contract, nonce)
		if err != nil {
			t.Fatalf("Failed to hash authorization: %v", err)
		}
		if common.BytesToHash(got) != common.BytesToHash(expected) {
			t.Errorf("Expected digest %x, got %x", expected, got)
		}
	})

	t.Run("Different nonce produces different hash", func(t *testing.T) {
		h1, _ := HashAuthorization(big.NewInt(8453), DefaultBatchExecutorAddress, 1)
		h2, _ := HashAuthorization(big.NewInt(8453), DefaultBatchExecutorAddress, 2)
		if string(h1) == string(h2) {
			t.Error("Different nonces should produce different hashes")
		}
	})

	t.Run("Missing chain id fails", func(t *testing.T) {
		if _, err := HashAuthorization(nil, DefaultBatchExecutorAddress, 1); err == nil {
			t.Error("Expected error for nil chain id")
		}
	})
}

func TestAuthorizationSigner(t *testing.T) {
	ctx := context.Background()

	t.Run("Signs an authorization that recovers to the EOA", func(t *testing.T) {
		wallet := newKeyWallet(t)
		signer := NewAuthorizationSigner(wallet, &fixedNonces{nonce: 42}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase))

		auth, err := signer.SignAuthorization(ctx)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if auth.Nonce != 42 {
			t.Errorf("Expected nonce 42, got %d", auth.Nonce)
		}
		if auth.Address != DefaultBatchExecutorAddress {
			t.Errorf("Expected delegate %s, got %s", DefaultBatchExecutorAddress.Hex(), auth.Address.Hex())
		}
		if auth.ChainID.Cmp(ChainIDBase) != 0 {
			t.Errorf("Expected chain id 8453, got %s", auth.ChainID)
		}
		if auth.V != 27 && auth.V != 28 {
			t.Errorf("Expected v of 27 or 28, got %d", auth.V)
		}
		if auth.YParity != auth.V-27 {
			t.Errorf("yParity %d does not match v %d", auth.YParity, auth.V)
		}

		recovered, err := RecoverAuthorizationSigner(*auth)
		if err != nil {
			t.Fatalf("Failed to recover signer: %v", err)
		}
		if recovered != wallet.Address() {
			t.Errorf("Expected signer %s, got %s", wallet.Address().Hex(), recovered.Hex())
		}
	})

	t.Run("Raw recovery id from wallet is normalized", func(t *testing.T) {
		wallet := newKeyWallet(t)
		wallet.rawV = true
		signer := NewAuthorizationSigner(wallet, &fixedNonces{nonce: 3}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase))

		auth, err := signer.SignAuthorization(ctx)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if auth.V != 27 && auth.V != 28 {
			t.Errorf("Expected normalized v, got %d", auth.V)
		}
		ok, err := VerifyAuthorization(*auth, wallet.Address())
		if err != nil || !ok {
			t.Errorf("Expected authorization to verify, ok=%v err=%v", ok, err)
		}
	})

	t.Run("Chain id is read from the chain source", func(t *testing.T) {
		wallet := newKeyWallet(t)
		signer := NewAuthorizationSigner(wallet, &fixedNonces{}, DefaultBatchExecutorAddress,
			WithChainIDSource(fixedChain{id: ChainIDBaseSepolia}))

		auth, err := signer.SignAuthorization(ctx)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if auth.ChainID.Cmp(ChainIDBaseSepolia) != 0 {
			t.Errorf("Expected chain id 84532, got %s", auth.ChainID)
		}
	})

	t.Run("No wallet is SigningUnavailable", func(t *testing.T) {
		signer := NewAuthorizationSigner(nil, &fixedNonces{}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase))

		_, err := signer.SignAuthorization(ctx)
		if !errors.Is(err, batchrelay.ErrSigningUnavailable) {
			t.Errorf("Expected SigningUnavailable, got %v", err)
		}
		if signer.Account() != (common.Address{}) {
			t.Error("Expected zero account without a wallet")
		}
	})

	t.Run("Unknown chain is SigningUnavailable", func(t *testing.T) {
		signer := NewAuthorizationSigner(newKeyWallet(t), &fixedNonces{}, DefaultBatchExecutorAddress)

		_, err := signer.SignAuthorization(ctx)
		if !errors.Is(err, batchrelay.ErrSigningUnavailable) {
			t.Errorf("Expected SigningUnavailable, got %v", err)
		}
	})

	t.Run("Rejection sentinel is UserRejected", func(t *testing.T) {
		wallet := newKeyWallet(t)
		wallet.signErr = fmt.Errorf("metamask: %w", ErrUserRejected)
		signer := NewAuthorizationSigner(wallet, &fixedNonces{}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase))

		_, err := signer.SignAuthorization(ctx)
		if !errors.Is(err, batchrelay.ErrUserRejected) {
			t.Errorf("Expected UserRejected, got %v", err)
		}
	})

	t.Run("EIP-1193 code 4001 is UserRejected", func(t *testing.T) {
		wallet := newKeyWallet(t)
		wallet.signErr = &WalletError{Code: 4001, Message: "User denied message signature"}
		signer := NewAuthorizationSigner(wallet, &fixedNonces{}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase))

		_, err := signer.SignAuthorization(ctx)
		if batchrelay.KindOf(err) != batchrelay.KindUserRejected {
			t.Errorf("Expected user_rejected, got %v", err)
		}
	})

	t.Run("Nonce failure is NonceFetchFailed and skips the wallet", func(t *testing.T) {
		wallet := newKeyWallet(t)
		signer := NewAuthorizationSigner(wallet, &fixedNonces{err: errors.New("rpc down")}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase))

		_, err := signer.SignAuthorization(ctx)
		if !errors.Is(err, batchrelay.ErrNonceFetchFailed) {
			t.Errorf("Expected NonceFetchFailed, got %v", err)
		}
		if wallet.calls != 0 {
			t.Errorf("Expected no wallet prompt, got %d", wallet.calls)
		}
	})

	t.Run("Zero delegate contract is a precondition error", func(t *testing.T) {
		signer := NewAuthorizationSigner(newKeyWallet(t), &fixedNonces{}, common.Address{}, WithChainID(ChainIDBase))

		_, err := signer.SignAuthorization(ctx)
		if !errors.Is(err, batchrelay.ErrPrecondition) {
			t.Errorf("Expected precondition error, got %v", err)
		}
	})
}

func TestAuthorizationSignerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	key, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to parse key: %v", err)
	}
	wallet := &keyWallet{key: key}

	properties.Property("distinct nonces yield distinct signatures", prop.ForAll(
		func(a, b uint64) bool {
			if a == b {
				b = a + 1
			}
			ctx := context.Background()
			authA, errA := NewAuthorizationSigner(wallet, &fixedNonces{nonce: a}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase)).SignAuthorization(ctx)
			authB, errB := NewAuthorizationSigner(wallet, &fixedNonces{nonce: b}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase)).SignAuthorization(ctx)
			if errA != nil || errB != nil {
				return false
			}
			return authA.Nonce == a && authB.Nonce == b && authA.R != authB.R
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 1<<40),
	))

	properties.Property("yParity is 0 exactly when v is 27", prop.ForAll(
		func(nonce uint64) bool {
			auth, err := NewAuthorizationSigner(wallet, &fixedNonces{nonce: nonce}, DefaultBatchExecutorAddress, WithChainID(ChainIDBase)).SignAuthorization(context.Background())
			if err != nil {
				return false
			}
			return (auth.V == 27) == (auth.YParity == 0)
		},
		gen.UInt64Range(0, 1<<32),
	))

	properties.TestingRun(t)
}
