// Package integration_test runs the whole pipeline against the in-memory
// chain: a signer, the relay HTTP client and server, the relayer and the
// receipt tracker.
package integration_test

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sweepstack/batchrelay"
	"github.com/sweepstack/batchrelay/extensions/idempotency"
	relayhttp "github.com/sweepstack/batchrelay/http"
	"github.com/sweepstack/batchrelay/mechanisms/evm"
	signers "github.com/sweepstack/batchrelay/signers/evm"
	"github.com/sweepstack/batchrelay/test/mocks/chain"
)

const (
	senderKey  = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	relayerKey = "0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
)

var recipient = common.HexToAddress("0x47d80912400ef8f8224531EBEB1ce8f2ACf4b75a")

type stack struct {
	node     *chain.Chain
	wallet   *signers.ClientSigner
	relayCfg *relayhttp.RelayConfig
}

func newStack(t *testing.T) *stack {
	t.Helper()
	node := chain.New(evm.ChainIDBase)
	wallet, err := signers.NewClientSignerFromPrivateKeyWithBackend(senderKey, node)
	require.NoError(t, err)
	relayer, err := signers.NewRelayer(context.Background(), relayerKey, node)
	require.NoError(t, err)

	server, err := relayhttp.NewRelayServer(relayhttp.RelayServerConfig{
		Broadcaster: idempotency.Wrap(relayer),
		Chain:       signers.NewChainReader(node, evm.ChainIDBase),
		ChainID:     evm.ChainIDBase,
		Relayer:     relayer.Address(),
		Executor:    evm.DefaultBatchExecutorAddress,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &stack{node: node, wallet: wallet, relayCfg: &relayhttp.RelayConfig{URL: ts.URL}}
}

func (s *stack) orchestrator(t *testing.T, signer batchrelay.AuthorizationSigner) *batchrelay.Orchestrator {
	tracker := batchrelay.NewReceiptTracker(relayhttp.NewReceiptClient(s.relayCfg), batchrelay.TrackerConfig{
		PollInterval:    5 * time.Millisecond,
		MaxPollInterval: 20 * time.Millisecond,
		MaxWait:         5 * time.Second,
	})
	return batchrelay.NewOrchestrator(signer, relayhttp.NewRelayClient(s.relayCfg), tracker,
		batchrelay.WithExecutorABI(evm.BatchExecutorABI, evm.FunctionExecuteBatch),
		batchrelay.WithLogger(zaptest.NewLogger(t)))
}

func transferBatch(t *testing.T) batchrelay.CallBatch {
	t.Helper()
	batch, err := evm.NewCallEncoder().Encode(
		evm.Transfer{Token: evm.USDTBase, To: recipient, Amount: big.NewInt(69)},
		evm.Transfer{Token: evm.USDCBase, To: recipient, Amount: big.NewInt(69)},
	)
	require.NoError(t, err)
	return batch
}

func TestPipeline(t *testing.T) {
	t.Run("Native authorization installs the delegation and executes the batch", func(t *testing.T) {
		s := newStack(t)
		o := s.orchestrator(t, signers.NewNativeAuthorizationSigner(s.wallet, evm.DefaultBatchExecutorAddress))

		receipt, err := o.Execute(context.Background(), transferBatch(t))
		require.NoError(t, err)
		assert.True(t, receipt.Succeeded())
		assert.Equal(t, 0, receipt.ChainID.Cmp(evm.ChainIDBase))
		require.Len(t, receipt.Calls, 2)
		assert.Equal(t, evm.USDTBase, receipt.Calls[0].Target)
		assert.Equal(t, evm.USDCBase, receipt.Calls[1].Target)

		delegate, ok := s.node.Delegation(s.wallet.Address())
		require.True(t, ok)
		assert.Equal(t, evm.DefaultBatchExecutorAddress, delegate)
		assert.Equal(t, uint64(1), s.node.Nonce(s.wallet.Address()), "the authorization consumed the sender nonce")
		assert.Equal(t, batchrelay.StateSucceeded, o.State())
	})

	t.Run("Typed-data authorization is accepted by the relay", func(t *testing.T) {
		s := newStack(t)
		o := s.orchestrator(t, evm.NewAuthorizationSigner(s.wallet, nil, evm.DefaultBatchExecutorAddress))

		_, err := o.Execute(context.Background(), transferBatch(t))
		require.NoError(t, err)
		require.Len(t, s.node.Sent(), 1)
		assert.Equal(t, s.wallet.Address(), *s.node.Sent()[0].To())
	})

	t.Run("Failing inner call reverts the whole batch", func(t *testing.T) {
		s := newStack(t)
		s.node.FailAt = 1
		o := s.orchestrator(t, signers.NewNativeAuthorizationSigner(s.wallet, evm.DefaultBatchExecutorAddress))

		receipt, err := o.Execute(context.Background(), transferBatch(t))
		assert.True(t, errors.Is(err, batchrelay.ErrReverted))
		require.NotNil(t, receipt)
		assert.Equal(t, batchrelay.ReceiptStatusReverted, receipt.Status)
		assert.Empty(t, receipt.Calls)
		assert.Equal(t, batchrelay.StateFailed, o.State())
	})

	t.Run("Waits while the receipt is pending", func(t *testing.T) {
		s := newStack(t)
		s.node.HoldReceipts = true
		o := s.orchestrator(t, signers.NewNativeAuthorizationSigner(s.wallet, evm.DefaultBatchExecutorAddress))
		o.OnTransition(func(tr batchrelay.Transition) {
			if tr.To == batchrelay.StateConfirming {
				time.AfterFunc(30*time.Millisecond, s.node.Release)
			}
		})

		receipt, err := o.Execute(context.Background(), transferBatch(t))
		require.NoError(t, err)
		assert.True(t, receipt.Succeeded())
	})

	t.Run("Relay rejection surfaces the relay message", func(t *testing.T) {
		s := newStack(t)
		s.node.SendErr = errors.New("insufficient funds for gas * price + value")
		o := s.orchestrator(t, signers.NewNativeAuthorizationSigner(s.wallet, evm.DefaultBatchExecutorAddress))

		_, err := o.Execute(context.Background(), transferBatch(t))
		var perr *batchrelay.PipelineError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, batchrelay.KindRelayFailed, perr.Kind)
		assert.Contains(t, perr.Message, "insufficient funds")
		assert.Empty(t, s.node.Sent())
	})

	t.Run("Second batch after reset uses a fresh nonce", func(t *testing.T) {
		s := newStack(t)
		o := s.orchestrator(t, signers.NewNativeAuthorizationSigner(s.wallet, evm.DefaultBatchExecutorAddress))

		_, err := o.Execute(context.Background(), transferBatch(t))
		require.NoError(t, err)
		o.Reset()

		_, err = o.Execute(context.Background(), transferBatch(t))
		require.NoError(t, err)
		assert.Len(t, s.node.Sent(), 2)
		assert.Equal(t, uint64(2), s.node.Nonce(s.wallet.Address()))
	})
}
