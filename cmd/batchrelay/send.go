package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/sweepstack/batchrelay"
	relayhttp "github.com/sweepstack/batchrelay/http"
	"github.com/sweepstack/batchrelay/mechanisms/evm"
	"github.com/sweepstack/batchrelay/pkg/config"
	"github.com/sweepstack/batchrelay/pkg/quote"
	signers "github.com/sweepstack/batchrelay/signers/evm"
	"github.com/sweepstack/batchrelay/types"
)

var senderFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "key",
		Usage:    "sender private key",
		EnvVars:  []string{"SENDER_PRIVATE_KEY"},
		Required: true,
	},
	&cli.BoolFlag{
		Name:  "native",
		Usage: "sign a native SetCode authorization tuple instead of EIP-712 typed data",
	},
	&cli.StringFlag{
		Name:  "relay-url",
		Usage: "relay base URL (overrides RELAY_URL)",
	},
}

func commandSend() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "sign, relay and confirm a batch of ERC-20 transfers",
		Flags: append([]cli.Flag{
			&cli.StringSliceFlag{
				Name:     "token",
				Usage:    "token address, once per transfer",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "recipient of every transfer",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "amount",
				Usage: "amount in base units for every transfer",
				Value: "1",
			},
		}, senderFlags...),
		Action: func(c *cli.Context) error {
			amount, ok := new(big.Int).SetString(c.String("amount"), 10)
			if !ok {
				return fmt.Errorf("invalid amount %q", c.String("amount"))
			}
			if !common.IsHexAddress(c.String("to")) {
				return fmt.Errorf("invalid recipient %q", c.String("to"))
			}
			to := common.HexToAddress(c.String("to"))

			intents := make([]evm.Intent, 0, len(c.StringSlice("token")))
			for _, token := range c.StringSlice("token") {
				if !common.IsHexAddress(token) {
					return fmt.Errorf("invalid token %q", token)
				}
				intents = append(intents, evm.Transfer{Token: common.HexToAddress(token), To: to, Amount: amount})
			}
			return runPipeline(c, func(ctx context.Context, cfg config.Config, sender common.Address) ([]evm.Intent, error) {
				return intents, nil
			})
		},
	}
}

func commandSweep() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "move every token balance of the sender to one recipient in a single batch",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "to",
				Usage:    "recipient",
				Required: true,
			},
		}, senderFlags...),
		Action: func(c *cli.Context) error {
			if !common.IsHexAddress(c.String("to")) {
				return fmt.Errorf("invalid recipient %q", c.String("to"))
			}
			to := common.HexToAddress(c.String("to"))
			return runPipeline(c, func(ctx context.Context, cfg config.Config, sender common.Address) ([]evm.Intent, error) {
				balances, err := quoteClient(cfg).Balances(ctx, sender)
				if err != nil {
					return nil, err
				}
				return evm.SweepIntents(to, quote.TokenBalances(balances)), nil
			})
		},
	}
}

func commandSwap() *cli.Command {
	return &cli.Command{
		Name:  "swap",
		Usage: "approve and swap in a single batch using the routing API",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "token-in", Required: true},
			&cli.StringFlag{Name: "token-out", Required: true},
			&cli.StringFlag{Name: "amount", Required: true, Usage: "amount in base units"},
			&cli.IntFlag{Name: "slippage", Value: quote.DefaultSlippageBps, Usage: "slippage in basis points"},
		}, senderFlags...),
		Action: func(c *cli.Context) error {
			amount, ok := new(big.Int).SetString(c.String("amount"), 10)
			if !ok {
				return fmt.Errorf("invalid amount %q", c.String("amount"))
			}
			return runPipeline(c, func(ctx context.Context, cfg config.Config, sender common.Address) ([]evm.Intent, error) {
				return quoteClient(cfg).SwapIntents(ctx, quote.RouteParams{
					From:        sender,
					TokenIn:     common.HexToAddress(c.String("token-in")),
					TokenOut:    common.HexToAddress(c.String("token-out")),
					AmountIn:    amount,
					SlippageBps: c.Int("slippage"),
				})
			})
		},
	}
}

type intentSource func(ctx context.Context, cfg config.Config, sender common.Address) ([]evm.Intent, error)

func quoteClient(cfg config.Config) *quote.Client {
	return quote.NewClient(quote.Config{
		BaseURL: cfg.QuoteAPIURL,
		APIKey:  cfg.QuoteAPIKey,
		ChainID: cfg.ChainIDBig(),
	})
}

// runPipeline builds the batch, then signs, relays and confirms it, printing
// the receipt as JSON on stdout.
func runPipeline(c *cli.Context, source intentSource) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	if cfg.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	relayURL := cfg.RelayURL
	if c.String("relay-url") != "" {
		relayURL = c.String("relay-url")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.RPCURL, err)
	}
	defer node.Close()

	wallet, err := signers.NewClientSignerFromPrivateKeyWithBackend(c.String("key"), node)
	if err != nil {
		return err
	}

	intents, err := source(ctx, cfg, wallet.Address())
	if err != nil {
		return err
	}
	batch, err := evm.NewCallEncoder().Encode(intents...)
	if err != nil {
		return err
	}

	var signer batchrelay.AuthorizationSigner
	executor := cfg.Executor()
	if executor == (common.Address{}) {
		executor = evm.DefaultBatchExecutorAddress
	}
	if c.Bool("native") {
		signer = signers.NewNativeAuthorizationSigner(wallet, executor)
	} else {
		signer = evm.NewAuthorizationSigner(wallet, nil, executor, evm.WithSignerLogger(log))
	}

	relayCfg := &relayhttp.RelayConfig{URL: relayURL}
	tracker := batchrelay.NewReceiptTracker(relayhttp.NewReceiptClient(relayCfg), batchrelay.TrackerConfig{Logger: log})
	orchestrator := batchrelay.NewOrchestrator(signer, relayhttp.NewRelayClient(relayCfg), tracker,
		batchrelay.WithExecutorABI(evm.BatchExecutorABI, evm.FunctionExecuteBatch),
		batchrelay.WithLogger(log))
	orchestrator.OnTransition(func(t batchrelay.Transition) {
		log.Info("pipeline", zap.String("from", string(t.From)), zap.String("to", string(t.To)))
	})

	log.Info("submitting batch",
		zap.String("sender", wallet.Address().Hex()),
		zap.Int("calls", len(batch)),
		zap.Bool("native", c.Bool("native")))

	receipt, runErr := orchestrator.Execute(ctx, batch)
	if receipt != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(types.ReceiptToJSON(receipt)); err != nil {
			return err
		}
	}
	if runErr != nil {
		var perr *batchrelay.PipelineError
		if errors.As(runErr, &perr) {
			return fmt.Errorf("%s: %w", perr.UserMessage(), perr)
		}
		return runErr
	}
	return nil
}
