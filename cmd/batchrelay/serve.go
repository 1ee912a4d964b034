package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweepstack/batchrelay/extensions/idempotency"
	relayhttp "github.com/sweepstack/batchrelay/http"
	signers "github.com/sweepstack/batchrelay/signers/evm"
)

func commandServe() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the relay HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (overrides RELAY_ADDR)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			if err := cfg.Validate(); err != nil {
				return err
			}
			addr := cfg.RelayAddr
			if c.String("addr") != "" {
				addr = c.String("addr")
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			node, err := ethclient.DialContext(ctx, cfg.RPCURL)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", cfg.RPCURL, err)
			}
			defer node.Close()

			relayer, err := signers.NewRelayer(ctx, cfg.RelayPrivateKey, node,
				signers.WithGasBuffer(cfg.GasBufferPct),
				signers.WithRelayerLogger(log))
			if err != nil {
				return err
			}
			if relayer.ChainID().Cmp(cfg.ChainIDBig()) != 0 {
				return fmt.Errorf("node serves chain %s, config expects %d", relayer.ChainID(), cfg.ChainID)
			}

			opts := []idempotency.Option{idempotency.WithTTL(cfg.DedupeTTL)}
			var limiterRedis redis.UniversalClient
			if cfg.RedisAddr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
				defer rdb.Close()
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
				}
				opts = append(opts, idempotency.WithStore(idempotency.NewRedisStore(rdb, cfg.DedupeTTL)))
				limiterRedis = rdb
				log.Info("using redis submission store and rate limiter", zap.String("addr", cfg.RedisAddr))
			}

			server, err := relayhttp.NewRelayServer(relayhttp.RelayServerConfig{
				Broadcaster:    idempotency.Wrap(relayer, opts...),
				Chain:          signers.NewChainReader(node, relayer.ChainID()),
				ChainID:        relayer.ChainID(),
				Relayer:        relayer.Address(),
				Executor:       cfg.Executor(),
				RateLimit:      cfg.RateLimit,
				RateBurst:      cfg.RateBurst,
				RateLimitRedis: limiterRedis,
				AllowedOrigins: cfg.CORSOrigins,
				RequestTimeout: cfg.RequestTimeout,
				Logger:         log,
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx, addr)
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down relay")
				return nil
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
