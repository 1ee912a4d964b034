package main

import (
	"os/signal"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"

	relayhttp "github.com/sweepstack/batchrelay/http"
	"github.com/sweepstack/batchrelay/mcp"
)

func commandMCP() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "serve the batch relay tools over MCP stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "relay-url",
				Usage: "relay base URL (overrides RELAY_URL)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			relayURL := cfg.RelayURL
			if c.String("relay-url") != "" {
				relayURL = c.String("relay-url")
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			relayCfg := &relayhttp.RelayConfig{URL: relayURL}
			server := mcp.NewServer(mcp.ServerConfig{
				Relay:    relayhttp.NewRelayClient(relayCfg),
				Receipts: relayhttp.NewReceiptClient(relayCfg),
				Version:  version,
				Logger:   log,
			})
			return server.Run(ctx, &mcpsdk.StdioTransport{})
		},
	}
}
