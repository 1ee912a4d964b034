// Package mcp exposes the batch relay pipeline as MCP (Model Context Protocol)
// tools so that agents can build, relay and track delegated batches.
//
// # Tools
//
//   - encode_transfer_batch: encodes ERC-20 transfers into executeBatch
//     targets, calldata and the packed executor call.
//   - relay_transaction: submits a signed authorization plus a transfer batch
//     to the relay and returns the transaction hash.
//   - transaction_status: reports pending, success or reverted for a hash,
//     with per-call outcomes once mined.
//
// # Server Usage
//
//	srv := mcp.NewServer(mcp.ServerConfig{
//	    Relay:    http.NewRelayClient(&http.RelayConfig{URL: relayURL}),
//	    Receipts: http.NewReceiptClient(&http.RelayConfig{URL: relayURL}),
//	})
//	err := srv.Run(ctx, &mcpsdk.StdioTransport{})
//
// # Client Usage
//
//	session, _ := mcpClient.Connect(ctx, transport, nil)
//	client := mcp.NewClient(session)
//	encoded, err := client.EncodeTransferBatch(ctx, transfers)
package mcp
