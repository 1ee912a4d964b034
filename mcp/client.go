package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweepstack/batchrelay/types"
)

// ToolError is a tool call that completed with IsError set.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

// Client calls the batch relay tools over a connected MCP session.
type Client struct {
	session *mcpsdk.ClientSession
}

// NewClient wraps a connected session.
func NewClient(session *mcpsdk.ClientSession) *Client {
	return &Client{session: session}
}

// Close closes the session.
func (c *Client) Close() error {
	return c.session.Close()
}

// EncodeTransferBatch calls encode_transfer_batch.
func (c *Client) EncodeTransferBatch(ctx context.Context, transfers []TransferArg) (*EncodedBatch, error) {
	var out EncodedBatch
	if err := c.call(ctx, ToolEncodeTransferBatch, EncodeTransferBatchArgs{Transfers: transfers}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RelayTransaction calls relay_transaction.
func (c *Client) RelayTransaction(ctx context.Context, args RelayTransactionArgs) (*RelayTransactionResult, error) {
	var out RelayTransactionResult
	if err := c.call(ctx, ToolRelayTransaction, args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransactionStatus calls transaction_status.
func (c *Client) TransactionStatus(ctx context.Context, txHash string) (*types.ReceiptResponse, error) {
	var out types.ReceiptResponse
	if err := c.call(ctx, ToolTransactionStatus, TransactionStatusArgs{TxHash: txHash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, tool string, args interface{}, out interface{}) error {
	if c.session == nil {
		return errors.New("mcp session is not connected")
	}
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return fmt.Errorf("%s: %w", tool, err)
	}
	text := textOf(result)
	if result.IsError {
		return &ToolError{Tool: tool, Message: text}
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%s: failed to decode result: %w", tool, err)
	}
	return nil
}
