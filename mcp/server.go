package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/sweepstack/batchrelay"
	"github.com/sweepstack/batchrelay/mechanisms/evm"
	"github.com/sweepstack/batchrelay/types"
)

const serverName = "batchrelay"

// ServerConfig configures the MCP tool server.
type ServerConfig struct {
	// Relay submits relay_transaction calls. Without it the tool is not registered.
	Relay batchrelay.RelaySubmitter
	// Receipts answers transaction_status. Without it the tool is not registered.
	Receipts batchrelay.ReceiptSource
	// Encoder defaults to the standard executor encoder
	Encoder *evm.CallEncoder
	Version string
	Logger  *zap.Logger
}

// Server registers the batch relay tools on an MCP server.
type Server struct {
	cfg    ServerConfig
	server *mcpsdk.Server
	logger *zap.Logger
}

// NewServer creates the tool server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Encoder == nil {
		cfg.Encoder = evm.NewCallEncoder()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		server: mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: cfg.Version}, nil),
		logger: logger,
	}

	s.server.AddTool(&mcpsdk.Tool{
		Name:        ToolEncodeTransferBatch,
		Description: "Encode ERC-20 transfers into batch executor targets and calldata",
		InputSchema: json.RawMessage(encodeTransferBatchSchema),
	}, s.encodeTransferBatch)

	if cfg.Relay != nil {
		s.server.AddTool(&mcpsdk.Tool{
			Name:        ToolRelayTransaction,
			Description: "Relay a signed EIP-7702 authorization and a transfer batch; returns the transaction hash",
			InputSchema: json.RawMessage(relayTransactionSchema),
		}, s.relayTransaction)
	}

	if cfg.Receipts != nil {
		s.server.AddTool(&mcpsdk.Tool{
			Name:        ToolTransactionStatus,
			Description: "Report whether a relayed transaction is pending, succeeded or reverted",
			InputSchema: json.RawMessage(transactionStatusSchema),
		}, s.transactionStatus)
	}

	return s
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcpsdk.Server {
	return s.server
}

// Run serves over transport until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, transport mcpsdk.Transport) error {
	return s.server.Run(ctx, transport)
}

func (s *Server) encodeTransferBatch(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args EncodeTransferBatchArgs
	if err := decodeArguments(req, &args); err != nil {
		return errorResult(err), nil
	}
	batch, err := s.encode(args.Transfers)
	if err != nil {
		return errorResult(err), nil
	}
	calldata, err := s.cfg.Encoder.PackExecuteBatch(batch)
	if err != nil {
		return errorResult(err), nil
	}

	out := EncodedBatch{
		Targets:  make([]string, len(batch)),
		Data:     make([]string, len(batch)),
		Calldata: hexutil.Encode(calldata),
	}
	for i, call := range batch {
		out.Targets[i] = call.Target.Hex()
		out.Data[i] = hexutil.Encode(call.Data)
	}
	return jsonResult(out)
}

func (s *Server) relayTransaction(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args RelayTransactionArgs
	if err := decodeArguments(req, &args); err != nil {
		return errorResult(err), nil
	}
	if !common.IsHexAddress(args.SenderAddress) {
		return errorResult(fmt.Errorf("senderAddress %q is not an address", args.SenderAddress)), nil
	}
	auth, err := types.AuthorizationFromJSON(args.Authorization)
	if err != nil {
		return errorResult(err), nil
	}
	batch, err := s.encode(args.Transfers)
	if err != nil {
		return errorResult(err), nil
	}

	handle, err := s.cfg.Relay.Submit(ctx, batchrelay.RelayRequest{
		Sender:        common.HexToAddress(args.SenderAddress),
		Authorization: auth,
		ContractABI:   evm.BatchExecutorABI,
		FunctionName:  evm.FunctionExecuteBatch,
		Args:          []interface{}{batch.Targets(), batch.Data()},
	})
	if err != nil {
		s.logger.Warn("mcp relay failed", zap.String("sender", args.SenderAddress), zap.Error(err))
		return errorResult(err), nil
	}

	s.logger.Info("mcp relayed", zap.String("tx", handle.TxHash.Hex()))
	return jsonResult(RelayTransactionResult{
		TxHash:  handle.TxHash.Hex(),
		ChainID: handle.ChainID.String(),
	})
}

func (s *Server) transactionStatus(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args TransactionStatusArgs
	if err := decodeArguments(req, &args); err != nil {
		return errorResult(err), nil
	}
	raw, err := hexutil.Decode(args.TxHash)
	if err != nil || len(raw) != common.HashLength {
		return errorResult(fmt.Errorf("txHash %q is not a transaction hash", args.TxHash)), nil
	}
	hash := common.BytesToHash(raw)

	receipt, err := s.cfg.Receipts.Receipt(ctx, hash)
	if err != nil {
		return errorResult(err), nil
	}
	if receipt == nil {
		if lookup, ok := s.cfg.Receipts.(batchrelay.TransactionLookup); ok {
			known, lerr := lookup.TransactionKnown(ctx, hash)
			if lerr == nil && !known {
				return errorResult(fmt.Errorf("transaction %s not found", hash.Hex())), nil
			}
		}
		return jsonResult(types.ReceiptResponse{TxHash: hash.Hex(), Status: types.ReceiptPending})
	}
	return jsonResult(types.ReceiptToJSON(receipt))
}

func (s *Server) encode(transfers []TransferArg) (batchrelay.CallBatch, error) {
	if len(transfers) == 0 {
		return nil, errors.New("at least one transfer is required")
	}
	intents := make([]evm.Intent, len(transfers))
	for i, tr := range transfers {
		transfer, err := tr.transfer()
		if err != nil {
			return nil, fmt.Errorf("transfers[%d]: %w", i, err)
		}
		intents[i] = transfer
	}
	return s.cfg.Encoder.Encode(intents...)
}

func (t TransferArg) transfer() (evm.Transfer, error) {
	if !common.IsHexAddress(t.Token) {
		return evm.Transfer{}, fmt.Errorf("token %q is not an address", t.Token)
	}
	if !common.IsHexAddress(t.To) {
		return evm.Transfer{}, fmt.Errorf("to %q is not an address", t.To)
	}
	amount, err := t.Amount.Big()
	if err != nil {
		return evm.Transfer{}, fmt.Errorf("amount: %w", err)
	}
	return evm.Transfer{
		Token:  common.HexToAddress(t.Token),
		To:     common.HexToAddress(t.To),
		Amount: new(big.Int).Set(amount),
	}, nil
}
