package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/sweepstack/batchrelay"
	"github.com/sweepstack/batchrelay/mechanisms/evm"
	"github.com/sweepstack/batchrelay/types"
)

// ============================================================================
// HTTP Relay Client
// ============================================================================

// RelayClient submits relay requests to a relay service over HTTP.
// Implements batchrelay.RelaySubmitter.
type RelayClient struct {
	url        string
	httpClient *http.Client
	headers    map[string]string
}

// RelayConfig configures the HTTP relay client and the receipt client.
type RelayConfig struct {
	// URL is the base URL of the relay service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Headers are added to every request (optional)
	Headers map[string]string
}

// DefaultRelayURL is used when no URL is configured.
const DefaultRelayURL = "http://localhost:8080"

// DefaultRelayTimeout bounds a single relay request.
const DefaultRelayTimeout = 30 * time.Second

func resolveConfig(config *RelayConfig) (string, *http.Client, map[string]string) {
	if config == nil {
		config = &RelayConfig{}
	}

	url := strings.TrimRight(config.URL, "/")
	if url == "" {
		url = DefaultRelayURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = DefaultRelayTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}
	return url, httpClient, config.Headers
}

// NewRelayClient creates a new HTTP relay client
func NewRelayClient(config *RelayConfig) *RelayClient {
	url, httpClient, headers := resolveConfig(config)
	return &RelayClient{
		url:        url,
		httpClient: httpClient,
		headers:    headers,
	}
}

// Submit sends req to POST /relay exactly once.
//
// The request is checked locally first: required fields, and that the
// authorization was signed by the sender. A relay-reported error is returned
// with its message verbatim; code nonce_conflict maps to KindNonceConflict.
// Once the request body has been written, a cancelled context, a timeout or a
// broken connection yields KindSubmissionUnknown with Broadcast set, since the
// relay may already have sent the transaction.
func (c *RelayClient) Submit(ctx context.Context, req batchrelay.RelayRequest) (*batchrelay.TransactionHandle, error) {
	if err := batchrelay.ValidateRelayRequest(req); err != nil {
		return nil, err
	}
	if !evm.AuthorizedBy(req.Authorization, req.Sender) {
		return nil, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseRelay,
			"authorization was not signed by the sender", nil)
	}

	args, err := evm.MarshalArgs(req.Args)
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseRelay, "failed to encode call arguments", err)
	}

	body, err := json.Marshal(types.RelayRequestBody{
		SenderAddress: req.Sender.Hex(),
		Authorization: types.AuthorizationToJSON(req.Authorization),
		ContractABI:   json.RawMessage(req.ContractABI),
		FunctionName:  req.FunctionName,
		Args:          args,
	})
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseRelay, "failed to marshal relay request", err)
	}

	var written atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				written.Store(true)
			}
		},
	}
	httpReq, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), "POST", c.url+"/relay", bytes.NewReader(body))
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "failed to create relay request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if written.Load() {
			return nil, submissionUnknown("no response from relay", err)
		}
		return nil, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "relay request failed", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, submissionUnknown("relay response was cut off", err)
	}

	var relayResponse types.RelayResponse
	if err := json.Unmarshal(responseBody, &relayResponse); err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay,
			fmt.Sprintf("relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody))), nil)
	}

	if relayResponse.Error != "" {
		kind := batchrelay.KindRelayFailed
		if relayResponse.Code == types.CodeNonceConflict {
			kind = batchrelay.KindNonceConflict
		}
		return nil, batchrelay.NewPipelineError(kind, batchrelay.PhaseRelay, relayResponse.Error, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay,
			fmt.Sprintf("relay returned %d", resp.StatusCode), nil)
	}

	hash, err := parseTxHash(relayResponse.TxHash)
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "relay response missing transaction hash", err)
	}

	return &batchrelay.TransactionHandle{TxHash: hash, ChainID: req.Authorization.ChainID}, nil
}

// submissionUnknown reports a request the relay received but did not answer.
func submissionUnknown(message string, err error) *batchrelay.PipelineError {
	perr := batchrelay.NewPipelineError(batchrelay.KindSubmissionUnknown, batchrelay.PhaseRelay, message+", status unknown", err)
	perr.Broadcast = true
	return perr
}

func parseTxHash(s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, errors.New("empty hash")
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("hash has %d bytes", len(b))
	}
	return common.BytesToHash(b), nil
}

// ============================================================================
// HTTP Receipt Client
// ============================================================================

// ReceiptClient reads receipts through the relay's transactions endpoint.
// Implements batchrelay.ReceiptSource and batchrelay.TransactionLookup.
type ReceiptClient struct {
	url        string
	httpClient *http.Client
	headers    map[string]string
}

// NewReceiptClient creates a receipt client for the relay at config.URL.
func NewReceiptClient(config *RelayConfig) *ReceiptClient {
	url, httpClient, headers := resolveConfig(config)
	return &ReceiptClient{
		url:        url,
		httpClient: httpClient,
		headers:    headers,
	}
}

// Receipt returns the receipt for hash, or nil while it is pending or unknown.
func (c *ReceiptClient) Receipt(ctx context.Context, hash common.Hash) (*batchrelay.Receipt, error) {
	var receiptResponse types.ReceiptResponse
	status, err := c.get(ctx, "/transactions/"+hash.Hex(), &receiptResponse)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return types.ReceiptFromJSON(receiptResponse)
}

// TransactionKnown reports whether the relay's node still knows hash.
func (c *ReceiptClient) TransactionKnown(ctx context.Context, hash common.Hash) (bool, error) {
	var receiptResponse types.ReceiptResponse
	status, err := c.get(ctx, "/transactions/"+hash.Hex(), &receiptResponse)
	if err != nil {
		return false, err
	}
	return status != http.StatusNotFound, nil
}

// BlockNumber returns the head reported by the relay's health endpoint.
func (c *ReceiptClient) BlockNumber(ctx context.Context) (uint64, error) {
	health, err := c.Health(ctx)
	if err != nil {
		return 0, err
	}
	return health.BlockNumber, nil
}

// Health calls GET /health.
func (c *ReceiptClient) Health(ctx context.Context) (*types.HealthResponse, error) {
	var health types.HealthResponse
	status, err := c.get(ctx, "/health", &health)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("relay health failed (%d)", status)
	}
	return &health, nil
}

// get decodes a 200 or 404 response into out and returns the status code.
func (c *ReceiptClient) get(ctx context.Context, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.Unmarshal(body, out); err != nil {
			return 0, fmt.Errorf("failed to decode response: %w", err)
		}
		return resp.StatusCode, nil
	case http.StatusNotFound:
		return resp.StatusCode, nil
	default:
		return resp.StatusCode, fmt.Errorf("relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
