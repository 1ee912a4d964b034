// Package quote is a client for the Enso routing API. It fetches approval
// and swap route transactions and wallet balances, and turns them into
// intents the batch encoder understands.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/sweepstack/batchrelay/mechanisms/evm"
)

// DefaultBaseURL is the default URL for the routing API
const DefaultBaseURL = "https://api.enso.finance"

// DefaultTimeout is the default HTTP client timeout
const DefaultTimeout = 10 * time.Second

// DefaultSlippageBps is 0.5%.
const DefaultSlippageBps = 50

const routingStrategy = "router"

// Config contains configuration for the quote client
type Config struct {
	// BaseURL defaults to DefaultBaseURL
	BaseURL string
	// APIKey is sent as a bearer token
	APIKey string
	// ChainID defaults to Base mainnet
	ChainID *big.Int
	// Timeout defaults to 10 seconds
	Timeout time.Duration
	// MaxRetries on 429 and 5xx responses. Zero means 3, negative disables.
	MaxRetries int
	// InitialInterval between retries. Defaults to 250ms.
	InitialInterval time.Duration
	Logger          *zap.Logger
}

// Client is an HTTP client for the routing API.
type Client struct {
	baseURL         string
	apiKey          string
	chainID         *big.Int
	httpClient      *http.Client
	maxRetries      int
	initialInterval time.Duration
	logger          *zap.Logger
}

// NewClient creates a new quote client
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	chainID := config.ChainID
	if chainID == nil {
		chainID = evm.ChainIDBase
	}
	retries := config.MaxRetries
	if retries == 0 {
		retries = 3
	} else if retries < 0 {
		retries = 0
	}
	interval := config.InitialInterval
	if interval == 0 {
		interval = 250 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		apiKey:          config.APIKey,
		chainID:         chainID,
		httpClient:      &http.Client{Timeout: timeout},
		maxRetries:      retries,
		initialInterval: interval,
		logger:          logger,
	}
}

// Tx is the transaction part of an API response.
type Tx struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value,omitempty"`
}

// Intent converts the transaction into a batch call. Value-carrying
// transactions are rejected because the executor forwards no ether.
func (t Tx) Intent() (evm.Intent, error) {
	if !common.IsHexAddress(t.To) {
		return nil, fmt.Errorf("transaction target %q is not an address", t.To)
	}
	data, err := hexutil.Decode(t.Data)
	if err != nil {
		return nil, fmt.Errorf("transaction data is not hex: %w", err)
	}
	if t.Value != "" && t.Value != "0" && t.Value != "0x0" {
		return nil, fmt.Errorf("transaction carries value %s", t.Value)
	}
	return evm.RawCall{Target: common.HexToAddress(t.To), Data: data}, nil
}

// Approval is the response of the approve endpoint.
type Approval struct {
	Tx      Tx          `json:"tx"`
	Token   string      `json:"token"`
	Spender string      `json:"spender"`
	Amount  json.Number `json:"amount"`
	Gas     json.Number `json:"gas"`
}

// Route is the response of the route endpoint.
type Route struct {
	Tx        Tx          `json:"tx"`
	AmountOut json.Number `json:"amountOut"`
	Gas       json.Number `json:"gas"`
}

// Balance is one entry of the balances endpoint.
type Balance struct {
	Token    string      `json:"token"`
	Amount   json.Number `json:"amount"`
	Decimals int         `json:"decimals"`
	Symbol   string      `json:"symbol,omitempty"`
	Price    json.Number `json:"price,omitempty"`
}

// ApprovalParams selects the token and amount to approve for the router.
type ApprovalParams struct {
	From   common.Address
	Token  common.Address
	Amount *big.Int
}

// RouteParams describes a swap.
type RouteParams struct {
	From        common.Address
	Receiver    common.Address
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	SlippageBps int
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("quote API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("quote API returned status %d: %s", e.StatusCode, e.Message)
}

// Approval fetches the router approval transaction.
func (c *Client) Approval(ctx context.Context, p ApprovalParams) (*Approval, error) {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be greater than 0")
	}
	q := url.Values{}
	q.Set("chainId", c.chainID.String())
	q.Set("fromAddress", p.From.Hex())
	q.Set("tokenAddress", p.Token.Hex())
	q.Set("amount", p.Amount.String())
	q.Set("routingStrategy", routingStrategy)

	var out Approval
	if err := c.get(ctx, "/api/v1/wallet/approve", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch approval data: %w", err)
	}
	return &out, nil
}

// Route fetches a swap route. The spender is the sender itself because the
// swap runs from the delegated account.
func (c *Client) Route(ctx context.Context, p RouteParams) (*Route, error) {
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be greater than 0")
	}
	receiver := p.Receiver
	if receiver == (common.Address{}) {
		receiver = p.From
	}
	slippage := p.SlippageBps
	if slippage == 0 {
		slippage = DefaultSlippageBps
	}
	q := url.Values{}
	q.Set("chainId", c.chainID.String())
	q.Set("fromAddress", p.From.Hex())
	q.Set("receiver", receiver.Hex())
	q.Set("spender", p.From.Hex())
	q.Set("amountIn", p.AmountIn.String())
	q.Set("tokenIn", p.TokenIn.Hex())
	q.Set("tokenOut", p.TokenOut.Hex())
	q.Set("slippage", strconv.Itoa(slippage))
	q.Set("routingStrategy", routingStrategy)

	var out Route
	if err := c.get(ctx, "/api/v1/shortcuts/route", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch route data: %w", err)
	}
	return &out, nil
}

// Balances lists the ERC-20 balances of owner.
func (c *Client) Balances(ctx context.Context, owner common.Address) ([]Balance, error) {
	q := url.Values{}
	q.Set("chainId", c.chainID.String())
	q.Set("eoaAddress", owner.Hex())
	q.Set("useEoa", "true")

	var out []Balance
	if err := c.get(ctx, "/api/v1/wallet/balances", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}
	return out, nil
}

// SwapIntents returns approve-then-swap intents for one batch.
func (c *Client) SwapIntents(ctx context.Context, p RouteParams) ([]evm.Intent, error) {
	approval, err := c.Approval(ctx, ApprovalParams{From: p.From, Token: p.TokenIn, Amount: p.AmountIn})
	if err != nil {
		return nil, err
	}
	route, err := c.Route(ctx, p)
	if err != nil {
		return nil, err
	}
	return CombinedIntents(approval, route)
}

// CombinedIntents orders the approval ahead of the swap.
func CombinedIntents(approval *Approval, route *Route) ([]evm.Intent, error) {
	if approval == nil || route == nil {
		return nil, fmt.Errorf("approval and route are both required")
	}
	approve, err := approval.Tx.Intent()
	if err != nil {
		return nil, fmt.Errorf("approval: %w", err)
	}
	swap, err := route.Tx.Intent()
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}
	return []evm.Intent{approve, swap}, nil
}

// TokenBalances converts API balances to sweep input, skipping entries that
// are not token addresses or whose amount does not parse.
func TokenBalances(balances []Balance) []evm.TokenBalance {
	out := make([]evm.TokenBalance, 0, len(balances))
	for _, b := range balances {
		if !common.IsHexAddress(b.Token) {
			continue
		}
		amount, ok := new(big.Int).SetString(b.Amount.String(), 10)
		if !ok {
			continue
		}
		out = append(out, evm.TokenBalance{Token: common.HexToAddress(b.Token), Amount: amount})
	}
	return out
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path + "?" + query.Encode()

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusOK {
			body = raw
			return nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			c.logger.Debug("retrying quote request", zap.String("path", path), zap.Int("status", resp.StatusCode))
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
