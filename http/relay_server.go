package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sweepstack/batchrelay"
	"github.com/sweepstack/batchrelay/mechanisms/evm"
	ginmw "github.com/sweepstack/batchrelay/pkg/gin"
	"github.com/sweepstack/batchrelay/types"
)

const (
	// maxRelayBodyBytes caps POST /relay bodies.
	maxRelayBodyBytes = 1 << 20

	relayFailurePrefix = "Failed to relay transaction: "
)

// ChainState is what the relay server reads from the chain.
type ChainState interface {
	batchrelay.ReceiptSource
	batchrelay.TransactionLookup
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// RelayServerConfig configures a RelayServer.
type RelayServerConfig struct {
	// Broadcaster sends accepted batches (required)
	Broadcaster batchrelay.Broadcaster

	// Chain answers nonce and receipt queries (required)
	Chain ChainState

	// ChainID is the chain the relay serves (required)
	ChainID *big.Int

	// Relayer is the gas-paying address, reported by /health
	Relayer common.Address

	// Executor restricts delegations to one contract. Zero allows any.
	Executor common.Address

	// AllowedFunctions lists callable executor functions. Default: executeBatch
	AllowedFunctions []string

	// RateLimit is requests per second per client IP on /relay. Zero disables it.
	RateLimit float64

	// RateBurst is the limiter burst (optional, defaults to 5)
	RateBurst int

	// RateLimitRedis, when set, keeps rate limit buckets in Redis so that
	// replicas share them. Default: in-process buckets.
	RateLimitRedis redis.UniversalClient

	// AllowedOrigins enables CORS for these browser origins. "*" allows any.
	AllowedOrigins []string

	// RequestTimeout bounds each broadcast (optional, defaults to 30s)
	RequestTimeout time.Duration

	// Logger (optional)
	Logger *zap.Logger
}

// RelayServer accepts signed delegations and batches and pays to put them on chain.
type RelayServer struct {
	cfg     RelayServerConfig
	allowed map[string]bool
	engine  *gin.Engine
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewRelayServer validates cfg and builds the gin engine.
func NewRelayServer(cfg RelayServerConfig) (*RelayServer, error) {
	if cfg.Broadcaster == nil {
		return nil, errors.New("relay server requires a broadcaster")
	}
	if cfg.Chain == nil {
		return nil, errors.New("relay server requires chain state")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("relay server requires a chain id")
	}
	if len(cfg.AllowedFunctions) == 0 {
		cfg.AllowedFunctions = []string{evm.FunctionExecuteBatch}
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRelayTimeout
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &RelayServer{
		cfg:     cfg,
		allowed: make(map[string]bool, len(cfg.AllowedFunctions)),
		logger:  logger,
		tracer:  otel.Tracer("github.com/sweepstack/batchrelay/http"),
	}
	for _, fn := range cfg.AllowedFunctions {
		s.allowed[fn] = true
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), ginmw.CorrelationID(), ginmw.RequestLogger(logger))
	if corsHandler := ginmw.CORS(cfg.AllowedOrigins); corsHandler != nil {
		engine.Use(corsHandler)
	}

	relay := []gin.HandlerFunc{}
	if cfg.RateLimit > 0 {
		onLimit := func(c *gin.Context) {
			c.JSON(http.StatusTooManyRequests, types.RelayResponse{Error: "Too many requests. Please try again later.", Code: types.CodeRateLimited})
		}
		if cfg.RateLimitRedis != nil {
			relay = append(relay, ginmw.NewRedisRateLimiter(cfg.RateLimitRedis, cfg.RateLimit, cfg.RateBurst, onLimit, logger).Middleware())
		} else {
			relay = append(relay, ginmw.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, onLimit).Middleware())
		}
	}
	relay = append(relay, s.handleRelay)

	engine.POST("/relay", relay...)
	engine.GET("/transactions/:hash", s.handleTransaction)
	engine.GET("/health", s.handleHealth)
	s.engine = engine

	return s, nil
}

// Handler returns the HTTP handler.
func (s *RelayServer) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *RelayServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", zap.String("addr", addr), zap.String("chain_id", s.cfg.ChainID.String()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (s *RelayServer) reject(c *gin.Context, status int, code, message string) {
	s.logger.Warn("relay rejected",
		zap.String("correlation_id", ginmw.GetCorrelationID(c)),
		zap.String("code", code),
		zap.String("error", message),
	)
	c.JSON(status, types.RelayResponse{Error: message, Code: code})
}

func (s *RelayServer) handleRelay(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRelayBodyBytes))
	if err != nil {
		s.reject(c, http.StatusRequestEntityTooLarge, types.CodeInvalidRequest, "request body too large")
		return
	}

	body, err := ValidateAndDecodeRelayRequest(raw)
	if err != nil {
		s.reject(c, http.StatusBadRequest, types.CodeInvalidRequest, err.Error())
		return
	}
	if !s.allowed[body.FunctionName] {
		s.reject(c, http.StatusBadRequest, types.CodeUnsupportedFunction, fmt.Sprintf("function %q is not allowed", body.FunctionName))
		return
	}

	sender := common.HexToAddress(body.SenderAddress)
	auth, err := types.AuthorizationFromJSON(body.Authorization)
	if err != nil {
		s.reject(c, http.StatusBadRequest, types.CodeInvalidRequest, err.Error())
		return
	}
	if s.cfg.Executor != (common.Address{}) && auth.Address != s.cfg.Executor {
		s.reject(c, http.StatusBadRequest, types.CodeInvalidRequest,
			fmt.Sprintf("authorization delegates to unsupported contract %s", auth.Address.Hex()))
		return
	}
	if auth.ChainID.Cmp(s.cfg.ChainID) != 0 {
		s.reject(c, http.StatusBadRequest, types.CodeChainMismatch,
			fmt.Sprintf("authorization is for chain %s, relay serves chain %s", auth.ChainID, s.cfg.ChainID))
		return
	}
	if !evm.AuthorizedBy(auth, sender) {
		s.reject(c, http.StatusBadRequest, types.CodeInvalidSignature, "authorization was not signed by senderAddress")
		return
	}

	calldata, err := packCall(body)
	if err != nil {
		s.reject(c, http.StatusBadRequest, types.CodeInvalidRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "relay.broadcast", trace.WithAttributes(
		attribute.String("sender", sender.Hex()),
		attribute.Int64("authorization.nonce", int64(auth.Nonce)),
	))
	defer span.End()

	nonce, err := s.cfg.Chain.PendingNonceAt(ctx, sender)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.reject(c, http.StatusBadGateway, types.CodeRelayFailed, relayFailurePrefix+"could not read sender nonce")
		return
	}
	if nonce != auth.Nonce {
		span.SetStatus(codes.Error, "nonce conflict")
		s.reject(c, http.StatusConflict, types.CodeNonceConflict,
			fmt.Sprintf("authorization nonce %d is stale, account nonce is %d", auth.Nonce, nonce))
		return
	}

	hash, err := s.cfg.Broadcaster.Broadcast(ctx, batchrelay.BroadcastRequest{
		Sender:        sender,
		Authorization: auth,
		Calldata:      calldata,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch batchrelay.KindOf(err) {
		case batchrelay.KindNonceConflict:
			s.reject(c, http.StatusConflict, types.CodeNonceConflict, relayFailurePrefix+err.Error())
		case batchrelay.KindPrecondition:
			s.reject(c, http.StatusBadRequest, types.CodeInvalidRequest, relayFailurePrefix+err.Error())
		default:
			s.reject(c, http.StatusBadGateway, types.CodeRelayFailed, relayFailurePrefix+err.Error())
		}
		return
	}

	span.SetAttributes(attribute.String("tx", hash.Hex()))
	s.logger.Info("relayed",
		zap.String("correlation_id", ginmw.GetCorrelationID(c)),
		zap.String("tx", hash.Hex()),
		zap.String("sender", sender.Hex()),
	)
	c.JSON(http.StatusOK, types.RelayResponse{TxHash: hash.Hex()})
}

// packCall encodes the requested executor call with the caller's ABI.
func packCall(body *types.RelayRequestBody) ([]byte, error) {
	contractABI, err := evm.ParseABI(body.ContractABI)
	if err != nil {
		return nil, err
	}
	method, ok := contractABI.Methods[body.FunctionName]
	if !ok {
		return nil, fmt.Errorf("function %q not found in contractAbi", body.FunctionName)
	}
	args, err := evm.ParseArgs(method, body.Args)
	if err != nil {
		return nil, err
	}
	calldata, err := contractABI.Pack(body.FunctionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", body.FunctionName, err)
	}
	return calldata, nil
}

func (s *RelayServer) handleTransaction(c *gin.Context) {
	hash, err := parseTxHash(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ReceiptResponse{Error: "invalid transaction hash", Code: types.CodeInvalidRequest})
		return
	}

	ctx := c.Request.Context()
	receipt, err := s.cfg.Chain.Receipt(ctx, hash)
	if err != nil {
		c.JSON(http.StatusBadGateway, types.ReceiptResponse{TxHash: hash.Hex(), Error: err.Error(), Code: types.CodeRelayFailed})
		return
	}
	if receipt != nil {
		c.JSON(http.StatusOK, types.ReceiptToJSON(receipt))
		return
	}

	known, err := s.cfg.Chain.TransactionKnown(ctx, hash)
	if err != nil {
		c.JSON(http.StatusBadGateway, types.ReceiptResponse{TxHash: hash.Hex(), Error: err.Error(), Code: types.CodeRelayFailed})
		return
	}
	if !known {
		c.JSON(http.StatusNotFound, types.ReceiptResponse{TxHash: hash.Hex(), Error: "transaction not found", Code: types.CodeNotFound})
		return
	}
	c.JSON(http.StatusOK, types.ReceiptResponse{TxHash: hash.Hex(), Status: types.ReceiptPending})
}

func (s *RelayServer) handleHealth(c *gin.Context) {
	health := types.HealthResponse{
		Status:   "ok",
		ChainID:  types.NewQuantity(s.cfg.ChainID),
		Relayer:  s.cfg.Relayer.Hex(),
		Executor: s.cfg.Executor.Hex(),
	}
	head, err := s.cfg.Chain.BlockNumber(c.Request.Context())
	if err != nil {
		health.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	health.BlockNumber = head
	c.JSON(http.StatusOK, health)
}
