package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(middleware ...gin.HandlerFunc) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware...)
	engine.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, CorrelationIDFromContext(c.Request.Context()))
	})
	return engine
}

func get(engine http.Handler, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range header {
		req.Header[k] = v
	}
	req.RemoteAddr = "203.0.113.7:4321"
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestCorrelationID(t *testing.T) {
	engine := newEngine(CorrelationID())

	t.Run("Generates an id", func(t *testing.T) {
		rec := get(engine, nil)
		id := rec.Header().Get(CorrelationIDHeader)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, rec.Body.String(), "the id is on the request context")
	})

	t.Run("Keeps an incoming id", func(t *testing.T) {
		rec := get(engine, http.Header{CorrelationIDHeader: {"req-42"}})
		assert.Equal(t, "req-42", rec.Header().Get(CorrelationIDHeader))
		assert.Equal(t, "req-42", rec.Body.String())
	})
}

func TestCORS(t *testing.T) {
	t.Run("No origins disables it", func(t *testing.T) {
		assert.Nil(t, CORS(nil))
	})

	t.Run("Allowed origin gets the header", func(t *testing.T) {
		engine := newEngine(CORS([]string{"https://app.example.com"}))
		rec := get(engine, http.Header{"Origin": {"https://app.example.com"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Other origins are refused", func(t *testing.T) {
		engine := newEngine(CORS([]string{"https://app.example.com"}))
		rec := get(engine, http.Header{"Origin": {"https://evil.example.com"}})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Wildcard allows any origin", func(t *testing.T) {
		engine := newEngine(CORS([]string{"*"}))
		rec := get(engine, http.Header{"Origin": {"https://anything.example.com"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("Rejects past the burst", func(t *testing.T) {
		engine := newEngine(NewRateLimiter(0.001, 2, nil).Middleware())
		assert.Equal(t, http.StatusOK, get(engine, nil).Code)
		assert.Equal(t, http.StatusOK, get(engine, nil).Code)

		rec := get(engine, nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})

	t.Run("Custom rejection handler", func(t *testing.T) {
		engine := newEngine(NewRateLimiter(0.001, 1, func(c *gin.Context) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "slow down"})
		}).Middleware())
		get(engine, nil)
		rec := get(engine, nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.JSONEq(t, `{"error":"slow down"}`, rec.Body.String())
	})
}

func TestRedisLimit(t *testing.T) {
	limit := RedisLimit(5, 10)
	assert.Equal(t, 5, limit.Rate)
	assert.Equal(t, 10, limit.Burst)

	slow := RedisLimit(0.5, 0)
	assert.Equal(t, 1, slow.Rate)
	assert.Equal(t, 1, slow.Burst)
	assert.Equal(t, "2s", slow.Period.String())
}

// TestRedisRateLimiter_Integration requires a running Redis at REDIS_ADDR
// (default localhost:6379). Skipped when unreachable.
func TestRedisRateLimiter_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	limiter := NewRedisRateLimiter(client, 0.001, 1, nil, nil).WithPrefix("batchrelay:test:" + uuid.NewString() + ":")
	engine := newEngine(limiter.Middleware())

	assert.Equal(t, http.StatusOK, get(engine, nil).Code)
	rec := get(engine, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
