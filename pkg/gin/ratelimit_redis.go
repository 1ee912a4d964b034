package gin

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRateLimitPrefix namespaces limiter keys in Redis.
const DefaultRateLimitPrefix = "batchrelay:ratelimit:"

// RedisRateLimiter limits requests per client IP with a GCRA bucket kept in
// Redis, so every relay replica shares one budget per client.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
	onLimit gin.HandlerFunc
	logger  *zap.Logger
}

// NewRedisRateLimiter allows requestsPerSecond per client with the given
// burst. Rates below one per second are spread over a longer period.
func NewRedisRateLimiter(rdb redis.UniversalClient, requestsPerSecond float64, burst int, onLimit gin.HandlerFunc, logger *zap.Logger) *RedisRateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   RedisLimit(requestsPerSecond, burst),
		prefix:  DefaultRateLimitPrefix,
		onLimit: onLimit,
		logger:  logger,
	}
}

// WithPrefix sets the key prefix.
func (rl *RedisRateLimiter) WithPrefix(prefix string) *RedisRateLimiter {
	rl.prefix = prefix
	return rl
}

// RedisLimit converts a per-second rate to a redis_rate limit.
func RedisLimit(requestsPerSecond float64, burst int) redis_rate.Limit {
	if burst < 1 {
		burst = 1
	}
	if requestsPerSecond >= 1 {
		return redis_rate.Limit{Rate: int(requestsPerSecond), Period: time.Second, Burst: burst}
	}
	return redis_rate.Limit{
		Rate:   1,
		Period: time.Duration(float64(time.Second) / requestsPerSecond),
		Burst:  burst,
	}
}

// Middleware returns the gin handler. Requests pass when Redis is
// unreachable.
func (rl *RedisRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := rl.limiter.Allow(c.Request.Context(), rl.prefix+c.ClientIP(), rl.limit)
		if err != nil {
			rl.logger.Warn("rate limiter unavailable",
				zap.String("correlation_id", GetCorrelationID(c)),
				zap.Error(err))
			c.Next()
			return
		}
		if res.Allowed > 0 {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			c.Next()
			return
		}
		reject(c, fmt.Sprintf("%d/%s", rl.limit.Rate, rl.limit.Period), res.RetryAfter, rl.onLimit)
	}
}
