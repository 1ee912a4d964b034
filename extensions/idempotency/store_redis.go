package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	inFlightMarker = "inflight"

	// DefaultLockTTL bounds how long an in-flight marker survives a crashed
	// owner.
	DefaultLockTTL = 2 * time.Minute

	defaultPollInterval = 100 * time.Millisecond
	defaultKeyPrefix    = "batchrelay:submission:"
)

// redisCheckAndMarkScript returns the stored value, or marks the key
// in-flight and returns nil.
// KEYS[1] = submission key
// ARGV[1] = in-flight marker
// ARGV[2] = marker TTL in milliseconds
var redisCheckAndMarkScript = redis.NewScript(`
local value = redis.call("GET", KEYS[1])
if value then
    return value
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return false
`)

// RedisStore implements SubmissionStore on Redis so that every relay
// instance behind a load balancer sees the same submissions.
type RedisStore struct {
	client       redis.UniversalClient
	ttl          time.Duration
	lockTTL      time.Duration
	pollInterval time.Duration
	prefix       string
}

// NewRedisStore creates a store that caches submissions for ttl.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:       client,
		ttl:          ttl,
		lockTTL:      DefaultLockTTL,
		pollInterval: defaultPollInterval,
		prefix:       defaultKeyPrefix,
	}
}

// WithLockTTL sets the in-flight marker TTL.
func (s *RedisStore) WithLockTTL(ttl time.Duration) *RedisStore {
	s.lockTTL = ttl
	return s
}

// WithPrefix sets the key prefix.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	s.prefix = prefix
	return s
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// CheckAndMark runs the check-and-mark script atomically.
func (s *RedisStore) CheckAndMark(ctx context.Context, key string) (SubmissionStatus, *Submission, error) {
	res, err := redisCheckAndMarkScript.Run(ctx, s.client, []string{s.key(key)}, inFlightMarker, s.lockTTL.Milliseconds()).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StatusNotFound, nil, nil
		}
		return StatusNotFound, nil, fmt.Errorf("redis check-and-mark failed: %w", err)
	}
	if res == inFlightMarker {
		return StatusInFlight, nil, nil
	}
	submission, err := decodeSubmission(res)
	if err != nil {
		return StatusNotFound, nil, err
	}
	return StatusCached, submission, nil
}

// WaitForResult polls until the in-flight marker is replaced or removed.
func (s *RedisStore) WaitForResult(ctx context.Context, key string) (*Submission, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		value, err := s.client.Get(ctx, s.key(key)).Result()
		switch {
		case errors.Is(err, redis.Nil):
			return nil, nil
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis get failed: %w", err)
		case value != inFlightMarker:
			return decodeSubmission(value)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Complete stores the submission with the cache TTL.
func (s *RedisStore) Complete(ctx context.Context, key string, submission *Submission) error {
	raw, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Fail deletes the in-flight marker.
func (s *RedisStore) Fail(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func decodeSubmission(raw string) (*Submission, error) {
	var submission Submission
	if err := json.Unmarshal([]byte(raw), &submission); err != nil {
		return nil, fmt.Errorf("malformed cached submission: %w", err)
	}
	return &submission, nil
}

var _ SubmissionStore = (*RedisStore)(nil)
