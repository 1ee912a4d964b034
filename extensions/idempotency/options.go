package idempotency

import "time"

// DefaultTTL is how long a submission is remembered by the default store.
const DefaultTTL = 10 * time.Minute

// config holds the configuration for IdempotentBroadcaster.
type config struct {
	ttl          time.Duration
	store        SubmissionStore
	keyGenerator KeyGenerator
}

// Option configures an IdempotentBroadcaster.
type Option func(*config)

// WithTTL sets how long successful submissions are cached.
//
// Only applies when using the default InMemoryStore.
// If WithStore is also specified, this option is ignored
// (configure TTL on your custom store instead).
//
// Default: 10 minutes
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore sets a custom SubmissionStore implementation, such as RedisStore.
// When specified, WithTTL is ignored.
func WithStore(store SubmissionStore) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithKeyGenerator sets a custom key generation function.
//
// The key must uniquely identify a broadcast attempt, otherwise two different
// batches could be answered with the same transaction hash.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *config) {
		c.keyGenerator = gen
	}
}
