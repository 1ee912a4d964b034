// Package idempotency deduplicates relay broadcasts.
//
// # Overview
//
// A signed delegation authorization can be consumed by exactly one
// transaction. Clients that retry POST /relay while the first attempt is
// still in the mempool would otherwise make the relayer pay for a second,
// doomed transaction. Wrapping the relayer's Broadcaster makes a repeated
// request return the hash of the first submission.
//
// # Usage
//
// Default in-memory store:
//
//	relayer, _ := evm.NewRelayer(ctx, key, client)
//	broadcaster := idempotency.Wrap(relayer)
//
// Shared store for a load-balanced relay:
//
//	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
//	broadcaster := idempotency.Wrap(relayer,
//	    idempotency.WithStore(idempotency.NewRedisStore(rdb, 10*time.Minute)),
//	)
//
// # How It Works
//
// 1. A key is derived from the authorization, sender and calldata (SHA256 by default)
// 2. The store atomically checks for a cached submission or an in-flight one
// 3. If cached: the first transaction hash is returned without broadcasting
// 4. If in-flight: the request waits for the other one and returns its result
// 5. Otherwise: the request broadcasts and caches the hash
//
// Failed broadcasts are NOT cached, so a client can retry after a fix.
package idempotency
