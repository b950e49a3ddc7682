// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/snapvault/internal/logging"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	defaultRedisTTL = 30 * time.Second
	redisKeyPrefix  = "snapvault:lock:"
)

// Only the token that set the key may delete or extend it.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisBackend holds locks as keys with a TTL that is renewed while the
// lease is alive. A crashed holder's lock expires after one TTL.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend connects to url and pings it.
func NewRedisBackend(ctx context.Context, url string, ttl time.Duration) (*RedisBackend, error) {
	if url == "" {
		url = defaultRedisURL
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("connect redis %s: %w", logging.RedactURL(url), err)
	}
	return &RedisBackend{client: client, ttl: ttl}, nil
}

// Name implements Backend.
func (b *RedisBackend) Name() string { return "redis" }

// TryAcquire implements Backend with SET NX PX.
func (b *RedisBackend) TryAcquire(ctx context.Context, key Key) (Lease, bool, error) {
	token := uuid.NewString()
	redisKey := redisKeyPrefix + key.Name

	ok, err := b.client.SetNX(ctx, redisKey, token, b.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	lease := &redisLease{
		client: b.client,
		key:    redisKey,
		token:  token,
		ttl:    b.ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go lease.keepAlive()
	return lease, true, nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// keepAlive extends the TTL every third of its length until Release.
func (l *redisLease) keepAlive() {
	defer close(l.done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				logging.Warn().Err(err).Str("key", l.key).Msg("Failed to renew redis lock")
				continue
			}
			if n == 0 {
				logging.Error().Str("key", l.key).Msg("Redis lock lost before release")
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		logging.Warn().Str("key", l.key).Msg("Redis lock already expired or taken over at release")
	}
	return nil
}
