package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/willemschots/dreambig/internal/krypto"
)

// Redis is a Limiter that keeps a sorted set of request timestamps per key.
// The prune, count, add and expire steps run in a single MULTI/EXEC so
// concurrent processes can't interleave them.
type Redis struct {
	client redis.UniversalClient

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewRedis creates a new redis backed limiter.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{
		client:  client,
		NowFunc: time.Now,
	}
}

// Allow records the request and reports whether it is admitted.
func (l *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, Info, error) {
	err := validate(limit, window)
	if err != nil {
		return false, Info{}, err
	}

	now := l.NowFunc()
	windowStart := now.Add(-window)

	// Members must be unique, otherwise requests in the same microsecond
	// collapse into one entry.
	suffix, err := krypto.RandomString(8)
	if err != nil {
		return false, Info{}, err
	}
	member := strconv.FormatInt(now.UnixMicro(), 10) + "-" + suffix

	var card *redis.IntCmd
	_, err = l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixMicro(), 10))
		card = p.ZCard(ctx, key)
		p.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.UnixMicro()),
			Member: member,
		})
		p.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return false, Info{}, fmt.Errorf("rate limit transaction failed: %w", err)
	}

	allowed, info := decide(int(card.Val()), limit, now, window)
	return allowed, info, nil
}

// Ping checks whether the redis server is reachable.
func (l *Redis) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
