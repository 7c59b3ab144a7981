package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Strategy selects how the limiter backend is chosen at startup.
type Strategy string

const (
	StrategyAuto   Strategy = "auto"
	StrategyRedis  Strategy = "redis"
	StrategyMemory Strategy = "memory"
)

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyAuto, StrategyRedis, StrategyMemory:
		return st, nil
	default:
		return "", fmt.Errorf("unknown rate limit strategy %q, want one of auto, redis, memory", s)
	}
}

// Backend names the selected limiter backend.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Probe selects a limiter backend. StrategyRedis requires the redis server
// to answer a PING within timeout, StrategyMemory never dials and
// StrategyAuto falls back to memory when redis is unreachable.
func Probe(ctx context.Context, strategy Strategy, client redis.UniversalClient, timeout time.Duration, logger *slog.Logger) (Limiter, Backend, error) {
	if strategy == StrategyMemory {
		logger.Info("rate limiter backend selected", "backend", BackendMemory)
		return NewMemory(), BackendMemory, nil
	}

	if client == nil {
		return nil, "", fmt.Errorf("strategy %s requires a redis client", strategy)
	}

	l := NewRedis(client)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := l.Ping(pingCtx)
	if err != nil {
		if strategy == StrategyRedis {
			return nil, "", fmt.Errorf("redis rate limit store unreachable: %w", err)
		}

		logger.Warn("rate limiter store unreachable, falling back to memory", "error", err)
		logger.Info("rate limiter backend selected", "backend", BackendMemory)
		return NewMemory(), BackendMemory, nil
	}

	logger.Info("rate limiter backend selected", "backend", BackendRedis)
	return l, BackendRedis, nil
}
