package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter implements a sliding window rate limiter backed by Redis sorted
// sets. Every observed event is a ZSET member scored by its timestamp;
// counting survivors after trimming the window gives the current rate.
type Limiter struct {
	Client *redis.Client
	Prefix string
	Window time.Duration
	Max    int
}

// Result reports the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow registers an event for the given key and reports whether it is
// within the limit. A zero-valued limiter allows everything.
func (l Limiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now()
	until := now.Add(l.Window)
	if l.Client == nil || l.Max <= 0 || l.Window <= 0 {
		return Result{Allowed: true, Remaining: l.Max, ResetAt: until}, nil
	}

	score := float64(now.UnixNano())
	cutoff := float64(now.Add(-l.Window).UnixNano())

	redisKey := l.Prefix + key
	member := fmt.Sprintf("%s:%s", key, uuid.NewString())

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: score, Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{ResetAt: until}, err
	}

	current := int(countCmd.Val())
	remaining := l.Max - current
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: current <= l.Max, Remaining: remaining, ResetAt: until}, nil
}
