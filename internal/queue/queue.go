package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kayra-commerce/payments-api/internal/resilience"
)

// Job represents a unit of deferred work.
type Job struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
}

// Enqueuer publishes jobs to Redis backed delayed queues. Jobs carrying an
// idempotency key are deduplicated within the dedup window: a second enqueue
// for the same key is silently dropped until the first completes or the
// window expires.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
}

// Enqueue inserts the job into its kind's queue.
func (e Enqueuer) Enqueue(ctx context.Context, j Job) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(j.Kind)
	if kind == "" {
		return errors.New("queue: job kind is required")
	}
	env := envelope{
		Kind:        kind,
		Key:         j.IdempotencyKey,
		Payload:     j.Payload,
		MaxAttempts: j.MaxAttempts,
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = 10
	}
	env.AvailableAt = time.Now().Add(j.Delay).UnixNano()

	if env.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, dedupKey(e.Prefix, kind, env.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, queueKey(e.Prefix, kind), redis.Z{Score: float64(env.AvailableAt), Member: raw}).Err()
}

// Worker consumes jobs of a single kind. Claimed jobs move into a processing
// set scored by a visibility deadline so crashed workers leak nothing: a
// reaper loop returns expired claims to the ready queue.
type Worker struct {
	R                 *redis.Client
	Log               zerolog.Logger
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	Handler           func(context.Context, Job) error
	RetryBase         time.Duration
	RetryJitter       float64
}

// Run processes jobs until the context is cancelled.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	readyKey := queueKey(w.Prefix, kind)
	claimedKey := processingKey(w.Prefix, kind)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	// every return path drains in-flight handlers before Run reports back
	defer wg.Wait()

	reaper := time.NewTicker(time.Second)
	defer reaper.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reaper.C:
			if err := w.reapExpired(ctx, claimedKey, readyKey); err != nil {
				return err
			}
		default:
		}

		res, err := w.R.ZPopMin(ctx, readyKey, 1).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if err == redis.Nil {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}
		if len(res) == 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		member, ok := res[0].Member.(string)
		if !ok {
			continue
		}
		env, err := decodeEnvelope(member)
		if err != nil {
			w.Log.Warn().Str("kind", kind).Msg("queue: dropped undecodable job")
			continue
		}
		now := time.Now().UnixNano()
		if env.AvailableAt > now {
			// not due yet, push back and wait
			w.R.ZAdd(ctx, readyKey, redis.Z{Score: float64(env.AvailableAt), Member: member})
			sleep := time.Duration(env.AvailableAt - now)
			if sleep > time.Second {
				sleep = time.Second
			}
			time.Sleep(sleep)
			continue
		}

		env.Attempt++
		rawBytes, err := json.Marshal(env)
		if err != nil {
			continue
		}
		raw := string(rawBytes)
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, claimedKey, redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(raw string, env envelope) {
			defer func() { <-sem }()
			defer wg.Done()
			jobCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			err := w.Handler(jobCtx, Job{Kind: kind, Payload: env.Payload, IdempotencyKey: env.Key})
			if err != nil {
				w.fail(jobCtx, readyKey, claimedKey, raw, env, retryBase, err)
				return
			}
			w.ack(jobCtx, claimedKey, raw, env)
		}(raw, env)
	}
}

func (w Worker) fail(ctx context.Context, readyKey, claimedKey, raw string, env envelope, base time.Duration, cause error) {
	if raw != "" {
		_ = w.R.ZRem(ctx, claimedKey, raw)
	}
	if env.MaxAttempts > 0 && env.Attempt >= env.MaxAttempts {
		rawBytes, err := json.Marshal(env)
		if err != nil {
			return
		}
		_ = w.R.LPush(ctx, dlqKey(w.Prefix, env.Kind), rawBytes).Err()
		if env.Key != "" {
			_ = w.R.Del(ctx, dedupKey(w.Prefix, env.Kind, env.Key)).Err()
		}
		ProcessedTotal.WithLabelValues(env.Kind, "dead").Inc()
		w.Log.Error().Err(cause).
			Str("kind", env.Kind).
			Str("key", env.Key).
			Int("attempts", env.Attempt).
			Msg("queue: job parked in dlq")
		return
	}
	delay := resilience.Backoff(base, env.Attempt, w.RetryJitter)
	env.AvailableAt = time.Now().Add(delay).UnixNano()
	rawBytes, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, readyKey, redis.Z{Score: float64(env.AvailableAt), Member: string(rawBytes)}).Err()
	ProcessedTotal.WithLabelValues(env.Kind, "retry").Inc()
	w.Log.Warn().Err(cause).
		Str("kind", env.Kind).
		Str("key", env.Key).
		Int("attempt", env.Attempt).
		Dur("retry_in", delay).
		Msg("queue: job retry scheduled")
}

func (w Worker) ack(ctx context.Context, claimedKey, raw string, env envelope) {
	if raw != "" {
		_ = w.R.ZRem(ctx, claimedKey, raw)
	}
	if env.Key != "" {
		_ = w.R.Del(ctx, dedupKey(w.Prefix, env.Kind, env.Key)).Err()
	}
	ProcessedTotal.WithLabelValues(env.Kind, "ok").Inc()
}

func (w Worker) reapExpired(ctx context.Context, claimedKey, readyKey string) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, claimedKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, raw := range due {
		env, err := decodeEnvelope(raw)
		if err != nil {
			continue
		}
		_ = w.R.ZRem(ctx, claimedKey, raw).Err()
		env.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(env)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, readyKey, redis.Z{Score: float64(env.AvailableAt), Member: encoded}).Err()
	}
	return nil
}

// MonitorDLQ periodically samples the dead-letter queue for a kind, exports
// its size and warns while jobs stay parked. Blocks until the context is
// cancelled.
func MonitorDLQ(ctx context.Context, r *redis.Client, log zerolog.Logger, prefix, kind string, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, err := r.LLen(ctx, dlqKey(prefix, kind)).Result()
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("kind", kind).Msg("queue: dlq sample failed")
				}
				continue
			}
			DLQSize.WithLabelValues(kind).Set(float64(size))
			if size == 0 {
				continue
			}
			jobs, err := DLQ(ctx, r, prefix, kind, 10)
			if err != nil {
				continue
			}
			keys := make([]string, 0, len(jobs))
			for _, j := range jobs {
				keys = append(keys, j.IdempotencyKey)
			}
			log.Warn().Str("kind", kind).Int64("parked", size).Strs("newest_keys", keys).Msg("queue: jobs parked in dlq")
		}
	}
}

// DLQ returns the parked jobs for a kind, newest first, without removing
// them.
func DLQ(ctx context.Context, r *redis.Client, prefix, kind string, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := r.LRange(ctx, dlqKey(prefix, kind), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		env, err := decodeEnvelope(raw)
		if err != nil {
			continue
		}
		jobs = append(jobs, Job{Kind: env.Kind, Payload: env.Payload, IdempotencyKey: env.Key, MaxAttempts: env.MaxAttempts})
	}
	return jobs, nil
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' || c == ':' {
			continue
		}
		return ""
	}
	return kind
}

func queueKey(prefix, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s", kind)
	}
	return fmt.Sprintf("%s:queue:%s", prefix, kind)
}

func processingKey(prefix, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s:processing", kind)
	}
	return fmt.Sprintf("%s:%s:processing", prefix, kind)
}

func dlqKey(prefix, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s:dlq", kind)
	}
	return fmt.Sprintf("%s:%s:dlq", prefix, kind)
}

func dedupKey(prefix, kind, key string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:dedup:%s:%s", kind, key)
	}
	return fmt.Sprintf("%s:dedup:%s:%s", prefix, kind, key)
}

func decodeEnvelope(raw string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

type envelope struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
