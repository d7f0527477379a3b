package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kayra-commerce/payments-api/internal/config"
	"github.com/kayra-commerce/payments-api/internal/lock"
	"github.com/kayra-commerce/payments-api/internal/notify"
	"github.com/kayra-commerce/payments-api/internal/obs"
	"github.com/kayra-commerce/payments-api/internal/queue"
	"github.com/kayra-commerce/payments-api/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "payments")
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	sender := notify.Sender{
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Timeout: cfg.NotifyTimeout},
			Breaker:     resilience.NewBreaker(cfg.CircuitNotifyMinReq, cfg.CircuitNotifyFailureRate, cfg.CircuitNotifyOpenFor).WithTarget("email-delivery").WithLogger(logger),
			BaseBackoff: cfg.QueueBackoffBase,
			MaxAttempts: 1,
			Jitter:      cfg.QueueBackoffJitter,
			Timeout:     cfg.NotifyTimeout,
		},
		ServiceURL: cfg.EmailServiceURL,
	}
	deliveryWorker := notify.DeliveryWorker{
		Sender:  sender,
		Locker:  lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL: cfg.LockTTL,
		Log:     logger,
	}

	confirmationWorker := queue.Worker{
		R:                 redisClient,
		Log:               logger,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              notify.KindOrderConfirmation,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibility,
		RetryBase:         cfg.QueueBackoffBase,
		RetryJitter:       cfg.QueueBackoffJitter,
		Handler:           deliveryWorker.Handle,
	}

	go queue.MonitorDLQ(ctx, redisClient, logger, cfg.QueueRedisPrefix, notify.KindOrderConfirmation, 30*time.Second)

	logger.Info().Msg("worker starting")
	if err := confirmationWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
