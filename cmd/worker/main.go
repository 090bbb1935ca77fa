package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"classroll/internal/cache"
	"classroll/internal/config"
	"classroll/internal/events"
	"classroll/internal/logging"
	"classroll/internal/queue"
	"classroll/internal/store"
)

// Worker consumes attendance changes and drops the cached views they affect.
func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.QueueBackend == "memory" {
		logger.Fatal("QUEUE_BACKEND=memory runs the consumer inside the API; the worker needs redis")
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	q.OnError(func(err error) {
		logger.Warn("queue error", zap.Error(err))
	})
	snapshots := cache.New(redisClient.Client, "classroll:", cfg.CacheTTL, logger.Named("cache"))

	consumer := events.NewConsumer(q, snapshots, logger.Named("consumer"))
	if err := consumer.Run(ctx); err != nil {
		logger.Fatal("consumer failed", zap.Error(err))
	}
	logger.Info("worker stopped")
}
