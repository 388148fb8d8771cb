package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ojtrack/internal/attendance"
	"ojtrack/internal/config"
	"ojtrack/internal/logger"
	"ojtrack/internal/queue"
	"ojtrack/internal/store"
	"ojtrack/internal/worker"
)

// Worker consumes attendance transitions and invalidates cached week reports.
func main() {
	cfg := config.Load()
	zl, err := logger.New(cfg, "worker")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.QueueBackend == "memory" {
		zl.Fatal("QUEUE_BACKEND=memory runs the worker inside the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		zl.Warn("redis not reachable yet; consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, "ojtrack:attendance")
	cache := attendance.NewRedisReportCache(redisClient.Client, cfg.ReportCacheTTL)

	messages, err := q.Consume(ctx)
	if err != nil {
		zl.Fatal("queue consume init failed", zap.Error(err))
	}

	zl.Info("worker started, waiting for messages")
	worker.New(cache, zl).Run(ctx, messages)
	zl.Info("worker stopped")
}
