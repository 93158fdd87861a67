// Package main runs the background job worker (ticket QR images to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eventgate/backend/config"
	"github.com/eventgate/backend/internal/store"
	"github.com/eventgate/backend/internal/store/postgres"
	"github.com/eventgate/backend/internal/store/sqlite"
	"github.com/eventgate/backend/internal/worker"
	"github.com/eventgate/backend/pkg/database"
	"github.com/eventgate/backend/pkg/queue"
	"github.com/eventgate/backend/pkg/redis"
	"github.com/eventgate/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.Redis.Enabled {
		logger.Fatal("worker needs REDIS_ENABLED=true: the job queue lives in Redis")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer st.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		TicketsBucket:        cfg.AWS.TicketsBucket,
		Endpoint:             cfg.AWS.Endpoint,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewTicketImageProcessor(st, s3Client, jobQueue, cfg.Worker.QRSize, cfg.Worker.DequeueWait, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started", zap.String("queue", queue.QueueTicketImages))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	logger.Info("worker stopped")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Store, error) {
	if cfg.Driver == "sqlite" {
		return sqlite.Open(cfg.SQLitePath)
	}
	pool, err := database.NewPostgresPool(ctx, cfg.URL, cfg.MaxConns, logger)
	if err != nil {
		return nil, err
	}
	return postgres.New(pool), nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
