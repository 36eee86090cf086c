// Package main runs the background job worker (session archive upload to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/livesession/config"
	"github.com/aura-webinar/livesession/internal/session"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/internal/worker"
	"github.com/aura-webinar/livesession/pkg/database"
	"github.com/aura-webinar/livesession/pkg/queue"
	"github.com/aura-webinar/livesession/pkg/redis"
	"github.com/aura-webinar/livesession/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		logger.Fatal("archive worker needs the postgres document store", zap.String("store", cfg.Store.Driver))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ArchiveBucket:        cfg.AWS.ArchiveBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	// Writes made here reach the servers' session replicas through the change bridge.
	watcher := store.NewWatcher(logger)
	store.NewRedisBridge(rdb.Client, watcher, logger)
	manager := session.NewManager(session.Deps{
		Store:  store.NewPostgres(pool, watcher),
		Origin: watcher.Origin(),
	}, session.Config{}, logger)
	defer manager.Shutdown()

	jobQueue := queue.NewQueue(rdb.Client, cfg.Worker.MaxRetries, cfg.Worker.PollTimeout, logger)
	processor := worker.NewArchiveProcessor(manager, s3Client, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(cfg.Worker.PollTimeout + 2*time.Second):
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
