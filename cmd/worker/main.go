// filedepot worker.
//
// Consumes the thumbnail and email queues: renders width variants next
// to original image blobs and handles welcome jobs for new users.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/jobs"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("filedepot worker starting...",
		zap.String("redis", cfg.RedisAddr),
		zap.Int("concurrency", cfg.WorkerConcurrency))

	ctx := context.Background()

	metaStore, err := metadata.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logging.Fatal("metadata store connection failed", zap.Error(err))
	}
	defer metaStore.Close(context.Background())

	contentStore, err := storage.New(cfg.FolderPath)
	if err != nil {
		logging.Fatal("content store init failed", zap.Error(err))
	}

	worker := jobs.NewWorker(cfg.RedisAddr, cfg.WorkerConcurrency, metaStore, contentStore)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		worker.Shutdown()
	}()

	if err := worker.Run(); err != nil {
		logging.Fatal("worker error", zap.Error(err))
	}
}
