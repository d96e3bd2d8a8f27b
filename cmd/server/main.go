// filedepot API server.
//
// Authenticated file storage with a shallow ownership/visibility model:
// folders, files and images, Redis-backed sessions, MongoDB metadata,
// local blob storage and asynchronous thumbnail rendering.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/api"
	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/files"
	"github.com/filedepot/filedepot/internal/jobs"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/session"
	"github.com/filedepot/filedepot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("filedepot server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.Info("connecting to MongoDB...")
	metaStore, err := metadata.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logging.Fatal("metadata store connection failed", zap.Error(err))
	}
	defer metaStore.Close(context.Background())

	sessionStore := session.New(cfg.RedisAddr)
	defer sessionStore.Close()
	logging.Info("session store initialized", zap.String("addr", cfg.RedisAddr))

	contentStore, err := storage.New(cfg.FolderPath)
	if err != nil {
		logging.Fatal("content store init failed", zap.Error(err))
	}
	logging.Info("content store initialized", zap.String("root", contentStore.Root()))

	dispatcher := jobs.NewDispatcher(cfg.RedisAddr)
	defer dispatcher.Close()

	manager := files.NewManager(metaStore, contentStore, dispatcher)
	gateway := auth.NewGateway(metaStore, sessionStore, cfg.SessionTTL)

	srv := api.NewServer(manager, gateway, sessionStore, metaStore, dispatcher)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
