package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/api"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/config"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/medialib"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/metrics"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/service"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/storage"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	configAppName = "app"
	configExt     = "env"
	configDir     = "config"
)

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout", "app_log.log"}
	cfg.ErrorOutputPaths = []string{"stderr", "app_log.log"}
	return cfg.Build()
}

func main() {
	zapLogger, err := newLogger()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "can init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	logger := zapLogger.Named("server")

	logger.Info("running server", zap.Int("pid", os.Getpid()))

	cfg, err := config.LoadAppConfig(configAppName, configExt, configDir)
	if err != nil || cfg == nil {
		logger.Fatal("cant read config, check file", zap.Error(err), zap.String("name", configAppName))
	}

	gin.SetMode(cfg.GinMode)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal("cant create data dir", zap.Error(err), zap.String("dir", cfg.DataDir))
	}
	if err := os.MkdirAll(cfg.ExportRoot, 0o755); err != nil {
		logger.Fatal("cant create export root", zap.Error(err), zap.String("dir", cfg.ExportRoot))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	compLogger := logger.Named("comp")

	library, err := medialib.NewFolderLibrary(cfg.SourceDir)
	if err != nil {
		logger.Fatal("cant open media library", zap.Error(err))
	}

	records, err := service.NewRecordService(
		cfg.DataDir,
		storeFactory(cfg, compLogger),
		cfg.NotifyDebounce,
		compLogger.Named("records"),
	)
	if err != nil {
		logger.Fatal("cant create record service", zap.Error(err))
	}

	collector := metrics.New(nil)

	exporter, err := worker.NewExporter(&worker.ExporterConfig{
		Library: library,
		Records: records,
		Timeout: cfg.ExportTimeout,
		Logger:  compLogger.Named("exporter"),
		Metrics: collector,
	})
	if err != nil {
		logger.Fatal("cant create exporter", zap.Error(err))
	}

	queue, err := worker.NewQueue(exporter, compLogger.Named("queue"), collector)
	if err != nil {
		logger.Fatal("cant create export queue", zap.Error(err))
	}

	mngr, err := service.NewExportManager(&service.ExportManagerOptions{
		Library:  library,
		Records:  records,
		Queue:    queue,
		Exporter: exporter,
		Logger:   compLogger.Named("manager"),
	})
	if err != nil {
		logger.Fatal("cant create export manager", zap.Error(err))
	}

	dest, err := medialib.NewFolderDestination(cfg.ExportRoot)
	if err != nil {
		logger.Fatal("cant open destination", zap.Error(err))
	}
	if err := mngr.SwitchDestination(ctx, dest); err != nil {
		logger.Fatal("cant configure destination", zap.Error(err))
	}
	logger.Info("destination configured",
		zap.String("root", dest.Root()),
		zap.String("key", dest.Key()),
	)

	records.Subscribe(func() {
		logger.Debug("export records changed")
	})

	srv, err := api.NewServer(&api.ServerOptions{
		Manager: mngr,
		Records: records,
		Library: library,
		Logger:  logger,

		Addr: cfg.ServerAddr,
	})
	if err != nil {
		logger.Fatal("cant create api server", zap.Error(err))
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.ServerAddr))
		if err := srv.Run(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				return
			}
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	mngr.Close()

	offCtx, offCanc := context.WithTimeout(context.Background(), 30*time.Second)
	defer offCanc()
	if err := srv.Shutdown(offCtx); err != nil {
		logger.Error("cant shutdown server", zap.Error(err))
	}

	flushCtx, flushCanc := context.WithTimeout(context.Background(), cfg.SnapshotTimeout)
	defer flushCanc()
	if err := records.Flush(flushCtx); err != nil {
		logger.Error("cant flush record store", zap.Error(err))
	}
	if err := records.Close(); err != nil {
		logger.Error("cant close record store", zap.Error(err))
	}
	logger.Info("shutdown done")
}

func storeFactory(cfg *config.AppConfig, logger *zap.Logger) service.StoreFactory {
	switch cfg.StorageMode {
	case "bbolt":
		return func(dir string) (storage.RecordStore, error) {
			return storage.NewBoltRecordStore(dir, logger.Named("bolt"))
		}
	default:
		return func(dir string) (storage.RecordStore, error) {
			return storage.NewFileRecordStore(dir, cfg.CompactEvery, logger.Named("store"))
		}
	}
}
