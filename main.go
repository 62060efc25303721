package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-api/api"
	"task-api/config"
	"task-api/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("load .env: %v", err)
	}
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	api.Register(e, store, logger, api.Options{StoreTimeout: cfg.StoreTimeout})

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.Addr(), "backend": cfg.Backend}).Info("server starting")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if err := closeStore(shutdownCtx); err != nil {
		logger.WithError(err).Warn("storage close")
	}
}

// openStore builds the configured backend and wraps it with the cache and
// the change feed when they are enabled.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (storage.Backend, func(context.Context) error, error) {
	var (
		backend storage.Backend
		closers []func(context.Context) error
	)

	switch cfg.Backend {
	case config.BackendMemory:
		backend = storage.NewMemory()
	case config.BackendTables:
		t, err := storage.NewTables(cfg.StorageConnectionString, cfg.TasksTable)
		if err != nil {
			return nil, nil, err
		}
		backend = t
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		m, err := storage.NewMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase, cfg.TasksCollection)
		if err != nil {
			return nil, nil, err
		}
		backend = m
		closers = append(closers, m.Close)
	}

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, nil, err
	}
	if redisOpts != nil {
		rc := redis.NewClient(redisOpts)
		backend = storage.NewCache(backend, rc, cfg.CacheTTL)
		closers = append(closers, func(context.Context) error { return rc.Close() })
	}

	if cfg.EventsQueue != "" {
		q, err := storage.NewQueue(cfg.StorageConnectionString, cfg.EventsQueue)
		if err != nil {
			return nil, nil, err
		}
		backend = storage.NewNotifier(backend, q, logger)
	}

	closeAll := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	return backend, closeAll, nil
}
