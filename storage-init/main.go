package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"task-api/config"
	"task-api/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("load .env: %v", err)
	}
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.WithField("backend", cfg.Backend).Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cfg.Backend {
	case config.BackendTables:
		if err := storage.EnsureTables(ctx, cfg.StorageConnectionString, cfg.TasksTable); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		log.WithField("table", cfg.TasksTable).Debug("table ready")
	case config.BackendMongo:
		m, err := storage.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.TasksCollection)
		if err != nil {
			log.Fatalf("mongo: %v", err)
		}
		defer func() { _ = m.Close(context.Background()) }()
		if err := m.EnsureIndexes(ctx); err != nil {
			log.Fatalf("create indexes: %v", err)
		}
		log.WithField("collection", cfg.TasksCollection).Debug("indexes ready")
	}

	if cfg.EventsQueue != "" {
		if err := storage.EnsureQueues(ctx, cfg.StorageConnectionString, cfg.EventsQueue); err != nil {
			log.Fatalf("create queues: %v", err)
		}
		log.WithField("queue", cfg.EventsQueue).Debug("queue ready")
	}

	log.Info("storage init complete")
}
