// Package config reads the service configuration from the environment.
package config

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage backends.
const (
	BackendMongo  = "mongo"
	BackendTables = "tables"
	BackendMemory = "memory"
)

// Config holds every setting the service and the provisioning command use.
type Config struct {
	Port    string
	Backend string

	MongoURI        string
	MongoDatabase   string
	TasksCollection string

	StorageConnectionString string
	TasksTable              string
	EventsQueue             string

	RedisConnectionString string
	CacheTTL              time.Duration

	StoreTimeout time.Duration
	Debug        bool
}

// Load builds a Config from getenv, typically os.Getenv, applying defaults
// for unset variables.
func Load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:                    get("PORT", "3000"),
		Backend:                 strings.ToLower(get("STORAGE_BACKEND", BackendMongo)),
		MongoURI:                get("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:           get("MONGODB_DATABASE", "task-api"),
		TasksCollection:         get("TASKS_COLLECTION", "tasks"),
		StorageConnectionString: get("STORAGE_CONNECTION_STRING", ""),
		TasksTable:              get("TASKS_TABLE", "tasks"),
		EventsQueue:             get("TASK_EVENTS_QUEUE", ""),
		RedisConnectionString:   get("REDIS_CONNECTION_STRING", ""),
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return Config{}, fmt.Errorf("invalid PORT: %q", cfg.Port)
	}

	switch cfg.Backend {
	case BackendMongo, BackendMemory:
	case BackendTables:
		if cfg.StorageConnectionString == "" {
			return Config{}, fmt.Errorf("STORAGE_CONNECTION_STRING is required for the %s backend", BackendTables)
		}
	default:
		return Config{}, fmt.Errorf("invalid STORAGE_BACKEND: %q", cfg.Backend)
	}
	if cfg.EventsQueue != "" && cfg.StorageConnectionString == "" {
		return Config{}, fmt.Errorf("STORAGE_CONNECTION_STRING is required when TASK_EVENTS_QUEUE is set")
	}

	var err error
	if cfg.CacheTTL, err = duration(get("CACHE_TTL", "1m"), "CACHE_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = duration(get("STORE_TIMEOUT", "5s"), "STORE_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if v := get("DEBUG", ""); v != "" {
		if cfg.Debug, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid DEBUG: %w", err)
		}
	}
	if cfg.RedisConnectionString != "" {
		if _, err := cfg.RedisOptions(); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func duration(v, name string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return d, nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// RedisOptions parses RedisConnectionString, either a redis:// URL or the
// "host:port,password=...,ssl=true" form used by Azure Cache for Redis.
// It returns nil options when no connection string is configured.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisConnectionString == "" {
		return nil, nil
	}
	if opts, err := redis.ParseURL(c.RedisConnectionString); err == nil {
		return opts, nil
	}
	parts := strings.Split(c.RedisConnectionString, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, fmt.Errorf("invalid REDIS_CONNECTION_STRING")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
