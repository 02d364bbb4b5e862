// Package config содержит логику чтения конфигурации сервиса учёта расходов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Поддерживаемые хранилища.
const (
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
	StorageMemory   = "memory"
)

// Значения по умолчанию.
const (
	defaultRunAddress     = "localhost:8080"
	defaultDBName         = "friendledger"
	defaultRequestTimeout = 10 * time.Second
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	Storage           string        `env:"STORAGE"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	MongoURI          string        `env:"MONGODB_URI"`
	DBName            string        `env:"DB_NAME"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL"`
	StaticDir         string        `env:"STATIC_DIR"`
	CORSOrigins       []string      `env:"CORS_ORIGINS" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.Storage, "s", StorageMemory, "storage backend: postgres, mongo or memory")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "PostgreSQL connection URI")
	flag.StringVar(&cfg.MongoURI, "m", "", "MongoDB connection URI")
	flag.StringVar(&cfg.DBName, "n", defaultDBName, "MongoDB database name")
	flag.DurationVar(&cfg.RequestTimeout, "t", defaultRequestTimeout, "request handling timeout")
	flag.DurationVar(&cfg.ReconcileInterval, "i", 0, "balance reconciliation interval, 0 disables it")
	flag.StringVar(&cfg.StaticDir, "f", "", "directory with the built frontend")

	flag.Parse()

	if fromEnv.RunAddress != "" {
		cfg.RunAddress = fromEnv.RunAddress
	}
	if fromEnv.Storage != "" {
		cfg.Storage = fromEnv.Storage
	}
	if fromEnv.DatabaseURI != "" {
		cfg.DatabaseURI = fromEnv.DatabaseURI
	}
	if fromEnv.MongoURI != "" {
		cfg.MongoURI = fromEnv.MongoURI
	}
	if fromEnv.DBName != "" {
		cfg.DBName = fromEnv.DBName
	}
	if fromEnv.RequestTimeout != 0 {
		cfg.RequestTimeout = fromEnv.RequestTimeout
	}
	if fromEnv.ReconcileInterval != 0 {
		cfg.ReconcileInterval = fromEnv.ReconcileInterval
	}
	if fromEnv.StaticDir != "" {
		cfg.StaticDir = fromEnv.StaticDir
	}

	cfg.CORSOrigins = trimOrigins(cfg.CORSOrigins)
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность выбранного хранилища и адресов подключения.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURI == "" {
			return errors.New("DATABASE_URI is required for postgres storage")
		}
	case StorageMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI is required for mongo storage")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if c.RequestTimeout < 0 || c.ReconcileInterval < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

func trimOrigins(origins []string) []string {
	res := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			res = append(res, o)
		}
	}
	return res
}
