// Package main заполняет хранилище данными из выгрузки расходов.
// Существующие друзья и расходы удаляются, балансы пересчитываются по непогашенным расходам.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/friendledger/internal/config"
	"github.com/mmeshcher/friendledger/internal/repository"
	"github.com/mmeshcher/friendledger/internal/seed"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	dataPath := flag.String("data", "expense-data.json", "path to the JSON expense dump")

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	f, err := os.Open(*dataPath)
	if err != nil {
		sugar.Fatalw("open expense dump", "path", *dataPath, "error", err.Error())
	}
	records, err := seed.Load(f)
	f.Close()
	if err != nil {
		sugar.Fatalw("load expense dump", "path", *dataPath, "error", err.Error())
	}
	sugar.Infow("expenses loaded", "count", len(records))

	ds, err := seed.Build(records, seed.ForStorage(cfg.Storage), time.Now().UTC())
	if err != nil {
		sugar.Fatalw("normalize expenses", "error", err.Error())
	}

	repo, err := repository.Open(repository.Options{
		Kind:        cfg.Storage,
		PostgresDSN: cfg.DatabaseURI,
		MongoURI:    cfg.MongoURI,
		MongoDB:     cfg.DBName,
	})
	if err != nil {
		sugar.Fatalw("storage initialization error", "storage", cfg.Storage, "error", err.Error())
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := repo.Migrate(ctx); err != nil {
		sugar.Fatalw("storage migration error", "error", err.Error())
	}

	if err := seed.Apply(ctx, repo, ds); err != nil {
		sugar.Fatalw("seed storage", "error", err.Error())
	}

	logger.Info("seeding completed",
		zap.String("storage", cfg.Storage),
		zap.Int("friends", len(ds.Friends)),
		zap.Int("expenses", len(ds.Expenses)),
	)
}
