package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/foodbank/fuelsupport/internal/config"
	"github.com/foodbank/fuelsupport/internal/db"
	"github.com/foodbank/fuelsupport/internal/logger"
)

// seed inserts the demo clients into an empty database.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	conn, err := db.Open(cfg, zl)
	if err != nil {
		zl.Fatal("db init", zap.Error(err))
	}
	n, err := db.SeedSample(conn)
	if err != nil {
		zl.Fatal("seed", zap.Error(err))
	}
	if n == 0 {
		zl.Info("clients already present, nothing seeded")
		return
	}
	zl.Info("sample clients added", zap.Int("count", n))
}
