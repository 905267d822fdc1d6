package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/logger"
	"dropmail/backend/internal/storage/postgres"
)

// main 执行数据库结构迁移后退出。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Error("database type and DSN are required for migration")
		os.Exit(1)
	}

	log.Info("running migrations", zap.String("type", cfg.Database.Type))

	var openErr error
	var store interface{ Close() error }
	switch cfg.Database.Type {
	case "postgres":
		store, openErr = postgres.NewStore(cfg.Database.DSN)
	case "mysql":
		store, openErr = postgres.NewMySQLStore(cfg.Database.DSN)
	default:
		log.Error("unknown database type", zap.String("type", cfg.Database.Type))
		os.Exit(1)
	}
	if openErr != nil {
		log.Error("migration failed", zap.Error(openErr))
		os.Exit(1)
	}
	defer store.Close()

	log.Info("migrations completed successfully")
}
