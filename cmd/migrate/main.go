package main

import (
	"fmt"
	"os"

	"github.com/titlesync/backend/internal/config"
	"github.com/titlesync/backend/internal/db"
	"github.com/titlesync/backend/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Initialize(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	conn, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Running database migrations...", nil)
	if err := db.AutoMigrate(conn); err != nil {
		logger.Fatal("Migration failed", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Database migrations completed successfully", nil)
}
