package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/titlesync/backend/internal/config"
	"github.com/titlesync/backend/internal/logger"
	"github.com/titlesync/backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect opens the database selected by cfg.DBDriver and stores it in DB.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DBPath + "?_busy_timeout=5000&_foreign_keys=on")
	default:
		dialector = postgres.Open(cfg.PostgresDSN())
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.DBDriver == "sqlite" {
		// sqlite allows a single writer; serialize through one connection
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Info("Database connected successfully", map[string]interface{}{"driver": cfg.DBDriver})
	DB = conn
	return conn, nil
}

// AutoMigrate creates or updates every table the backend uses.
func AutoMigrate(conn *gorm.DB) error {
	tables := []interface{}{
		&models.Job{},
		&models.Domain{},
		&models.Segment{},
		&models.TranslationRecord{},
		&models.PublishFailure{},
	}
	for _, table := range tables {
		if err := conn.AutoMigrate(table); err != nil {
			return fmt.Errorf("migration of %T failed: %w", table, err)
		}
	}
	logger.Info("All database migrations completed successfully", nil)
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
