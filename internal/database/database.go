package database

import (
	"database/sql"
	"fmt"
	"time"

	"ssl-monitor/internal/config"
	applog "ssl-monitor/internal/logger"
	"ssl-monitor/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Open opens the database and migrates the schema
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var db *gorm.DB

	switch cfg.Type {
	case "sqlite":
		// Use pure Go SQLite driver (modernc.org/sqlite)
		sqlDB, err := sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// SQLite allows a single writer; one connection serialises sweep writes
		// and keeps ":memory:" databases shared across callers.
		sqlDB.SetMaxOpenConns(1)

		db, err = gorm.Open(sqlite.Dialector{
			Conn: sqlDB,
		}, &gorm.Config{
			Logger: logger.New(applog.Log, logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GORM: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Certificate{},
		&models.NotificationSchedule{},
		&models.DeliveryLog{},
		&models.CronSchedule{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
