// Package db stores the build ledger: one row per build session and one row
// per stage transition. SQLite is the default; Postgres is used when a
// DATABASE_URL is configured.
package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"botbuilder/internal/logging"
)

// Config holds database configuration
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	DSN    string
	// Debug logs every SQL statement.
	Debug bool
}

// Database wraps the GORM database instance
type Database struct {
	DB     *gorm.DB
	driver string
}

// NewDatabase opens the ledger and migrates its tables.
func NewDatabase(cfg Config) (*Database, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := logger.Warn
	if cfg.Debug {
		level = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.Driver == "postgres" {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// SQLite allows one writer; an in-memory database also lives and
		// dies with its only connection.
		sqlDB.SetMaxOpenConns(1)
	}

	database := &Database{DB: db, driver: cfg.Driver}
	if err := database.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.L().Info("ledger database ready", zap.String("driver", dialector.Name()))
	return database, nil
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	if err := d.DB.AutoMigrate(&BuildSession{}, &StageEvent{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if d.driver == "postgres" {
		d.createIndexes()
	}
	return nil
}

func (d *Database) createIndexes() {
	d.DB.Exec("CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_build_sessions_open ON build_sessions(updated_at DESC) WHERE outcome = ''")
	d.DB.Exec("CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_stage_events_project_date ON stage_events(project_id, occurred_at DESC)")
}

// Health checks database connectivity
func (d *Database) Health() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetStats returns database connection statistics
func (d *Database) GetStats() map[string]interface{} {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	stats := sqlDB.Stats()
	return map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}
