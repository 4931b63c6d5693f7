package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"defiaudit-desktop/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// DefaultURL keeps audit history in the user config directory
const DefaultURL = "sqlite://"

// PoolSettings bounds the connection pool
type PoolSettings struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// Init opens databaseURL (sqlite:// or postgres://) and migrates the audit tables.
// An empty URL or a bare "sqlite://" uses the per-user database file.
func Init(databaseURL, logLevel string) (*gorm.DB, error) {
	dialector, sqliteFile, err := dialectorFor(databaseURL)
	if err != nil {
		return nil, err
	}

	// SQL statements are only logged at debug level
	gormLogger := logger.Default.LogMode(logger.Warn)
	if strings.EqualFold(logLevel, "debug") {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	pool := poolSettingsFromEnv(sqliteFile != "")
	sqlDB.SetMaxOpenConns(pool.MaxOpen)
	sqlDB.SetMaxIdleConns(pool.MaxIdle)
	sqlDB.SetConnMaxLifetime(pool.MaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	DB = db
	logrus.WithFields(logrus.Fields{
		"driver":   dialector.Name(),
		"file":     sqliteFile,
		"max_open": pool.MaxOpen,
	}).Info("Database initialized")
	return DB, nil
}

// dialectorFor resolves a database URL. For sqlite it also returns the file path.
func dialectorFor(databaseURL string) (gorm.Dialector, string, error) {
	if databaseURL == "" {
		databaseURL = DefaultURL
	}

	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			var err error
			if path, err = defaultSQLitePath(); err != nil {
				return nil, "", err
			}
		}
		return sqlite.Open(path), path, nil
	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		return postgres.Open(databaseURL), "", nil
	default:
		return nil, "", fmt.Errorf("unsupported database URL format: %s", databaseURL)
	}
}

func defaultSQLitePath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	appDir := filepath.Join(configDir, "defiaudit")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create app directory: %w", err)
	}
	return filepath.Join(appDir, "defiaudit.db"), nil
}

// poolSettingsFromEnv reads DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS and DB_CONN_MAX_LIFETIME.
// A sqlite file defaults to a single connection so concurrent writers queue instead of failing with SQLITE_BUSY.
func poolSettingsFromEnv(sqliteFile bool) PoolSettings {
	defaults := PoolSettings{MaxOpen: 25, MaxIdle: 5, MaxLifetime: 5 * time.Minute}
	if sqliteFile {
		defaults.MaxOpen, defaults.MaxIdle = 1, 1
	}
	return PoolSettings{
		MaxOpen:     getEnvInt("DB_MAX_OPEN_CONNS", defaults.MaxOpen),
		MaxIdle:     getEnvInt("DB_MAX_IDLE_CONNS", defaults.MaxIdle),
		MaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", defaults.MaxLifetime),
	}
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration from environment variable with default fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultValue
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.AuditRecord{},
		&models.ScheduledAudit{},
	)
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	DB = nil
	return sqlDB.Close()
}
