package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/rewards/config"
	"example.com/backstage/services/rewards/internal/metrics"
	"example.com/backstage/services/rewards/internal/models"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the write database described by cfg
func Open(cfg config.DatabaseConfig, m *metrics.Metrics) (*gorm.DB, error) {
	return open(cfg, cfg.DSN, m)
}

// OpenReadOnly connects to the read replica. Without a read-only DSN it
// returns the write handle.
func OpenReadOnly(cfg config.DatabaseConfig, write *gorm.DB, m *metrics.Metrics) (*gorm.DB, error) {
	if cfg.ReadOnlyDSN == "" || cfg.Driver == DriverSQLite {
		return write, nil
	}
	return open(cfg, cfg.ReadOnlyDSN, m)
}

func open(cfg config.DatabaseConfig, dsn string, m *metrics.Metrics) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}

	logLevel := logger.Error
	if cfg.Debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(logAdapter{}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}

	// SQLite has no row locks; a single connection serialises every
	// transaction, which keeps allocation exclusive per item.
	if cfg.Driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if m != nil {
		if err := RegisterMetricsHooks(db, m); err != nil {
			return nil, err
		}
	}

	return db, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverPostgres, "":
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate runs database migrations
func Migrate(db *gorm.DB) error {
	return models.SetupModels(db)
}

// Close closes the database handle
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// IsDuplicateKeyError reports whether err is a unique constraint violation
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}

// IsRecordNotFoundError checks if an error is a record not found error
func IsRecordNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// logAdapter routes GORM log lines through zerolog
type logAdapter struct{}

func (logAdapter) Printf(format string, args ...interface{}) {
	log.Info().Str("component", "gorm").Msgf(format, args...)
}
