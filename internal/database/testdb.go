package database

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/backstage/services/rewards/config"
)

// NewTestDB creates a fresh in-memory SQLite database with the schema applied
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver: DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString()),
	}
	db, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		_ = Close(db)
		t.Fatalf("migrating test database: %v", err)
	}

	t.Cleanup(func() { _ = Close(db) })

	return db
}
