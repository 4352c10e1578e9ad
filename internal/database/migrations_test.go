package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/munilegis/legis/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsExpiresStaleCodes(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&records.OneTimeCode{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	stale := records.OneTimeCode{
		ID:        "code-1",
		Email:     "clerk@example.gov",
		Code:      "123456",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
		Used:      false,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := database.Create(&stale).Error; err != nil {
		testContext.Fatalf("failed to insert code: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored records.OneTimeCode
	if err := database.Where("id = ?", stale.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload code: %v", err)
	}
	if !stored.Used {
		testContext.Fatalf("expected stale code to be marked used")
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationExpireStaleOneTimeCodes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&records.OneTimeCode{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first apply failed: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second apply failed: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected one migration record, got %d", count)
	}
}
