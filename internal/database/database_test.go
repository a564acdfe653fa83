package database

import (
	"testing"
	"time"

	"storewatch/internal/config"
	"storewatch/internal/database/migrations"
	"storewatch/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	sqlDB, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := migrations.MigrateUp(sqlDB, "sqlite3"); err != nil {
		sqlDB.Close()
		t.Fatalf("applying migrations: %v", err)
	}

	db := New(sqlDB, "sqlite3")
	t.Cleanup(func() { db.Close() })
	return db
}

func addTestStorefront(t *testing.T, db *DB, id string) *model.Storefront {
	t.Helper()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	sf := &model.Storefront{
		ID:          id,
		Domain:      id + ".example.com",
		AccessToken: "token",
		Name:        "Shop " + id,
		PlanTier:    model.PlanStandard,
		Active:      true,
		InstalledAt: now,
		UpdatedAt:   now,
	}
	if err := db.CreateStorefront(sf); err != nil {
		t.Fatalf("creating storefront: %v", err)
	}
	return sf
}

func TestNewFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewFromConfig(config.DatabaseConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	t.Run("sqlite database", func(t *testing.T) {
		got, err := NewFromConfig(config.DatabaseConfig{
			Type:    "sqlite",
			DataDir: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("NewFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	t.Run("sqlite without data_dir", func(t *testing.T) {
		if _, err := NewFromConfig(config.DatabaseConfig{Type: "sqlite"}); err == nil {
			t.Error("expected error for sqlite config without data_dir")
		}
	})

	t.Run("mysql without dsn_env", func(t *testing.T) {
		if _, err := NewFromConfig(config.DatabaseConfig{Type: "mysql"}); err == nil {
			t.Error("expected error for mysql config without dsn_env")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewFromConfig(config.DatabaseConfig{Type: "oracle"}); err == nil {
			t.Error("expected error for unknown database type")
		}
	})
}

func TestTryBeginScanIsExclusive(t *testing.T) {
	db := newTestDB(t)
	sf := addTestStorefront(t, db, "sf-1")
	at := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)

	ok, err := db.TryBeginScan(sf.ID, at)
	if err != nil {
		t.Fatalf("TryBeginScan() error = %v", err)
	}
	if !ok {
		t.Fatal("first TryBeginScan() = false, want true")
	}

	ok, err = db.TryBeginScan(sf.ID, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("second TryBeginScan() error = %v", err)
	}
	if ok {
		t.Error("second TryBeginScan() = true, want false while flag held")
	}

	if err := db.FinishScan(sf.ID, model.ScanCompleted, "", at.Add(2*time.Minute)); err != nil {
		t.Fatalf("FinishScan() error = %v", err)
	}

	ok, err = db.TryBeginScan(sf.ID, at.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("TryBeginScan() after finish error = %v", err)
	}
	if !ok {
		t.Error("TryBeginScan() after FinishScan = false, want true")
	}
}

func TestFinishScanFailureCounter(t *testing.T) {
	db := newTestDB(t)
	sf := addTestStorefront(t, db, "sf-1")
	at := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)

	db.TryBeginScan(sf.ID, at)
	if err := db.FinishScan(sf.ID, model.ScanFailed, "api timeout", at.Add(time.Minute)); err != nil {
		t.Fatalf("FinishScan() error = %v", err)
	}

	got, err := db.StorefrontByID(sf.ID)
	if err != nil {
		t.Fatalf("StorefrontByID() error = %v", err)
	}
	if got.ScanFailureCount != 1 {
		t.Errorf("ScanFailureCount = %d, want 1", got.ScanFailureCount)
	}
	if got.LastScanError != "api timeout" {
		t.Errorf("LastScanError = %q, want %q", got.LastScanError, "api timeout")
	}

	db.TryBeginScan(sf.ID, at.Add(2*time.Minute))
	if err := db.FinishScan(sf.ID, model.ScanCompleted, "", at.Add(3*time.Minute)); err != nil {
		t.Fatalf("FinishScan() error = %v", err)
	}

	got, _ = db.StorefrontByID(sf.ID)
	if got.ScanFailureCount != 0 {
		t.Errorf("ScanFailureCount after success = %d, want 0", got.ScanFailureCount)
	}
}

func TestVersionLedger(t *testing.T) {
	db := newTestDB(t)
	sf := addTestStorefront(t, db, "sf-1")
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"v-1", "v-2", "v-3"} {
		v := &model.FileVersion{
			ID:           id,
			StorefrontID: sf.ID,
			ThemeID:      "theme-1",
			ThemeName:    "Dawn",
			FilePath:     "layout/theme.liquid",
			ContentHash:  "hash-" + id,
			Content:      "content " + id,
			FileSize:     int64(10 + i),
			ScanID:       "scan-" + id,
			CreatedAt:    base.AddDate(0, 0, i),
		}
		if err := db.InsertVersion(v); err != nil {
			t.Fatalf("InsertVersion(%s) error = %v", id, err)
		}
	}

	latest, err := db.LatestVersion(sf.ID, "theme-1", "layout/theme.liquid")
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if latest.ID != "v-3" {
		t.Errorf("LatestVersion() = %s, want v-3", latest.ID)
	}

	before, err := db.LatestVersionBefore(sf.ID, "theme-1", "layout/theme.liquid", base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("LatestVersionBefore() error = %v", err)
	}
	if before.ID != "v-1" {
		t.Errorf("LatestVersionBefore() = %s, want v-1", before.ID)
	}

	deleted, err := db.DeleteVersionsBefore(sf.ID, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("DeleteVersionsBefore() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteVersionsBefore() = %d rows, want 2", deleted)
	}

	if v, _ := db.VersionByID("v-1"); v != nil {
		t.Error("v-1 still present after retention delete")
	}
	if v, _ := db.VersionByID("v-3"); v == nil {
		t.Error("v-3 deleted but is newer than cutoff")
	}
}

func TestSetSettingUpserts(t *testing.T) {
	db := newTestDB(t)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := db.SetSetting("scanning_enabled", "true", "Global scan kill switch", "system", at); err != nil {
		t.Fatalf("SetSetting() insert error = %v", err)
	}
	if err := db.SetSetting("scanning_enabled", "false", "Global scan kill switch", "admin", at.Add(time.Hour)); err != nil {
		t.Fatalf("SetSetting() update error = %v", err)
	}

	value, ok, err := db.Setting("scanning_enabled")
	if err != nil {
		t.Fatalf("Setting() error = %v", err)
	}
	if !ok || value != "false" {
		t.Errorf("Setting() = (%q, %v), want (false, true)", value, ok)
	}

	settings, err := db.ListSettings()
	if err != nil {
		t.Fatalf("ListSettings() error = %v", err)
	}
	if len(settings) != 1 {
		t.Fatalf("ListSettings() returned %d rows, want 1", len(settings))
	}
	if settings[0].UpdatedBy != "admin" {
		t.Errorf("UpdatedBy = %q, want admin", settings[0].UpdatedBy)
	}
}
