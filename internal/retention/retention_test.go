package retention

import (
	"context"
	"testing"
	"time"

	"storewatch/internal/config"
	"storewatch/internal/diag"
	"storewatch/internal/encryption"
	"storewatch/internal/model"
	"storewatch/internal/testutil"
	"storewatch/internal/vault"
)

type fixture struct {
	sweeper *Sweeper
	stores  diag.Stores
	vault   *vault.MemoryVault
	clock   *testutil.StubClock
}

func newFixture(t *testing.T, cfg config.RetentionConfig) *fixture {
	t.Helper()

	db := testutil.NewTestDatabase(t)
	stores := db.Stores()
	v := vault.NewMemoryVault("test")
	clock := testutil.FixedClock()

	return &fixture{
		sweeper: NewSweeper(stores, v, encryption.NewTestEncryptor(), cfg, diag.NewNopLogger(), clock),
		stores:  stores,
		vault:   v,
		clock:   clock,
	}
}

func (f *fixture) addStorefront(t *testing.T, id string, tier model.PlanTier) {
	t.Helper()
	err := f.stores.Storefronts.CreateStorefront(&model.Storefront{
		ID:          id,
		Domain:      id + ".example.com",
		AccessToken: "token",
		Name:        "Shop " + id,
		PlanTier:    tier,
		Active:      true,
		InstalledAt: f.clock.Now().AddDate(0, -6, 0),
		UpdatedAt:   f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("CreateStorefront: %v", err)
	}
}

func (f *fixture) addVersion(t *testing.T, id, storefrontID, path, hash, content string, age time.Duration) {
	t.Helper()
	err := f.stores.Versions.InsertVersion(&model.FileVersion{
		ID:           id,
		StorefrontID: storefrontID,
		ThemeID:      "theme-1",
		ThemeName:    "Dawn",
		FilePath:     path,
		ContentHash:  hash,
		Content:      content,
		FileSize:     int64(len(content)),
		ScanID:       "scan-seed",
		CreatedAt:    f.clock.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("InsertVersion: %v", err)
	}
}

func (f *fixture) addScan(t *testing.T, id, storefrontID string, age time.Duration) {
	t.Helper()
	err := f.stores.Scans.CreateScanRun(&model.ScanRun{
		ID:           id,
		StorefrontID: storefrontID,
		Trigger:      model.TriggerScheduled,
		Status:       model.ScanCompleted,
		StartedAt:    f.clock.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("CreateScanRun: %v", err)
	}
}

func (f *fixture) addRemovedScript(t *testing.T, id, storefrontID, src string, age time.Duration) {
	t.Helper()
	seen := f.clock.Now().Add(-age)
	err := f.stores.Scripts.InsertScript(&model.ScriptSnapshot{
		ID:           id,
		StorefrontID: storefrontID,
		Src:          src,
		IsRemoved:    true,
		ScanID:       "scan-seed",
		FirstSeen:    seen,
		LastSeen:     seen,
	})
	if err != nil {
		t.Fatalf("InsertScript: %v", err)
	}
}

const day = 24 * time.Hour

func TestSweepDeletesOnlyExpiredHistory(t *testing.T) {
	f := newFixture(t, config.RetentionConfig{Enabled: true, StandardDays: 7, ProfessionalDays: 30})
	f.addStorefront(t, "sf-1", model.PlanStandard)

	f.addVersion(t, "v-old", "sf-1", "assets/a.css", "hash-a", "old", 10*day)
	f.addVersion(t, "v-new", "sf-1", "assets/a.css", "hash-b", "new", 2*day)
	f.addScan(t, "scan-old", "sf-1", 10*day)
	f.addScan(t, "scan-new", "sf-1", 2*day)
	f.addRemovedScript(t, "sc-old", "sf-1", "https://old.example.com/w.js", 10*day)
	f.addRemovedScript(t, "sc-new", "sf-1", "https://new.example.com/w.js", 2*day)

	res, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.VersionsDeleted != 1 || res.ScansDeleted != 1 || res.ScriptsDeleted != 1 {
		t.Errorf("deleted counts = %d/%d/%d, want 1/1/1",
			res.VersionsDeleted, res.ScansDeleted, res.ScriptsDeleted)
	}

	kept, err := f.stores.Versions.VersionByID("v-new")
	if err != nil || kept == nil {
		t.Errorf("recent version should survive, got %v, %v", kept, err)
	}
	gone, err := f.stores.Versions.VersionByID("v-old")
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Error("expired version should be deleted")
	}
}

func TestProfessionalTierKeepsLongerHistory(t *testing.T) {
	f := newFixture(t, config.RetentionConfig{Enabled: true, StandardDays: 7, ProfessionalDays: 30})
	f.addStorefront(t, "sf-pro", model.PlanProfessional)

	// 10 days old: expired on standard, retained on professional.
	f.addVersion(t, "v-mid", "sf-pro", "assets/a.css", "hash-a", "x", 10*day)
	f.addVersion(t, "v-ancient", "sf-pro", "assets/b.css", "hash-b", "y", 40*day)

	res, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.VersionsDeleted != 1 {
		t.Errorf("VersionsDeleted = %d, want 1", res.VersionsDeleted)
	}
	if v, _ := f.stores.Versions.VersionByID("v-mid"); v == nil {
		t.Error("10-day-old version should survive on professional tier")
	}
}

func TestSweepArchivesBeforeDeleting(t *testing.T) {
	f := newFixture(t, config.RetentionConfig{
		Enabled: true, StandardDays: 7, ProfessionalDays: 30, ArchiveEnabled: true,
	})
	f.addStorefront(t, "sf-1", model.PlanStandard)

	// Two versions with identical content share one archive object.
	f.addVersion(t, "v-1", "sf-1", "assets/a.css", "hash-same", "body {}", 10*day)
	f.addVersion(t, "v-2", "sf-1", "assets/b.css", "hash-same", "body {}", 9*day)
	f.addVersion(t, "v-3", "sf-1", "assets/c.css", "hash-other", "h1 {}", 8*day)

	res, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ObjectsArchived != 2 {
		t.Errorf("ObjectsArchived = %d, want 2 (content-addressed dedupe)", res.ObjectsArchived)
	}
	if f.vault.Len() != 2 {
		t.Errorf("vault holds %d objects, want 2", f.vault.Len())
	}
	if res.VersionsDeleted != 3 {
		t.Errorf("VersionsDeleted = %d, want 3", res.VersionsDeleted)
	}

	// Archived content must round-trip through the encryptor.
	dec, err := encryption.NewTestEncryptor().Unlock("")
	if err != nil {
		t.Fatal(err)
	}
	content, err := f.sweeper.ArchivedContent(context.Background(), "hash-same", dec)
	if err != nil {
		t.Fatalf("ArchivedContent: %v", err)
	}
	if content != "body {}" {
		t.Errorf("ArchivedContent = %q, want %q", content, "body {}")
	}
}

func TestSweepWithoutArchivingLeavesVaultEmpty(t *testing.T) {
	f := newFixture(t, config.RetentionConfig{Enabled: true, StandardDays: 7})
	f.addStorefront(t, "sf-1", model.PlanStandard)
	f.addVersion(t, "v-old", "sf-1", "assets/a.css", "hash-a", "x", 10*day)

	res, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ObjectsArchived != 0 || f.vault.Len() != 0 {
		t.Errorf("archived %d objects with archiving disabled", res.ObjectsArchived)
	}
}

func TestSweepSkipsInactiveStorefronts(t *testing.T) {
	f := newFixture(t, config.RetentionConfig{Enabled: true, StandardDays: 7})
	f.addStorefront(t, "sf-1", model.PlanStandard)

	inactive := &model.Storefront{
		ID:          "sf-off",
		Domain:      "off.example.com",
		AccessToken: "token",
		PlanTier:    model.PlanStandard,
		Active:      false,
		InstalledAt: f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	if err := f.stores.Storefronts.CreateStorefront(inactive); err != nil {
		t.Fatal(err)
	}
	f.addVersion(t, "v-off", "sf-off", "assets/a.css", "hash-a", "x", 10*day)

	res, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.VersionsDeleted != 0 {
		t.Errorf("VersionsDeleted = %d, inactive storefront should be skipped", res.VersionsDeleted)
	}
	if v, _ := f.stores.Versions.VersionByID("v-off"); v == nil {
		t.Error("inactive storefront history should be untouched")
	}
}

func TestRetentionDaysDefaults(t *testing.T) {
	s := &Sweeper{cfg: config.RetentionConfig{}}

	if got := s.retentionDays(model.PlanStandard); got != defaultStandardDays {
		t.Errorf("standard days = %d, want %d", got, defaultStandardDays)
	}
	if got := s.retentionDays(model.PlanProfessional); got != defaultProfessionalDays {
		t.Errorf("professional days = %d, want %d", got, defaultProfessionalDays)
	}
}
