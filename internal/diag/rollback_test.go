package diag_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"storewatch/internal/diag"
	"storewatch/internal/model"
)

func scanOnce(t *testing.T, f *fixture, storefrontID string) *model.ScanRun {
	t.Helper()
	run, err := f.svc.StartOnDemandScan(context.Background(), storefrontID)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return run
}

func TestRollbackFileRestoresContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "assets/theme.css", "original")
	scanOnce(t, f, "shop1")

	f.clock.Advance(time.Hour)
	f.api.SetAsset("theme-1", "assets/theme.css", "broken by app")
	scanOnce(t, f, "shop1")

	versions, err := f.svc.FileHistory("shop1", "theme-1", "assets/theme.css", 10)
	if err != nil {
		t.Fatal(err)
	}
	target := versions[1] // older version, content "original"

	outcome, err := f.svc.RollbackFile(context.Background(), diag.RollbackRequest{
		StorefrontID: "shop1",
		VersionID:    target.ID,
		PerformedBy:  "merchant",
	})
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if outcome.Confirmation != nil {
		t.Fatal("unexpected confirmation request for a merchant-owned file")
	}
	if outcome.Action.Status != model.RollbackCompleted {
		t.Errorf("status = %q, want completed", outcome.Action.Status)
	}
	if outcome.Action.FromVersionID != versions[0].ID || outcome.Action.ToVersionID != target.ID {
		t.Errorf("audit from/to = %s/%s", outcome.Action.FromVersionID, outcome.Action.ToVersionID)
	}

	if got, _ := f.api.Asset("theme-1", "assets/theme.css"); got != "original" {
		t.Errorf("live content = %q, want original", got)
	}

	history, err := f.svc.RollbackHistory("shop1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != model.RollbackCompleted {
		t.Fatalf("history = %+v, want one completed action", history)
	}
}

func TestRollbackAppOwnedFileNeedsConfirmation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "snippets/loox-reviews.liquid", "v1")
	scanOnce(t, f, "shop1")
	f.clock.Advance(time.Hour)
	f.api.SetAsset("theme-1", "snippets/loox-reviews.liquid", "v2")
	scanOnce(t, f, "shop1")

	versions, err := f.svc.FileHistory("shop1", "theme-1", "snippets/loox-reviews.liquid", 10)
	if err != nil {
		t.Fatal(err)
	}
	target := versions[1]

	outcome, err := f.svc.RollbackFile(context.Background(), diag.RollbackRequest{
		StorefrontID: "shop1",
		VersionID:    target.ID,
	})
	if err != nil {
		t.Fatalf("rollback errored: %v", err)
	}
	if outcome.Confirmation == nil {
		t.Fatal("expected a confirmation request for an app-owned file")
	}
	if outcome.Confirmation.AppOwnerGuess != "Loox Reviews" {
		t.Errorf("owner guess = %q", outcome.Confirmation.AppOwnerGuess)
	}

	// No write and no audit row happened.
	if got, _ := f.api.Asset("theme-1", "snippets/loox-reviews.liquid"); got != "v2" {
		t.Errorf("content = %q, confirmation must not write", got)
	}
	history, err := f.svc.RollbackHistory("shop1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Fatalf("history = %+v, want empty", history)
	}

	// Confirmed retry proceeds and records the acknowledgment.
	outcome, err = f.svc.RollbackFile(context.Background(), diag.RollbackRequest{
		StorefrontID: "shop1",
		VersionID:    target.ID,
		Confirmed:    true,
	})
	if err != nil {
		t.Fatalf("confirmed rollback failed: %v", err)
	}
	if outcome.Action == nil || !outcome.Action.UserConfirmed || !outcome.Action.WasAppOwned {
		t.Fatalf("action = %+v, want confirmed app-owned rollback", outcome.Action)
	}
	if got, _ := f.api.Asset("theme-1", "snippets/loox-reviews.liquid"); got != "v1" {
		t.Errorf("content = %q, want v1", got)
	}
}

func TestRollbackFailureKeepsAuditRow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "assets/theme.css", "v1")
	scanOnce(t, f, "shop1")
	f.clock.Advance(time.Hour)
	f.api.SetAsset("theme-1", "assets/theme.css", "v2")
	scanOnce(t, f, "shop1")

	versions, err := f.svc.FileHistory("shop1", "theme-1", "assets/theme.css", 10)
	if err != nil {
		t.Fatal(err)
	}
	f.api.PutAssetErr = map[string]error{
		"assets/theme.css": &diag.APIError{Status: 500, Op: "PutAsset"},
	}

	outcome, err := f.svc.RollbackFile(context.Background(), diag.RollbackRequest{
		StorefrontID: "shop1",
		VersionID:    versions[1].ID,
	})
	if err == nil {
		t.Fatal("expected rollback error")
	}
	if outcome == nil || outcome.Action == nil || outcome.Action.Status != model.RollbackFailed {
		t.Fatalf("outcome = %+v, want failed action", outcome)
	}

	history, err := f.svc.RollbackHistory("shop1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != model.RollbackFailed || history[0].ErrorMessage == "" {
		t.Fatalf("history = %+v, want one failed action with error", history)
	}
}

func TestRollbackGates(t *testing.T) {
	t.Parallel()

	t.Run("kill switch", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.addStorefront(t, "shop1")
		if err := f.svc.UpdateSetting(model.SettingRestoresEnabled, "false", "ops"); err != nil {
			t.Fatal(err)
		}
		_, err := f.svc.RollbackFile(context.Background(), diag.RollbackRequest{
			StorefrontID: "shop1", VersionID: "whatever",
		})
		if !errors.Is(err, diag.ErrReadOnly) {
			t.Fatalf("err = %v, want ErrReadOnly", err)
		}
	})

	t.Run("daily quota", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.addStorefront(t, "shop1")
		date := f.clock.Now().UTC().Format("2006-01-02")
		for i := 0; i < 3; i++ {
			if err := f.db.Stores().Usage.IncrementRestoreCount("shop1", date, f.clock.Now()); err != nil {
				t.Fatal(err)
			}
		}
		_, err := f.svc.RollbackFile(context.Background(), diag.RollbackRequest{
			StorefrontID: "shop1", VersionID: "whatever",
		})
		if !errors.Is(err, diag.ErrQuotaExceeded) {
			t.Fatalf("err = %v, want ErrQuotaExceeded", err)
		}
	})

	t.Run("unknown version", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.addStorefront(t, "shop1")
		_, err := f.svc.RollbackFile(context.Background(), diag.RollbackRequest{
			StorefrontID: "shop1", VersionID: "missing",
		})
		if !errors.Is(err, diag.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("cross storefront version", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.addStorefront(t, "shop1")
		f.addStorefront(t, "shop2")
		f.api.SetAsset("theme-1", "assets/theme.css", "v1")
		scanOnce(t, f, "shop1")

		versions, err := f.svc.FileHistory("shop1", "theme-1", "assets/theme.css", 10)
		if err != nil {
			t.Fatal(err)
		}
		_, err = f.svc.RollbackFile(context.Background(), diag.RollbackRequest{
			StorefrontID: "shop2", VersionID: versions[0].ID,
		})
		if !errors.Is(err, diag.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound for another store's version", err)
		}
	})
}

func TestRestoreThemeToDate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	// Day 1 state.
	f.api.SetAsset("theme-1", "assets/a.css", "a1")
	f.api.SetAsset("theme-1", "assets/b.css", "b1")
	f.api.SetAsset("theme-1", "assets/c.css", "c-stable")
	scanOnce(t, f, "shop1")
	day1 := f.clock.Now()

	// Two days later everything but c changed.
	f.clock.Advance(48 * time.Hour)
	f.api.SetAsset("theme-1", "assets/a.css", "a2")
	f.api.SetAsset("theme-1", "assets/b.css", "b2")
	scanOnce(t, f, "shop1")

	f.api.PutDelay = 5 * time.Millisecond
	result, err := f.svc.RestoreThemeToDate(context.Background(), "shop1", "theme-1", day1)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if result.Restored != 2 {
		t.Errorf("restored = %d, want 2 (files: %+v)", result.Restored, result.Files)
	}
	// c never changed, so its target equals its current content.
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}
	if got, _ := f.api.Asset("theme-1", "assets/a.css"); got != "a1" {
		t.Errorf("a.css = %q, want a1", got)
	}
	if got, _ := f.api.Asset("theme-1", "assets/b.css"); got != "b1" {
		t.Errorf("b.css = %q, want b1", got)
	}
	if got, _ := f.api.Asset("theme-1", "assets/c.css"); got != "c-stable" {
		t.Errorf("c.css = %q, want untouched", got)
	}

	if f.api.PutPeak > 2 {
		t.Errorf("concurrent writes peaked at %d, want at most 2", f.api.PutPeak)
	}

	// Exactly one restore consumed quota.
	usage, err := f.db.Stores().Usage.Usage("shop1", f.clock.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatal(err)
	}
	if usage == nil || usage.RestoreCount != 1 {
		t.Fatalf("usage = %+v, want restore count 1", usage)
	}
}

func TestRestoreThemeCollectsPartialFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "assets/a.css", "a1")
	f.api.SetAsset("theme-1", "assets/b.css", "b1")
	scanOnce(t, f, "shop1")
	day1 := f.clock.Now()

	f.clock.Advance(48 * time.Hour)
	f.api.SetAsset("theme-1", "assets/a.css", "a2")
	f.api.SetAsset("theme-1", "assets/b.css", "b2")
	scanOnce(t, f, "shop1")

	f.api.PutAssetErr = map[string]error{
		"assets/b.css": &diag.APIError{Status: 500, Op: "PutAsset"},
	}

	result, err := f.svc.RestoreThemeToDate(context.Background(), "shop1", "theme-1", day1)
	if err != nil {
		t.Fatalf("restore returned error: %v", err)
	}
	if result.Restored != 1 || result.Failed != 1 {
		t.Fatalf("restored/failed = %d/%d, want 1/1", result.Restored, result.Failed)
	}
	// No compensation: the successful write stays.
	if got, _ := f.api.Asset("theme-1", "assets/a.css"); got != "a1" {
		t.Errorf("a.css = %q, want a1 despite b failing", got)
	}
}

func TestRestoreThemeNoHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	_, err := f.svc.RestoreThemeToDate(context.Background(), "shop1", "theme-1", f.clock.Now())
	if !errors.Is(err, diag.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "assets/a.css", "short")
	f.api.SetAsset("theme-1", "assets/b.css", "other")
	scanOnce(t, f, "shop1")
	f.clock.Advance(time.Hour)
	f.api.SetAsset("theme-1", "assets/a.css", "much longer content")
	scanOnce(t, f, "shop1")

	versions, err := f.svc.FileHistory("shop1", "theme-1", "assets/a.css", 10)
	if err != nil {
		t.Fatal(err)
	}

	// Argument order must not matter.
	cmp, err := f.svc.CompareVersions(versions[0].ID, versions[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if cmp.Identical {
		t.Error("different content reported identical")
	}
	if cmp.OlderID != versions[1].ID || cmp.NewerID != versions[0].ID {
		t.Errorf("older/newer = %s/%s", cmp.OlderID, cmp.NewerID)
	}
	if want := int64(len("much longer content") - len("short")); cmp.SizeDelta != want {
		t.Errorf("size delta = %d, want %d", cmp.SizeDelta, want)
	}

	// Different files refuse to compare.
	other, err := f.svc.FileHistory("shop1", "theme-1", "assets/b.css", 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CompareVersions(versions[0].ID, other[0].ID); err == nil {
		t.Error("expected error comparing different files")
	}
}

func TestFilesWithHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "assets/a.css", "a1")
	scanOnce(t, f, "shop1")
	f.clock.Advance(time.Hour)
	scanOnce(t, f, "shop1")

	files, err := f.svc.FilesWithHistory("shop1", "theme-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].FilePath != "assets/a.css" || files[0].VersionCount != 2 {
		t.Fatalf("files = %+v, want one entry with 2 versions", files)
	}
}
