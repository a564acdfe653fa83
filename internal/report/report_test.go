package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"storewatch/internal/diag"
	"storewatch/internal/model"
	"storewatch/internal/signatures"
	"storewatch/internal/testutil"
)

type fixture struct {
	gen    *Generator
	stores diag.Stores
	clock  *testutil.StubClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDatabase(t)
	stores := db.Stores()
	clock := testutil.FixedClock()
	sigs, err := signatures.Default()
	if err != nil {
		t.Fatalf("loading signatures: %v", err)
	}
	svc := diag.NewService(stores, testutil.NewMockThemeAPI(), nil, sigs,
		nil, diag.NewNopLogger(), clock, testutil.NewStubIDGenerator(), diag.Options{})

	return &fixture{
		gen:    NewGenerator(svc, stores, clock),
		stores: stores,
		clock:  clock,
	}
}

func (f *fixture) addStorefront(t *testing.T, id string) {
	t.Helper()
	err := f.stores.Storefronts.CreateStorefront(&model.Storefront{
		ID:          id,
		Domain:      id + ".example.com",
		AccessToken: "token",
		PlanTier:    model.PlanStandard,
		Active:      true,
		InstalledAt: f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("CreateStorefront: %v", err)
	}
}

func (f *fixture) addScan(t *testing.T, run *model.ScanRun) {
	t.Helper()
	if run.StartedAt.IsZero() {
		run.StartedAt = f.clock.Now()
	}
	if err := f.stores.Scans.CreateScanRun(run); err != nil {
		t.Fatalf("CreateScanRun: %v", err)
	}
}

func TestScanReportRendersRunDetails(t *testing.T) {
	f := newFixture(t)
	f.addStorefront(t, "sf-1")

	done := f.clock.Now()
	f.addScan(t, &model.ScanRun{
		ID:             "scan-1",
		StorefrontID:   "sf-1",
		Trigger:        model.TriggerOnDemand,
		Status:         model.ScanCompleted,
		ThemeID:        "theme-1",
		ThemeName:      "Dawn",
		FilesTotal:     12,
		FilesNew:       2,
		FilesChanged:   1,
		ScriptsTotal:   3,
		ScriptsNew:     1,
		AppsIdentified: []string{"Loox Reviews"},
		SelectorIssues: 2,
		IssueSample: []model.SelectorIssueSummary{
			{FilePath: "assets/app.css", Selector: ".button", Severity: "high", Description: "overrides a global class"},
		},
		RiskLevel:   model.RiskMedium,
		RiskReasons: []string{"1 new injected script detected"},
		Summary:     "Scanned 12 files (2 new, 1 changed, 0 deleted) and 3 scripts (1 new, 0 removed); 2 selector issues; 1 app-owned files; risk medium",
		StartedAt:   f.clock.Now().Add(-time.Minute),
		CompletedAt: &done,
	})

	md, err := f.gen.ScanReport("sf-1", "scan-1")
	if err != nil {
		t.Fatalf("ScanReport: %v", err)
	}

	for _, want := range []string{
		"# Theme Scan Report: sf-1.example.com",
		"**Risk level:** medium",
		"| Files scanned | 12 |",
		"- Loox Reviews",
		"| assets/app.css | `.button` | high |",
		"1 new injected script detected",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestScanReportDefaultsToLatestRun(t *testing.T) {
	f := newFixture(t)
	f.addStorefront(t, "sf-1")

	f.addScan(t, &model.ScanRun{
		ID: "scan-old", StorefrontID: "sf-1", Trigger: model.TriggerScheduled,
		Status: model.ScanCompleted, RiskLevel: model.RiskLow,
		StartedAt: f.clock.Now().Add(-2 * time.Hour),
	})
	f.addScan(t, &model.ScanRun{
		ID: "scan-new", StorefrontID: "sf-1", Trigger: model.TriggerScheduled,
		Status: model.ScanCompleted, RiskLevel: model.RiskHigh,
		StartedAt: f.clock.Now().Add(-time.Hour),
	})

	md, err := f.gen.ScanReport("sf-1", "")
	if err != nil {
		t.Fatalf("ScanReport: %v", err)
	}
	if !strings.Contains(md, "scan-new") {
		t.Error("report should cover the most recent run")
	}
}

func TestScanReportUnknownTargets(t *testing.T) {
	f := newFixture(t)
	f.addStorefront(t, "sf-1")
	f.addScan(t, &model.ScanRun{
		ID: "scan-1", StorefrontID: "sf-1", Trigger: model.TriggerScheduled,
		Status: model.ScanCompleted,
	})
	f.addStorefront(t, "sf-2")

	if _, err := f.gen.ScanReport("sf-missing", ""); !errors.Is(err, diag.ErrNotFound) {
		t.Errorf("unknown storefront: err = %v, want ErrNotFound", err)
	}
	// A scan belonging to a different storefront must not leak.
	if _, err := f.gen.ScanReport("sf-2", "scan-1"); !errors.Is(err, diag.ErrNotFound) {
		t.Errorf("foreign scan: err = %v, want ErrNotFound", err)
	}
}

func TestDiagnosisReportListsSuspectsAndSteps(t *testing.T) {
	f := newFixture(t)
	f.addStorefront(t, "sf-1")

	now := f.clock.Now()
	err := f.stores.Issues.InsertIssue(&model.Issue{
		ID: "issue-1", StorefrontID: "sf-1", ThemeID: "theme-1",
		FilePath: "assets/app.css", IssueType: model.IssueGlobalClass,
		Severity: "high", Selector: ".button", Confidence: 50,
		DetectedAt: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = f.stores.Apps.UpsertApp(&model.AppInstall{
		ID: "app-1", StorefrontID: "sf-1", AppName: "PageFly",
		InstalledAt: now.Add(-12 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	md, err := f.gen.DiagnosisReport("sf-1")
	if err != nil {
		t.Fatalf("DiagnosisReport: %v", err)
	}

	for _, want := range []string{
		"# Issue Diagnosis: sf-1.example.com",
		"**Open issues:** 1",
		"PageFly",
		"## Suggested Steps",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestExportScanHistoryCSV(t *testing.T) {
	f := newFixture(t)
	f.addStorefront(t, "sf-1")
	f.addScan(t, &model.ScanRun{
		ID: "scan-1", StorefrontID: "sf-1", Trigger: model.TriggerOnDemand,
		Status: model.ScanCompleted, ThemeName: "Dawn",
		FilesTotal: 5, FilesChanged: 2, RiskLevel: model.RiskLow,
		StartedAt: f.clock.Now(),
	})

	var buf bytes.Buffer
	if err := f.gen.ExportScanHistory(&buf, "sf-1", 50); err != nil {
		t.Fatalf("ExportScanHistory: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv has %d lines, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "scan_id,") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "scan-1") || !strings.Contains(lines[1], "Dawn") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestExportRollbackHistoryCSV(t *testing.T) {
	f := newFixture(t)
	f.addStorefront(t, "sf-1")

	err := f.stores.Audit.CreateRollback(&model.RollbackAction{
		ID: "rb-1", StorefrontID: "sf-1", ThemeID: "theme-1",
		FilePath: "assets/app.css", ToVersionID: "v-1",
		Mode: model.ModeDirectLive, Status: model.RollbackCompleted,
		PerformedBy: "merchant", CreatedAt: f.clock.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := f.gen.ExportRollbackHistory(&buf, "sf-1", 50); err != nil {
		t.Fatalf("ExportRollbackHistory: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "rollback_id,") || !strings.Contains(out, "rb-1") {
		t.Errorf("csv = %q", out)
	}
}
