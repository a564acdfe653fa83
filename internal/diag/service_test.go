package diag_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"storewatch/internal/diag"
	"storewatch/internal/model"
	"storewatch/internal/signatures"
	"storewatch/internal/testutil"
)

type fixture struct {
	svc   *diag.Service
	api   *testutil.MockThemeAPI
	probe *testutil.MockScriptProbe
	sink  *testutil.CollectingSink
	db    interface{ Stores() diag.Stores }
	clock *testutil.StubClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDatabase(t)
	api := testutil.NewMockThemeAPI()
	probe := &testutil.MockScriptProbe{}
	sink := &testutil.CollectingSink{}
	clock := testutil.FixedClock()

	sigs, err := signatures.Default()
	if err != nil {
		t.Fatalf("loading signatures: %v", err)
	}

	svc := diag.NewService(db.Stores(), api, probe, sigs, sink,
		diag.NewNopLogger(), clock, testutil.NewStubIDGenerator(),
		diag.Options{RestoreBatchDelay: time.Millisecond})
	if err := svc.InitSettings(); err != nil {
		t.Fatalf("init settings: %v", err)
	}
	return &fixture{svc: svc, api: api, probe: probe, sink: sink, db: db, clock: clock}
}

func (f *fixture) addStorefront(t *testing.T, id string) *model.Storefront {
	t.Helper()
	sf := &model.Storefront{
		ID:          id,
		Domain:      id + ".example.com",
		AccessToken: "token-" + id,
		Name:        "Test Store " + id,
		PlanTier:    model.PlanStandard,
		Active:      true,
		InstalledAt: f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	if err := f.db.Stores().Storefronts.CreateStorefront(sf); err != nil {
		t.Fatalf("creating storefront: %v", err)
	}
	return sf
}

func TestFirstScanRecordsEverythingAsNew(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "layout/theme.liquid", "<html>{{ content }}</html>")
	f.api.SetAsset("theme-1", "assets/app.css", "button { color: red; }")
	f.api.SetAsset("theme-1", "snippets/loox-reviews.liquid", "{% render 'loox' %}")
	f.api.SetAsset("theme-1", "assets/logo.png", "\x89PNG")
	f.api.Scripts = []diag.ScriptTag{
		{ID: "st-1", Src: "https://static.klaviyo.com/onsite/js/klaviyo.js", Event: "onload"},
	}

	run, err := f.svc.StartOnDemandScan(context.Background(), "shop1")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if run.Status != model.ScanCompleted {
		t.Errorf("status = %q, want completed", run.Status)
	}
	// The png is binary and never fetched.
	if run.FilesTotal != 3 || run.FilesNew != 3 || run.FilesChanged != 0 {
		t.Errorf("files = total %d new %d changed %d, want 3/3/0",
			run.FilesTotal, run.FilesNew, run.FilesChanged)
	}
	if run.ScriptsTotal != 1 || run.ScriptsNew != 1 {
		t.Errorf("scripts = total %d new %d, want 1/1", run.ScriptsTotal, run.ScriptsNew)
	}
	if run.AppOwnedFiles != 1 {
		t.Errorf("app-owned files = %d, want 1 (loox snippet)", run.AppOwnedFiles)
	}

	wantApps := map[string]bool{"Loox Reviews": false, "Klaviyo": false}
	for _, app := range run.AppsIdentified {
		wantApps[app] = true
	}
	for app, seen := range wantApps {
		if !seen {
			t.Errorf("apps identified %v missing %q", run.AppsIdentified, app)
		}
	}

	// One high selector finding (bare button) plus a new script: medium.
	if run.RiskLevel != model.RiskMedium {
		t.Errorf("risk level = %q, want medium (reasons: %v)", run.RiskLevel, run.RiskReasons)
	}
	if run.SelectorIssues != 1 || len(run.IssueSample) != 1 {
		t.Errorf("selector issues = %d sample %d, want 1/1", run.SelectorIssues, len(run.IssueSample))
	}
	if run.CompletedAt == nil {
		t.Error("completed run is missing its completion time")
	}
	wantSummary := "Scanned 3 files (3 new, 0 changed, 0 deleted) and 1 scripts (1 new, 0 removed); 1 selector issues; 1 app-owned files; risk medium"
	if run.Summary != wantSummary {
		t.Errorf("summary = %q, want %q", run.Summary, wantSummary)
	}

	issues, err := f.db.Stores().Issues.UnresolvedIssues("shop1")
	if err != nil {
		t.Fatal(err)
	}
	// One selector issue and one injected-script issue.
	if len(issues) != 2 {
		t.Errorf("persisted issues = %d, want 2", len(issues))
	}

	events := f.sink.Events()
	if len(events) == 0 {
		t.Fatal("no progress events published")
	}
	if events[0].Stage != "start" || events[len(events)-1].Stage != "done" {
		t.Errorf("event stages = %q..%q, want start..done",
			events[0].Stage, events[len(events)-1].Stage)
	}
}

func TestUnchangedRescanIsLowRisk(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "layout/theme.liquid", "<html></html>")
	f.api.Scripts = []diag.ScriptTag{{ID: "st-1", Src: "https://example.com/app.js"}}

	if _, err := f.svc.StartOnDemandScan(context.Background(), "shop1"); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	f.clock.Advance(time.Hour)

	run, err := f.svc.StartOnDemandScan(context.Background(), "shop1")
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}

	if run.FilesNew != 0 || run.FilesChanged != 0 || run.FilesDeleted != 0 {
		t.Errorf("files = new %d changed %d deleted %d, want 0/0/0",
			run.FilesNew, run.FilesChanged, run.FilesDeleted)
	}
	if run.ScriptsNew != 0 || run.ScriptsRemoved != 0 {
		t.Errorf("scripts = new %d removed %d, want 0/0", run.ScriptsNew, run.ScriptsRemoved)
	}
	if run.RiskLevel != model.RiskLow {
		t.Errorf("risk = %q, want low", run.RiskLevel)
	}
	if len(run.RiskReasons) != 1 || run.RiskReasons[0] != "no significant changes detected" {
		t.Errorf("reasons = %v", run.RiskReasons)
	}

	// The ledger appends a row per scan even when nothing changed.
	versions, err := f.svc.FileHistory("shop1", "theme-1", "layout/theme.liquid", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 {
		t.Fatalf("version rows = %d, want 2", len(versions))
	}
	if versions[0].ContentHash != versions[1].ContentHash {
		t.Error("identical content produced different hashes")
	}
	if versions[0].IsNew || versions[0].IsChanged {
		t.Errorf("unchanged rescan row flagged: new=%v changed=%v",
			versions[0].IsNew, versions[0].IsChanged)
	}
	if !versions[1].IsNew {
		t.Error("first observation should be flagged new")
	}
}

func TestChangedFileAndNewScriptRaiseRisk(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "assets/theme.css", ".acme-shop-header { color: black; }")

	if _, err := f.svc.StartOnDemandScan(context.Background(), "shop1"); err != nil {
		t.Fatalf("baseline scan: %v", err)
	}
	f.clock.Advance(time.Hour)

	// An app edits the stylesheet and injects its script.
	f.api.SetAsset("theme-1", "assets/theme.css", ".acme-shop-header { color: black; }\nbutton { display: none !important; }")
	f.api.Scripts = []diag.ScriptTag{{ID: "st-9", Src: "https://widgets.privy.com/widget.js"}}

	run, err := f.svc.StartOnDemandScan(context.Background(), "shop1")
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}

	if run.FilesChanged != 1 {
		t.Errorf("files changed = %d, want 1", run.FilesChanged)
	}
	if run.ScriptsNew != 1 {
		t.Errorf("scripts new = %d, want 1", run.ScriptsNew)
	}
	if run.RiskLevel == model.RiskLow {
		t.Errorf("risk = low, want elevated (reasons %v)", run.RiskReasons)
	}

	versions, err := f.svc.FileHistory("shop1", "theme-1", "assets/theme.css", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || !versions[0].IsChanged {
		t.Fatalf("expected the newest of 2 versions to be flagged changed, got %d", len(versions))
	}
}

func TestScriptRemovalIsMarkedNotDeleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "layout/theme.liquid", "<html></html>")
	f.api.Scripts = []diag.ScriptTag{{ID: "st-1", Src: "https://example.com/one.js"}}

	if _, err := f.svc.StartOnDemandScan(context.Background(), "shop1"); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Hour)
	f.api.Scripts = nil

	run, err := f.svc.StartOnDemandScan(context.Background(), "shop1")
	if err != nil {
		t.Fatal(err)
	}
	if run.ScriptsRemoved != 1 {
		t.Errorf("scripts removed = %d, want 1", run.ScriptsRemoved)
	}

	history, err := f.svc.ScriptHistory("shop1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || !history[0].IsRemoved {
		t.Fatalf("removed script should stay in history flagged removed, got %+v", history)
	}
}

func TestScriptProbeFallbackOnMissingScope(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.SetAsset("theme-1", "layout/theme.liquid", "<html></html>")
	f.api.ListScriptsErr = &diag.APIError{Status: 403, Op: "ListScriptTags"}
	f.probe.Tags = []diag.ScriptTag{{Src: "https://cdn.judge.me/widget.js"}}

	run, err := f.svc.StartOnDemandScan(context.Background(), "shop1")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !f.probe.Called() {
		t.Fatal("probe was not used")
	}
	if run.ScriptsNew != 1 {
		t.Fatalf("scripts new = %d, want 1 from probe", run.ScriptsNew)
	}

	history, err := f.svc.ScriptHistory("shop1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if history[0].DisplayScope != diag.ScopeStorefrontProbe {
		t.Errorf("scope = %q, want %q", history[0].DisplayScope, diag.ScopeStorefrontProbe)
	}
	if history[0].LikelyApp != "Judge.me Reviews" {
		t.Errorf("likely app = %q", history[0].LikelyApp)
	}
}

func TestScanFailureIsRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addStorefront(t, "shop1")
	f.api.ListThemesErr = &diag.APIError{Status: 500, Op: "ListThemes"}

	run, err := f.svc.StartOnDemandScan(context.Background(), "shop1")
	if err == nil {
		t.Fatal("expected scan error")
	}
	if run == nil || run.Status != model.ScanFailed {
		t.Fatalf("run = %+v, want failed status", run)
	}
	if run.ErrorMessage == "" || run.CompletedAt == nil {
		t.Error("failed run is missing error message or completion time")
	}

	stored, err := f.svc.ScanByID(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.ScanFailed {
		t.Errorf("stored status = %q, want failed", stored.Status)
	}
}

func TestScanGates(t *testing.T) {
	t.Parallel()

	t.Run("kill switch", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.addStorefront(t, "shop1")
		if err := f.svc.UpdateSetting(model.SettingScanningEnabled, "false", "ops"); err != nil {
			t.Fatal(err)
		}
		_, err := f.svc.StartOnDemandScan(context.Background(), "shop1")
		if !errors.Is(err, diag.ErrReadOnly) {
			t.Fatalf("err = %v, want ErrReadOnly", err)
		}
	})

	t.Run("daily quota", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.addStorefront(t, "shop1")
		f.api.SetAsset("theme-1", "layout/theme.liquid", "<html></html>")

		date := f.clock.Now().UTC().Format("2006-01-02")
		for i := 0; i < 5; i++ {
			if err := f.db.Stores().Usage.IncrementScanCount("shop1", date, f.clock.Now()); err != nil {
				t.Fatal(err)
			}
		}
		_, err := f.svc.StartOnDemandScan(context.Background(), "shop1")
		if !errors.Is(err, diag.ErrQuotaExceeded) {
			t.Fatalf("err = %v, want ErrQuotaExceeded", err)
		}

		// A new day resets the counter.
		f.clock.Advance(24 * time.Hour)
		if _, err := f.svc.StartOnDemandScan(context.Background(), "shop1"); err != nil {
			t.Fatalf("scan on the next day failed: %v", err)
		}
	})

	t.Run("unknown storefront", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.svc.StartOnDemandScan(context.Background(), "ghost")
		if !errors.Is(err, diag.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("inactive storefront", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := f.addStorefront(t, "shop1")
		sf.Active = false
		sf.ID = "shop2"
		sf.Domain = "shop2.example.com"
		if err := f.db.Stores().Storefronts.CreateStorefront(sf); err != nil {
			t.Fatal(err)
		}
		_, err := f.svc.StartOnDemandScan(context.Background(), "shop2")
		if !errors.Is(err, diag.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestComputeRisk(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		in        diag.RiskInput
		wantLevel model.RiskLevel
		wantScore int
	}{
		{"nothing", diag.RiskInput{}, model.RiskLow, 0},
		{"one changed file", diag.RiskInput{FilesChanged: 1}, model.RiskLow, 10},
		{"six changed files", diag.RiskInput{FilesChanged: 6}, model.RiskLow, 20},
		{"eleven changed files", diag.RiskInput{FilesChanged: 11}, model.RiskMedium, 30},
		{"six new files", diag.RiskInput{FilesNew: 6}, model.RiskLow, 20},
		{"two new scripts", diag.RiskInput{ScriptsNew: 2}, model.RiskMedium, 30},
		{"removed scripts flat fee", diag.RiskInput{ScriptsRemoved: 4}, model.RiskLow, 5},
		{"selector high", diag.RiskInput{SelectorLevel: model.RiskHigh}, model.RiskMedium, 30},
		{
			"everything at once",
			diag.RiskInput{FilesChanged: 11, FilesNew: 6, ScriptsNew: 1, SelectorLevel: model.RiskHigh},
			model.RiskHigh, 95,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := diag.ComputeRisk(tc.in)
			if got.Score != tc.wantScore || got.Level != tc.wantLevel {
				t.Errorf("ComputeRisk(%+v) = score %d level %q, want %d %q",
					tc.in, got.Score, got.Level, tc.wantScore, tc.wantLevel)
			}
			// Pure: a second call is identical.
			again := diag.ComputeRisk(tc.in)
			if again.Score != got.Score || len(again.Reasons) != len(got.Reasons) {
				t.Error("ComputeRisk is not deterministic")
			}
		})
	}
}

func TestHashContentMatchesKnownVector(t *testing.T) {
	t.Parallel()

	// SHA-256 of the empty string.
	if got := diag.HashContent(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("HashContent(\"\") = %q", got)
	}
	if diag.HashContent("a") == diag.HashContent("b") {
		t.Error("different content produced the same hash")
	}
}
