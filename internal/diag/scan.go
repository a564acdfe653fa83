package diag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storewatch/internal/cssrisk"
	"storewatch/internal/model"
)

// RiskInput is everything the risk function considers. Keeping it a plain
// value makes the scoring independently testable.
type RiskInput struct {
	FilesChanged   int
	FilesNew       int
	ScriptsNew     int
	ScriptsRemoved int
	SelectorLevel  model.RiskLevel
}

// RiskVerdict is the scored outcome of one scan.
type RiskVerdict struct {
	Score   int
	Level   model.RiskLevel
	Reasons []string
}

// ComputeRisk scores a scan's observations. Pure: same input, same verdict,
// reasons in a fixed order.
//
// Weights: changed files 10/20/30 at >0/>5/>10; new files 10/20 at >0/>5;
// 15 per new script; 5 total when any scripts were removed; selector level
// medium adds 15, high adds 30. Level high at score >= 50, medium at >= 25.
func ComputeRisk(in RiskInput) RiskVerdict {
	var v RiskVerdict

	switch {
	case in.FilesChanged > 10:
		v.Score += 30
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d files changed", in.FilesChanged))
	case in.FilesChanged > 5:
		v.Score += 20
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d files changed", in.FilesChanged))
	case in.FilesChanged > 0:
		v.Score += 10
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d files changed", in.FilesChanged))
	}

	switch {
	case in.FilesNew > 5:
		v.Score += 20
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d new files added", in.FilesNew))
	case in.FilesNew > 0:
		v.Score += 10
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d new files added", in.FilesNew))
	}

	if in.ScriptsNew > 0 {
		v.Score += 15 * in.ScriptsNew
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d new external scripts detected", in.ScriptsNew))
	}
	if in.ScriptsRemoved > 0 {
		v.Score += 5
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d external scripts removed", in.ScriptsRemoved))
	}

	switch in.SelectorLevel {
	case model.RiskHigh:
		v.Score += 30
		v.Reasons = append(v.Reasons, "high-risk style selectors detected")
	case model.RiskMedium:
		v.Score += 15
		v.Reasons = append(v.Reasons, "medium-risk style selectors detected")
	}

	switch {
	case v.Score >= 50:
		v.Level = model.RiskHigh
	case v.Score >= 25:
		v.Level = model.RiskMedium
	default:
		v.Level = model.RiskLow
	}

	if len(v.Reasons) == 0 {
		v.Reasons = []string{"no significant changes detected"}
	}
	return v
}

// buildSummary renders the one-line scan banner. Deterministic for a given
// run so reports and tests can rely on it.
func buildSummary(run *model.ScanRun) string {
	return fmt.Sprintf("Scanned %d files (%d new, %d changed, %d deleted) and %d scripts (%d new, %d removed); %d selector issues; %d app-owned files; risk %s",
		run.FilesTotal, run.FilesNew, run.FilesChanged, run.FilesDeleted,
		run.ScriptsTotal, run.ScriptsNew, run.ScriptsRemoved,
		run.SelectorIssues, run.AppOwnedFiles, run.RiskLevel)
}

// StartOnDemandScan gates and runs a merchant-triggered scan: the scanning
// kill switch must be on and the storefront's daily on-demand quota not yet
// spent. The usage counter is incremented before the scan starts, so a scan
// that fails still consumes quota.
func (s *Service) StartOnDemandScan(ctx context.Context, storefrontID string) (*model.ScanRun, error) {
	enabled, err := s.boolSetting(model.SettingScanningEnabled, true)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, fmt.Errorf("scanning: %w", ErrReadOnly)
	}

	limit, err := s.intSetting(model.SettingMaxOnDemandScans, 5)
	if err != nil {
		return nil, err
	}
	date := s.usageDate()
	usage, err := s.stores.Usage.Usage(storefrontID, date)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	if usage != nil && usage.ScanCount >= limit {
		return nil, fmt.Errorf("on-demand scans (%d/day): %w", limit, ErrQuotaExceeded)
	}
	if err := s.stores.Usage.IncrementScanCount(storefrontID, date, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("count scan usage: %w", err)
	}

	return s.RunScan(ctx, storefrontID, model.TriggerOnDemand)
}

// RunScan executes the full scan pipeline for one storefront: snapshot the
// published theme, reconcile script snapshots, analyze selector risk in
// new and changed files, persist issues, score the run. The run record
// moves pending -> running -> completed | failed; a failed run keeps the
// error message.
func (s *Service) RunScan(ctx context.Context, storefrontID, trigger string) (*model.ScanRun, error) {
	sf, err := s.storefront(storefrontID)
	if err != nil {
		return nil, err
	}

	// Resolve the previous scan before this run is recorded, so the deleted-
	// file comparison has a baseline.
	prevScan, err := s.stores.Scans.LatestScan(sf.ID)
	if err != nil {
		return nil, fmt.Errorf("load previous scan: %w", err)
	}

	run := &model.ScanRun{
		ID:           s.idGen.New(),
		StorefrontID: sf.ID,
		Trigger:      trigger,
		Status:       model.ScanPending,
		StartedAt:    s.clock.Now(),
	}
	if err := s.stores.Scans.CreateScanRun(run); err != nil {
		return nil, fmt.Errorf("create scan run: %w", err)
	}

	run.Status = model.ScanRunning
	if err := s.stores.Scans.UpdateScanRun(run); err != nil {
		return nil, fmt.Errorf("update scan run: %w", err)
	}
	s.events.Publish(ScanEvent{ScanID: run.ID, Stage: "start", Message: "scan started"})
	s.logger.Info("scan started", "scan", run.ID, "storefront", sf.ID, "trigger", trigger)

	if err := s.executeScan(ctx, sf, run, prevScan); err != nil {
		now := s.clock.Now()
		run.Status = model.ScanFailed
		run.ErrorMessage = err.Error()
		run.CompletedAt = &now
		if updErr := s.stores.Scans.UpdateScanRun(run); updErr != nil {
			s.logger.Error("failed to record scan failure", "scan", run.ID, "error", updErr)
		}
		s.events.Publish(ScanEvent{ScanID: run.ID, Stage: "failed", Message: err.Error()})
		s.logger.Error("scan failed", "scan", run.ID, "storefront", sf.ID, "error", err)
		return run, err
	}

	now := s.clock.Now()
	run.Status = model.ScanCompleted
	run.CompletedAt = &now
	run.Summary = buildSummary(run)
	if err := s.stores.Scans.UpdateScanRun(run); err != nil {
		return nil, fmt.Errorf("finalize scan run: %w", err)
	}
	s.events.Publish(ScanEvent{ScanID: run.ID, Stage: "done", Message: run.Summary})
	s.logger.Info("scan completed", "scan", run.ID, "storefront", sf.ID,
		"risk", run.RiskLevel, "files", run.FilesTotal, "scripts", run.ScriptsTotal)
	return run, nil
}

func (s *Service) executeScan(ctx context.Context, sf *model.Storefront, run *model.ScanRun, prevScan *model.ScanRun) error {
	snap, err := s.CaptureTheme(ctx, sf, run.ID)
	if err != nil {
		return err
	}
	run.ThemeID = snap.ThemeID
	run.ThemeName = snap.ThemeName
	run.FilesTotal = snap.FilesTotal
	run.FilesNew = snap.FilesNew
	run.FilesChanged = snap.FilesChanged
	run.AppOwnedFiles = snap.AppOwned
	run.FilesDeleted = s.countDeleted(prevScan, snap)

	scripts, err := s.TrackScripts(ctx, sf, run.ID)
	if err != nil {
		return err
	}
	run.ScriptsTotal = scripts.Total
	run.ScriptsNew = scripts.New
	run.ScriptsRemoved = scripts.Removed

	selectorLevel := s.analyzeSelectors(sf, run, snap)
	run.AppsIdentified = identifiedApps(snap, scripts)

	if err := s.recordScriptIssues(sf, run, scripts); err != nil {
		return err
	}

	verdict := ComputeRisk(RiskInput{
		FilesChanged:   run.FilesChanged,
		FilesNew:       run.FilesNew,
		ScriptsNew:     run.ScriptsNew,
		ScriptsRemoved: run.ScriptsRemoved,
		SelectorLevel:  selectorLevel,
	})
	run.RiskLevel = verdict.Level
	run.RiskReasons = verdict.Reasons
	return nil
}

// countDeleted compares the previous scan's observed paths with the current
// snapshot. With no previous completed scan nothing counts as deleted.
func (s *Service) countDeleted(prevScan *model.ScanRun, snap *SnapshotResult) int {
	if prevScan == nil || prevScan.Status != model.ScanCompleted {
		return 0
	}
	prevVersions, err := s.stores.Versions.VersionsByScan(prevScan.ID)
	if err != nil {
		s.logger.Warn("could not load previous scan versions", "scan", prevScan.ID, "error", err)
		return 0
	}
	current := make(map[string]struct{}, len(snap.Versions))
	for _, v := range snap.Versions {
		current[v.FilePath] = struct{}{}
	}
	deleted := 0
	for _, v := range prevVersions {
		if _, ok := current[v.FilePath]; !ok {
			deleted++
		}
	}
	return deleted
}

// analyzeSelectors runs the selector analyzer over new and changed files,
// persists each finding as an issue row and stores a capped sample on the
// run itself. Returns the aggregate selector risk level.
func (s *Service) analyzeSelectors(sf *model.Storefront, run *model.ScanRun, snap *SnapshotResult) model.RiskLevel {
	var findings []cssrisk.Issue
	for _, v := range snap.Versions {
		if !v.IsNew && !v.IsChanged {
			continue
		}
		if !cssrisk.IsScannable(v.FilePath) {
			continue
		}
		findings = append(findings, cssrisk.ScanThemeFile(v.Content, v.FilePath)...)
	}

	run.SelectorIssues = len(findings)
	for i, f := range findings {
		if i < s.options.IssueSampleCap {
			run.IssueSample = append(run.IssueSample, model.SelectorIssueSummary{
				FilePath:    f.FilePath,
				Selector:    f.Selector,
				Severity:    f.Severity,
				Description: f.Description,
			})
		}
		owned, owner := s.sigs.MatchPath(f.FilePath)
		issue := &model.Issue{
			ID:           s.idGen.New(),
			StorefrontID: sf.ID,
			ThemeID:      run.ThemeID,
			FilePath:     f.FilePath,
			IssueType:    f.IssueType,
			Severity:     f.Severity,
			Selector:     f.Selector,
			Confidence:   50,
			DetectedAt:   s.clock.Now(),
		}
		if owned && owner != "" {
			issue.LikelySource = owner
			issue.Confidence = 75
		}
		if err := s.stores.Issues.InsertIssue(issue); err != nil {
			s.logger.Warn("could not persist selector issue", "scan", run.ID, "error", err)
		}
	}

	return model.RiskLevel(cssrisk.Assess(findings).Level)
}

// recordScriptIssues persists one issue per newly observed script.
func (s *Service) recordScriptIssues(sf *model.Storefront, run *model.ScanRun, scripts *ScriptResult) error {
	for _, snap := range scripts.NewScripts {
		issue := &model.Issue{
			ID:           s.idGen.New(),
			StorefrontID: sf.ID,
			ThemeID:      run.ThemeID,
			IssueType:    model.IssueInjectedScript,
			Severity:     cssrisk.SeverityMedium,
			Selector:     snap.Src,
			LikelySource: snap.LikelyApp,
			Confidence:   50,
			DetectedAt:   s.clock.Now(),
		}
		if snap.LikelyApp != "" {
			issue.Confidence = 80
		}
		if err := s.stores.Issues.InsertIssue(issue); err != nil {
			return fmt.Errorf("record script issue: %w", err)
		}
	}
	return nil
}

// identifiedApps collects the distinct app names observed in this scan,
// sorted for stable output.
func identifiedApps(snap *SnapshotResult, scripts *ScriptResult) []string {
	set := make(map[string]struct{})
	for _, v := range snap.Versions {
		if v.AppOwnerGuess != "" {
			set[v.AppOwnerGuess] = struct{}{}
		}
	}
	for _, sc := range scripts.NewScripts {
		if sc.LikelyApp != "" {
			set[sc.LikelyApp] = struct{}{}
		}
	}
	apps := make([]string, 0, len(set))
	for app := range set {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

// ScanByID returns one scan run.
func (s *Service) ScanByID(id string) (*model.ScanRun, error) {
	run, err := s.stores.Scans.ScanByID(id)
	if err != nil {
		return nil, fmt.Errorf("load scan: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
	}
	return run, nil
}

// ScanHistory lists recent scan runs for a storefront, newest first.
func (s *Service) ScanHistory(storefrontID string, limit int) ([]*model.ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.stores.Scans.ScanHistory(storefrontID, limit)
	if err != nil {
		return nil, fmt.Errorf("load scan history: %w", err)
	}
	return runs, nil
}

// RunTimedScan runs a scheduled scan under a hard deadline. A timeout marks
// the run failed through the normal failure path.
func (s *Service) RunTimedScan(ctx context.Context, storefrontID string, timeout time.Duration) (*model.ScanRun, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.RunScan(ctx, storefrontID, model.TriggerScheduled)
}
