package diag

import (
	"time"

	"storewatch/internal/model"
)

// The history model is deliberately asymmetric: file versions are an
// append-only ledger (required for rollback-by-date), while script
// snapshots are updated in place (required for "currently active" listings).
// The two interfaces below keep that distinction explicit.

// FileHistorySummary describes one file path with recorded version history.
type FileHistorySummary struct {
	FilePath      string `json:"file_path"`
	VersionCount  int    `json:"version_count"`
	IsAppOwned    bool   `json:"is_app_owned"`
	AppOwnerGuess string `json:"app_owner_guess,omitempty"`
}

// VersionStore is the append-only per-file version ledger.
// Lookups that find nothing return (nil, nil).
type VersionStore interface {
	// InsertVersion appends a new version row. Rows are never updated.
	InsertVersion(v *model.FileVersion) error

	// VersionByID returns a single version row.
	VersionByID(id string) (*model.FileVersion, error)

	// LatestVersion returns the most recent row for (storefront, theme, path).
	LatestVersion(storefrontID, themeID, filePath string) (*model.FileVersion, error)

	// LatestVersionBefore returns the most recent row for the key created
	// strictly before cutoff.
	LatestVersionBefore(storefrontID, themeID, filePath string, cutoff time.Time) (*model.FileVersion, error)

	// VersionsForFile returns up to limit rows for the key, newest first.
	VersionsForFile(storefrontID, themeID, filePath string, limit int) ([]*model.FileVersion, error)

	// VersionsByScan returns all rows written by one scan.
	VersionsByScan(scanID string) ([]*model.FileVersion, error)

	// FilesWithHistory lists file paths with more than one recorded version,
	// ordered by path.
	FilesWithHistory(storefrontID, themeID string) ([]FileHistorySummary, error)

	// VersionsBefore returns all rows for a storefront created before cutoff.
	// Used by the retention sweep to archive content prior to deletion.
	VersionsBefore(storefrontID string, cutoff time.Time) ([]*model.FileVersion, error)

	// DeleteVersionsBefore removes rows created before cutoff. Retention only.
	DeleteVersionsBefore(storefrontID string, cutoff time.Time) (int64, error)
}

// ScriptStore holds the update-in-place script snapshot table.
type ScriptStore interface {
	// ActiveScripts returns all not-yet-removed snapshots for a storefront.
	ActiveScripts(storefrontID string) ([]*model.ScriptSnapshot, error)

	// InsertScript records a newly observed script URL.
	InsertScript(s *model.ScriptSnapshot) error

	// TouchScript refreshes last-seen and scan linkage on an existing
	// snapshot and clears its is_new flag.
	TouchScript(id, scanID string, seen time.Time) error

	// MarkScriptRemoved flags a snapshot absent from the current scan.
	MarkScriptRemoved(id, scanID string) error

	// ScriptHistory returns up to limit snapshots, newest first seen first.
	ScriptHistory(storefrontID string, limit int) ([]*model.ScriptSnapshot, error)

	// DeleteRemovedScriptsBefore prunes removed snapshots last seen before
	// cutoff. Retention only.
	DeleteRemovedScriptsBefore(storefrontID string, cutoff time.Time) (int64, error)
}

// ScanStore persists scan run records.
type ScanStore interface {
	CreateScanRun(run *model.ScanRun) error
	UpdateScanRun(run *model.ScanRun) error
	ScanByID(id string) (*model.ScanRun, error)
	LatestScan(storefrontID string) (*model.ScanRun, error)
	ScanHistory(storefrontID string, limit int) ([]*model.ScanRun, error)
	DeleteScansBefore(storefrontID string, cutoff time.Time) (int64, error)
}

// AuditStore persists rollback audit records.
type AuditStore interface {
	CreateRollback(a *model.RollbackAction) error
	MarkRollbackCompleted(id string, at time.Time) error
	MarkRollbackFailed(id, errMsg string, at time.Time) error
	RollbackHistory(storefrontID string, limit int) ([]*model.RollbackAction, error)
}

// IssueStore persists detected issues.
type IssueStore interface {
	InsertIssue(i *model.Issue) error
	UnresolvedIssues(storefrontID string) ([]*model.Issue, error)
	ResolveIssue(id, notes string, at time.Time) error
}

// AppStore holds app install records consumed by the correlation engine.
type AppStore interface {
	UpsertApp(a *model.AppInstall) error
	AppsInstalledSince(storefrontID string, since time.Time) ([]*model.AppInstall, error)
}

// StorefrontStore manages storefront records and the scheduled-scan
// single-flight flag.
type StorefrontStore interface {
	CreateStorefront(s *model.Storefront) error
	StorefrontByID(id string) (*model.Storefront, error)
	StorefrontByDomain(domain string) (*model.Storefront, error)
	ListActiveStorefronts() ([]*model.Storefront, error)

	// TryBeginScan atomically sets scan_in_progress when it is clear.
	// Returns false when another scheduled scan already holds the flag.
	TryBeginScan(id string, at time.Time) (bool, error)

	// FinishScan clears the flag and records the outcome. A "success"
	// status resets the failure counter; anything else increments it.
	FinishScan(id, status, errMsg string, at time.Time) error
}

// SettingsStore holds system-wide kill switches and limits.
type SettingsStore interface {
	// Setting returns the stored value and whether the key exists.
	Setting(key string) (string, bool, error)
	SetSetting(key, value, description, updatedBy string, at time.Time) error
	ListSettings() ([]*model.Setting, error)
}

// UsageStore tracks per-storefront daily counters. date is YYYY-MM-DD UTC.
type UsageStore interface {
	Usage(storefrontID, date string) (*model.DailyUsage, error)
	IncrementScanCount(storefrontID, date string, at time.Time) error
	IncrementRestoreCount(storefrontID, date string, at time.Time) error
}
