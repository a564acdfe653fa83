package model

import "time"

// RiskLevel classifies scan and selector findings.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// PlanTier controls retention behavior per storefront.
type PlanTier string

const (
	PlanStandard     PlanTier = "standard"
	PlanProfessional PlanTier = "professional"
)

// Storefront is a merchant store connected to the service.
type Storefront struct {
	ID                  string
	Domain              string
	AccessToken         string
	Name                string
	PlanTier            PlanTier
	Active              bool
	ScanInProgress      bool
	LastScanStartedAt   *time.Time
	LastScanCompletedAt *time.Time
	LastScanStatus      string
	LastScanError       string
	ScanFailureCount    int
	InstalledAt         time.Time
	UpdatedAt           time.Time
}

// FileVersion is one observed state of one theme file at one scan.
// Rows are append-only: every scan records a row per observed file,
// whether or not the content changed. Deletion happens only through
// the retention sweep.
type FileVersion struct {
	ID            string
	StorefrontID  string
	ThemeID       string
	ThemeName     string
	FilePath      string
	ContentHash   string // SHA-256 hex digest of Content
	Content       string
	FileSize      int64
	IsAppOwned    bool
	AppOwnerGuess string
	IsNew         bool // no earlier row exists for (storefront, theme, path)
	IsChanged     bool // prior row exists and its hash differs
	ScanID        string
	CreatedAt     time.Time
}

// ScriptSnapshot tracks one externally injected script URL for a storefront.
// Unlike FileVersion this is not a ledger: unchanged scripts are updated in
// place, and scripts absent from a scan are marked removed, never deleted.
type ScriptSnapshot struct {
	ID               string
	StorefrontID     string
	PlatformScriptID string
	Src              string
	DisplayScope     string
	Event            string
	LikelyApp        string
	IsNew            bool
	IsRemoved        bool
	ScanID           string
	FirstSeen        time.Time
	LastSeen         time.Time
}

// Scan statuses.
const (
	ScanPending   = "pending"
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
)

// Scan triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerOnDemand  = "on_demand"
)

// SelectorIssueSummary is the capped per-run sample of selector findings
// stored on the scan record itself.
type SelectorIssueSummary struct {
	FilePath    string `json:"file"`
	Selector    string `json:"selector"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// ScanRun is one execution of the scan orchestrator for one storefront.
type ScanRun struct {
	ID             string
	StorefrontID   string
	Trigger        string
	Status         string
	ThemeID        string
	ThemeName      string
	FilesTotal     int
	FilesNew       int
	FilesChanged   int
	FilesDeleted   int
	ScriptsTotal   int
	ScriptsNew     int
	ScriptsRemoved int
	AppOwnedFiles  int
	AppsIdentified []string
	SelectorIssues int
	IssueSample    []SelectorIssueSummary
	RiskLevel      RiskLevel
	RiskReasons    []string
	Summary        string
	ErrorMessage   string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// Rollback modes.
const (
	ModeDirectLive = "direct_live"
	ModeDraftTheme = "draft_theme"
)

// Rollback statuses.
const (
	RollbackPending   = "pending"
	RollbackCompleted = "completed"
	RollbackFailed    = "failed"
)

// RollbackAction is the append-only audit record of one rollback attempt.
// It is created before the external write is attempted so a row exists even
// when the write fails.
type RollbackAction struct {
	ID            string
	StorefrontID  string
	ThemeID       string
	FilePath      string
	FromVersionID string
	ToVersionID   string
	Mode          string
	Status        string
	WasAppOwned   bool
	AppOwnerGuess string
	UserConfirmed bool
	PerformedBy   string
	Notes         string
	ErrorMessage  string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Issue types emitted by the scanning components.
const (
	IssueGlobalElement     = "global_element"
	IssueGlobalClass       = "global_class"
	IssueImportantOverride = "important_override"
	IssueInjectedScript    = "injected_script"
)

// Issue is a detected risk instance attached to a storefront.
type Issue struct {
	ID              string
	StorefrontID    string
	ThemeID         string
	FilePath        string
	IssueType       string
	Severity        string
	Selector        string
	LikelySource    string
	Confidence      float64 // 0-100
	IsResolved      bool
	ResolutionNotes string
	DetectedAt      time.Time
	ResolvedAt      *time.Time
}

// AppInstall records when a third-party app was installed or last updated
// on a storefront. Consumed by the correlation engine as timing input.
type AppInstall struct {
	ID            string
	StorefrontID  string
	AppName       string
	InstalledAt   time.Time
	LastUpdatedAt *time.Time
	IsSuspect     bool
	RiskScore     float64
}

// DailyUsage tracks per-storefront-per-day counters for rate-limited
// operations. UsageDate is YYYY-MM-DD in UTC.
type DailyUsage struct {
	StorefrontID string
	UsageDate    string
	ScanCount    int
	RestoreCount int
	UpdatedAt    time.Time
}

// Setting is a system-wide flag or limit (kill switches, daily quotas).
type Setting struct {
	Key         string
	Value       string
	Description string
	UpdatedBy   string
	UpdatedAt   time.Time
}

// Well-known setting keys.
const (
	SettingScanningEnabled   = "scanning_enabled"
	SettingRestoresEnabled   = "restores_enabled"
	SettingDailyScansEnabled = "daily_scans_enabled"
	SettingMaxOnDemandScans  = "max_on_demand_scans_per_day"
	SettingMaxRestores       = "max_restores_per_day"
)
