// Package diag implements the core storefront diagnostics service: theme
// snapshot capture, script tracking, scan orchestration, risk scoring,
// supervised rollback and issue correlation. Persistence, the external
// platform API and time are all injected so the package holds the business
// rules and nothing else.
package diag

import (
	"fmt"
	"strconv"
	"time"

	"storewatch/internal/model"
	"storewatch/internal/signatures"
)

// Stores bundles the persistence interfaces the service depends on.
type Stores struct {
	Storefronts StorefrontStore
	Versions    VersionStore
	Scripts     ScriptStore
	Scans       ScanStore
	Audit       AuditStore
	Issues      IssueStore
	Apps        AppStore
	Settings    SettingsStore
	Usage       UsageStore
}

// Options tunes service behavior. Zero values select the defaults.
type Options struct {
	// RestoreBatchSize is the number of concurrent writes per batch during
	// a whole-theme restore. Default 2.
	RestoreBatchSize int

	// RestoreBatchDelay is the pause between restore write batches.
	// Default 500ms.
	RestoreBatchDelay time.Duration

	// IssueSampleCap bounds the selector-issue sample stored on a scan run.
	// Default 20.
	IssueSampleCap int
}

// Service is the storefront diagnostics core.
type Service struct {
	stores  Stores
	api     ThemeAPI
	probe   ScriptProbe
	sigs    *signatures.Catalog
	events  EventSink
	logger  Logger
	clock   Clock
	idGen   IDGenerator
	options Options
}

// NewService wires a Service. probe and events may be nil; a nil probe
// disables the storefront-page fallback and a nil events sink discards
// progress.
func NewService(stores Stores, api ThemeAPI, probe ScriptProbe, sigs *signatures.Catalog, events EventSink, logger Logger, clock Clock, idGen IDGenerator, opts Options) *Service {
	if events == nil {
		events = NopSink{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if opts.RestoreBatchSize <= 0 {
		opts.RestoreBatchSize = 2
	}
	if opts.RestoreBatchDelay <= 0 {
		opts.RestoreBatchDelay = 500 * time.Millisecond
	}
	if opts.IssueSampleCap <= 0 {
		opts.IssueSampleCap = 20
	}
	return &Service{
		stores:  stores,
		api:     api,
		probe:   probe,
		sigs:    sigs,
		events:  events,
		logger:  logger,
		clock:   clock,
		idGen:   idGen,
		options: opts,
	}
}

// defaultSettings seeds the settings table. Existing keys are left alone so
// operator changes survive restarts.
var defaultSettings = []model.Setting{
	{Key: model.SettingScanningEnabled, Value: "true", Description: "Master kill switch for all scanning"},
	{Key: model.SettingRestoresEnabled, Value: "true", Description: "Master kill switch for all restore operations"},
	{Key: model.SettingDailyScansEnabled, Value: "true", Description: "Enables the scheduled fleet scan"},
	{Key: model.SettingMaxOnDemandScans, Value: "5", Description: "Per-storefront daily cap on on-demand scans"},
	{Key: model.SettingMaxRestores, Value: "3", Description: "Per-storefront daily cap on restore operations"},
}

// InitSettings writes the default settings for any key not yet present.
func (s *Service) InitSettings() error {
	for _, def := range defaultSettings {
		_, exists, err := s.stores.Settings.Setting(def.Key)
		if err != nil {
			return fmt.Errorf("read setting %s: %w", def.Key, err)
		}
		if exists {
			continue
		}
		if err := s.stores.Settings.SetSetting(def.Key, def.Value, def.Description, "system", s.clock.Now()); err != nil {
			return fmt.Errorf("seed setting %s: %w", def.Key, err)
		}
	}
	return nil
}

// boolSetting reads a flag, treating a missing key as its default.
func (s *Service) boolSetting(key string, def bool) (bool, error) {
	val, exists, err := s.stores.Settings.Setting(key)
	if err != nil {
		return false, fmt.Errorf("read setting %s: %w", key, err)
	}
	if !exists {
		return def, nil
	}
	return val == "true" || val == "1", nil
}

// intSetting reads a numeric limit, treating a missing or malformed value as
// its default.
func (s *Service) intSetting(key string, def int) (int, error) {
	val, exists, err := s.stores.Settings.Setting(key)
	if err != nil {
		return 0, fmt.Errorf("read setting %s: %w", key, err)
	}
	if !exists {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		s.logger.Warn("setting has a non-numeric value, using default", "key", key, "value", val)
		return def, nil
	}
	return n, nil
}

// usageDate formats the service clock's current day as a usage key.
func (s *Service) usageDate() string {
	return s.clock.Now().UTC().Format("2006-01-02")
}

// storefront loads a storefront or reports ErrNotFound. An inactive
// storefront has no usable credential, which surfaces as ErrUnauthorized.
func (s *Service) storefront(id string) (*model.Storefront, error) {
	sf, err := s.stores.Storefronts.StorefrontByID(id)
	if err != nil {
		return nil, fmt.Errorf("load storefront: %w", err)
	}
	if sf == nil {
		return nil, fmt.Errorf("storefront %s: %w", id, ErrNotFound)
	}
	if !sf.Active || sf.AccessToken == "" {
		return nil, fmt.Errorf("storefront %s: %w", id, ErrUnauthorized)
	}
	return sf, nil
}

func creds(sf *model.Storefront) Credentials {
	return Credentials{Domain: sf.Domain, AccessToken: sf.AccessToken}
}

// Settings exposes the settings listing for the CLI and HTTP layers.
func (s *Service) Settings() ([]*model.Setting, error) {
	return s.stores.Settings.ListSettings()
}

// UpdateSetting stores a new value for a known setting key.
func (s *Service) UpdateSetting(key, value, updatedBy string) error {
	var description string
	known := false
	for _, def := range defaultSettings {
		if def.Key == key {
			known = true
			description = def.Description
			break
		}
	}
	if !known {
		return fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err := s.stores.Settings.SetSetting(key, value, description, updatedBy, s.clock.Now()); err != nil {
		return fmt.Errorf("update setting %s: %w", key, err)
	}
	s.logger.Info("setting updated", "key", key, "value", value, "updated_by", updatedBy)
	return nil
}
