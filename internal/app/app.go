// Package app is the application layer between the CLI and the diagnostics
// core. It constructs every dependency from config, exposes high-level
// operations that accept raw shop domains, and manages resource lifecycle
// on Close.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"storewatch/internal/config"
	"storewatch/internal/database"
	"storewatch/internal/diag"
	"storewatch/internal/encryption"
	"storewatch/internal/model"
	"storewatch/internal/platform"
	"storewatch/internal/report"
	"storewatch/internal/retention"
	"storewatch/internal/scheduler"
	"storewatch/internal/server"
	"storewatch/internal/signatures"
	"storewatch/internal/vault"
)

// App wires the diagnostics service and everything around it.
// The caller must call Close when done.
type App struct {
	cfg       *config.Config
	db        *database.DB
	stores    diag.Stores
	vault     vault.Vault
	encryptor encryption.Encryptor
	svc       *diag.Service
	gen       *report.Generator
	hub       *server.Hub
	logger    diag.Logger
	logFile   *os.File
}

// New creates a fully wired App from the given config. operation identifies
// the CLI command being run (e.g. "serve", "scan") and tags every log line
// of this process.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	runID := operation + "-" + time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	db, err := database.NewFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sigs, err := loadSignatures(cfg.Signatures)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, err
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	hub := server.NewHub()
	stores := db.Stores()
	svc := diag.NewService(
		stores,
		platform.NewClient(cfg.Platform),
		platform.NewProbe(cfg.Platform),
		sigs,
		hub,
		logger,
		diag.RealClock{},
		diag.UUIDGenerator{},
		diag.Options{
			RestoreBatchSize:  cfg.Restore.BatchSize,
			RestoreBatchDelay: time.Duration(cfg.Restore.BatchDelayMS) * time.Millisecond,
		},
	)
	if err := svc.InitSettings(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("initializing settings: %w", err)
	}

	return &App{
		cfg:       cfg,
		db:        db,
		stores:    stores,
		vault:     v,
		encryptor: enc,
		svc:       svc,
		gen:       report.NewGenerator(svc, stores, diag.RealClock{}),
		hub:       hub,
		logger:    logger,
		logFile:   logFile,
	}, nil
}

func loadSignatures(cfg config.SignaturesConfig) (*signatures.Catalog, error) {
	if cfg.Path != "" {
		sigs, err := signatures.Load(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("loading signature catalog: %w", err)
		}
		return sigs, nil
	}
	sigs, err := signatures.Default()
	if err != nil {
		return nil, fmt.Errorf("loading embedded signature catalog: %w", err)
	}
	return sigs, nil
}

// Storefront resolves a shop domain to its record.
func (a *App) Storefront(domain string) (*model.Storefront, error) {
	sf, err := a.stores.Storefronts.StorefrontByDomain(domain)
	if err != nil {
		return nil, fmt.Errorf("looking up storefront: %w", err)
	}
	if sf == nil {
		return nil, fmt.Errorf("storefront %s: %w", domain, diag.ErrNotFound)
	}
	return sf, nil
}

// RegisterStorefront connects a new shop. The access token is read from the
// named environment variable, never taken as a flag, so it stays out of
// shell history.
func (a *App) RegisterStorefront(domain, name, tokenEnv string, tier model.PlanTier) (*model.Storefront, error) {
	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("environment variable %s is not set", tokenEnv)
	}
	if existing, err := a.stores.Storefronts.StorefrontByDomain(domain); err != nil {
		return nil, fmt.Errorf("looking up storefront: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("storefront %s already registered", domain)
	}
	if tier == "" {
		tier = model.PlanStandard
	}

	now := time.Now().UTC()
	sf := &model.Storefront{
		ID:          diag.UUIDGenerator{}.New(),
		Domain:      domain,
		AccessToken: token,
		Name:        name,
		PlanTier:    tier,
		Active:      true,
		InstalledAt: now,
		UpdatedAt:   now,
	}
	if err := a.stores.Storefronts.CreateStorefront(sf); err != nil {
		return nil, fmt.Errorf("registering storefront: %w", err)
	}
	a.logger.Info("storefront registered", "domain", domain, "tier", tier)
	return sf, nil
}

// ListStorefronts returns all active storefronts.
func (a *App) ListStorefronts() ([]*model.Storefront, error) {
	return a.stores.Storefronts.ListActiveStorefronts()
}

// Scan runs an on-demand scan for the given shop domain.
func (a *App) Scan(ctx context.Context, domain string) (*model.ScanRun, error) {
	sf, err := a.Storefront(domain)
	if err != nil {
		return nil, err
	}
	return a.svc.StartOnDemandScan(ctx, sf.ID)
}

// ScanHistory lists recent scan runs for the given shop domain.
func (a *App) ScanHistory(domain string, limit int) ([]*model.ScanRun, error) {
	sf, err := a.Storefront(domain)
	if err != nil {
		return nil, err
	}
	return a.svc.ScanHistory(sf.ID, limit)
}

// ScanReport renders the markdown report for a shop's scan. An empty scanID
// selects the most recent run.
func (a *App) ScanReport(domain, scanID string) (string, error) {
	sf, err := a.Storefront(domain)
	if err != nil {
		return "", err
	}
	return a.gen.ScanReport(sf.ID, scanID)
}

// Rollback restores the file recorded by the given version id. The
// storefront is resolved from the version row itself.
func (a *App) Rollback(ctx context.Context, versionID, mode string, confirmed bool, performedBy, notes string) (*diag.RollbackOutcome, error) {
	v, err := a.stores.Versions.VersionByID(versionID)
	if err != nil {
		return nil, fmt.Errorf("looking up version: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("version %s: %w", versionID, diag.ErrNotFound)
	}
	return a.svc.RollbackFile(ctx, diag.RollbackRequest{
		StorefrontID: v.StorefrontID,
		VersionID:    versionID,
		Mode:         mode,
		Confirmed:    confirmed,
		PerformedBy:  performedBy,
		Notes:        notes,
	})
}

// RestoreToDate restores a whole theme to its state at the end of the given
// day. An empty themeID selects the theme of the shop's most recent scan.
func (a *App) RestoreToDate(ctx context.Context, domain, themeID string, day time.Time) (*diag.ThemeRestoreResult, error) {
	sf, err := a.Storefront(domain)
	if err != nil {
		return nil, err
	}
	if themeID == "" {
		run, err := a.stores.Scans.LatestScan(sf.ID)
		if err != nil {
			return nil, fmt.Errorf("looking up latest scan: %w", err)
		}
		if run == nil || run.ThemeID == "" {
			return nil, fmt.Errorf("no scanned theme for %s, pass --theme: %w", domain, diag.ErrNotFound)
		}
		themeID = run.ThemeID
	}
	return a.svc.RestoreThemeToDate(ctx, sf.ID, themeID, day)
}

// Diagnose correlates a shop's open issues against recent changes.
func (a *App) Diagnose(domain string) (*diag.Diagnosis, error) {
	sf, err := a.Storefront(domain)
	if err != nil {
		return nil, err
	}
	return a.svc.Diagnose(sf.ID)
}

// DiagnosisReport renders the diagnosis as markdown.
func (a *App) DiagnosisReport(domain string) (string, error) {
	sf, err := a.Storefront(domain)
	if err != nil {
		return "", err
	}
	return a.gen.DiagnosisReport(sf.ID)
}

// CompareVersions diffs two file versions by id.
func (a *App) CompareVersions(idA, idB string) (*diag.VersionComparison, error) {
	return a.svc.CompareVersions(idA, idB)
}

// ExportScans writes a shop's scan history as CSV.
func (a *App) ExportScans(w io.Writer, domain string, limit int) error {
	sf, err := a.Storefront(domain)
	if err != nil {
		return err
	}
	return a.gen.ExportScanHistory(w, sf.ID, limit)
}

// ExportRollbacks writes a shop's rollback audit trail as CSV.
func (a *App) ExportRollbacks(w io.Writer, domain string, limit int) error {
	sf, err := a.Storefront(domain)
	if err != nil {
		return err
	}
	return a.gen.ExportRollbackHistory(w, sf.ID, limit)
}

// RunRetention runs one retention sweep across all active storefronts.
func (a *App) RunRetention(ctx context.Context) (*retention.Result, error) {
	return a.sweeper().Run(ctx)
}

func (a *App) sweeper() *retention.Sweeper {
	return retention.NewSweeper(a.stores, a.vault, a.encryptor, a.cfg.Retention, a.logger, diag.RealClock{})
}

// Settings lists the system settings.
func (a *App) Settings() ([]*model.Setting, error) {
	return a.svc.Settings()
}

// UpdateSetting sets a system setting, attributed to the CLI.
func (a *App) UpdateSetting(key, value string) error {
	return a.svc.UpdateSetting(key, value, "cli")
}

// Encryptor exposes the archive encryptor for key setup and unlock.
func (a *App) Encryptor() encryption.Encryptor {
	return a.encryptor
}

// Serve runs the HTTP API, the scheduled-scan loop, and the daily retention
// sweep until ctx is cancelled, then shuts down cleanly.
func (a *App) Serve(ctx context.Context) error {
	srv := server.New(a.cfg.Server, a.svc, a.gen, a.hub, a.logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if a.cfg.Scheduler.Enabled {
		sched := scheduler.New(a.svc, a.stores, a.cfg.Scheduler, a.logger, diag.RealClock{})
		go func() {
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("scheduler stopped", "error", err)
			}
		}()
	}

	if a.cfg.Retention.Enabled {
		go a.retentionLoop(ctx)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// retentionLoop sweeps once a day. The first sweep runs immediately.
func (a *App) retentionLoop(ctx context.Context) {
	sweeper := a.sweeper()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if result, err := sweeper.Run(ctx); err != nil {
			a.logger.Error("retention sweep failed", "error", err)
		} else {
			a.logger.Info("retention sweep complete",
				"storefronts", result.Storefronts,
				"versions_deleted", result.VersionsDeleted,
				"objects_archived", result.ObjectsArchived,
				"errors", len(result.Errors),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
