// Package retention prunes old history according to each storefront's plan
// tier. File-version content can be archived to a vault before deletion so
// the raw theme files remain recoverable after their database rows are gone.
package retention

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"storewatch/internal/config"
	"storewatch/internal/diag"
	"storewatch/internal/encryption"
	"storewatch/internal/model"
	"storewatch/internal/vault"
)

const (
	defaultStandardDays     = 7
	defaultProfessionalDays = 30
)

// archiveKey maps a content hash to its vault object key. Content-addressed:
// two versions with identical content share one archive object.
func archiveKey(contentHash string) string {
	return "versions/" + contentHash
}

// Sweeper runs the retention sweep across storefronts.
type Sweeper struct {
	versions    diag.VersionStore
	scripts     diag.ScriptStore
	scans       diag.ScanStore
	storefronts diag.StorefrontStore
	vault       vault.Vault
	encryptor   encryption.Encryptor
	cfg         config.RetentionConfig
	logger      diag.Logger
	clock       diag.Clock
}

// NewSweeper builds a Sweeper. vlt and enc may be nil when archiving is
// disabled in cfg.
func NewSweeper(stores diag.Stores, vlt vault.Vault, enc encryption.Encryptor, cfg config.RetentionConfig, logger diag.Logger, clock diag.Clock) *Sweeper {
	return &Sweeper{
		versions:    stores.Versions,
		scripts:     stores.Scripts,
		scans:       stores.Scans,
		storefronts: stores.Storefronts,
		vault:       vlt,
		encryptor:   enc,
		cfg:         cfg,
		logger:      logger,
		clock:       clock,
	}
}

// Result summarizes one sweep.
type Result struct {
	Storefronts     int      `json:"storefronts"`
	VersionsDeleted int64    `json:"versions_deleted"`
	ScansDeleted    int64    `json:"scans_deleted"`
	ScriptsDeleted  int64    `json:"scripts_deleted"`
	ObjectsArchived int      `json:"objects_archived"`
	Errors          []string `json:"errors,omitempty"`
}

// retentionDays returns the history window for a plan tier.
func (s *Sweeper) retentionDays(tier model.PlanTier) int {
	if tier == model.PlanProfessional {
		if s.cfg.ProfessionalDays > 0 {
			return s.cfg.ProfessionalDays
		}
		return defaultProfessionalDays
	}
	if s.cfg.StandardDays > 0 {
		return s.cfg.StandardDays
	}
	return defaultStandardDays
}

// Run sweeps every active storefront. Per-storefront failures are collected
// in the result rather than aborting the sweep; only listing storefronts or
// context cancellation is fatal.
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	fronts, err := s.storefronts.ListActiveStorefronts()
	if err != nil {
		return nil, fmt.Errorf("listing storefronts: %w", err)
	}

	result := &Result{}
	for _, sf := range fronts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.sweepStorefront(ctx, sf, result); err != nil {
			s.logger.Error("retention sweep failed for storefront",
				"storefront_id", sf.ID, "domain", sf.Domain, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sf.Domain, err))
			continue
		}
		result.Storefronts++
	}

	s.logger.Info("retention sweep finished",
		"storefronts", result.Storefronts,
		"versions_deleted", result.VersionsDeleted,
		"scans_deleted", result.ScansDeleted,
		"scripts_deleted", result.ScriptsDeleted,
		"objects_archived", result.ObjectsArchived,
		"errors", len(result.Errors))
	return result, nil
}

func (s *Sweeper) sweepStorefront(ctx context.Context, sf *model.Storefront, result *Result) error {
	days := s.retentionDays(sf.PlanTier)
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -days)

	if s.archivingEnabled() {
		archived, err := s.archiveVersions(ctx, sf.ID, cutoff)
		if err != nil {
			// Never delete what we failed to archive.
			return fmt.Errorf("archiving versions: %w", err)
		}
		result.ObjectsArchived += archived
	}

	versions, err := s.versions.DeleteVersionsBefore(sf.ID, cutoff)
	if err != nil {
		return fmt.Errorf("deleting versions: %w", err)
	}
	scans, err := s.scans.DeleteScansBefore(sf.ID, cutoff)
	if err != nil {
		return fmt.Errorf("deleting scans: %w", err)
	}
	scripts, err := s.scripts.DeleteRemovedScriptsBefore(sf.ID, cutoff)
	if err != nil {
		return fmt.Errorf("deleting removed scripts: %w", err)
	}

	result.VersionsDeleted += versions
	result.ScansDeleted += scans
	result.ScriptsDeleted += scripts

	if versions > 0 || scans > 0 || scripts > 0 {
		s.logger.Info("pruned storefront history",
			"storefront_id", sf.ID, "domain", sf.Domain,
			"plan_tier", string(sf.PlanTier), "cutoff", cutoff,
			"versions", versions, "scans", scans, "scripts", scripts)
	}
	return nil
}

func (s *Sweeper) archivingEnabled() bool {
	return s.cfg.ArchiveEnabled && s.vault != nil && s.encryptor != nil
}

// archiveVersions stores the content of every version about to be pruned.
// Objects are keyed by content hash, so duplicate content across versions
// uploads once.
func (s *Sweeper) archiveVersions(ctx context.Context, storefrontID string, cutoff time.Time) (int, error) {
	pruned, err := s.versions.VersionsBefore(storefrontID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing versions: %w", err)
	}

	archived := 0
	seen := make(map[string]struct{})
	for _, v := range pruned {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		if v.ContentHash == "" {
			continue
		}
		if _, dup := seen[v.ContentHash]; dup {
			continue
		}
		seen[v.ContentHash] = struct{}{}

		var sealed bytes.Buffer
		if err := s.encryptor.Encrypt(strings.NewReader(v.Content), &sealed); err != nil {
			return archived, fmt.Errorf("encrypting %s: %w", v.FilePath, err)
		}
		key := archiveKey(v.ContentHash)
		if err := s.vault.PutObject(ctx, key, bytes.NewReader(sealed.Bytes()), int64(sealed.Len())); err != nil {
			return archived, fmt.Errorf("storing %s: %w", key, err)
		}
		archived++
	}
	return archived, nil
}

// ArchivedContent fetches one archived object by content hash and decrypts
// it with an unlocked key.
func (s *Sweeper) ArchivedContent(ctx context.Context, contentHash string, dec encryption.DecryptionContext) (string, error) {
	if s.vault == nil {
		return "", fmt.Errorf("no vault configured")
	}

	var sealed bytes.Buffer
	if err := s.vault.GetObject(ctx, archiveKey(contentHash), &sealed); err != nil {
		return "", err
	}

	var plain bytes.Buffer
	if err := dec.Decrypt(bytes.NewReader(sealed.Bytes()), &plain); err != nil {
		return "", fmt.Errorf("decrypting archived object: %w", err)
	}
	return plain.String(), nil
}
