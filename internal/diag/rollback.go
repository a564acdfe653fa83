package diag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storewatch/internal/model"
)

// RollbackRequest describes one single-file rollback attempt.
type RollbackRequest struct {
	StorefrontID string
	VersionID    string // target version to restore
	Mode         string // direct_live | draft_theme
	Confirmed    bool   // caller acknowledged an app-ownership warning
	PerformedBy  string
	Notes        string
}

// RollbackOutcome is the result of a single-file rollback. Exactly one of
// Confirmation and Action is set.
type RollbackOutcome struct {
	// Confirmation is non-nil when the target file looks app-owned and the
	// caller has not confirmed. No write happened and no audit row exists.
	Confirmation *ConfirmationRequired `json:"confirmation,omitempty"`

	// Action is the audit record of an attempted rollback.
	Action *model.RollbackAction `json:"action,omitempty"`
}

// ConfirmationRequired tells the caller the file belongs to an app and the
// rollback must be re-submitted with the confirmed flag.
type ConfirmationRequired struct {
	FilePath      string `json:"file_path"`
	AppOwnerGuess string `json:"app_owner_guess,omitempty"`
	Message       string `json:"message"`
}

// RollbackFile restores one file to a recorded version. Gates run first
// (kill switch, then daily quota); an app-owned target without confirmation
// returns a ConfirmationRequired outcome with no side effects. The audit row
// is created pending before the external write so a crash mid-write still
// leaves a record.
func (s *Service) RollbackFile(ctx context.Context, req RollbackRequest) (*RollbackOutcome, error) {
	if err := s.checkRestoreGates(req.StorefrontID); err != nil {
		return nil, err
	}

	sf, err := s.storefront(req.StorefrontID)
	if err != nil {
		return nil, err
	}

	target, err := s.stores.Versions.VersionByID(req.VersionID)
	if err != nil {
		return nil, fmt.Errorf("load version %s: %w", req.VersionID, err)
	}
	if target == nil {
		return nil, fmt.Errorf("version %s: %w", req.VersionID, ErrNotFound)
	}
	if target.StorefrontID != sf.ID {
		// A foreign version id is indistinguishable from a missing one.
		return nil, fmt.Errorf("version %s: %w", req.VersionID, ErrNotFound)
	}

	if target.IsAppOwned && !req.Confirmed {
		return &RollbackOutcome{Confirmation: &ConfirmationRequired{
			FilePath:      target.FilePath,
			AppOwnerGuess: target.AppOwnerGuess,
			Message:       confirmationMessage(target),
		}}, nil
	}

	current, err := s.stores.Versions.LatestVersion(sf.ID, target.ThemeID, target.FilePath)
	if err != nil {
		return nil, fmt.Errorf("load current version: %w", err)
	}

	mode := req.Mode
	if mode == "" {
		mode = model.ModeDirectLive
	}
	action := &model.RollbackAction{
		ID:            s.idGen.New(),
		StorefrontID:  sf.ID,
		ThemeID:       target.ThemeID,
		FilePath:      target.FilePath,
		ToVersionID:   target.ID,
		Mode:          mode,
		Status:        model.RollbackPending,
		WasAppOwned:   target.IsAppOwned,
		AppOwnerGuess: target.AppOwnerGuess,
		UserConfirmed: req.Confirmed,
		PerformedBy:   req.PerformedBy,
		Notes:         req.Notes,
		CreatedAt:     s.clock.Now(),
	}
	if current != nil {
		action.FromVersionID = current.ID
	}
	if err := s.stores.Audit.CreateRollback(action); err != nil {
		return nil, fmt.Errorf("create rollback record: %w", err)
	}

	if err := s.api.PutAsset(ctx, creds(sf), target.ThemeID, target.FilePath, target.Content); err != nil {
		now := s.clock.Now()
		action.Status = model.RollbackFailed
		action.ErrorMessage = err.Error()
		action.CompletedAt = &now
		if markErr := s.stores.Audit.MarkRollbackFailed(action.ID, err.Error(), now); markErr != nil {
			s.logger.Error("could not record rollback failure", "rollback", action.ID, "error", markErr)
		}
		s.logger.Error("rollback write failed", "rollback", action.ID,
			"storefront", sf.ID, "path", target.FilePath, "error", err)
		return &RollbackOutcome{Action: action}, fmt.Errorf("restore %s: %w", target.FilePath, err)
	}

	now := s.clock.Now()
	action.Status = model.RollbackCompleted
	action.CompletedAt = &now
	if err := s.stores.Audit.MarkRollbackCompleted(action.ID, now); err != nil {
		return nil, fmt.Errorf("finalize rollback record: %w", err)
	}

	if err := s.stores.Usage.IncrementRestoreCount(sf.ID, s.usageDate(), now); err != nil {
		s.logger.Warn("could not count restore usage", "storefront", sf.ID, "error", err)
	}
	s.logger.Info("file rolled back", "rollback", action.ID, "storefront", sf.ID,
		"path", target.FilePath, "version", target.ID, "mode", mode)
	return &RollbackOutcome{Action: action}, nil
}

func confirmationMessage(v *model.FileVersion) string {
	if v.AppOwnerGuess != "" {
		return fmt.Sprintf("%s appears to belong to %s; restoring it may break that app. Re-submit with confirmation to proceed.",
			v.FilePath, v.AppOwnerGuess)
	}
	return fmt.Sprintf("%s appears to belong to an installed app; restoring it may break that app. Re-submit with confirmation to proceed.",
		v.FilePath)
}

// checkRestoreGates enforces the restore kill switch and the per-day quota.
// Both gates run before any other work.
func (s *Service) checkRestoreGates(storefrontID string) error {
	enabled, err := s.boolSetting(model.SettingRestoresEnabled, true)
	if err != nil {
		return err
	}
	if !enabled {
		return fmt.Errorf("restores: %w", ErrReadOnly)
	}

	limit, err := s.intSetting(model.SettingMaxRestores, 3)
	if err != nil {
		return err
	}
	usage, err := s.stores.Usage.Usage(storefrontID, s.usageDate())
	if err != nil {
		return fmt.Errorf("load usage: %w", err)
	}
	if usage != nil && usage.RestoreCount >= limit {
		return fmt.Errorf("restores (%d/day): %w", limit, ErrQuotaExceeded)
	}
	return nil
}

// FileRestoreResult reports one file's fate during a whole-theme restore.
type FileRestoreResult struct {
	FilePath  string `json:"file_path"`
	VersionID string `json:"version_id,omitempty"`
	Restored  bool   `json:"restored"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ThemeRestoreResult summarizes a whole-theme restore-to-date.
type ThemeRestoreResult struct {
	ThemeID    string              `json:"theme_id"`
	TargetDate string              `json:"target_date"`
	Restored   int                 `json:"restored"`
	Skipped    int                 `json:"skipped"`
	Failed     int                 `json:"failed"`
	Files      []FileRestoreResult `json:"files"`
}

// restoreTarget pairs a file with its resolved target version.
type restoreTarget struct {
	path    string
	version *model.FileVersion
	skip    string // non-empty reason when nothing should be written
	err     error
}

// RestoreThemeToDate rewinds every file with history to its last recorded
// state on (or before) the given calendar day. The target for each file is
// the newest version created before the end of that day; files with no such
// version, or whose target is already the current content, are skipped.
// Targets resolve concurrently without bound; writes go out in fixed-size
// batches with a pause between batches to respect provider rate limits.
// Per-file failures are collected, not compensated: files already written
// stay restored. The restore quota is spent only when at least one file was
// actually written.
func (s *Service) RestoreThemeToDate(ctx context.Context, storefrontID, themeID string, day time.Time) (*ThemeRestoreResult, error) {
	if err := s.checkRestoreGates(storefrontID); err != nil {
		return nil, err
	}
	sf, err := s.storefront(storefrontID)
	if err != nil {
		return nil, err
	}

	// "State as of day D" means the newest version before the end of D.
	dayUTC := day.UTC()
	cutoff := time.Date(dayUTC.Year(), dayUTC.Month(), dayUTC.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	files, err := s.stores.Versions.FilesWithHistory(sf.ID, themeID)
	if err != nil {
		return nil, fmt.Errorf("list files with history: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("theme %s has no restorable history: %w", themeID, ErrNotFound)
	}

	targets := s.resolveTargets(sf.ID, themeID, cutoff, files)

	result := &ThemeRestoreResult{
		ThemeID:    themeID,
		TargetDate: dayUTC.Format("2006-01-02"),
	}
	var pending []restoreTarget
	for _, t := range targets {
		switch {
		case t.err != nil:
			result.Failed++
			result.Files = append(result.Files, FileRestoreResult{
				FilePath: t.path, Error: t.err.Error(),
			})
		case t.skip != "":
			result.Skipped++
			result.Files = append(result.Files, FileRestoreResult{
				FilePath: t.path, Skipped: true, Reason: t.skip,
			})
		default:
			pending = append(pending, t)
		}
	}

	restored := s.writeBatches(ctx, sf, themeID, pending, result)

	if restored > 0 {
		if err := s.stores.Usage.IncrementRestoreCount(sf.ID, s.usageDate(), s.clock.Now()); err != nil {
			s.logger.Warn("could not count restore usage", "storefront", sf.ID, "error", err)
		}
	}
	s.logger.Info("theme restore finished", "storefront", sf.ID, "theme", themeID,
		"date", result.TargetDate, "restored", result.Restored,
		"skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// resolveTargets finds each file's target version concurrently. Reads are
// unbounded: target resolution is local and cheap.
func (s *Service) resolveTargets(storefrontID, themeID string, cutoff time.Time, files []FileHistorySummary) []restoreTarget {
	targets := make([]restoreTarget, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			t := restoreTarget{path: path}

			version, err := s.stores.Versions.LatestVersionBefore(storefrontID, themeID, path, cutoff)
			if err != nil {
				t.err = fmt.Errorf("resolve target: %w", err)
				targets[i] = t
				return
			}
			if version == nil {
				t.skip = "no version recorded on or before the target date"
				targets[i] = t
				return
			}
			current, err := s.stores.Versions.LatestVersion(storefrontID, themeID, path)
			if err != nil {
				t.err = fmt.Errorf("resolve current version: %w", err)
				targets[i] = t
				return
			}
			if current != nil && current.ContentHash == version.ContentHash {
				t.skip = "already at the target content"
				targets[i] = t
				return
			}
			t.version = version
			targets[i] = t
		}(i, f.FilePath)
	}
	wg.Wait()

	sort.Slice(targets, func(a, b int) bool { return targets[a].path < targets[b].path })
	return targets
}

// writeBatches pushes the pending writes in batches of the configured size,
// pausing between batches. Returns the number of files restored.
func (s *Service) writeBatches(ctx context.Context, sf *model.Storefront, themeID string, pending []restoreTarget, result *ThemeRestoreResult) int {
	restored := 0
	var mu sync.Mutex

	for start := 0; start < len(pending); start += s.options.RestoreBatchSize {
		end := start + s.options.RestoreBatchSize
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		for _, t := range pending[start:end] {
			wg.Add(1)
			go func(t restoreTarget) {
				defer wg.Done()
				err := s.api.PutAsset(ctx, creds(sf), themeID, t.path, t.version.Content)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed++
					result.Files = append(result.Files, FileRestoreResult{
						FilePath: t.path, VersionID: t.version.ID, Error: err.Error(),
					})
					s.logger.Warn("theme restore write failed",
						"storefront", sf.ID, "path", t.path, "error", err)
					return
				}
				restored++
				result.Restored++
				result.Files = append(result.Files, FileRestoreResult{
					FilePath: t.path, VersionID: t.version.ID, Restored: true,
				})
			}(t)
		}
		wg.Wait()

		if end < len(pending) {
			select {
			case <-ctx.Done():
				mu.Lock()
				for _, t := range pending[end:] {
					result.Failed++
					result.Files = append(result.Files, FileRestoreResult{
						FilePath: t.path, VersionID: t.version.ID, Error: ctx.Err().Error(),
					})
				}
				mu.Unlock()
				return restored
			case <-time.After(s.options.RestoreBatchDelay):
			}
		}
	}
	return restored
}

// RollbackHistory lists a storefront's rollback audit records, newest first.
func (s *Service) RollbackHistory(storefrontID string, limit int) ([]*model.RollbackAction, error) {
	if limit <= 0 {
		limit = 20
	}
	actions, err := s.stores.Audit.RollbackHistory(storefrontID, limit)
	if err != nil {
		return nil, fmt.Errorf("load rollback history: %w", err)
	}
	return actions, nil
}
