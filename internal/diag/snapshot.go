package diag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"storewatch/internal/model"
)

// Extensions never fetched during a snapshot. Binary assets are large,
// un-diffable as text, and irrelevant to conflict diagnosis.
var skippedExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {},
	".ico": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".mp4": {}, ".webm": {}, ".mp3": {}, ".pdf": {}, ".zip": {},
}

// HashContent returns the lowercase hex SHA-256 digest of content. Two
// versions are "the same" exactly when their digests match.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func skipAsset(path string) bool {
	lower := strings.ToLower(path)
	if i := strings.LastIndex(lower, "."); i >= 0 {
		_, skip := skippedExtensions[lower[i:]]
		return skip
	}
	return false
}

// SnapshotResult summarizes one theme capture.
type SnapshotResult struct {
	ThemeID      string
	ThemeName    string
	FilesTotal   int
	FilesNew     int
	FilesChanged int
	AppOwned     int
	FetchErrors  int
	Versions     []*model.FileVersion
}

// liveTheme picks the published theme from the listing.
func liveTheme(themes []Theme) (Theme, bool) {
	for _, t := range themes {
		if t.Role == "main" {
			return t, true
		}
	}
	return Theme{}, false
}

// CaptureTheme records one version row per fetchable text file of the
// storefront's published theme. A listing failure aborts the capture;
// individual fetch failures are counted and skipped so one flaky asset
// cannot sink a scan.
func (s *Service) CaptureTheme(ctx context.Context, sf *model.Storefront, scanID string) (*SnapshotResult, error) {
	themes, err := s.api.ListThemes(ctx, creds(sf))
	if err != nil {
		return nil, fmt.Errorf("could not fetch theme files: %w", err)
	}
	theme, ok := liveTheme(themes)
	if !ok {
		return nil, fmt.Errorf("storefront %s has no published theme: %w", sf.ID, ErrNotFound)
	}

	assets, err := s.api.ListAssets(ctx, creds(sf), theme.ID)
	if err != nil {
		return nil, fmt.Errorf("could not fetch theme files: %w", err)
	}

	res := &SnapshotResult{ThemeID: theme.ID, ThemeName: theme.Name}

	var scannable []AssetRef
	for _, a := range assets {
		if !skipAsset(a.Path) {
			scannable = append(scannable, a)
		}
	}

	for i, asset := range scannable {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("snapshot interrupted: %w", err)
		}
		s.events.Publish(ScanEvent{
			ScanID:  scanID,
			Stage:   "snapshot",
			Message: asset.Path,
			Current: i + 1,
			Total:   len(scannable),
		})

		content, err := s.api.GetAsset(ctx, creds(sf), theme.ID, asset.Path)
		if err != nil {
			res.FetchErrors++
			s.logger.Warn("asset fetch failed, skipping",
				"storefront", sf.ID, "path", asset.Path, "error", err)
			continue
		}

		v, err := s.recordVersion(sf, theme, asset.Path, content, scanID)
		if err != nil {
			return nil, err
		}
		res.Versions = append(res.Versions, v)
		res.FilesTotal++
		if v.IsNew {
			res.FilesNew++
		}
		if v.IsChanged {
			res.FilesChanged++
		}
		if v.IsAppOwned {
			res.AppOwned++
		}
	}

	return res, nil
}

// recordVersion appends a ledger row for one observed file, flagging it new
// or changed relative to the previous row for the same path.
func (s *Service) recordVersion(sf *model.Storefront, theme Theme, path, content, scanID string) (*model.FileVersion, error) {
	hash := HashContent(content)
	prev, err := s.stores.Versions.LatestVersion(sf.ID, theme.ID, path)
	if err != nil {
		return nil, fmt.Errorf("load previous version of %s: %w", path, err)
	}

	owned, owner := s.sigs.MatchPath(path)
	v := &model.FileVersion{
		ID:            s.idGen.New(),
		StorefrontID:  sf.ID,
		ThemeID:       theme.ID,
		ThemeName:     theme.Name,
		FilePath:      path,
		ContentHash:   hash,
		Content:       content,
		FileSize:      int64(len(content)),
		IsAppOwned:    owned,
		AppOwnerGuess: owner,
		IsNew:         prev == nil,
		IsChanged:     prev != nil && prev.ContentHash != hash,
		ScanID:        scanID,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.stores.Versions.InsertVersion(v); err != nil {
		return nil, fmt.Errorf("record version of %s: %w", path, err)
	}
	return v, nil
}

// FileHistory returns up to limit recorded versions of one file, newest
// first, with content included.
func (s *Service) FileHistory(storefrontID, themeID, filePath string, limit int) ([]*model.FileVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	versions, err := s.stores.Versions.VersionsForFile(storefrontID, themeID, filePath, limit)
	if err != nil {
		return nil, fmt.Errorf("load file history: %w", err)
	}
	return versions, nil
}

// FilesWithHistory lists the file paths of a theme that have more than one
// recorded version, i.e. the files a restore could change.
func (s *Service) FilesWithHistory(storefrontID, themeID string) ([]FileHistorySummary, error) {
	files, err := s.stores.Versions.FilesWithHistory(storefrontID, themeID)
	if err != nil {
		return nil, fmt.Errorf("list files with history: %w", err)
	}
	return files, nil
}

// VersionComparison is the diff summary of two recorded versions of a file.
type VersionComparison struct {
	FilePath    string    `json:"file_path"`
	OlderID     string    `json:"older_id"`
	NewerID     string    `json:"newer_id"`
	OlderAt     time.Time `json:"older_at"`
	NewerAt     time.Time `json:"newer_at"`
	Identical   bool      `json:"identical"`
	SizeDelta   int64     `json:"size_delta"`
	OlderHash   string    `json:"older_hash"`
	NewerHash   string    `json:"newer_hash"`
	IsAppOwned  bool      `json:"is_app_owned"`
	OwnerGuess  string    `json:"owner_guess,omitempty"`
}

// CompareVersions diffs two versions of the same file. Versions of different
// files or storefronts cannot be compared.
func (s *Service) CompareVersions(idA, idB string) (*VersionComparison, error) {
	a, err := s.stores.Versions.VersionByID(idA)
	if err != nil {
		return nil, fmt.Errorf("load version %s: %w", idA, err)
	}
	b, err := s.stores.Versions.VersionByID(idB)
	if err != nil {
		return nil, fmt.Errorf("load version %s: %w", idB, err)
	}
	if a == nil || b == nil {
		return nil, fmt.Errorf("version: %w", ErrNotFound)
	}
	if a.StorefrontID != b.StorefrontID || a.ThemeID != b.ThemeID || a.FilePath != b.FilePath {
		return nil, fmt.Errorf("versions %s and %s record different files", idA, idB)
	}

	older, newer := a, b
	if b.CreatedAt.Before(a.CreatedAt) {
		older, newer = b, a
	}
	return &VersionComparison{
		FilePath:   a.FilePath,
		OlderID:    older.ID,
		NewerID:    newer.ID,
		OlderAt:    older.CreatedAt,
		NewerAt:    newer.CreatedAt,
		Identical:  older.ContentHash == newer.ContentHash,
		SizeDelta:  newer.FileSize - older.FileSize,
		OlderHash:  older.ContentHash,
		NewerHash:  newer.ContentHash,
		IsAppOwned: newer.IsAppOwned,
		OwnerGuess: newer.AppOwnerGuess,
	}, nil
}
