package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storewatch/internal/diag"
	"storewatch/internal/model"
)

const versionColumns = `id, storefront_id, theme_id, theme_name, file_path,
	content_hash, content, file_size, is_app_owned, app_owner_guess,
	is_new, is_changed, scan_id, created_at`

func scanVersion(row interface{ Scan(...any) error }) (*model.FileVersion, error) {
	var v model.FileVersion
	err := row.Scan(&v.ID, &v.StorefrontID, &v.ThemeID, &v.ThemeName, &v.FilePath,
		&v.ContentHash, &v.Content, &v.FileSize, &v.IsAppOwned, &v.AppOwnerGuess,
		&v.IsNew, &v.IsChanged, &v.ScanID, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning file version: %w", err)
	}
	return &v, nil
}

func (d *DB) InsertVersion(v *model.FileVersion) error {
	_, err := d.db.Exec(`INSERT INTO file_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.StorefrontID, v.ThemeID, v.ThemeName, v.FilePath,
		v.ContentHash, v.Content, v.FileSize, v.IsAppOwned, v.AppOwnerGuess,
		v.IsNew, v.IsChanged, v.ScanID, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting file version: %w", err)
	}
	return nil
}

func (d *DB) VersionByID(id string) (*model.FileVersion, error) {
	row := d.db.QueryRow(`SELECT `+versionColumns+` FROM file_versions WHERE id = ?`, id)
	return scanVersion(row)
}

func (d *DB) LatestVersion(storefrontID, themeID, filePath string) (*model.FileVersion, error) {
	row := d.db.QueryRow(`SELECT `+versionColumns+` FROM file_versions
		WHERE storefront_id = ? AND theme_id = ? AND file_path = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		storefrontID, themeID, filePath)
	return scanVersion(row)
}

func (d *DB) LatestVersionBefore(storefrontID, themeID, filePath string, cutoff time.Time) (*model.FileVersion, error) {
	row := d.db.QueryRow(`SELECT `+versionColumns+` FROM file_versions
		WHERE storefront_id = ? AND theme_id = ? AND file_path = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		storefrontID, themeID, filePath, cutoff)
	return scanVersion(row)
}

func (d *DB) VersionsForFile(storefrontID, themeID, filePath string, limit int) ([]*model.FileVersion, error) {
	rows, err := d.db.Query(`SELECT `+versionColumns+` FROM file_versions
		WHERE storefront_id = ? AND theme_id = ? AND file_path = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		storefrontID, themeID, filePath, limit)
	if err != nil {
		return nil, fmt.Errorf("listing file versions: %w", err)
	}
	return collectVersions(rows)
}

func (d *DB) VersionsByScan(scanID string) ([]*model.FileVersion, error) {
	rows, err := d.db.Query(`SELECT `+versionColumns+` FROM file_versions
		WHERE scan_id = ? ORDER BY file_path`, scanID)
	if err != nil {
		return nil, fmt.Errorf("listing scan versions: %w", err)
	}
	return collectVersions(rows)
}

func (d *DB) VersionsBefore(storefrontID string, cutoff time.Time) ([]*model.FileVersion, error) {
	rows, err := d.db.Query(`SELECT `+versionColumns+` FROM file_versions
		WHERE storefront_id = ? AND created_at < ? ORDER BY created_at`,
		storefrontID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing expired versions: %w", err)
	}
	return collectVersions(rows)
}

func (d *DB) DeleteVersionsBefore(storefrontID string, cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM file_versions
		WHERE storefront_id = ? AND created_at < ?`, storefrontID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired versions: %w", err)
	}
	return res.RowsAffected()
}

func (d *DB) FilesWithHistory(storefrontID, themeID string) ([]diag.FileHistorySummary, error) {
	rows, err := d.db.Query(`SELECT file_path, COUNT(*) AS versions,
			MAX(is_app_owned) AS app_owned, MAX(app_owner_guess) AS owner
		FROM file_versions
		WHERE storefront_id = ? AND theme_id = ?
		GROUP BY file_path HAVING COUNT(*) > 1
		ORDER BY file_path`,
		storefrontID, themeID)
	if err != nil {
		return nil, fmt.Errorf("listing files with history: %w", err)
	}
	defer rows.Close()

	var out []diag.FileHistorySummary
	for rows.Next() {
		var f diag.FileHistorySummary
		if err := rows.Scan(&f.FilePath, &f.VersionCount, &f.IsAppOwned, &f.AppOwnerGuess); err != nil {
			return nil, fmt.Errorf("scanning file history summary: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func collectVersions(rows *sql.Rows) ([]*model.FileVersion, error) {
	defer rows.Close()
	var out []*model.FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
