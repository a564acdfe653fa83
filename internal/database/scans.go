package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storewatch/internal/model"
)

const scanColumns = `id, storefront_id, trigger_type, status, theme_id,
	theme_name, files_total, files_new, files_changed, files_deleted,
	scripts_total, scripts_new, scripts_removed, app_owned_files,
	apps_identified, selector_issues, issue_sample, risk_level,
	risk_reasons, summary, error_message, started_at, completed_at`

// marshalJSON stores slices as JSON text; nil encodes as an empty array so
// the column stays NOT NULL.
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding json column: %w", err)
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

func scanScanRun(row interface{ Scan(...any) error }) (*model.ScanRun, error) {
	var (
		run         model.ScanRun
		apps        string
		sample      string
		reasons     string
		completedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.StorefrontID, &run.Trigger, &run.Status, &run.ThemeID,
		&run.ThemeName, &run.FilesTotal, &run.FilesNew, &run.FilesChanged, &run.FilesDeleted,
		&run.ScriptsTotal, &run.ScriptsNew, &run.ScriptsRemoved, &run.AppOwnedFiles,
		&apps, &run.SelectorIssues, &sample, &run.RiskLevel,
		&reasons, &run.Summary, &run.ErrorMessage, &run.StartedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning scan run: %w", err)
	}
	run.CompletedAt = timePtr(completedAt)
	if err := json.Unmarshal([]byte(apps), &run.AppsIdentified); err != nil {
		return nil, fmt.Errorf("decoding apps_identified: %w", err)
	}
	if err := json.Unmarshal([]byte(sample), &run.IssueSample); err != nil {
		return nil, fmt.Errorf("decoding issue_sample: %w", err)
	}
	if err := json.Unmarshal([]byte(reasons), &run.RiskReasons); err != nil {
		return nil, fmt.Errorf("decoding risk_reasons: %w", err)
	}
	return &run, nil
}

func scanRunArgs(run *model.ScanRun) ([]any, error) {
	apps, err := marshalJSON(run.AppsIdentified)
	if err != nil {
		return nil, err
	}
	sample, err := marshalJSON(run.IssueSample)
	if err != nil {
		return nil, err
	}
	reasons, err := marshalJSON(run.RiskReasons)
	if err != nil {
		return nil, err
	}
	return []any{
		run.StorefrontID, run.Trigger, run.Status, run.ThemeID,
		run.ThemeName, run.FilesTotal, run.FilesNew, run.FilesChanged, run.FilesDeleted,
		run.ScriptsTotal, run.ScriptsNew, run.ScriptsRemoved, run.AppOwnedFiles,
		apps, run.SelectorIssues, sample, string(run.RiskLevel),
		reasons, run.Summary, run.ErrorMessage, run.StartedAt, nullTime(run.CompletedAt),
	}, nil
}

func (d *DB) CreateScanRun(run *model.ScanRun) error {
	args, err := scanRunArgs(run)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`INSERT INTO scan_runs (`+scanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{run.ID}, args...)...)
	if err != nil {
		return fmt.Errorf("inserting scan run: %w", err)
	}
	return nil
}

func (d *DB) UpdateScanRun(run *model.ScanRun) error {
	args, err := scanRunArgs(run)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`UPDATE scan_runs SET
		storefront_id = ?, trigger_type = ?, status = ?, theme_id = ?,
		theme_name = ?, files_total = ?, files_new = ?, files_changed = ?, files_deleted = ?,
		scripts_total = ?, scripts_new = ?, scripts_removed = ?, app_owned_files = ?,
		apps_identified = ?, selector_issues = ?, issue_sample = ?, risk_level = ?,
		risk_reasons = ?, summary = ?, error_message = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		append(args, run.ID)...)
	if err != nil {
		return fmt.Errorf("updating scan run: %w", err)
	}
	return nil
}

func (d *DB) ScanByID(id string) (*model.ScanRun, error) {
	row := d.db.QueryRow(`SELECT `+scanColumns+` FROM scan_runs WHERE id = ?`, id)
	return scanScanRun(row)
}

func (d *DB) LatestScan(storefrontID string) (*model.ScanRun, error) {
	row := d.db.QueryRow(`SELECT `+scanColumns+` FROM scan_runs
		WHERE storefront_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		storefrontID)
	return scanScanRun(row)
}

func (d *DB) ScanHistory(storefrontID string, limit int) ([]*model.ScanRun, error) {
	rows, err := d.db.Query(`SELECT `+scanColumns+` FROM scan_runs
		WHERE storefront_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		storefrontID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan history: %w", err)
	}
	defer rows.Close()

	var out []*model.ScanRun
	for rows.Next() {
		run, err := scanScanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (d *DB) DeleteScansBefore(storefrontID string, cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM scan_runs
		WHERE storefront_id = ? AND started_at < ?`, storefrontID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired scans: %w", err)
	}
	return res.RowsAffected()
}
