package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storewatch/internal/model"
)

// Settings

func (d *DB) Setting(key string) (string, bool, error) {
	var value string
	err := d.db.QueryRow(`SELECT setting_value FROM settings WHERE setting_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting: %w", err)
	}
	return value, true, nil
}

func (d *DB) SetSetting(key, value, description, updatedBy string, at time.Time) error {
	res, err := d.db.Exec(`UPDATE settings
		SET setting_value = ?, description = ?, updated_by = ?, updated_at = ?
		WHERE setting_key = ?`,
		value, description, updatedBy, at, key)
	if err != nil {
		return fmt.Errorf("updating setting: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = d.db.Exec(`INSERT INTO settings
		(setting_key, setting_value, description, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		key, value, description, updatedBy, at)
	if err != nil {
		return fmt.Errorf("inserting setting: %w", err)
	}
	return nil
}

func (d *DB) ListSettings() ([]*model.Setting, error) {
	rows, err := d.db.Query(`SELECT setting_key, setting_value, description,
		updated_by, updated_at FROM settings ORDER BY setting_key`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	var out []*model.Setting
	for rows.Next() {
		var s model.Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.Description, &s.UpdatedBy, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Daily usage counters

func (d *DB) Usage(storefrontID, date string) (*model.DailyUsage, error) {
	var u model.DailyUsage
	err := d.db.QueryRow(`SELECT storefront_id, usage_date, scan_count,
		restore_count, updated_at FROM daily_usage
		WHERE storefront_id = ? AND usage_date = ?`,
		storefrontID, date).
		Scan(&u.StorefrontID, &u.UsageDate, &u.ScanCount, &u.RestoreCount, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading usage: %w", err)
	}
	return &u, nil
}

func (d *DB) IncrementScanCount(storefrontID, date string, at time.Time) error {
	return d.incrementUsage(storefrontID, date, "scan_count", at)
}

func (d *DB) IncrementRestoreCount(storefrontID, date string, at time.Time) error {
	return d.incrementUsage(storefrontID, date, "restore_count", at)
}

// incrementUsage bumps one counter, creating the day row on first use.
// column is always one of the two fixed counter names, never user input.
func (d *DB) incrementUsage(storefrontID, date, column string, at time.Time) error {
	res, err := d.db.Exec(`UPDATE daily_usage
		SET `+column+` = `+column+` + 1, updated_at = ?
		WHERE storefront_id = ? AND usage_date = ?`,
		at, storefrontID, date)
	if err != nil {
		return fmt.Errorf("incrementing usage: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	scans, restores := 0, 0
	if column == "scan_count" {
		scans = 1
	} else {
		restores = 1
	}
	_, err = d.db.Exec(`INSERT INTO daily_usage
		(storefront_id, usage_date, scan_count, restore_count, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		storefrontID, date, scans, restores, at)
	if err != nil {
		return fmt.Errorf("creating usage row: %w", err)
	}
	return nil
}
