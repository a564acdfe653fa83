package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storewatch/internal/model"
)

const appColumns = `id, storefront_id, app_name, installed_at,
	last_updated_at, is_suspect, risk_score`

func scanApp(row interface{ Scan(...any) error }) (*model.AppInstall, error) {
	var (
		a         model.AppInstall
		updatedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.StorefrontID, &a.AppName, &a.InstalledAt,
		&updatedAt, &a.IsSuspect, &a.RiskScore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning app install: %w", err)
	}
	a.LastUpdatedAt = timePtr(updatedAt)
	return &a, nil
}

// UpsertApp inserts the install record or refreshes the existing row for
// the same (storefront, app name) pair.
func (d *DB) UpsertApp(a *model.AppInstall) error {
	res, err := d.db.Exec(`UPDATE app_installs
		SET installed_at = ?, last_updated_at = ?, is_suspect = ?, risk_score = ?
		WHERE storefront_id = ? AND app_name = ?`,
		a.InstalledAt, nullTime(a.LastUpdatedAt), a.IsSuspect, a.RiskScore,
		a.StorefrontID, a.AppName)
	if err != nil {
		return fmt.Errorf("updating app install: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = d.db.Exec(`INSERT INTO app_installs (`+appColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.StorefrontID, a.AppName, a.InstalledAt,
		nullTime(a.LastUpdatedAt), a.IsSuspect, a.RiskScore)
	if err != nil {
		return fmt.Errorf("inserting app install: %w", err)
	}
	return nil
}

func (d *DB) AppsInstalledSince(storefrontID string, since time.Time) ([]*model.AppInstall, error) {
	rows, err := d.db.Query(`SELECT `+appColumns+` FROM app_installs
		WHERE storefront_id = ? AND (installed_at >= ? OR last_updated_at >= ?)
		ORDER BY installed_at DESC, id`,
		storefrontID, since, since)
	if err != nil {
		return nil, fmt.Errorf("listing app installs: %w", err)
	}
	defer rows.Close()

	var out []*model.AppInstall
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
