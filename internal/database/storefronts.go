package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storewatch/internal/model"
)

const storefrontColumns = `id, domain, access_token, name, plan_tier, active,
	scan_in_progress, last_scan_started_at, last_scan_completed_at,
	last_scan_status, last_scan_error, scan_failure_count, installed_at,
	updated_at`

func scanStorefront(row interface{ Scan(...any) error }) (*model.Storefront, error) {
	var (
		s           model.Storefront
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.Domain, &s.AccessToken, &s.Name, &s.PlanTier, &s.Active,
		&s.ScanInProgress, &startedAt, &completedAt,
		&s.LastScanStatus, &s.LastScanError, &s.ScanFailureCount, &s.InstalledAt,
		&s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning storefront: %w", err)
	}
	s.LastScanStartedAt = timePtr(startedAt)
	s.LastScanCompletedAt = timePtr(completedAt)
	return &s, nil
}

func (d *DB) CreateStorefront(s *model.Storefront) error {
	_, err := d.db.Exec(`INSERT INTO storefronts (`+storefrontColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Domain, s.AccessToken, s.Name, s.PlanTier, s.Active,
		s.ScanInProgress, nullTime(s.LastScanStartedAt), nullTime(s.LastScanCompletedAt),
		s.LastScanStatus, s.LastScanError, s.ScanFailureCount, s.InstalledAt,
		s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting storefront: %w", err)
	}
	return nil
}

func (d *DB) StorefrontByID(id string) (*model.Storefront, error) {
	row := d.db.QueryRow(`SELECT `+storefrontColumns+` FROM storefronts WHERE id = ?`, id)
	return scanStorefront(row)
}

func (d *DB) StorefrontByDomain(domain string) (*model.Storefront, error) {
	row := d.db.QueryRow(`SELECT `+storefrontColumns+` FROM storefronts WHERE domain = ?`, domain)
	return scanStorefront(row)
}

func (d *DB) ListActiveStorefronts() ([]*model.Storefront, error) {
	rows, err := d.db.Query(`SELECT `+storefrontColumns+` FROM storefronts
		WHERE active = ? ORDER BY domain`, true)
	if err != nil {
		return nil, fmt.Errorf("listing storefronts: %w", err)
	}
	defer rows.Close()

	var out []*model.Storefront
	for rows.Next() {
		s, err := scanStorefront(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TryBeginScan sets scan_in_progress if and only if it is currently clear.
// The guarded UPDATE makes the check-and-set atomic, so two concurrent
// scheduled scans cannot both claim the same storefront.
func (d *DB) TryBeginScan(id string, at time.Time) (bool, error) {
	res, err := d.db.Exec(`UPDATE storefronts
		SET scan_in_progress = ?, last_scan_started_at = ?, updated_at = ?
		WHERE id = ? AND scan_in_progress = ?`,
		true, at, at, id, false)
	if err != nil {
		return false, fmt.Errorf("claiming scan flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming scan flag: %w", err)
	}
	return n == 1, nil
}

// FinishScan clears the scan flag and records the outcome. A success resets
// the failure counter; any other status increments it.
func (d *DB) FinishScan(id, status, errMsg string, at time.Time) error {
	var err error
	if status == model.ScanCompleted {
		_, err = d.db.Exec(`UPDATE storefronts
			SET scan_in_progress = ?, last_scan_completed_at = ?,
				last_scan_status = ?, last_scan_error = ?,
				scan_failure_count = 0, updated_at = ?
			WHERE id = ?`,
			false, at, status, errMsg, at, id)
	} else {
		_, err = d.db.Exec(`UPDATE storefronts
			SET scan_in_progress = ?, last_scan_completed_at = ?,
				last_scan_status = ?, last_scan_error = ?,
				scan_failure_count = scan_failure_count + 1, updated_at = ?
			WHERE id = ?`,
			false, at, status, errMsg, at, id)
	}
	if err != nil {
		return fmt.Errorf("recording scan outcome: %w", err)
	}
	return nil
}
