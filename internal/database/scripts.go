package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storewatch/internal/model"
)

const scriptColumns = `id, storefront_id, platform_script_id, src,
	display_scope, event, likely_app, is_new, is_removed, scan_id,
	first_seen, last_seen`

func scanScript(row interface{ Scan(...any) error }) (*model.ScriptSnapshot, error) {
	var s model.ScriptSnapshot
	err := row.Scan(&s.ID, &s.StorefrontID, &s.PlatformScriptID, &s.Src,
		&s.DisplayScope, &s.Event, &s.LikelyApp, &s.IsNew, &s.IsRemoved,
		&s.ScanID, &s.FirstSeen, &s.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning script snapshot: %w", err)
	}
	return &s, nil
}

func (d *DB) InsertScript(s *model.ScriptSnapshot) error {
	_, err := d.db.Exec(`INSERT INTO script_snapshots (`+scriptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StorefrontID, s.PlatformScriptID, s.Src,
		s.DisplayScope, s.Event, s.LikelyApp, s.IsNew, s.IsRemoved,
		s.ScanID, s.FirstSeen, s.LastSeen)
	if err != nil {
		return fmt.Errorf("inserting script snapshot: %w", err)
	}
	return nil
}

func (d *DB) ActiveScripts(storefrontID string) ([]*model.ScriptSnapshot, error) {
	rows, err := d.db.Query(`SELECT `+scriptColumns+` FROM script_snapshots
		WHERE storefront_id = ? AND is_removed = ? ORDER BY first_seen DESC, id`,
		storefrontID, false)
	if err != nil {
		return nil, fmt.Errorf("listing active scripts: %w", err)
	}
	return collectScripts(rows)
}

func (d *DB) TouchScript(id, scanID string, seen time.Time) error {
	_, err := d.db.Exec(`UPDATE script_snapshots
		SET last_seen = ?, scan_id = ?, is_new = ? WHERE id = ?`,
		seen, scanID, false, id)
	if err != nil {
		return fmt.Errorf("touching script snapshot: %w", err)
	}
	return nil
}

func (d *DB) MarkScriptRemoved(id, scanID string) error {
	_, err := d.db.Exec(`UPDATE script_snapshots
		SET is_removed = ?, scan_id = ? WHERE id = ?`,
		true, scanID, id)
	if err != nil {
		return fmt.Errorf("marking script removed: %w", err)
	}
	return nil
}

func (d *DB) ScriptHistory(storefrontID string, limit int) ([]*model.ScriptSnapshot, error) {
	rows, err := d.db.Query(`SELECT `+scriptColumns+` FROM script_snapshots
		WHERE storefront_id = ? ORDER BY first_seen DESC, id LIMIT ?`,
		storefrontID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing script history: %w", err)
	}
	return collectScripts(rows)
}

func (d *DB) DeleteRemovedScriptsBefore(storefrontID string, cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM script_snapshots
		WHERE storefront_id = ? AND is_removed = ? AND last_seen < ?`,
		storefrontID, true, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting removed scripts: %w", err)
	}
	return res.RowsAffected()
}

func collectScripts(rows *sql.Rows) ([]*model.ScriptSnapshot, error) {
	defer rows.Close()
	var out []*model.ScriptSnapshot
	for rows.Next() {
		s, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
