package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storewatch/internal/model"
)

const rollbackColumns = `id, storefront_id, theme_id, file_path,
	from_version_id, to_version_id, mode, status, was_app_owned,
	app_owner_guess, user_confirmed, performed_by, notes, error_message,
	created_at, completed_at`

func scanRollback(row interface{ Scan(...any) error }) (*model.RollbackAction, error) {
	var (
		a           model.RollbackAction
		completedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.StorefrontID, &a.ThemeID, &a.FilePath,
		&a.FromVersionID, &a.ToVersionID, &a.Mode, &a.Status, &a.WasAppOwned,
		&a.AppOwnerGuess, &a.UserConfirmed, &a.PerformedBy, &a.Notes, &a.ErrorMessage,
		&a.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning rollback action: %w", err)
	}
	a.CompletedAt = timePtr(completedAt)
	return &a, nil
}

func (d *DB) CreateRollback(a *model.RollbackAction) error {
	_, err := d.db.Exec(`INSERT INTO rollback_actions (`+rollbackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.StorefrontID, a.ThemeID, a.FilePath,
		a.FromVersionID, a.ToVersionID, a.Mode, a.Status, a.WasAppOwned,
		a.AppOwnerGuess, a.UserConfirmed, a.PerformedBy, a.Notes, a.ErrorMessage,
		a.CreatedAt, nullTime(a.CompletedAt))
	if err != nil {
		return fmt.Errorf("inserting rollback action: %w", err)
	}
	return nil
}

func (d *DB) MarkRollbackCompleted(id string, at time.Time) error {
	_, err := d.db.Exec(`UPDATE rollback_actions
		SET status = ?, completed_at = ? WHERE id = ?`,
		model.RollbackCompleted, at, id)
	if err != nil {
		return fmt.Errorf("completing rollback action: %w", err)
	}
	return nil
}

func (d *DB) MarkRollbackFailed(id, errMsg string, at time.Time) error {
	_, err := d.db.Exec(`UPDATE rollback_actions
		SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		model.RollbackFailed, errMsg, at, id)
	if err != nil {
		return fmt.Errorf("failing rollback action: %w", err)
	}
	return nil
}

func (d *DB) RollbackHistory(storefrontID string, limit int) ([]*model.RollbackAction, error) {
	rows, err := d.db.Query(`SELECT `+rollbackColumns+` FROM rollback_actions
		WHERE storefront_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		storefrontID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing rollback history: %w", err)
	}
	defer rows.Close()

	var out []*model.RollbackAction
	for rows.Next() {
		a, err := scanRollback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
