package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storewatch/internal/model"
)

const issueColumns = `id, storefront_id, theme_id, file_path, issue_type,
	severity, selector, likely_source, confidence, is_resolved,
	resolution_notes, detected_at, resolved_at`

func scanIssue(row interface{ Scan(...any) error }) (*model.Issue, error) {
	var (
		i          model.Issue
		resolvedAt sql.NullTime
	)
	err := row.Scan(&i.ID, &i.StorefrontID, &i.ThemeID, &i.FilePath, &i.IssueType,
		&i.Severity, &i.Selector, &i.LikelySource, &i.Confidence, &i.IsResolved,
		&i.ResolutionNotes, &i.DetectedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning issue: %w", err)
	}
	i.ResolvedAt = timePtr(resolvedAt)
	return &i, nil
}

func (d *DB) InsertIssue(i *model.Issue) error {
	_, err := d.db.Exec(`INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.StorefrontID, i.ThemeID, i.FilePath, i.IssueType,
		i.Severity, i.Selector, i.LikelySource, i.Confidence, i.IsResolved,
		i.ResolutionNotes, i.DetectedAt, nullTime(i.ResolvedAt))
	if err != nil {
		return fmt.Errorf("inserting issue: %w", err)
	}
	return nil
}

func (d *DB) UnresolvedIssues(storefrontID string) ([]*model.Issue, error) {
	rows, err := d.db.Query(`SELECT `+issueColumns+` FROM issues
		WHERE storefront_id = ? AND is_resolved = ?
		ORDER BY detected_at DESC, id DESC`,
		storefrontID, false)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved issues: %w", err)
	}
	defer rows.Close()

	var out []*model.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (d *DB) ResolveIssue(id, notes string, at time.Time) error {
	_, err := d.db.Exec(`UPDATE issues
		SET is_resolved = ?, resolution_notes = ?, resolved_at = ? WHERE id = ?`,
		true, notes, at, id)
	if err != nil {
		return fmt.Errorf("resolving issue: %w", err)
	}
	return nil
}
