package report

import (
	"fmt"
	"io"

	"github.com/jszwec/csvutil"

	"storewatch/internal/diag"
)

// scanRow is the CSV shape of one scan run.
type scanRow struct {
	ScanID         string `csv:"scan_id"`
	Trigger        string `csv:"trigger"`
	Status         string `csv:"status"`
	ThemeName      string `csv:"theme_name"`
	FilesTotal     int    `csv:"files_total"`
	FilesNew       int    `csv:"files_new"`
	FilesChanged   int    `csv:"files_changed"`
	FilesDeleted   int    `csv:"files_deleted"`
	ScriptsNew     int    `csv:"scripts_new"`
	ScriptsRemoved int    `csv:"scripts_removed"`
	SelectorIssues int    `csv:"selector_issues"`
	RiskLevel      string `csv:"risk_level"`
	StartedAt      string `csv:"started_at"`
	CompletedAt    string `csv:"completed_at"`
}

// rollbackRow is the CSV shape of one rollback audit record.
type rollbackRow struct {
	RollbackID    string `csv:"rollback_id"`
	FilePath      string `csv:"file_path"`
	ToVersionID   string `csv:"to_version_id"`
	Mode          string `csv:"mode"`
	Status        string `csv:"status"`
	WasAppOwned   bool   `csv:"was_app_owned"`
	UserConfirmed bool   `csv:"user_confirmed"`
	PerformedBy   string `csv:"performed_by"`
	ErrorMessage  string `csv:"error_message"`
	CreatedAt     string `csv:"created_at"`
}

const csvTimeLayout = "2006-01-02 15:04:05"

// ExportScanHistory writes a storefront's scan history as CSV.
func (g *Generator) ExportScanHistory(w io.Writer, storefrontID string, limit int) error {
	sf, err := g.stores.Storefronts.StorefrontByID(storefrontID)
	if err != nil {
		return fmt.Errorf("loading storefront: %w", err)
	}
	if sf == nil {
		return diag.ErrNotFound
	}

	runs, err := g.stores.Scans.ScanHistory(storefrontID, limit)
	if err != nil {
		return fmt.Errorf("loading scan history: %w", err)
	}

	rows := make([]scanRow, 0, len(runs))
	for _, run := range runs {
		row := scanRow{
			ScanID:         run.ID,
			Trigger:        run.Trigger,
			Status:         run.Status,
			ThemeName:      run.ThemeName,
			FilesTotal:     run.FilesTotal,
			FilesNew:       run.FilesNew,
			FilesChanged:   run.FilesChanged,
			FilesDeleted:   run.FilesDeleted,
			ScriptsNew:     run.ScriptsNew,
			ScriptsRemoved: run.ScriptsRemoved,
			SelectorIssues: run.SelectorIssues,
			RiskLevel:      string(run.RiskLevel),
			StartedAt:      run.StartedAt.UTC().Format(csvTimeLayout),
		}
		if run.CompletedAt != nil {
			row.CompletedAt = run.CompletedAt.UTC().Format(csvTimeLayout)
		}
		rows = append(rows, row)
	}

	return writeCSV(w, rows)
}

// ExportRollbackHistory writes a storefront's rollback audit trail as CSV.
func (g *Generator) ExportRollbackHistory(w io.Writer, storefrontID string, limit int) error {
	sf, err := g.stores.Storefronts.StorefrontByID(storefrontID)
	if err != nil {
		return fmt.Errorf("loading storefront: %w", err)
	}
	if sf == nil {
		return diag.ErrNotFound
	}

	actions, err := g.stores.Audit.RollbackHistory(storefrontID, limit)
	if err != nil {
		return fmt.Errorf("loading rollback history: %w", err)
	}

	rows := make([]rollbackRow, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, rollbackRow{
			RollbackID:    a.ID,
			FilePath:      a.FilePath,
			ToVersionID:   a.ToVersionID,
			Mode:          a.Mode,
			Status:        a.Status,
			WasAppOwned:   a.WasAppOwned,
			UserConfirmed: a.UserConfirmed,
			PerformedBy:   a.PerformedBy,
			ErrorMessage:  a.ErrorMessage,
			CreatedAt:     a.CreatedAt.UTC().Format(csvTimeLayout),
		})
	}

	return writeCSV(w, rows)
}

func writeCSV[T any](w io.Writer, rows []T) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding csv: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}
