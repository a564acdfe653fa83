// Package report renders scan results as human-readable markdown and
// exports history as CSV.
package report

import (
	"fmt"
	"strings"
	"time"

	"storewatch/internal/diag"
	"storewatch/internal/model"
)

// Generator renders reports from stored scan data.
type Generator struct {
	svc    *diag.Service
	stores diag.Stores
	clock  diag.Clock
}

// NewGenerator builds a Generator.
func NewGenerator(svc *diag.Service, stores diag.Stores, clock diag.Clock) *Generator {
	return &Generator{svc: svc, stores: stores, clock: clock}
}

// ScanReport renders one scan run as markdown. An empty scanID selects the
// storefront's most recent run.
func (g *Generator) ScanReport(storefrontID, scanID string) (string, error) {
	sf, err := g.stores.Storefronts.StorefrontByID(storefrontID)
	if err != nil {
		return "", fmt.Errorf("loading storefront: %w", err)
	}
	if sf == nil {
		return "", diag.ErrNotFound
	}

	var run *model.ScanRun
	if scanID == "" {
		run, err = g.stores.Scans.LatestScan(storefrontID)
	} else {
		run, err = g.stores.Scans.ScanByID(scanID)
	}
	if err != nil {
		return "", fmt.Errorf("loading scan: %w", err)
	}
	if run == nil || run.StorefrontID != storefrontID {
		return "", diag.ErrNotFound
	}

	var b strings.Builder

	// Title
	b.WriteString(fmt.Sprintf("# Theme Scan Report: %s\n\n", sf.Domain))
	b.WriteString(fmt.Sprintf("**Generated:** %s  \n", g.clock.Now().Format("January 2, 2006 15:04:05 MST")))
	b.WriteString(fmt.Sprintf("**Scan:** %s (%s)  \n", run.ID, run.Trigger))
	b.WriteString(fmt.Sprintf("**Theme:** %s  \n", run.ThemeName))
	b.WriteString(fmt.Sprintf("**Status:** %s  \n\n", run.Status))

	// Summary
	b.WriteString("## Summary\n\n")
	if run.Summary != "" {
		b.WriteString(run.Summary + "\n\n")
	}
	b.WriteString(fmt.Sprintf("**Risk level:** %s\n\n", run.RiskLevel))
	if len(run.RiskReasons) > 0 {
		for _, reason := range run.RiskReasons {
			b.WriteString(fmt.Sprintf("- %s\n", reason))
		}
		b.WriteString("\n")
	}

	// Counts table
	b.WriteString("## Changes\n\n")
	b.WriteString("| Metric | Count |\n")
	b.WriteString("|---|---|\n")
	b.WriteString(fmt.Sprintf("| Files scanned | %d |\n", run.FilesTotal))
	b.WriteString(fmt.Sprintf("| New files | %d |\n", run.FilesNew))
	b.WriteString(fmt.Sprintf("| Changed files | %d |\n", run.FilesChanged))
	b.WriteString(fmt.Sprintf("| Deleted files | %d |\n", run.FilesDeleted))
	b.WriteString(fmt.Sprintf("| App-owned files | %d |\n", run.AppOwnedFiles))
	b.WriteString(fmt.Sprintf("| Scripts active | %d |\n", run.ScriptsTotal))
	b.WriteString(fmt.Sprintf("| New scripts | %d |\n", run.ScriptsNew))
	b.WriteString(fmt.Sprintf("| Removed scripts | %d |\n", run.ScriptsRemoved))
	b.WriteString("\n")

	if len(run.AppsIdentified) > 0 {
		b.WriteString("## Apps Identified\n\n")
		for _, app := range run.AppsIdentified {
			b.WriteString(fmt.Sprintf("- %s\n", app))
		}
		b.WriteString("\n")
	}

	// Selector findings sample
	if len(run.IssueSample) > 0 {
		b.WriteString("## Selector Findings\n\n")
		b.WriteString(fmt.Sprintf("%d finding(s) recorded; the first %d are shown.\n\n",
			run.SelectorIssues, len(run.IssueSample)))
		b.WriteString("| File | Selector | Severity | Description |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, issue := range run.IssueSample {
			b.WriteString(fmt.Sprintf("| %s | `%s` | %s | %s |\n",
				issue.FilePath, issue.Selector, issue.Severity, issue.Description))
		}
		b.WriteString("\n")
	}

	if run.ErrorMessage != "" {
		b.WriteString("## Errors\n\n")
		b.WriteString("```\n" + run.ErrorMessage + "\n```\n\n")
	}

	return b.String(), nil
}

// DiagnosisReport renders the correlation engine's findings as markdown.
func (g *Generator) DiagnosisReport(storefrontID string) (string, error) {
	sf, err := g.stores.Storefronts.StorefrontByID(storefrontID)
	if err != nil {
		return "", fmt.Errorf("loading storefront: %w", err)
	}
	if sf == nil {
		return "", diag.ErrNotFound
	}

	d, err := g.svc.Diagnose(storefrontID)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Issue Diagnosis: %s\n\n", sf.Domain))
	b.WriteString(fmt.Sprintf("**Generated:** %s  \n", d.GeneratedAt.Format(time.RFC1123)))
	b.WriteString(fmt.Sprintf("**Open issues:** %d  \n\n", d.OpenIssues))

	if d.PrimarySuspect != nil {
		b.WriteString("## Primary Suspect\n\n")
		b.WriteString(fmt.Sprintf("**%s** (confidence %.0f%%)\n\n",
			d.PrimarySuspect.AppName, d.PrimarySuspect.Confidence))
		for _, reason := range d.PrimarySuspect.Reasons {
			b.WriteString(fmt.Sprintf("- %s\n", reason))
		}
		b.WriteString("\n")
	}

	if len(d.Suspects) > 0 {
		b.WriteString("## All Suspects\n\n")
		b.WriteString("| App | Confidence | Recently Updated |\n")
		b.WriteString("|---|---|---|\n")
		for _, s := range d.Suspects {
			b.WriteString(fmt.Sprintf("| %s | %.0f%% | %v |\n",
				s.AppName, s.Confidence, s.RecentlyUpdated))
		}
		b.WriteString("\n")
	}

	if d.KnownConflict != nil {
		b.WriteString("## Known Conflict\n\n")
		b.WriteString(fmt.Sprintf("**%s + %s**: %s\n\n",
			d.KnownConflict.AppA, d.KnownConflict.AppB, d.KnownConflict.Description))
		b.WriteString(fmt.Sprintf("Resolution: %s Disable **%s** first.\n\n",
			d.KnownConflict.Resolution, d.KnownConflict.DisableFirst))
	}

	b.WriteString("## Suggested Steps\n\n")
	for i, step := range d.Steps {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
	}
	b.WriteString("\n")

	return b.String(), nil
}
