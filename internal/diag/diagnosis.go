package diag

import (
	"fmt"
	"sort"
	"time"

	"storewatch/internal/model"
)

// How far back app installs and updates are considered when correlating
// issues.
const correlationLookback = 14 * 24 * time.Hour

// Primary-suspect threshold: below it the diagnosis offers an ordered
// try-list instead of naming one app.
const primaryConfidence = 60

// Suspect is one app ranked as a probable cause of the open issues.
type Suspect struct {
	AppName         string   `json:"app_name"`
	Confidence      float64  `json:"confidence"` // 0-100
	RecentlyUpdated bool     `json:"recently_updated"`
	Reasons         []string `json:"reasons"`
}

// ConflictAdvice is a known bad interaction between two installed apps,
// surfaced with the order in which to disable them.
type ConflictAdvice struct {
	AppA         string `json:"app_a"`
	AppB         string `json:"app_b"`
	Description  string `json:"description"`
	Resolution   string `json:"resolution"`
	DisableFirst string `json:"disable_first"` // the more recently active app
}

// Diagnosis is the correlation engine's report for one storefront.
type Diagnosis struct {
	StorefrontID   string          `json:"storefront_id"`
	GeneratedAt    time.Time       `json:"generated_at"`
	OpenIssues     int             `json:"open_issues"`
	Suspects       []Suspect       `json:"suspects"`
	PrimarySuspect *Suspect        `json:"primary_suspect,omitempty"`
	KnownConflict  *ConflictAdvice `json:"known_conflict,omitempty"`
	Steps          []string        `json:"steps"`
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// timingConfidence maps "days since the app last changed" to a base
// confidence: the closer the change, the likelier the app is the cause.
func timingConfidence(days float64) float64 {
	switch {
	case days <= 1:
		return 85
	case days <= 3:
		return 70
	case days <= 7:
		return 50
	default:
		return 30
	}
}

// Diagnose correlates a storefront's unresolved issues with its recent app
// installs and updates, ranking suspects by timing proximity. Issues that
// already carry an attribution keep it; timing only raises a suspect's
// confidence, never lowers a stored one.
func (s *Service) Diagnose(storefrontID string) (*Diagnosis, error) {
	sf, err := s.stores.Storefronts.StorefrontByID(storefrontID)
	if err != nil {
		return nil, fmt.Errorf("load storefront: %w", err)
	}
	if sf == nil {
		return nil, fmt.Errorf("storefront %s: %w", storefrontID, ErrNotFound)
	}

	now := s.clock.Now()
	d := &Diagnosis{StorefrontID: sf.ID, GeneratedAt: now}

	issues, err := s.stores.Issues.UnresolvedIssues(sf.ID)
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	d.OpenIssues = len(issues)
	if len(issues) == 0 {
		d.Steps = []string{"No unresolved issues were detected. Run a scan after any visual change to keep history current."}
		return d, nil
	}

	apps, err := s.stores.Apps.AppsInstalledSince(sf.ID, now.Add(-correlationLookback))
	if err != nil {
		return nil, fmt.Errorf("load app installs: %w", err)
	}

	suspects := map[string]*Suspect{}

	// Timing pass: an app is a candidate only for issues detected after it
	// was installed or updated, scored by the gap to that detection time.
	// The shortest gap across the open issues wins.
	for _, app := range apps {
		conf := -1.0
		var days float64
		recentlyUpdated := false
		for _, issue := range issues {
			activity := app.InstalledAt
			viaUpdate := false
			if app.LastUpdatedAt != nil && app.LastUpdatedAt.After(app.InstalledAt) &&
				!app.LastUpdatedAt.After(issue.DetectedAt) {
				activity = *app.LastUpdatedAt
				viaUpdate = true
			}
			if activity.After(issue.DetectedAt) {
				// The app changed after this issue appeared; it cannot
				// have caused it.
				continue
			}
			gap := issue.DetectedAt.Sub(activity).Hours() / 24
			if c := timingConfidence(gap); c > conf {
				conf = c
				days = gap
				recentlyUpdated = viaUpdate
			}
		}
		if conf < 0 {
			continue
		}
		reason := fmt.Sprintf("installed %.0f days before the issues appeared", days)
		if recentlyUpdated {
			reason = fmt.Sprintf("recently updated (%.0f days before the issues appeared), updates often change injected code", days)
		}
		reasons := []string{reason}
		if app.IsSuspect {
			conf += 15
			if conf > 95 {
				conf = 95
			}
			reasons = append(reasons, "previously flagged as a likely cause of issues")
		}
		suspects[app.AppName] = &Suspect{
			AppName:         app.AppName,
			Confidence:      clampConfidence(conf),
			RecentlyUpdated: recentlyUpdated,
			Reasons:         reasons,
		}
	}

	// Attribution pass: stored likely-source tags raise or introduce
	// suspects but never reduce a timing score.
	for _, issue := range issues {
		if issue.LikelySource == "" {
			continue
		}
		conf := issue.Confidence
		if conf == 0 {
			conf = 50
		}
		conf = clampConfidence(conf)
		reason := fmt.Sprintf("matched the signature of a %s issue", issue.IssueType)
		if sp, ok := suspects[issue.LikelySource]; ok {
			if conf > sp.Confidence {
				sp.Confidence = conf
			}
			sp.Reasons = append(sp.Reasons, reason)
			continue
		}
		suspects[issue.LikelySource] = &Suspect{
			AppName:    issue.LikelySource,
			Confidence: conf,
			Reasons:    []string{reason},
		}
	}

	for _, sp := range suspects {
		d.Suspects = append(d.Suspects, *sp)
	}
	sort.Slice(d.Suspects, func(a, b int) bool {
		if d.Suspects[a].Confidence != d.Suspects[b].Confidence {
			return d.Suspects[a].Confidence > d.Suspects[b].Confidence
		}
		return d.Suspects[a].AppName < d.Suspects[b].AppName
	})

	if len(d.Suspects) > 0 && d.Suspects[0].Confidence >= primaryConfidence {
		top := d.Suspects[0]
		d.PrimarySuspect = &top
	}

	d.KnownConflict = s.findConflict(d.Suspects, apps)
	d.Steps = buildSteps(d)
	return d, nil
}

// findConflict looks for a catalog conflict between the top suspect and any
// other installed app. The more recently active app is the one to disable
// first.
func (s *Service) findConflict(suspects []Suspect, apps []*model.AppInstall) *ConflictAdvice {
	if len(suspects) == 0 {
		return nil
	}
	top := suspects[0].AppName

	activity := func(a *model.AppInstall) time.Time {
		if a.LastUpdatedAt != nil && a.LastUpdatedAt.After(a.InstalledAt) {
			return *a.LastUpdatedAt
		}
		return a.InstalledAt
	}
	byName := map[string]*model.AppInstall{}
	for _, a := range apps {
		byName[a.AppName] = a
	}

	for _, other := range apps {
		if other.AppName == top {
			continue
		}
		k, ok := s.sigs.ConflictBetween(top, other.AppName)
		if !ok {
			continue
		}
		advice := &ConflictAdvice{
			AppA:         top,
			AppB:         other.AppName,
			Description:  k.Description,
			Resolution:   k.Resolution,
			DisableFirst: top,
		}
		if topInstall, ok := byName[top]; ok {
			if activity(other).After(activity(topInstall)) {
				advice.DisableFirst = other.AppName
			}
		}
		return advice
	}
	return nil
}

// buildSteps renders the ordered remediation list. There is always a final
// fallback step for when nothing on the list helps.
func buildSteps(d *Diagnosis) []string {
	var steps []string

	if d.KnownConflict != nil {
		second := d.KnownConflict.AppA
		if second == d.KnownConflict.DisableFirst {
			second = d.KnownConflict.AppB
		}
		steps = append(steps,
			fmt.Sprintf("%s and %s are known to conflict: %s Disable %s first, re-check the storefront, then disable %s if the issue remains.",
				d.KnownConflict.AppA, d.KnownConflict.AppB, d.KnownConflict.Description,
				d.KnownConflict.DisableFirst, second))
	}

	switch {
	case d.PrimarySuspect != nil:
		steps = append(steps,
			fmt.Sprintf("Disable %s (confidence %.0f%%) and re-check the storefront.",
				d.PrimarySuspect.AppName, d.PrimarySuspect.Confidence))
		for _, sp := range d.Suspects {
			if sp.AppName == d.PrimarySuspect.AppName {
				continue
			}
			steps = append(steps,
				fmt.Sprintf("If the issue remains, disable %s (confidence %.0f%%).",
					sp.AppName, sp.Confidence))
		}
	case len(d.Suspects) > 0:
		steps = append(steps, "No single app stands out; disable these one at a time, newest change first:")
		for _, sp := range d.Suspects {
			steps = append(steps,
				fmt.Sprintf("Disable %s (confidence %.0f%%) and re-check before moving on.",
					sp.AppName, sp.Confidence))
		}
	default:
		steps = append(steps, "No recently installed or updated apps were found to correlate with the issues.")
	}

	steps = append(steps,
		"If the problem persists after all of the above, restore the theme to the last date it looked correct and contact the most recently installed app's support.")
	return steps
}
