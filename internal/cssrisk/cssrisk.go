// Package cssrisk detects globally-scoped style selectors that third-party
// code injects into a storefront theme. Everything in this package is a pure
// function of its input text: no I/O, deterministic output ordering.
package cssrisk

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity levels for individual findings.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Issue types.
const (
	TypeGlobalElement     = "global_element"
	TypeGlobalClass       = "global_class"
	TypeImportantOverride = "important_override"
)

// Issue is a single risky selector (or override pattern) found in style text.
type Issue struct {
	FilePath    string
	Selector    string
	IssueType   string
	Severity    string
	Description string
}

// Assessment is the aggregate risk of a set of issues.
type Assessment struct {
	Score       int // 0-100
	Level       string
	HighCount   int
	MediumCount int
	LowCount    int
	TotalIssues int
	Summary     string
}

// Bare element names that affect the whole page when selected globally.
var riskyElements = map[string]struct{}{}

// Generic class names apps commonly ship without a namespace.
var riskyClasses = map[string]struct{}{}

func init() {
	for _, e := range []string{
		"button", "input", "select", "textarea", "form",
		"a", "p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "table", "tr", "td", "th",
		"div", "span", "section", "article", "header", "footer", "nav",
		"img", "video", "iframe",
	} {
		riskyElements[e] = struct{}{}
	}
	for _, c := range []string{
		"button", "btn", "btn-primary", "btn-secondary", "btn-submit",
		"container", "wrapper", "content", "inner", "outer",
		"header", "footer", "nav", "menu", "sidebar",
		"card", "box", "panel", "modal", "popup", "overlay",
		"title", "subtitle", "heading", "text", "label",
		"image", "img", "icon", "logo",
		"link", "active", "disabled", "hidden", "visible",
		"error", "success", "warning", "info",
		"form", "input", "field", "checkbox", "radio",
		"list", "item", "row", "column", "col", "grid",
		"slider", "carousel", "tab", "tabs", "accordion",
		"dropdown", "select", "option",
		"loading", "spinner", "loader",
		"close", "open", "toggle",
		"small", "medium", "large", "full", "half",
		"left", "right", "center", "top", "bottom",
	} {
		riskyClasses[c] = struct{}{}
	}
}

// Prefix patterns that indicate properly namespaced selectors.
var namespacePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\.[a-z]+-[a-z]+-`), // .app-name-component
	regexp.MustCompile(`(?i)^\.[a-z]+__`),       // .block__element (BEM)
	regexp.MustCompile(`(?i)^\.[a-z]+--`),       // .block--modifier (BEM)
	regexp.MustCompile(`(?i)^\.shopify-`),       // platform namespace
	regexp.MustCompile(`(?i)^#[a-z]+-[a-z]+-`),  // #app-name-id
	regexp.MustCompile(`(?i)^\[data-[a-z]+-`),   // [data-app-attribute]
}

var (
	commentRe    = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	ruleRe       = regexp.MustCompile(`([^{}]+)\{[^{}]*}`)
	styleBlockRe = regexp.MustCompile(`(?is)<style[^>]*>(.*?)</style>`)
	importantRe  = regexp.MustCompile(`(?i)!important`)
	alphaRe      = regexp.MustCompile(`^[a-z]+$`)
)

const importantThreshold = 5

// ExtractSelectors returns the individual selectors appearing in raw style
// text, in source order with duplicates removed. Comma groups are split;
// minified input is handled because extraction is block-based, not
// line-based.
func ExtractSelectors(styleText string) []string {
	cleaned := commentRe.ReplaceAllString(styleText, "")

	var out []string
	seen := make(map[string]struct{})
	for _, m := range ruleRe.FindAllStringSubmatch(cleaned, -1) {
		for _, sel := range strings.Split(m[1], ",") {
			sel = strings.TrimSpace(sel)
			if sel == "" {
				continue
			}
			if _, dup := seen[sel]; dup {
				continue
			}
			seen[sel] = struct{}{}
			out = append(out, sel)
		}
	}
	return out
}

// IsNamespaced reports whether a selector appears scoped: a known namespace
// prefix, or a compound/descendant selector carrying a parent scope.
func IsNamespaced(selector string) bool {
	for _, p := range namespacePatterns {
		if p.MatchString(selector) {
			return true
		}
	}
	// ".my-app .button" is scoped; a bare ".button" is not.
	return len(strings.Fields(selector)) >= 2
}

// checkSelector classifies a single selector. Returns nil for safe selectors.
func checkSelector(selector string) *Issue {
	clean := strings.ToLower(strings.TrimSpace(selector))

	if IsNamespaced(selector) {
		return nil
	}
	// At-rules carry their own scoping.
	if strings.HasPrefix(clean, "@") {
		return nil
	}
	// Root-level selectors are usually intentional.
	switch clean {
	case ":root", "html", "body", "*":
		return nil
	}

	if _, ok := riskyElements[clean]; ok {
		return &Issue{
			Selector:    selector,
			IssueType:   TypeGlobalElement,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("bare element selector %q affects every %s element on the page", clean, clean),
		}
	}

	if strings.HasPrefix(clean, ".") {
		className := clean[1:]
		// Strip pseudo-class and attribute suffixes.
		if i := strings.IndexAny(className, ":["); i >= 0 {
			className = className[:i]
		}
		if _, ok := riskyClasses[className]; ok {
			return &Issue{
				Selector:    selector,
				IssueType:   TypeGlobalClass,
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("generic class %q may conflict with theme styles", "."+className),
			}
		}
		if len(className) <= 3 && alphaRe.MatchString(className) {
			return &Issue{
				Selector:    selector,
				IssueType:   TypeGlobalClass,
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("short generic class %q may conflict with other styles", "."+className),
			}
		}
	}

	return nil
}

// ScanStyleText finds risky selectors in raw stylesheet text.
func ScanStyleText(styleText, filePath string) []Issue {
	var issues []Issue
	for _, sel := range ExtractSelectors(styleText) {
		if issue := checkSelector(sel); issue != nil {
			issue.FilePath = filePath
			issues = append(issues, *issue)
		}
	}

	if n := len(importantRe.FindAllString(styleText, -1)); n > importantThreshold {
		issues = append(issues, Issue{
			FilePath:    filePath,
			Selector:    "(multiple)",
			IssueType:   TypeImportantOverride,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("excessive use of !important (%d times) may cause style conflicts", n),
		})
	}

	return issues
}

// ScanThemeFile scans a theme file for selector risks. Stylesheet files are
// scanned directly; template files are scanned for embedded <style> blocks.
func ScanThemeFile(content, filePath string) []Issue {
	lower := strings.ToLower(filePath)
	if strings.HasSuffix(lower, ".css") || strings.HasSuffix(lower, ".scss") {
		return ScanStyleText(content, filePath)
	}

	var issues []Issue
	for _, m := range styleBlockRe.FindAllStringSubmatch(content, -1) {
		issues = append(issues, ScanStyleText(m[1], filePath)...)
	}
	return issues
}

// IsScannable reports whether a file path is worth scanning: stylesheets and
// template files that may embed style blocks.
func IsScannable(filePath string) bool {
	lower := strings.ToLower(filePath)
	for _, ext := range []string{".css", ".scss", ".liquid", ".html", ".htm"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Assess aggregates issues into a capped score and a level.
// Score: 20 per high, 10 per medium, 5 per low, capped at 100.
// Level: high when score >= 60 or highs >= 3; medium when score >= 30 or
// highs >= 1; low otherwise.
func Assess(issues []Issue) Assessment {
	if len(issues) == 0 {
		return Assessment{Level: SeverityLow, Summary: "No selector risks detected"}
	}

	a := Assessment{TotalIssues: len(issues)}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityHigh:
			a.Score += 20
			a.HighCount++
		case SeverityMedium:
			a.Score += 10
			a.MediumCount++
		default:
			a.Score += 5
			a.LowCount++
		}
	}
	if a.Score > 100 {
		a.Score = 100
	}

	switch {
	case a.Score >= 60 || a.HighCount >= 3:
		a.Level = SeverityHigh
	case a.Score >= 30 || a.HighCount >= 1:
		a.Level = SeverityMedium
	default:
		a.Level = SeverityLow
	}

	var parts []string
	if a.HighCount > 0 {
		parts = append(parts, fmt.Sprintf("%d high-risk selectors", a.HighCount))
	}
	if a.MediumCount > 0 {
		parts = append(parts, fmt.Sprintf("%d medium-risk selectors", a.MediumCount))
	}
	if a.LowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d low-risk selectors", a.LowCount))
	}
	a.Summary = "Found " + strings.Join(parts, ", ")

	return a
}
