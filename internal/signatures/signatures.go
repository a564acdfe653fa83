// Package signatures maps theme file paths and script URLs to the apps that
// most likely put them there. The catalog ships embedded and can be replaced
// at runtime with an operator-provided YAML file of the same schema.
package signatures

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed signatures.yaml
var defaultCatalog []byte

// PathFragment marks a theme file path substring as app-owned. An empty App
// means "owned by some app, unknown which".
type PathFragment struct {
	Fragment string `yaml:"fragment"`
	App      string `yaml:"app"`
}

// ScriptPattern maps a script URL substring to the app that serves it.
type ScriptPattern struct {
	Pattern string `yaml:"pattern"`
	App     string `yaml:"app"`
}

// Conflict describes a known bad interaction between two apps.
type Conflict struct {
	Apps        []string `yaml:"apps"`
	Description string   `yaml:"description"`
	Resolution  string   `yaml:"resolution"`
}

// Catalog is the full signature set.
type Catalog struct {
	PathFragments  []PathFragment  `yaml:"app_owned_path_fragments"`
	ScriptPatterns []ScriptPattern `yaml:"script_patterns"`
	KnownConflicts []Conflict      `yaml:"known_conflicts"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return parse(defaultCatalog)
}

// Load reads a catalog from an operator-provided YAML file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature catalog: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse signature catalog: %w", err)
	}
	if len(c.PathFragments) == 0 && len(c.ScriptPatterns) == 0 {
		return nil, fmt.Errorf("signature catalog is empty")
	}
	return &c, nil
}

// MatchPath reports whether a theme file path looks app-owned and, when the
// fragment is specific enough, which app owns it. Matching is
// case-insensitive substring containment; the first match wins.
func (c *Catalog) MatchPath(filePath string) (owned bool, app string) {
	lower := strings.ToLower(filePath)
	for _, f := range c.PathFragments {
		if strings.Contains(lower, strings.ToLower(f.Fragment)) {
			return true, f.App
		}
	}
	return false, ""
}

// MatchScript returns the app likely serving a script URL, or "" when the
// URL matches nothing in the catalog.
func (c *Catalog) MatchScript(src string) string {
	lower := strings.ToLower(src)
	for _, p := range c.ScriptPatterns {
		if strings.Contains(lower, strings.ToLower(p.Pattern)) {
			return p.App
		}
	}
	return ""
}

// ConflictBetween returns the known conflict involving both apps, if any.
func (c *Catalog) ConflictBetween(appA, appB string) (*Conflict, bool) {
	for i := range c.KnownConflicts {
		k := &c.KnownConflicts[i]
		if containsApp(k.Apps, appA) && containsApp(k.Apps, appB) {
			return k, true
		}
	}
	return nil, false
}

// ConflictsFor returns all known conflicts involving the given app.
func (c *Catalog) ConflictsFor(app string) []*Conflict {
	var out []*Conflict
	for i := range c.KnownConflicts {
		if containsApp(c.KnownConflicts[i].Apps, app) {
			out = append(out, &c.KnownConflicts[i])
		}
	}
	return out
}

func containsApp(apps []string, app string) bool {
	for _, a := range apps {
		if strings.EqualFold(a, app) {
			return true
		}
	}
	return false
}
