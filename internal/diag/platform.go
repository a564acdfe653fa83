package diag

import "context"

// Theme is one theme installed on the storefront.
type Theme struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"` // "main" marks the published theme
}

// AssetRef identifies one theme file without its content.
type AssetRef struct {
	Path string `json:"key"`
	Size int64  `json:"size"`
}

// ScriptTag is one externally registered script as reported by the platform.
type ScriptTag struct {
	ID           string `json:"id"`
	Src          string `json:"src"`
	DisplayScope string `json:"display_scope"`
	Event        string `json:"event"`
}

// Credentials identifies a storefront against the external API.
type Credentials struct {
	Domain      string
	AccessToken string
}

// ThemeAPI is the external read/write contract for theme files and script
// tags. Writes are full-content overwrites by path; there is no partial
// patch. Non-success responses surface as *APIError.
type ThemeAPI interface {
	ListThemes(ctx context.Context, creds Credentials) ([]Theme, error)
	ListAssets(ctx context.Context, creds Credentials, themeID string) ([]AssetRef, error)
	GetAsset(ctx context.Context, creds Credentials, themeID, path string) (string, error)
	PutAsset(ctx context.Context, creds Credentials, themeID, path, content string) error
	ListScriptTags(ctx context.Context, creds Credentials) ([]ScriptTag, error)
}

// ScriptProbe extracts script tags from the rendered storefront page. Used
// as a fallback when the script-tag API scope is missing.
type ScriptProbe interface {
	ProbeScripts(ctx context.Context, domain string) ([]ScriptTag, error)
}

// ScanEvent is one progress notification published while a scan runs.
type ScanEvent struct {
	ScanID  string `json:"scan_id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// EventSink receives scan progress events. Implementations must be safe for
// concurrent use.
type EventSink interface {
	Publish(ev ScanEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(ScanEvent) {}
