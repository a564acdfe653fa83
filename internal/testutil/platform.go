package testutil

import (
	"context"
	"sync"
	"time"

	"storewatch/internal/diag"
)

// MockThemeAPI is an in-memory stand-in for the external theme API.
// Assets are mutable maps keyed by theme id then path; errors can be
// injected per operation. The mock tracks the peak number of concurrent
// PutAsset calls so tests can assert write pacing.
type MockThemeAPI struct {
	mu sync.Mutex

	Themes  []diag.Theme
	Assets  map[string]map[string]string // themeID -> path -> content
	Scripts []diag.ScriptTag

	ListThemesErr  error
	ListAssetsErr  error
	GetAssetErr    map[string]error // path -> error
	PutAssetErr    map[string]error // path -> error
	ListScriptsErr error

	PutCalls    []string // paths written, in completion order
	putInFlight int
	PutPeak     int // highest concurrent PutAsset count observed

	// PutDelay holds each PutAsset open so concurrent writers overlap and
	// the peak gauge is meaningful.
	PutDelay time.Duration
}

// NewMockThemeAPI creates an empty mock with one published theme.
func NewMockThemeAPI() *MockThemeAPI {
	return &MockThemeAPI{
		Themes: []diag.Theme{{ID: "theme-1", Name: "Dawn", Role: "main"}},
		Assets: map[string]map[string]string{"theme-1": {}},
	}
}

// SetAsset stores content for a theme file.
func (m *MockThemeAPI) SetAsset(themeID, path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Assets[themeID] == nil {
		m.Assets[themeID] = map[string]string{}
	}
	m.Assets[themeID][path] = content
}

// Asset reads back stored content.
func (m *MockThemeAPI) Asset(themeID, path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.Assets[themeID][path]
	return content, ok
}

func (m *MockThemeAPI) ListThemes(_ context.Context, _ diag.Credentials) ([]diag.Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListThemesErr != nil {
		return nil, m.ListThemesErr
	}
	return append([]diag.Theme(nil), m.Themes...), nil
}

func (m *MockThemeAPI) ListAssets(_ context.Context, _ diag.Credentials, themeID string) ([]diag.AssetRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListAssetsErr != nil {
		return nil, m.ListAssetsErr
	}
	var refs []diag.AssetRef
	for path, content := range m.Assets[themeID] {
		refs = append(refs, diag.AssetRef{Path: path, Size: int64(len(content))})
	}
	return refs, nil
}

func (m *MockThemeAPI) GetAsset(_ context.Context, _ diag.Credentials, themeID, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.GetAssetErr[path]; err != nil {
		return "", err
	}
	content, ok := m.Assets[themeID][path]
	if !ok {
		return "", &diag.APIError{Status: 404, Op: "GetAsset"}
	}
	return content, nil
}

func (m *MockThemeAPI) PutAsset(ctx context.Context, _ diag.Credentials, themeID, path, content string) error {
	m.mu.Lock()
	m.putInFlight++
	if m.putInFlight > m.PutPeak {
		m.PutPeak = m.putInFlight
	}
	err := m.PutAssetErr[path]
	delay := m.PutDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putInFlight--
	if err != nil {
		return err
	}
	if m.Assets[themeID] == nil {
		m.Assets[themeID] = map[string]string{}
	}
	m.Assets[themeID][path] = content
	m.PutCalls = append(m.PutCalls, path)
	return nil
}

func (m *MockThemeAPI) ListScriptTags(_ context.Context, _ diag.Credentials) ([]diag.ScriptTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListScriptsErr != nil {
		return nil, m.ListScriptsErr
	}
	return append([]diag.ScriptTag(nil), m.Scripts...), nil
}

// MockScriptProbe returns a fixed script list for any domain.
type MockScriptProbe struct {
	Tags []diag.ScriptTag
	Err  error

	mu     sync.Mutex
	called bool
}

func (p *MockScriptProbe) ProbeScripts(_ context.Context, _ string) ([]diag.ScriptTag, error) {
	p.mu.Lock()
	p.called = true
	p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return append([]diag.ScriptTag(nil), p.Tags...), nil
}

// Called reports whether the probe was used.
func (p *MockScriptProbe) Called() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.called
}

// CollectingSink records published scan events in order.
type CollectingSink struct {
	mu     sync.Mutex
	events []diag.ScanEvent
}

func (s *CollectingSink) Publish(ev diag.ScanEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything published so far.
func (s *CollectingSink) Events() []diag.ScanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]diag.ScanEvent(nil), s.events...)
}
