// Package platform talks to the commerce platform's admin API: theme and
// asset reads, asset writes, and script tag listings. It also provides a
// rendered-page probe for storefronts whose credential lacks the script
// scope.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"storewatch/internal/config"
	"storewatch/internal/diag"
)

const tokenHeader = "X-Shopify-Access-Token"

// Client implements diag.ThemeAPI over the admin REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string // overrides https://<domain> when set (tests, proxies)
	apiVersion string
}

// NewClient builds a Client from config.
func NewClient(cfg config.PlatformConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	version := cfg.APIVersion
	if version == "" {
		version = "2024-01"
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiVersion: version,
	}
}

func (c *Client) root(domain string) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://" + domain
}

func (c *Client) adminURL(domain, resource string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.root(domain), c.apiVersion, resource)
}

// doJSON performs one authenticated request and decodes the response into
// out. Non-2xx statuses return *diag.APIError.
func (c *Client) doJSON(ctx context.Context, creds diag.Credentials, op, method, rawURL string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set(tokenHeader, creds.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &diag.APIError{Status: resp.StatusCode, Op: op}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

type themePayload struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
	Role string      `json:"role"`
}

func (c *Client) ListThemes(ctx context.Context, creds diag.Credentials) ([]diag.Theme, error) {
	var body struct {
		Themes []themePayload `json:"themes"`
	}
	u := c.adminURL(creds.Domain, "themes.json")
	if err := c.doJSON(ctx, creds, "ListThemes", http.MethodGet, u, nil, &body); err != nil {
		return nil, err
	}
	themes := make([]diag.Theme, 0, len(body.Themes))
	for _, t := range body.Themes {
		themes = append(themes, diag.Theme{ID: t.ID.String(), Name: t.Name, Role: t.Role})
	}
	return themes, nil
}

func (c *Client) ListAssets(ctx context.Context, creds diag.Credentials, themeID string) ([]diag.AssetRef, error) {
	var body struct {
		Assets []struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"assets"`
	}
	u := c.adminURL(creds.Domain, fmt.Sprintf("themes/%s/assets.json", themeID))
	if err := c.doJSON(ctx, creds, "ListAssets", http.MethodGet, u, nil, &body); err != nil {
		return nil, err
	}
	refs := make([]diag.AssetRef, 0, len(body.Assets))
	for _, a := range body.Assets {
		refs = append(refs, diag.AssetRef{Path: a.Key, Size: a.Size})
	}
	return refs, nil
}

func (c *Client) GetAsset(ctx context.Context, creds diag.Credentials, themeID, path string) (string, error) {
	var body struct {
		Asset struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"asset"`
	}
	u := c.adminURL(creds.Domain, fmt.Sprintf("themes/%s/assets.json", themeID)) +
		"?asset[key]=" + url.QueryEscape(path)
	if err := c.doJSON(ctx, creds, "GetAsset", http.MethodGet, u, nil, &body); err != nil {
		return "", err
	}
	return body.Asset.Value, nil
}

func (c *Client) PutAsset(ctx context.Context, creds diag.Credentials, themeID, path, content string) error {
	payload := map[string]any{
		"asset": map[string]string{"key": path, "value": content},
	}
	u := c.adminURL(creds.Domain, fmt.Sprintf("themes/%s/assets.json", themeID))
	return c.doJSON(ctx, creds, "PutAsset", http.MethodPut, u, payload, nil)
}

func (c *Client) ListScriptTags(ctx context.Context, creds diag.Credentials) ([]diag.ScriptTag, error) {
	var body struct {
		ScriptTags []struct {
			ID           json.Number `json:"id"`
			Src          string      `json:"src"`
			DisplayScope string      `json:"display_scope"`
			Event        string      `json:"event"`
		} `json:"script_tags"`
	}
	u := c.adminURL(creds.Domain, "script_tags.json")
	if err := c.doJSON(ctx, creds, "ListScriptTags", http.MethodGet, u, nil, &body); err != nil {
		return nil, err
	}
	tags := make([]diag.ScriptTag, 0, len(body.ScriptTags))
	for _, t := range body.ScriptTags {
		tags = append(tags, diag.ScriptTag{
			ID:           t.ID.String(),
			Src:          t.Src,
			DisplayScope: t.DisplayScope,
			Event:        t.Event,
		})
	}
	return tags, nil
}

var _ diag.ThemeAPI = (*Client)(nil)
