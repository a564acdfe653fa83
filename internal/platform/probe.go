package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"storewatch/internal/config"
	"storewatch/internal/diag"
)

// Probe fetches the rendered storefront page and extracts external script
// URLs from it. It needs no credential, only the public domain.
type Probe struct {
	httpClient *http.Client
	baseURL    string // overrides https://<domain> when set
}

// NewProbe builds a Probe from config.
func NewProbe(cfg config.PlatformConfig) *Probe {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Probe{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
	}
}

// ProbeScripts loads the storefront home page and returns every external
// script it references, de-duplicated, in document order. Inline scripts
// have no URL to track and are skipped.
func (p *Probe) ProbeScripts(ctx context.Context, domain string) ([]diag.ScriptTag, error) {
	root := p.baseURL
	if root == "" {
		root = "https://" + domain
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, root+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching storefront page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &diag.APIError{Status: resp.StatusCode, Op: "ProbeScripts"}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing storefront page: %w", err)
	}

	seen := make(map[string]struct{})
	var tags []diag.ScriptTag
	doc.Find("script[src]").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		src = strings.TrimSpace(src)
		if !ok || src == "" {
			return
		}
		// Protocol-relative URLs are still external scripts.
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		tags = append(tags, diag.ScriptTag{Src: src})
	})
	return tags, nil
}

var _ diag.ScriptProbe = (*Probe)(nil)
