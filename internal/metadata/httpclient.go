package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tsukumogami/cellar/internal/cellarerr"
	"github.com/tsukumogami/cellar/internal/httputil"
)

// maxResponseBytes bounds a single formula response to guard against a
// compromised or misbehaving registry host returning unbounded output.
const maxResponseBytes = 1 * 1024 * 1024

// DefaultAPIURL is the public formula metadata API this client talks to
// when no override is configured.
const DefaultAPIURL = "https://formulae.brew.sh"

// HTTPClient is the concrete Client implementation that fetches formula
// records from the public metadata API over HTTPS.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTPClient against baseURL (DefaultAPIURL when
// empty), using httputil's SSRF-hardened client.
func NewHTTPClient(baseURL string) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httputil.NewSecureClient(httputil.DefaultOptions()),
	}
}

var _ Client = (*HTTPClient)(nil)

// GetFormula fetches one formula record by name.
func (c *HTTPClient) GetFormula(ctx context.Context, name string) (*Formula, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata API base URL: %w", err)
	}
	reqURL := base.JoinPath("api", "formula", name+".json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cellar/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, cellarerr.DownloadFailed(name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, cellarerr.FormulaNotFound(name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, cellarerr.DownloadFailed(name, fmt.Errorf("metadata API returned status %d", resp.StatusCode))
	}

	var f Formula
	limited := io.LimitReader(resp.Body, maxResponseBytes)
	if err := json.NewDecoder(limited).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse formula %q: %w", name, err)
	}
	return &f, nil
}

// GetAllFormulae fetches the full formula index, used to seed the
// metadata cache's bulk-refresh path.
func (c *HTTPClient) GetAllFormulae(ctx context.Context) ([]*Formula, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata API base URL: %w", err)
	}
	reqURL := base.JoinPath("api", "formula.json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cellar/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, cellarerr.DownloadFailed("", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, cellarerr.DownloadFailed("", fmt.Errorf("metadata API returned status %d", resp.StatusCode))
	}

	var formulae []*Formula
	limited := io.LimitReader(resp.Body, 64*maxResponseBytes)
	if err := json.NewDecoder(limited).Decode(&formulae); err != nil {
		return nil, fmt.Errorf("failed to parse formula index: %w", err)
	}
	return formulae, nil
}
