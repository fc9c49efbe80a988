package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPSearchVendorConfig configures a generic HTTP JSON search vendor.
type HTTPSearchVendorConfig struct {
	Name     string
	BaseURL  string
	APIKey   string
	Priority int
	Timeout  time.Duration
}

// HTTPSearchVendorAdapter implements SearchAdapter against a single HTTP
// search vendor returning a JSON array of {title, url, snippet, score}.
type HTTPSearchVendorAdapter struct {
	cfg    HTTPSearchVendorConfig
	client *http.Client
}

func NewHTTPSearchVendorAdapter(cfg HTTPSearchVendorConfig) *HTTPSearchVendorAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPSearchVendorAdapter{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (a *HTTPSearchVendorAdapter) Name() string  { return a.cfg.Name }
func (a *HTTPSearchVendorAdapter) Priority() int { return a.cfg.Priority }

func (a *HTTPSearchVendorAdapter) HealthCheck(ctx context.Context) (bool, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return false, fmt.Errorf("%s: missing api key", a.cfg.Name)
	}
	return true, nil
}

func (a *HTTPSearchVendorAdapter) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	u, err := url.Parse(strings.TrimRight(a.cfg.BaseURL, "/") + "/search")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(maxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	res, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%s http status %d", a.cfg.Name, res.StatusCode)
	}

	var results []SearchResult
	if err := json.NewDecoder(res.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	if len(results) > maxResults && maxResults > 0 {
		results = results[:maxResults]
	}
	return results, nil
}

// FormatContext builds the LLM context string, e.g.
// "Based on sources including Nytimes and Space: <snippets>".
func (a *HTTPSearchVendorAdapter) FormatContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(a.FormatCitation(results))
	b.WriteString(": ")
	for i, r := range results {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(r.Snippet)
	}
	return b.String()
}

// FormatCitation builds a voice-friendly citation, e.g.
// "Based on sources including Nytimes and Space".
func (a *HTTPSearchVendorAdapter) FormatCitation(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	names := make([]string, 0, len(results))
	seen := map[string]bool{}
	for _, r := range results {
		host := siteName(r.URL)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		names = append(names, host)
	}
	if len(names) == 0 {
		return ""
	}
	return "Based on sources including " + strings.Join(names, " and ")
}

func siteName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Host, "www.")
	host = strings.SplitN(host, ".", 2)[0]
	if host == "" {
		return ""
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
