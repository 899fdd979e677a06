package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/osint-agent/internal/proxy"
	"github.com/osint-agent/internal/registry"
	"github.com/osint-agent/internal/report"
)

// Funcs maps platform categories to their probe implementations.
type Funcs map[registry.Category]Func

// ForPlatform picks the probe function for a platform, falling back to
// the public-platform strategy for categories without a dedicated one.
func (f Funcs) ForPlatform(p *registry.Platform) Func {
	if fn, ok := f[p.Category]; ok {
		return fn
	}
	return f[registry.CategoryMarketplaces]
}

// ClientConfig tunes the default HTTP probes.
type ClientConfig struct {
	Timeout   time.Duration
	UserAgent string
}

func (c *ClientConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
}

const (
	maxSearchMatches  = 5
	maxContextMatches = 3
	snippetRadius     = 80
)

// DefaultFuncs returns the built-in probe set: a quoted-email query for
// google properties, a q= search endpoint hit for public platforms,
// and a site-scoped search for platforms that require login. These are
// generic category strategies; per-site DOM scraping stays out.
func DefaultFuncs(cfg ClientConfig) Funcs {
	cfg.applyDefaults()
	return Funcs{
		registry.CategoryMarketplaces: publicProbe(cfg),
		registry.CategoryDiscussions:  publicProbe(cfg),
		registry.CategoryGoogle:       googleProbe(cfg),
	}
}

func newClient(cfg ClientConfig, ep *proxy.Endpoint) *resty.Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeaders(map[string]string{
			"User-Agent":      cfg.UserAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.5",
		})
	if ep != nil {
		client.SetProxy(ep.ProxyURL())
	}
	return client
}

// publicProbe searches platforms with an open search endpoint.
// Login-required platforms are routed through a site-scoped search
// instead, since their own search is unreachable without a session.
func publicProbe(cfg ClientConfig) Func {
	return func(ctx context.Context, platform *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		var searchURL string
		limit := maxContextMatches

		if platform.LoginRequired {
			searchURL = siteScopedSearchURL(platform.URL, email)
			limit = maxSearchMatches
		} else {
			searchURL = platformSearchURL(platform, email)
		}

		body, err := fetch(ctx, cfg, ep, searchURL)
		if err != nil {
			return nil, err
		}
		return extractMatches(body, email, searchURL, platform.Name, limit), nil
	}
}

// googleProbe runs a quoted-email query against a google property.
func googleProbe(cfg ClientConfig) Func {
	return func(ctx context.Context, platform *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		searchURL := fmt.Sprintf("%s?q=%s",
			ensureScheme(platform.URL), url.QueryEscape(fmt.Sprintf("%q", email)))

		body, err := fetch(ctx, cfg, ep, searchURL)
		if err != nil {
			return nil, err
		}
		if hasNoResultsMarker(body) {
			return nil, nil
		}
		return extractMatches(body, email, searchURL, platform.Name, maxSearchMatches), nil
	}
}

// fetch performs one GET and translates the response into the probe
// error taxonomy.
func fetch(ctx context.Context, cfg ClientConfig, ep *proxy.Endpoint, target string) (string, error) {
	resp, err := newClient(cfg, ep).R().SetContext(ctx).Get(target)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransientError{Reason: "request failed", Err: err}
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusOK:
		return string(resp.Body()), nil
	case code == http.StatusTooManyRequests:
		return "", Transientf("platform rate limited the request (HTTP %d)", code)
	case code >= 500:
		return "", Transientf("server error (HTTP %d)", code)
	case code == http.StatusForbidden:
		return "", Permanentf("access blocked (HTTP %d)", code)
	default:
		return "", Permanentf("unexpected response (HTTP %d)", code)
	}
}

// platformSearchURL builds "<base><endpoint>?q=<email>" for platforms
// exposing their own search.
func platformSearchURL(platform *registry.Platform, email string) string {
	base := ensureScheme(platform.URL)
	endpoint := platform.SearchEndpoint
	if endpoint == "" {
		endpoint = "/search"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%sq=%s", base, endpoint, sep, url.QueryEscape(email))
}

// siteScopedSearchURL builds a `site:<domain> "<email>"` query through
// a search front end.
func siteScopedSearchURL(domain, email string) string {
	query := fmt.Sprintf("site:%s %q", domain, email)
	return "https://www.google.com/search?q=" + url.QueryEscape(query)
}

func ensureScheme(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + u
}

var noResultsMarkers = []string{
	"did not match any documents",
	"no results found",
	"try different keywords",
}

func hasNoResultsMarker(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range noResultsMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// extractMatches scans the response body for the email and returns
// snippet-windowed evidence. An exact email occurrence scores full
// match quality; a bare local-part occurrence counts as a weaker
// username-pattern match.
func extractMatches(body, email, sourceURL, title string, limit int) []report.Match {
	matches := scanOccurrences(body, email, sourceURL, title, 1.0, limit)
	if len(matches) > 0 {
		return matches
	}

	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	if len(local) < 4 || local == email {
		return nil
	}
	return scanOccurrences(body, local, sourceURL, title, 0.6, limit)
}

func scanOccurrences(body, needle, sourceURL, title string, quality float64, limit int) []report.Match {
	lowerBody := strings.ToLower(body)
	lowerNeedle := strings.ToLower(needle)

	var matches []report.Match
	offset := 0
	for len(matches) < limit {
		idx := strings.Index(lowerBody[offset:], lowerNeedle)
		if idx < 0 {
			break
		}
		idx += offset

		start := idx - snippetRadius
		if start < 0 {
			start = 0
		}
		end := idx + len(needle) + snippetRadius
		if end > len(body) {
			end = len(body)
		}

		matches = append(matches, report.Match{
			Title:   title,
			URL:     sourceURL,
			Snippet: strings.TrimSpace(body[start:end]),
			Quality: quality,
		})

		offset = idx + len(needle)
	}
	return matches
}
