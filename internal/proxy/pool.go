package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Endpoint health states. An endpoint starts unknown, becomes healthy
// or unhealthy through probe feedback and validation.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// Endpoint is one egress path probes can be routed through. All
// mutable state is owned by the Pool and only changes under its lock.
type Endpoint struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string

	health              string
	consecutiveFailures int
	lastUsed            time.Time
	inFlight            int
}

// Address returns the host:port form used in logs and attempt records.
func (e *Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ProxyURL returns the full proxy URL including credentials, suitable
// for handing to an HTTP client.
func (e *Endpoint) ProxyURL() string {
	u := &url.URL{
		Scheme: e.Scheme,
		Host:   e.Address(),
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u.String()
}

// ParseEndpoint parses "scheme://[user:pass@]host:port" or bare
// "host:port" (scheme defaults to http).
func ParseEndpoint(raw string) (*Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty proxy entry")
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}

	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("proxy %q must include host and port", raw)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("proxy %q has invalid port", raw)
	}

	ep := &Endpoint{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		health: HealthUnknown,
	}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}

// LoadFile reads a proxy list file: one endpoint per line, blank lines
// and '#' comments ignored. Invalid lines are logged and skipped so a
// single bad entry never disables the whole pool.
func LoadFile(path string) ([]*Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}

	var endpoints []*Endpoint
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ep, err := ParseEndpoint(line)
		if err != nil {
			logrus.Warnf("Skipping proxy entry: %v", err)
			continue
		}
		endpoints = append(endpoints, ep)
	}

	logrus.Infof("Loaded %d proxy endpoints from %s", len(endpoints), path)
	return endpoints, nil
}

// PoolConfig holds pool tuning knobs.
type PoolConfig struct {
	// FailureThreshold is the consecutive-failure count after which an
	// endpoint is marked unhealthy and excluded from Acquire.
	FailureThreshold int

	// MaxUsesPerEndpoint caps concurrent in-flight attempts through one
	// endpoint. Default 1, so a single proxy address never carries
	// correlated traffic.
	MaxUsesPerEndpoint int

	// CheckURL is the lightweight connectivity target ValidateAll hits.
	CheckURL string

	// CheckTimeout bounds each validation request.
	CheckTimeout time.Duration
}

func (c *PoolConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.MaxUsesPerEndpoint <= 0 {
		c.MaxUsesPerEndpoint = 1
	}
	if c.CheckURL == "" {
		c.CheckURL = "https://api.ipify.org"
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 10 * time.Second
	}
}

// Pool maintains the candidate egress endpoints and their health. All
// methods are safe for concurrent use from many probe tasks.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	config    PoolConfig
}

// NewPool creates a pool over the given endpoints. An empty endpoint
// list is valid: Acquire simply returns nil and callers fall back to
// direct connections.
func NewPool(endpoints []*Endpoint, config PoolConfig) *Pool {
	config.applyDefaults()
	return &Pool{
		endpoints: endpoints,
		config:    config,
	}
}

// Size returns the total number of endpoints, regardless of health.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Acquire hands out the least-recently-used endpoint that is not
// unhealthy and not already at its concurrent-use cap. Returns nil
// when nothing is available; the caller decides between a direct
// connection and a skipped attempt.
func (p *Pool) Acquire() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pick *Endpoint
	for _, ep := range p.endpoints {
		if ep.health == HealthUnhealthy {
			continue
		}
		if ep.inFlight >= p.config.MaxUsesPerEndpoint {
			continue
		}
		if pick == nil || ep.lastUsed.Before(pick.lastUsed) {
			pick = ep
		}
	}

	if pick == nil {
		return nil
	}

	pick.lastUsed = time.Now()
	pick.inFlight++
	return pick
}

// Release records the outcome of a completed attempt. Success resets
// the consecutive-failure count; failure increments it and marks the
// endpoint unhealthy once the threshold is crossed. Only this feedback
// path and ValidateAll ever change endpoint health.
func (p *Pool) Release(ep *Endpoint, success bool) {
	if ep == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ep.inFlight > 0 {
		ep.inFlight--
	}

	if success {
		ep.consecutiveFailures = 0
		ep.health = HealthHealthy
		return
	}

	ep.consecutiveFailures++
	if ep.consecutiveFailures >= p.config.FailureThreshold {
		if ep.health != HealthUnhealthy {
			logrus.Warnf("Marking proxy %s unhealthy after %d consecutive failures",
				ep.Address(), ep.consecutiveFailures)
		}
		ep.health = HealthUnhealthy
	}
}

// ValidateAll runs an independent connectivity check against every
// endpoint, including currently-unhealthy ones, and updates health
// state from the results. The pool lock is only held to snapshot and
// to apply results, never across network calls, so ongoing Acquire and
// Release traffic is not blocked.
func (p *Pool) ValidateAll(ctx context.Context) map[string]bool {
	p.mu.Lock()
	snapshot := make([]*Endpoint, len(p.endpoints))
	copy(snapshot, p.endpoints)
	checkURL := p.config.CheckURL
	checkTimeout := p.config.CheckTimeout
	p.mu.Unlock()

	results := make([]bool, len(snapshot))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for i, ep := range snapshot {
		i, ep := i, ep
		g.Go(func() error {
			results[i] = checkEndpoint(gctx, ep, checkURL, checkTimeout)
			return nil
		})
	}
	_ = g.Wait()

	healthy := 0
	report := make(map[string]bool, len(snapshot))

	p.mu.Lock()
	for i, ep := range snapshot {
		report[ep.Address()] = results[i]
		if results[i] {
			ep.health = HealthHealthy
			ep.consecutiveFailures = 0
			healthy++
		} else {
			ep.health = HealthUnhealthy
		}
	}
	p.mu.Unlock()

	logrus.Infof("Proxy validation complete: %d/%d endpoints healthy", healthy, len(snapshot))
	return report
}

// checkEndpoint performs one lightweight request through the endpoint.
func checkEndpoint(ctx context.Context, ep *Endpoint, checkURL string, timeout time.Duration) bool {
	client := resty.New().
		SetTimeout(timeout).
		SetProxy(ep.ProxyURL())

	resp, err := client.R().SetContext(ctx).Get(checkURL)
	if err != nil {
		logrus.Debugf("Proxy %s failed validation: %v", ep.Address(), err)
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

// Stats summarizes pool health for logging and health checks.
func (p *Pool) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := map[string]int{
		"total":     len(p.endpoints),
		"healthy":   0,
		"unhealthy": 0,
		"unknown":   0,
	}
	for _, ep := range p.endpoints {
		stats[ep.health]++
	}
	return stats
}

// Health reports the current health state of one endpoint.
func (p *Pool) Health(ep *Endpoint) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ep.health
}
