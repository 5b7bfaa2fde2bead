// Package proxymgr rotates platform requests across configured proxies.
// Failing proxies are benched with exponential backoff and re-checked in the background.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"douyindl/internal/config"
	"douyindl/internal/errs"
	"douyindl/internal/observability"
)

// ProxyState represents the current state of a proxy.
type ProxyState int

const (
	// ProxyStateAvailable indicates the proxy is available for use.
	ProxyStateAvailable ProxyState = iota
	// ProxyStateFailed indicates the proxy has failed and is in backoff.
	ProxyStateFailed
)

const (
	healthCheckTimeout = 10 * time.Second
	maxBackoff         = time.Hour
)

type proxyInfo struct {
	URL           *url.URL
	State         ProxyState
	FailureCount  int
	BackoffUntil  time.Time
	LastHealthChk time.Time
}

// Manager manages proxy rotation and health.
type Manager struct {
	log     *slog.Logger
	cfg     config.Proxy
	metrics *observability.Metrics

	mu      sync.Mutex
	proxies map[string]*proxyInfo
	order   []string // insertion order for stable iteration

	transportsMu sync.Mutex
	transports   map[string]*http.Transport
}

// New creates a new proxy manager. Unparseable proxy URLs are skipped with a warning.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Manager {
	mgr := &Manager{
		log:        log.With(slog.String("package", "proxymgr")),
		cfg:        cfg.Proxy,
		metrics:    metrics,
		proxies:    make(map[string]*proxyInfo),
		order:      make([]string, 0, len(cfg.Proxy.Proxies)),
		transports: make(map[string]*http.Transport),
	}

	for _, raw := range cfg.Proxy.Proxies {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			mgr.log.Warn("skipping invalid proxy", slog.String("proxy", raw))

			continue
		}

		mgr.proxies[raw] = &proxyInfo{URL: u, State: ProxyStateAvailable}
		mgr.order = append(mgr.order, raw)
	}

	metrics.SetProxiesAvailable(len(mgr.order))

	return mgr
}

// GetRandomProxy returns a random available proxy URL, or "" when none is available.
func (m *Manager) GetRandomProxy() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.getAvailableProxies()
	if len(available) == 0 {
		return ""
	}

	return available[rand.IntN(len(available))]
}

// MarkFailed records a failure and benches the proxy once MaxFailures is reached.
func (m *Manager) MarkFailed(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		return
	}

	m.metrics.RecordProxyFailure(proxyURL)

	info.FailureCount++

	if info.FailureCount >= m.cfg.MaxFailures {
		info.State = ProxyStateFailed
		backoff := min(m.cfg.FailureBackoff*time.Duration(1<<(info.FailureCount-m.cfg.MaxFailures)), maxBackoff)
		info.BackoffUntil = time.Now().Add(backoff)

		m.log.Warn("proxy marked as failed",
			slog.String("proxy", proxyURL),
			slog.Int("failure_count", info.FailureCount),
			slog.Duration("backoff", backoff))
	}

	m.metrics.SetProxiesAvailable(len(m.getAvailableProxies()))
}

// MarkSuccess resets the failure count of a proxy.
func (m *Manager) MarkSuccess(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		return
	}

	info.State = ProxyStateAvailable
	info.FailureCount = 0
	info.BackoffUntil = time.Time{}

	m.metrics.SetProxiesAvailable(len(m.getAvailableProxies()))
}

// HealthCheck dials the proxy and updates its state.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	m.mu.Lock()
	info, exists := m.proxies[proxyURL]
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", errs.ErrNoProxiesAvailable, proxyURL)
	}

	dialer := &net.Dialer{Timeout: healthCheckTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", info.URL.Host)
	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}
	defer conn.Close()

	m.mu.Lock()
	info.LastHealthChk = time.Now()
	m.mu.Unlock()

	m.MarkSuccess(proxyURL)

	return nil
}

// StartHealthChecker starts background health checking for all proxies.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m.cfg.HealthCheckInterval <= 0 || len(m.order) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAllProxies(ctx)
			}
		}
	}()

	m.log.Info("proxy health checker started",
		slog.Duration("interval", m.cfg.HealthCheckInterval),
		slog.Int("proxy_count", len(m.order)))
}

// HasProxies returns true if any proxies are configured.
func (m *Manager) HasProxies() bool {
	return m != nil && len(m.order) > 0
}

// ProxyCount returns the total number of configured proxies.
func (m *Manager) ProxyCount() int {
	return len(m.order)
}

// AvailableCount returns the number of currently available proxies.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.getAvailableProxies())
}

// RoundTripper returns a transport that sends every request through a random
// available proxy and feeds the outcome back into the proxy state.
// With no proxy available the request goes out directly through base.
func (m *Manager) RoundTripper(base *http.Transport) http.RoundTripper {
	return &rotatingTransport{mgr: m, base: base}
}

type rotatingTransport struct {
	mgr  *Manager
	base *http.Transport
}

func (t *rotatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	proxy := t.mgr.GetRandomProxy()
	if proxy == "" {
		return t.base.RoundTrip(req)
	}

	t.mgr.metrics.RecordProxyRequest(proxy)

	resp, err := t.mgr.transportFor(proxy, t.base).RoundTrip(req)
	if err != nil {
		if req.Context().Err() == nil {
			t.mgr.MarkFailed(proxy)
		}

		return nil, err
	}

	t.mgr.MarkSuccess(proxy)

	return resp, nil
}

func (m *Manager) transportFor(proxy string, base *http.Transport) *http.Transport {
	m.transportsMu.Lock()
	defer m.transportsMu.Unlock()

	if tr, ok := m.transports[proxy]; ok {
		return tr
	}

	m.mu.Lock()
	proxyURL := m.proxies[proxy].URL
	m.mu.Unlock()

	tr := base.Clone()
	tr.Proxy = http.ProxyURL(proxyURL)
	m.transports[proxy] = tr

	return tr
}

func (m *Manager) getAvailableProxies() []string {
	now := time.Now()
	available := make([]string, 0, len(m.order))

	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]
		if info.State == ProxyStateAvailable || now.After(info.BackoffUntil) {
			available = append(available, proxyURL)
		}
	}

	return available
}

func (m *Manager) checkAllProxies(ctx context.Context) {
	for _, proxy := range m.order {
		select {
		case <-ctx.Done():
			return
		default:
			if err := m.HealthCheck(ctx, proxy); err != nil {
				m.log.Debug("proxy health check failed",
					slog.String("proxy", proxy),
					slog.Any("error", err))
			}
		}
	}
}
