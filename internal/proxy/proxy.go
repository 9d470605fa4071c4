// Package proxy manages a rotating pool of SOCKS5 proxies for outbound
// API and browser traffic. Proxies that fail too often are dropped
// from rotation, and each proxy rests for a rotation interval between
// uses.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"

	"leadagent/internal/logging"
)

// ErrNoProxies is returned when every proxy is resting or failed out.
var ErrNoProxies = errors.New("no proxies available")

// Proxy is one SOCKS5 endpoint in the pool.
type Proxy struct {
	Host     string
	Port     int
	Username string
	Password string

	failures int
	lastUsed time.Time
}

// Addr returns the host:port dial address.
func (p *Proxy) Addr() string {
	return net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))
}

// Manager hands out proxies with rotation and failure tracking.
type Manager struct {
	mu               sync.Mutex
	proxies          []*Proxy
	current          *Proxy
	rotationInterval time.Duration
	maxFailures      int

	now  func() time.Time
	pick func(n int) int
}

// NewManager creates an empty pool. rotationInterval is the rest time
// between uses of the same proxy; maxFailures retires a proxy.
func NewManager(rotationInterval time.Duration, maxFailures int) *Manager {
	if rotationInterval <= 0 {
		rotationInterval = 5 * time.Minute
	}
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Manager{
		rotationInterval: rotationInterval,
		maxFailures:      maxFailures,
		now:              time.Now,
		pick:             rand.Intn,
	}
}

// Add registers a proxy with the pool.
func (m *Manager) Add(p Proxy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies = append(m.proxies, &p)
}

// Len returns the pool size, including retired proxies.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.proxies)
}

// Next picks a random available proxy: under the failure threshold and
// past its rotation rest. Returns ErrNoProxies when none qualifies.
func (m *Manager) Next() (*Proxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var available []*Proxy
	for _, p := range m.proxies {
		if p.failures >= m.maxFailures {
			continue
		}
		if now.Sub(p.lastUsed) <= m.rotationInterval {
			continue
		}
		available = append(available, p)
	}
	if len(available) == 0 {
		logging.ProxyWarn("no available proxies (pool=%d)", len(m.proxies))
		return nil, ErrNoProxies
	}

	p := available[m.pick(len(available))]
	p.lastUsed = now
	m.current = p
	logging.Proxy("selected proxy %s", p.Addr())
	return p, nil
}

// MarkFailed counts a failure against the proxy.
func (m *Manager) MarkFailed(p *Proxy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.failures++
	logging.ProxyWarn("proxy %s failed (%d/%d)", p.Addr(), p.failures, m.maxFailures)
}

// Current returns the most recently selected proxy, if any.
func (m *Manager) Current() *Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Client builds an *http.Client routed through the next available
// proxy. With an empty or exhausted pool it falls back to a direct
// client rather than failing, matching the agent's original behavior.
func (m *Manager) Client(timeout time.Duration) (*http.Client, error) {
	p, err := m.Next()
	if err != nil {
		if errors.Is(err, ErrNoProxies) {
			return &http.Client{Timeout: timeout}, nil
		}
		return nil, err
	}

	var auth *xproxy.Auth
	if p.Username != "" {
		auth = &xproxy.Auth{User: p.Username, Password: p.Password}
	}

	dialer, err := xproxy.SOCKS5("tcp", p.Addr(), auth, xproxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer for %s: %w", p.Addr(), err)
	}

	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}

	transport := &http.Transport{DialContext: dialContext}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
