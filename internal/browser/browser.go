// Package browser manages the Chromium binary and headless sessions
// used to verify that browser automation works after a bootstrap. It
// can resolve an existing browser, download a managed one, and run a
// launch smoke-test.
package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"leadagent/internal/logging"
)

// Config holds browser settings.
type Config struct {
	// Bin is an explicit browser binary path. Empty means resolve one
	// automatically, downloading a managed Chromium if needed.
	Bin      string
	Headless bool
	Timeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless: true,
		Timeout:  30 * time.Second,
	}
}

// Session describes one opened page.
type Session struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager owns a single browser instance and its launcher.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	launch  *launcher.Launcher
	browser *rod.Browser
}

// NewManager creates a manager. The browser is not started until
// Start or Open is called.
func NewManager(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Manager{cfg: cfg}
}

// Installed reports whether a browser binary is already resolvable
// without downloading anything.
func (m *Manager) Installed() bool {
	if m.cfg.Bin != "" {
		_, err := os.Stat(m.cfg.Bin)
		return err == nil
	}
	_, has := launcher.LookPath()
	return has
}

// EnsureBinary resolves the browser executable, downloading a managed
// Chromium when none is found on the system. Returns the binary path.
func (m *Manager) EnsureBinary(ctx context.Context) (string, error) {
	if m.cfg.Bin != "" {
		if _, err := os.Stat(m.cfg.Bin); err != nil {
			return "", fmt.Errorf("configured browser binary: %w", err)
		}
		return m.cfg.Bin, nil
	}

	if path, has := launcher.LookPath(); has {
		logging.Browser("using existing browser at %s", path)
		return path, nil
	}

	logging.Browser("no browser found, downloading managed chromium")
	b := launcher.NewBrowser()
	b.Context = ctx
	path, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("download browser: %w", err)
	}
	logging.Browser("chromium downloaded to %s", path)
	return path, nil
}

// Start launches the browser and connects to it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("stale browser connection, relaunching")
		_ = m.browser.Close()
		m.browser = nil
	}

	bin, err := m.EnsureBinary(ctx)
	if err != nil {
		return err
	}

	launch := launcher.New().Bin(bin).Headless(m.cfg.Headless).Context(ctx)
	url, err := launch.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(url).Context(ctx)
	if err := b.Connect(); err != nil {
		launch.Kill()
		return fmt.Errorf("connect to browser: %w", err)
	}

	m.launch = launch
	m.browser = b
	return nil
}

// Version starts the browser if needed and returns its product string,
// e.g. "Chrome/120.0.6099.109". This is the launch smoke-test: if it
// answers, the binaries are present and runnable.
func (m *Manager) Version(ctx context.Context) (string, error) {
	if err := m.Start(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.browser.Version()
	if err != nil {
		return "", fmt.Errorf("browser version: %w", err)
	}
	return v.Product, nil
}

// Open navigates a new page to url and returns its session metadata.
func (m *Manager) Open(ctx context.Context, url string) (*Session, error) {
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()

	page, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page = page.Timeout(m.cfg.Timeout)
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for load: %w", err)
	}

	session := &Session{
		ID:        uuid.NewString(),
		URL:       url,
		CreatedAt: time.Now(),
	}
	if info, err := page.Info(); err == nil {
		session.Title = info.Title
	}

	logging.Browser("session %s opened %s", session.ID, url)
	return session, nil
}

// Close shuts the browser and its launcher down. Safe to call when
// nothing was started.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.launch != nil {
		m.launch.Kill()
		m.launch.Cleanup()
		m.launch = nil
	}
	return err
}
