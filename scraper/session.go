package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/models"
)

// probeTimeout bounds the liveness check of the browser.
const probeTimeout = 5 * time.Second

// Session is one browser, one browser context and one page, plus the
// identity they present and the number of items served so far.
// It is owned by the Manager; callers only read it.
type Session struct {
	identity Identity
	requests int
	tab      Tab

	// rod handles; nil when the session wraps a detached Tab.
	browser   *rod.Browser
	page      *rod.Page
	contextID proto.BrowserBrowserContextID
	router    *rod.HijackRouter

	// stopProcess kills the Chromium process and removes its profile dir.
	stopProcess func()
}

// NewSession wraps an already-open tab. Backends use it to hand sessions to
// the Manager.
func NewSession(id Identity, tab Tab) *Session {
	return &Session{identity: id, tab: tab}
}

// Tab returns the page surface of the session.
func (s *Session) Tab() Tab { return s.tab }

// Identity returns the proxy and user-agent of the active context.
func (s *Session) Identity() Identity { return s.identity }

// Requests returns the number of items served since the session started.
func (s *Session) Requests() int { return s.requests }

// backend performs the browser-bound half of the session lifecycle.
type backend interface {
	// Start launches a browser and opens a context and page for id.
	Start(ctx context.Context, id Identity) (*Session, error)

	// Rotate replaces the context and page of s with ones for id.
	Rotate(ctx context.Context, s *Session, id Identity) error

	// Reopen replaces the page of s within its current context.
	Reopen(ctx context.Context, s *Session) error

	// Probe reports whether the browser still answers.
	Probe(ctx context.Context, s *Session) error

	// Shutdown closes the browser of s.
	Shutdown(s *Session) error
}

// Manager owns the session: it creates it lazily, recycles it on demand
// and is the only place that touches the proxy pool.
type Manager struct {
	backend    backend
	identities *identitySource
	session    *Session
	restarts   int
	rotations  int
}

// NewManager creates a manager that launches a local Chromium through rod.
func NewManager(browserCfg config.BrowserConfig, harvestCfg config.HarvestConfig) *Manager {
	return newManager(&rodBackend{browserCfg: browserCfg, harvestCfg: harvestCfg}, browserCfg, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func newManager(b backend, browserCfg config.BrowserConfig, rng *rand.Rand) *Manager {
	return &Manager{
		backend: b,
		identities: &identitySource{
			pool:       NewProxyPool(browserCfg.Proxies),
			userAgents: browserCfg.UserAgents,
			rng:        rng,
		},
	}
}

// HasProxies reports whether identity rotation has a pool to draw from.
func (m *Manager) HasProxies() bool { return m.identities.pool.Len() > 0 }

// Restarts returns the number of completed full restarts.
func (m *Manager) Restarts() int { return m.restarts }

// Rotations returns the number of completed identity rotations.
func (m *Manager) Rotations() int { return m.rotations }

// Acquire returns the live session, starting one with a fresh identity if
// none exists.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if m.session != nil {
		return m.session, nil
	}
	id := m.identities.next()
	s, err := m.backend.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	s.requests = 0
	m.session = s
	slog.Info("browser session started", "identity", id.String())
	return s, nil
}

// MarkRequest counts one finished item against the current session and
// returns the new count.
func (m *Manager) MarkRequest() int {
	if m.session == nil {
		return 0
	}
	m.session.requests++
	return m.session.requests
}

// Requests returns the current session's counter, zero without a session.
func (m *Manager) Requests() int {
	if m.session == nil {
		return 0
	}
	return m.session.requests
}

// Restart closes the browser (close errors are logged and ignored) and
// acquires a new session, which starts counting from zero.
func (m *Manager) Restart(ctx context.Context, reason string) (*Session, error) {
	slog.Info("restarting browser session", "reason", reason)
	m.dispose()
	s, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	m.restarts++
	return s, nil
}

// RotateIdentity swaps the context and page for the next proxy and a new
// user agent, keeping the browser and the request counter.
func (m *Manager) RotateIdentity(ctx context.Context) (*Session, error) {
	if m.session == nil {
		return m.Acquire(ctx)
	}
	id := m.identities.next()
	if err := m.backend.Rotate(ctx, m.session, id); err != nil {
		return nil, fmt.Errorf("rotate identity: %w", err)
	}
	m.session.identity = id
	m.rotations++
	slog.Info("identity rotated", "identity", id.String(), "requests", m.session.requests)
	return m.session, nil
}

// RecoverPage opens a fresh page in the current context.
func (m *Manager) RecoverPage(ctx context.Context) (*Session, error) {
	if m.session == nil {
		return m.Acquire(ctx)
	}
	if err := m.backend.Reopen(ctx, m.session); err != nil {
		return nil, fmt.Errorf("recover page: %w", err)
	}
	slog.Info("page recovered")
	return m.session, nil
}

// Connected probes the browser with a short deadline.
func (m *Manager) Connected(ctx context.Context) bool {
	if m.session == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := m.backend.Probe(probeCtx, m.session); err != nil {
		slog.Warn("browser health probe failed", "error", err)
		return false
	}
	return true
}

// Close releases the session. Safe to call more than once.
func (m *Manager) Close() {
	m.dispose()
}

func (m *Manager) dispose() {
	if m.session == nil {
		return
	}
	if err := m.backend.Shutdown(m.session); err != nil {
		slog.Warn("browser close failed, continuing", "error", err)
	}
	m.session = nil
}

// rodBackend launches a local Chromium and manages contexts through CDP.
type rodBackend struct {
	browserCfg config.BrowserConfig
	harvestCfg config.HarvestConfig
}

func (b *rodBackend) Start(ctx context.Context, id Identity) (*Session, error) {
	l := launcher.New().
		Headless(b.browserCfg.Headless).
		NoSandbox(b.browserCfg.NoSandbox)

	if b.browserCfg.BrowserBin != "" {
		l = l.Bin(b.browserCfg.BrowserBin)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeBrowserDisconnected, "failed to launch browser", err)
	}
	slog.Debug("browser launched", "controlURL", controlURL)

	stop := func() {
		l.Kill()
		l.Cleanup()
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		stop()
		return nil, models.NewHarvestError(models.ErrCodeBrowserDisconnected, "failed to connect to browser", err)
	}

	s := &Session{browser: browser, stopProcess: stop}
	if err := b.openContext(ctx, s, id); err != nil {
		_ = b.Shutdown(s)
		return nil, err
	}
	s.identity = id
	return s, nil
}

// openContext creates a browser context routed through id.Proxy and a
// configured page inside it.
func (b *rodBackend) openContext(ctx context.Context, s *Session, id Identity) error {
	create := proto.TargetCreateBrowserContext{DisposeOnDetach: true}
	var username, password string
	if id.Proxy != "" {
		server, user, pass, err := parseProxy(id.Proxy)
		if err != nil {
			return models.NewHarvestError(models.ErrCodeInvalidInput, "invalid proxy", err)
		}
		create.ProxyServer = server
		username, password = user, pass
	}

	res, err := create.Call(s.browser.Context(ctx))
	if err != nil {
		return models.NewHarvestError(models.ErrCodeBrowserDisconnected, "failed to create browser context", err)
	}
	s.contextID = res.BrowserContextID

	if username != "" {
		// HandleAuth answers one challenge; Chrome caches the credentials
		// for the proxy afterwards.
		go func() {
			if err := s.browser.HandleAuth(username, password)(); err != nil {
				slog.Warn("proxy auth handler failed", "error", err)
			}
		}()
	}

	return b.openPage(ctx, s, id)
}

func (b *rodBackend) openPage(ctx context.Context, s *Session, id Identity) error {
	target, err := proto.TargetCreateTarget{
		URL:              "about:blank",
		BrowserContextID: s.contextID,
	}.Call(s.browser.Context(ctx))
	if err != nil {
		return models.NewHarvestError(models.ErrCodeBrowserDisconnected, "failed to create page", err)
	}
	page, err := s.browser.PageFromTarget(target.TargetID)
	if err != nil {
		return models.NewHarvestError(models.ErrCodeBrowserDisconnected, "failed to attach page", err)
	}

	configurePage(page, id)
	s.router = setupHijack(page, b.browserCfg.BlockedResourceTypes, b.browserCfg.BlockAds)
	s.page = page
	tab := &rodTab{
		page:      page,
		contextID: s.contextID,
		timeouts:  b.harvestCfg,
	}
	if s.router == nil {
		tab.idle = requestIdleGate(page)
	}
	s.tab = tab
	return nil
}

func (b *rodBackend) closePage(s *Session) {
	if s.router != nil {
		_ = s.router.Stop()
		s.router = nil
	}
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
}

func (b *rodBackend) Rotate(ctx context.Context, s *Session, id Identity) error {
	b.closePage(s)
	if s.contextID != "" {
		if err := (proto.TargetDisposeBrowserContext{BrowserContextID: s.contextID}).Call(s.browser); err != nil {
			slog.Warn("dispose browser context failed", "error", err)
		}
		s.contextID = ""
	}
	return b.openContext(ctx, s, id)
}

func (b *rodBackend) Reopen(ctx context.Context, s *Session) error {
	b.closePage(s)
	return b.openPage(ctx, s, s.identity)
}

func (b *rodBackend) Probe(ctx context.Context, s *Session) error {
	if s.browser == nil {
		return errors.New("no browser")
	}
	if _, err := (proto.BrowserGetVersion{}).Call(s.browser.Context(ctx)); err != nil {
		return models.NewHarvestError(models.ErrCodeBrowserDisconnected, "browser did not answer", err)
	}
	return nil
}

// Shutdown closes the browser over CDP, then kills the process regardless,
// since a hung browser may not honor the close.
func (b *rodBackend) Shutdown(s *Session) error {
	b.closePage(s)
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.stopProcess != nil {
		s.stopProcess()
		s.stopProcess = nil
	}
	return err
}
