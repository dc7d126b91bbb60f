package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"expensifyos/internal/domain"
)

// persistTimeout bounds the exit-path work (cookie save, screenshot) that runs
// after the caller's context may already be cancelled.
const persistTimeout = 15 * time.Second

// Config holds the browser settings shared by every session.
type Config struct {
	Headless           bool
	Timeout            time.Duration
	ScreenshotsOnError bool
	// DownloadDir is the parent of the per-source download directories.
	DownloadDir string
}

// Manager hands out scoped sessions.
type Manager struct {
	cfg         Config
	launcher    Launcher
	cookies     domain.CookieStore
	screenshots domain.ScreenshotStore
	now         func() time.Time
	log         *slog.Logger
}

// NewManager builds a Manager. screenshots may be nil to disable captures.
func NewManager(cfg Config, launcher Launcher, cookies domain.CookieStore, screenshots domain.ScreenshotStore, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "downloads"
	}
	return &Manager{
		cfg:         cfg,
		launcher:    launcher,
		cookies:     cookies,
		screenshots: screenshots,
		now:         time.Now,
		log:         log,
	}
}

// DownloadDir returns the directory downloads for source are saved to.
func (m *Manager) DownloadDir(source domain.Source) string {
	return filepath.Join(m.cfg.DownloadDir, source.String())
}

// Session is the capability surface handed to plugins inside Manager.With.
type Session struct {
	source domain.Source
	driver Driver
	dir    string
	log    *slog.Logger
}

// Source returns the source the session belongs to.
func (s *Session) Source() domain.Source { return s.source }

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.log.Debug("navigate", "url", url)
	return s.driver.Navigate(ctx, url)
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	return s.driver.Fill(ctx, selector, value)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.driver.Click(ctx, selector)
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	return s.driver.Text(ctx, selector)
}

func (s *Session) Texts(ctx context.Context, selector string) ([]string, error) {
	return s.driver.Texts(ctx, selector)
}

func (s *Session) ClickIn(ctx context.Context, selector string, index int, inner string) error {
	return s.driver.ClickIn(ctx, selector, index, inner)
}

func (s *Session) Check(ctx context.Context, selector string) error {
	return s.driver.Check(ctx, selector)
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	return s.driver.Exists(ctx, selector)
}

func (s *Session) URL(ctx context.Context) (string, error) { return s.driver.URL(ctx) }

// Download clicks through trigger and waits for the resulting file.
func (s *Session) Download(ctx context.Context, trigger func(ctx context.Context) error) (string, error) {
	path, err := s.driver.Download(ctx, s.dir, trigger)
	if err != nil {
		return "", err
	}
	s.log.Info("download complete", "path", path)
	return path, nil
}

// DownloadClickIn downloads whatever inner, within the index-th match of
// selector, links to.
func (s *Session) DownloadClickIn(ctx context.Context, selector string, index int, inner string) (string, error) {
	return s.Download(ctx, func(ctx context.Context) error { return s.driver.ClickIn(ctx, selector, index, inner) })
}

// DownloadClick is Download with a click on selector as the trigger.
func (s *Session) DownloadClick(ctx context.Context, selector string) (string, error) {
	return s.Download(ctx, func(ctx context.Context) error { return s.driver.Click(ctx, selector) })
}

// With launches a session for source, runs fn and tears the session down.
//
// Teardown runs on every exit path, including panics in fn and cancellation
// of ctx: the cookie jar is saved, a screenshot is captured when fn failed,
// and the browser is closed. Teardown problems are logged, never returned;
// fn's error is what the caller gets.
func (m *Manager) With(ctx context.Context, source domain.Source, fn func(ctx context.Context, s *Session) error) (err error) {
	log := m.log.With("source", source.String())

	dir := m.DownloadDir(source)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}

	driver, err := m.launcher.Launch(ctx, LaunchOptions{Headless: m.cfg.Headless, Timeout: m.cfg.Timeout})
	if err != nil {
		return fmt.Errorf("launching browser for %s: %w", source, err)
	}

	defer func() {
		// Detached from ctx so a cancelled run still persists its login state.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()

		r := recover()
		failed := err != nil || r != nil

		m.saveCookies(pctx, log, source, driver)
		if failed && m.cfg.ScreenshotsOnError {
			m.captureScreenshot(pctx, log, source, driver)
		}
		if cerr := driver.Close(); cerr != nil {
			log.Warn("closing browser failed", "err", cerr)
		}
		if r != nil {
			panic(r)
		}
	}()

	m.restoreCookies(ctx, log, source, driver)

	return fn(ctx, &Session{source: source, driver: driver, dir: dir, log: log})
}

// restoreCookies loads the stored jar. Anything unreadable is treated as no
// jar at all; the worst case is an extra login.
func (m *Manager) restoreCookies(ctx context.Context, log *slog.Logger, source domain.Source, driver Driver) {
	if m.cookies == nil {
		return
	}
	blob, ok, err := m.cookies.LoadCookies(ctx, source)
	if err != nil {
		log.Warn("loading saved cookies failed, starting fresh", "err", err)
		return
	}
	if !ok {
		log.Debug("no saved cookies")
		return
	}
	var jar []domain.Cookie
	if err := json.Unmarshal(blob, &jar); err != nil {
		log.Warn("saved cookies malformed, starting fresh", "err", err)
		return
	}
	if len(jar) == 0 {
		return
	}
	if err := driver.SetCookies(ctx, jar); err != nil {
		log.Warn("restoring cookies failed, starting fresh", "err", err)
		return
	}
	log.Info("session restored", "cookies", len(jar))
}

func (m *Manager) saveCookies(ctx context.Context, log *slog.Logger, source domain.Source, driver Driver) {
	if m.cookies == nil {
		return
	}
	jar, err := driver.Cookies(ctx)
	if err != nil {
		log.Warn("reading cookies failed", "err", err)
		return
	}
	if jar == nil {
		jar = []domain.Cookie{}
	}
	blob, err := json.MarshalIndent(jar, "", "  ")
	if err != nil {
		log.Warn("encoding cookies failed", "err", err)
		return
	}
	if err := m.cookies.SaveCookies(ctx, source, blob); err != nil {
		log.Warn("saving cookies failed", "err", err)
		return
	}
	log.Debug("cookies saved", "count", len(jar))
}

func (m *Manager) captureScreenshot(ctx context.Context, log *slog.Logger, source domain.Source, driver Driver) {
	if m.screenshots == nil {
		return
	}
	png, err := driver.Screenshot(ctx)
	if err != nil {
		log.Warn("screenshot capture failed", "err", err)
		return
	}
	path, err := m.screenshots.SaveScreenshot(source, m.now(), png)
	if err != nil {
		log.Warn("writing screenshot failed", "err", err)
		return
	}
	log.Info("error screenshot captured", "path", path)
}
