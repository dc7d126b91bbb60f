package browser_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"expensifyos/internal/browser"
	"expensifyos/internal/browser/browsertest"
	"expensifyos/internal/domain"
	"expensifyos/internal/store"
)

const src domain.Source = "vodafone"

func newManager(t *testing.T, l *browsertest.Launcher, cookies domain.CookieStore) (*browser.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := browser.NewManager(browser.Config{
		Headless:           true,
		Timeout:            time.Second,
		ScreenshotsOnError: true,
		DownloadDir:        filepath.Join(dir, "downloads"),
	}, l, cookies, store.NewScreenshotFileStore(filepath.Join(dir, "screenshots")), nil)
	return m, dir
}

func savedJar(t *testing.T, cs domain.CookieStore) []domain.Cookie {
	t.Helper()
	blob, ok, err := cs.LoadCookies(context.Background(), src)
	require.NoError(t, err)
	require.True(t, ok, "cookies were not saved")
	var jar []domain.Cookie
	require.NoError(t, json.Unmarshal(blob, &jar))
	return jar
}

func screenshots(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "screenshots", "vodafone_error_*.png"))
	require.NoError(t, err)
	return matches
}

func TestWithRestoresAndPersistsCookies(t *testing.T) {
	cs := store.NewMemoryCookieStore()
	prior := []domain.Cookie{{Name: "JSESSIONID", Value: "abc", Domain: ".vodafone.nl", Path: "/"}}
	blob, _ := json.Marshal(prior)
	require.NoError(t, cs.SaveCookies(context.Background(), src, blob))

	l := &browsertest.Launcher{}
	m, dir := newManager(t, l, cs)

	err := m.With(context.Background(), src, func(ctx context.Context, s *browser.Session) error {
		require.Equal(t, src, s.Source())
		l.Launched()[0].AddCookie(domain.Cookie{Name: "remember", Value: "yes", Domain: ".vodafone.nl"})
		return nil
	})
	require.NoError(t, err)

	d := l.Launched()[0]
	require.True(t, d.Closed())
	require.Zero(t, d.Screenshots())
	require.Empty(t, screenshots(t, dir))

	jar := savedJar(t, cs)
	require.Len(t, jar, 2)
	require.Equal(t, "JSESSIONID", jar[0].Name)
	require.Equal(t, "remember", jar[1].Name)
}

func TestWithFailureStillPersistsAndScreenshots(t *testing.T) {
	cs := store.NewMemoryCookieStore()
	l := &browsertest.Launcher{}
	m, dir := newManager(t, l, cs)

	boom := errors.New("selector not found")
	err := m.With(context.Background(), src, func(ctx context.Context, s *browser.Session) error {
		l.Launched()[0].AddCookie(domain.Cookie{Name: "sms-trusted", Value: "1"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.True(t, l.Launched()[0].Closed())
	require.Len(t, savedJar(t, cs), 1)
	require.Len(t, screenshots(t, dir), 1)
}

func TestWithScreenshotsDisabled(t *testing.T) {
	l := &browsertest.Launcher{}
	dir := t.TempDir()
	m := browser.NewManager(browser.Config{DownloadDir: dir}, l, store.NewMemoryCookieStore(),
		store.NewScreenshotFileStore(filepath.Join(dir, "screenshots")), nil)

	err := m.With(context.Background(), src, func(ctx context.Context, s *browser.Session) error {
		return errors.New("fail")
	})
	require.Error(t, err)
	require.Zero(t, l.Launched()[0].Screenshots())
}

func TestWithPanicCleansUpAndRepanics(t *testing.T) {
	cs := store.NewMemoryCookieStore()
	l := &browsertest.Launcher{}
	m, dir := newManager(t, l, cs)

	require.PanicsWithValue(t, "bad plugin", func() {
		_ = m.With(context.Background(), src, func(ctx context.Context, s *browser.Session) error {
			l.Launched()[0].AddCookie(domain.Cookie{Name: "a", Value: "b"})
			panic("bad plugin")
		})
	})

	require.True(t, l.Launched()[0].Closed())
	require.Len(t, savedJar(t, cs), 1)
	require.Len(t, screenshots(t, dir), 1)
}

func TestWithMalformedCookiesStartsFresh(t *testing.T) {
	cs := store.NewMemoryCookieStore()
	require.NoError(t, cs.SaveCookies(context.Background(), src, []byte("{not json")))

	l := &browsertest.Launcher{}
	m, _ := newManager(t, l, cs)

	ran := false
	err := m.With(context.Background(), src, func(ctx context.Context, s *browser.Session) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.Empty(t, l.Launched()[0].Jar())
	require.Empty(t, savedJar(t, cs))
}

func TestWithCancelledContextStillPersists(t *testing.T) {
	cs := store.NewMemoryCookieStore()
	l := &browsertest.Launcher{}
	m, _ := newManager(t, l, cs)

	ctx, cancel := context.WithCancel(context.Background())
	err := m.With(ctx, src, func(ctx context.Context, s *browser.Session) error {
		l.Launched()[0].AddCookie(domain.Cookie{Name: "2fa", Value: "ok"})
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, savedJar(t, cs), 1)
}

func TestWithLaunchFailure(t *testing.T) {
	l := &browsertest.Launcher{Err: errors.New("no chrome")}
	m, _ := newManager(t, l, store.NewMemoryCookieStore())

	err := m.With(context.Background(), src, func(ctx context.Context, s *browser.Session) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.ErrorContains(t, err, "no chrome")
}

func TestSessionDownloadGoesToSourceDir(t *testing.T) {
	l := &browsertest.Launcher{New: func() *browsertest.Driver {
		d := browsertest.NewDriver()
		d.Pages["https://example.test/invoices"] = browsertest.Page{Elements: map[string]string{"a.pdf": "Download"}}
		d.Downloads["a.pdf"] = []byte("%PDF-1.4")
		return d
	}}
	m, dir := newManager(t, l, nil)

	var path string
	err := m.With(context.Background(), src, func(ctx context.Context, s *browser.Session) error {
		if err := s.Navigate(ctx, "https://example.test/invoices"); err != nil {
			return err
		}
		var err error
		path, err = s.DownloadClick(ctx, "a.pdf")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "downloads", "vodafone"), filepath.Dir(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(b))
}

func TestWithPersistsCookiesFromEveryVisitedDomain(t *testing.T) {
	cs := store.NewMemoryCookieStore()
	prior := []domain.Cookie{{Name: "remember", Value: "1", Domain: "www.vodafone.nl", Path: "/"}}
	blob, _ := json.Marshal(prior)
	require.NoError(t, cs.SaveCookies(context.Background(), src, blob))

	l := &browsertest.Launcher{New: func() *browsertest.Driver {
		d := browsertest.NewDriver()
		d.Pages["https://login.vodafone.nl/sso"] = browsertest.Page{
			SetCookies: []domain.Cookie{{Name: "sso", Value: "tok", Domain: "login.vodafone.nl", Path: "/"}},
		}
		d.Pages["https://pay.example.com/invoice"] = browsertest.Page{
			SetCookies: []domain.Cookie{{Name: "__stripe", Value: "x", Domain: "pay.example.com", Path: "/"}},
		}
		return d
	}}
	m, _ := newManager(t, l, cs)

	err := m.With(context.Background(), src, func(ctx context.Context, s *browser.Session) error {
		require.NoError(t, s.Navigate(ctx, "https://login.vodafone.nl/sso"))
		require.NoError(t, s.Navigate(ctx, "https://pay.example.com/invoice"))
		require.NoError(t, s.Navigate(ctx, "about:blank"))
		return errors.New("download failed")
	})
	require.Error(t, err)

	var names []string
	for _, c := range savedJar(t, cs) {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"remember", "sso", "__stripe"}, names)
}
