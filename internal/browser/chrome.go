package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"expensifyos/internal/domain"
)

const defaultActionTimeout = 30 * time.Second

// ChromeLauncher launches Chromium through chromedp.
type ChromeLauncher struct {
	// ExecPath overrides the browser binary; empty uses chromedp's lookup.
	ExecPath string
}

var _ Launcher = ChromeLauncher{}

// Launch starts a fresh browser process with an empty profile.
func (l ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if l.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.ExecPath))
	}

	// The browser outlives cancellation of ctx so teardown can still read
	// cookies; Close is what ends it.
	base := context.WithoutCancel(ctx)
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, allocOpts...)
	bctx, bcancel := chromedp.NewContext(allocCtx)

	// First Run on the un-timed context starts the browser.
	if err := chromedp.Run(bctx); err != nil {
		bcancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	return &chromeDriver{ctx: bctx, cancel: bcancel, allocCancel: allocCancel, timeout: timeout}, nil
}

type chromeDriver struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
	closeOnce   sync.Once
}

// run executes actions bounded by the action timeout and by the caller's ctx.
func (d *chromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(rctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (d *chromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *chromeDriver) Fill(ctx context.Context, selector, value string) error {
	return d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (d *chromeDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (d *chromeDriver) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := d.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

func (d *chromeDriver) Texts(ctx context.Context, selector string) ([]string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	var texts []string
	js := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(e => e.textContent || "")`, sel)
	if err := d.run(ctx, chromedp.Evaluate(js, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

func (d *chromeDriver) ClickIn(ctx context.Context, selector string, index int, inner string) error {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return err
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("%s: no match at index %d (found %d)", selector, index, len(nodes))
	}
	return d.run(ctx, chromedp.Click(inner, chromedp.ByQuery, chromedp.FromNode(nodes[index])))
}

func (d *chromeDriver) Check(ctx context.Context, selector string) error {
	sel, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	js := fmt.Sprintf(`(() => { const e = document.querySelector(%s); if (!e) return false; if (!e.checked) e.click(); return true; })()`, sel)
	var found bool
	if err := d.run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: no such checkbox", selector)
	}
	return nil
}

func (d *chromeDriver) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (d *chromeDriver) URL(ctx context.Context) (string, error) {
	var url string
	err := d.run(ctx, chromedp.Location(&url))
	return url, err
}

func (d *chromeDriver) Download(ctx context.Context, dir string, trigger func(ctx context.Context) error) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	var (
		mu    sync.Mutex
		names = map[string]string{}
	)
	type finished struct {
		guid  string
		state browser.DownloadProgressState
	}
	done := make(chan finished, 1)

	lctx, lcancel := context.WithCancel(d.ctx)
	defer lcancel()
	chromedp.ListenTarget(lctx, func(ev any) {
		switch ev := ev.(type) {
		case *browser.EventDownloadWillBegin:
			mu.Lock()
			names[ev.GUID] = ev.SuggestedFilename
			mu.Unlock()
		case *browser.EventDownloadProgress:
			if ev.State == browser.DownloadProgressStateCompleted || ev.State == browser.DownloadProgressStateCanceled {
				select {
				case done <- finished{guid: ev.GUID, state: ev.State}:
				default:
				}
			}
		}
	})

	if err := d.run(ctx, browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
		WithDownloadPath(abs).
		WithEventsEnabled(true)); err != nil {
		return "", fmt.Errorf("enabling downloads: %w", err)
	}
	if err := trigger(ctx); err != nil {
		return "", err
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	var f finished
	select {
	case f = <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("download did not finish within %s", d.timeout)
	}
	if f.state == browser.DownloadProgressStateCanceled {
		return "", errors.New("download was cancelled")
	}

	mu.Lock()
	name := filepath.Base(names[f.guid])
	mu.Unlock()
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = f.guid
	}
	// AllowAndName saves under the GUID.
	src := filepath.Join(abs, f.guid)
	dst := filepath.Join(abs, name)
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("renaming download: %w", err)
	}
	return dst, nil
}

func (d *chromeDriver) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	var raw []*network.Cookie
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, fromNetworkCookie(c))
	}
	return out, nil
}

func (d *chromeDriver) SetCookies(ctx context.Context, cookies []domain.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, toCookieParam(c))
	}
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
}

func (d *chromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 makes chromedp emit PNG.
	err := d.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

func (d *chromeDriver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = chromedp.Cancel(d.ctx)
		d.cancel()
		d.allocCancel()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func fromNetworkCookie(c *network.Cookie) domain.Cookie {
	out := domain.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite.String(),
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		out.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return out
}

func toCookieParam(c domain.Cookie) *network.CookieParam {
	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	if c.SameSite != "" {
		p.SameSite = network.CookieSameSite(c.SameSite)
	}
	if !c.Expires.IsZero() {
		exp := cdp.TimeSinceEpoch(c.Expires)
		p.Expires = &exp
	}
	return p
}
