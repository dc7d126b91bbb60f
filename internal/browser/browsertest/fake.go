// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"expensifyos/internal/browser"
	"expensifyos/internal/domain"
)

// ErrNoElement is returned for selectors the fake page does not contain.
var ErrNoElement = errors.New("browsertest: no element matches selector")

// Page is the state the fake shows after a navigation.
type Page struct {
	// Elements maps selectors to their text content.
	Elements map[string]string
	// Lists maps selectors to the text of every element they match.
	Lists map[string][]string
	// Redirect, when set, is the URL reported after navigating here.
	Redirect string
	// SetCookies are added to the jar when the page loads.
	SetCookies []domain.Cookie
}

// Driver is a scripted browser. Navigating to a URL loads the matching Page;
// clicking a selector listed in Links navigates to its target. Clicks made
// through ClickIn are keyed by InKey.
type Driver struct {
	mu sync.Mutex

	Pages map[string]Page
	Links map[string]string
	// Downloads maps a clicked selector to file content produced by it.
	Downloads map[string][]byte
	// Hooks run when a selector is clicked, after link handling.
	Hooks map[string]func(d *Driver) error

	// Fail makes the named operation ("navigate", "click", ...) fail.
	Fail map[string]error
	// BlockOn makes clicks on the selector block until ctx is done.
	BlockOn string

	url       string
	page      Page
	jar       []domain.Cookie
	filled    map[string]string
	clicks    []string
	visits    []string
	closed    bool
	pending   []byte
	shotCount int
}

var _ browser.Driver = (*Driver)(nil)

// NewDriver returns an empty fake.
func NewDriver() *Driver {
	return &Driver{
		Pages:     map[string]Page{},
		Links:     map[string]string{},
		Downloads: map[string][]byte{},
		Hooks:     map[string]func(d *Driver) error{},
		Fail:      map[string]error{},
		filled:    map[string]string{},
	}
}

func (d *Driver) fail(op string) error {
	if err, ok := d.Fail[op]; ok {
		return err
	}
	return nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("navigate"); err != nil {
		return err
	}
	d.navigateLocked(url)
	return nil
}

func (d *Driver) navigateLocked(url string) {
	d.visits = append(d.visits, url)
	page := d.Pages[url]
	d.url = url
	if page.Redirect != "" {
		d.url = page.Redirect
		if target, ok := d.Pages[page.Redirect]; ok {
			page = target
		}
	}
	d.page = page
	d.jar = append(d.jar, page.SetCookies...)
}

func (d *Driver) Fill(ctx context.Context, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("fill"); err != nil {
		return err
	}
	if _, ok := d.page.Elements[selector]; !ok {
		return fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	d.filled[selector] = value
	return nil
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	return d.click(ctx, selector, true)
}

func (d *Driver) click(ctx context.Context, key string, mustExist bool) error {
	d.mu.Lock()
	if key != "" && key == d.BlockOn {
		d.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	if err := d.fail("click"); err != nil {
		d.mu.Unlock()
		return err
	}
	if _, ok := d.page.Elements[key]; mustExist && !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoElement, key)
	}
	d.clicks = append(d.clicks, key)
	if blob, ok := d.Downloads[key]; ok {
		d.pending = blob
	}
	if target, ok := d.Links[key]; ok {
		d.navigateLocked(target)
	}
	hook := d.Hooks[key]
	d.mu.Unlock()

	if hook != nil {
		return hook(d)
	}
	return nil
}

func (d *Driver) Text(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	text, ok := d.page.Elements[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return text, nil
}

func (d *Driver) Texts(ctx context.Context, selector string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.page.Lists[selector]), nil
}

// InKey is the click key recorded for a ClickIn call.
func InKey(selector string, index int, inner string) string {
	return fmt.Sprintf("%s[%d] %s", selector, index, inner)
}

func (d *Driver) ClickIn(ctx context.Context, selector string, index int, inner string) error {
	d.mu.Lock()
	if n := len(d.page.Lists[selector]); index < 0 || index >= n {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s at index %d", ErrNoElement, selector, index)
	}
	d.mu.Unlock()
	return d.click(ctx, InKey(selector, index, inner), false)
}

func (d *Driver) Check(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.page.Elements[selector]; !ok {
		return fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	d.filled[selector] = "checked"
	return nil
}

func (d *Driver) Exists(ctx context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.page.Elements[selector]
	return ok, nil
}

func (d *Driver) URL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *Driver) Download(ctx context.Context, dir string, trigger func(ctx context.Context) error) (string, error) {
	if err := trigger(ctx); err != nil {
		return "", err
	}
	d.mu.Lock()
	blob := d.pending
	d.pending = nil
	d.mu.Unlock()
	if blob == nil {
		return "", errors.New("browsertest: trigger started no download")
	}
	path := filepath.Join(dir, "invoice.pdf")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Cookies returns the whole jar across every domain the session visited.
func (d *Driver) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("cookies"); err != nil {
		return nil, err
	}
	return slices.Clone(d.jar), nil
}

func (d *Driver) SetCookies(ctx context.Context, cookies []domain.Cookie) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jar = append(d.jar, cookies...)
	return nil
}

// AddCookie simulates the site setting a cookie.
func (d *Driver) AddCookie(c domain.Cookie) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jar = append(d.jar, c)
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("screenshot"); err != nil {
		return nil, err
	}
	d.shotCount++
	return []byte("\x89PNG fake"), nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Filled returns the value typed into selector.
func (d *Driver) Filled(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filled[selector]
}

// Clicks returns the clicked selectors in order.
func (d *Driver) Clicks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.clicks)
}

// Visits returns navigated URLs in order.
func (d *Driver) Visits() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.visits)
}

// Jar returns the current cookie jar.
func (d *Driver) Jar() []domain.Cookie {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.jar)
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Screenshots returns how many screenshots were taken.
func (d *Driver) Screenshots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shotCount
}

// Launcher hands out one fake driver per launch.
type Launcher struct {
	mu sync.Mutex
	// New builds each driver; nil yields NewDriver().
	New      func() *Driver
	Err      error
	launched []*Driver
}

var _ browser.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Driver, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	d := NewDriver()
	if l.New != nil {
		d = l.New()
	}
	l.launched = append(l.launched, d)
	return d, nil
}

// Launched returns the drivers handed out so far.
func (l *Launcher) Launched() []*Driver {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.launched)
}
