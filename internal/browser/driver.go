package browser

import (
	"context"
	"time"

	"expensifyos/internal/domain"
)

// Driver is one launched browser context. Selectors are CSS selectors.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	// Texts returns the text content of every element matching selector.
	Texts(ctx context.Context, selector string) ([]string, error)
	// ClickIn clicks the first match of inner inside the index-th match of
	// selector.
	ClickIn(ctx context.Context, selector string, index int, inner string) error
	// Check ticks a checkbox, leaving it alone if already ticked.
	Check(ctx context.Context, selector string) error
	Exists(ctx context.Context, selector string) (bool, error)
	URL(ctx context.Context) (string, error)

	// Download runs trigger and waits for the download it starts, saving the
	// file into dir. It returns the saved path.
	Download(ctx context.Context, dir string, trigger func(ctx context.Context) error) (string, error)

	// Cookies returns every cookie in the browser context, whichever page is
	// showing.
	Cookies(ctx context.Context) ([]domain.Cookie, error)
	SetCookies(ctx context.Context, cookies []domain.Cookie) error
	Screenshot(ctx context.Context) ([]byte, error)

	Close() error
}

// LaunchOptions configures a new browser context.
type LaunchOptions struct {
	Headless bool
	// Timeout bounds each individual browser action.
	Timeout time.Duration
}

// Launcher starts browser contexts.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Driver, error)
}
