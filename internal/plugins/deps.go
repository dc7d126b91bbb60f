package plugins

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"expensifyos/internal/browser"
	"expensifyos/internal/domain"
	"expensifyos/internal/retry"
)

// Deps are the shared services handed to every plugin constructor.
type Deps struct {
	HTTP *http.Client
	// Browser is nil when browser automation is unavailable; browser-backed
	// steps then fail with an error instead of panicking.
	Browser *browser.Manager
	// DownloadDir is the parent of the per-source download directories.
	DownloadDir string
	Logger      *slog.Logger
	Getenv      func(string) string
	// Prompt asks the operator for a value such as a 2FA code. Nil means the
	// run is non-interactive.
	Prompt func(ctx context.Context, question string) (string, error)
	// Retry governs billing API fetches.
	Retry retry.Policy
	// Sleep replaces real waits between retries.
	Sleep func(ctx context.Context, d time.Duration) error
	// PageRate paces paginated billing API requests.
	PageRate rate.Limit
}

// ErrNoPrompt is returned when an operator answer is needed but Prompt is nil.
var ErrNoPrompt = errors.New("interactive input is not available")

// Ask calls Prompt, or fails with ErrNoPrompt.
func (d Deps) Ask(ctx context.Context, question string) (string, error) {
	if d.Prompt == nil {
		return "", ErrNoPrompt
	}
	return d.Prompt(ctx, question)
}

// ErrNoBrowser is returned by browser-backed steps when Deps.Browser is nil.
var ErrNoBrowser = errors.New("browser automation is not configured")

// WithDefaults fills unset fields and tags the logger with the plugin name.
// Constructors call it once.
func (d Deps) WithDefaults(name domain.Source) Deps {
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if d.DownloadDir == "" {
		d.DownloadDir = "downloads"
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Logger = d.Logger.With("plugin", name.String())
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	if d.Retry == (retry.Policy{}) {
		d.Retry = retry.Default
	}
	if d.PageRate == 0 {
		d.PageRate = 5
	}
	return d
}

// Retrier returns the fetch retrier. Invalid credentials are never retried.
func (d Deps) Retrier(op string) retry.Retrier {
	log := d.Logger
	return retry.Retrier{
		Policy: d.Retry,
		Sleep:  d.Sleep,
		Retryable: func(err error) bool {
			return !errors.Is(err, domain.ErrCredentialInvalid)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn("retrying", "op", op, "attempt", attempt, "delay", delay, "err", err)
		},
	}
}

// Pacer returns a fresh limiter for one paginated walk.
func (d Deps) Pacer() *rate.Limiter { return rate.NewLimiter(d.PageRate, 1) }
