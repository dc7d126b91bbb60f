package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"expensifyos/internal/browser"
	"expensifyos/internal/domain"
	"expensifyos/internal/expensify"
	"expensifyos/internal/notify"
	"expensifyos/internal/plugins"
	"expensifyos/internal/plugins/builtin"
	"expensifyos/internal/ratelimit"
	"expensifyos/internal/retry"
	"expensifyos/internal/services/orchestrator"
	"expensifyos/internal/store"
)

// Wire bundles the stores, clients and services the CLI needs.
type Wire struct {
	Config       *Config
	Limiter      *ratelimit.Limiter
	Expensify    *expensify.Client
	Cookies      domain.CookieStore
	Browser      *browser.Manager
	Registry     *plugins.Registry
	Notifier     domain.Notifier
	Orchestrator *orchestrator.Service
	HTTP         *http.Client

	closers []io.Closer
}

// WireOptions carry process-level collaborators. Zero values fall back to
// defaults.
type WireOptions struct {
	Logger *slog.Logger
	Meter  metric.Meter
	HTTP   *http.Client
	// Launcher replaces the Chrome launcher, mainly in tests.
	Launcher browser.Launcher
	// Stdin answers interactive prompts such as SMS codes. Nil disables
	// prompting.
	Stdin  io.Reader
	Stderr io.Writer
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg *Config, opts WireOptions) (*Wire, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("expensify-os")
	}
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	w := &Wire{Config: cfg, HTTP: httpClient}

	// Remote expense API behind the shared limiter
	limiter, err := newLimiter(cfg.Expensify.RateLimit, meter, log)
	if err != nil {
		return nil, err
	}
	w.Limiter = limiter
	retryPolicy := retry.Policy{
		MaxRetries: cfg.Expensify.Retry.MaxRetries,
		BaseDelay:  cfg.Expensify.Retry.BaseDelay,
		MaxDelay:   cfg.Expensify.Retry.MaxDelay,
	}
	expensifyOpts := []expensify.Option{
		expensify.WithHTTPClient(httpClient),
		expensify.WithRetryPolicy(retryPolicy),
		expensify.WithLogger(log.With("component", "expensify")),
		expensify.WithMeter(meter),
	}
	if cfg.Expensify.URL != "" {
		expensifyOpts = append(expensifyOpts, expensify.WithURL(cfg.Expensify.URL))
	}
	w.Expensify = expensify.New(expensify.Credentials{
		PartnerUserID:     cfg.Expensify.PartnerUserID,
		PartnerUserSecret: cfg.Expensify.PartnerUserSecret,
		EmployeeEmail:     cfg.Expensify.EmployeeEmail,
	}, limiter, expensifyOpts...)

	// Browser sessions with persisted cookies
	cookies, err := w.newCookieStore(cfg.Cookies)
	if err != nil {
		return nil, err
	}
	w.Cookies = cookies
	launcher := opts.Launcher
	if launcher == nil {
		launcher = browser.ChromeLauncher{ExecPath: cfg.Browser.ExecPath}
	}
	w.Browser = browser.NewManager(browser.Config{
		Headless:           valueOr(cfg.Browser.Headless, true),
		Timeout:            cfg.Browser.Timeout(),
		ScreenshotsOnError: valueOr(cfg.Browser.ScreenshotsOnError, true),
		DownloadDir:        cfg.Browser.DownloadDir,
	}, launcher, cookies, store.NewScreenshotFileStore(cfg.Browser.ScreenshotDir), log.With("component", "browser"))

	// Plugins
	w.Registry = plugins.NewRegistry()
	if err := builtin.Discover(w.Registry); err != nil {
		return nil, fmt.Errorf("register plugins: %w", err)
	}
	deps := plugins.Deps{
		HTTP:        httpClient,
		Browser:     w.Browser,
		DownloadDir: cfg.Browser.DownloadDir,
		Logger:      log,
		Retry:       retryPolicy,
	}
	if opts.Stdin != nil {
		deps.Prompt = stdinPrompt(opts.Stdin, opts.Stderr)
	}

	w.Notifier = notify.NewSlack(cfg.Notify.SlackWebhookURL, log.With("component", "notify"))

	w.Orchestrator = orchestrator.New(w.Registry, cfg.Plugins, w.Expensify,
		orchestrator.WithDeps(deps),
		orchestrator.WithConcurrency(cfg.Run.Concurrency),
		orchestrator.WithPluginTimeout(cfg.Run.PluginTimeout),
		orchestrator.WithNotifier(w.Notifier),
		orchestrator.WithLogger(log),
		orchestrator.WithMeter(meter),
	)
	return w, nil
}

func newLimiter(ws []WindowConfig, meter metric.Meter, log *slog.Logger) (*ratelimit.Limiter, error) {
	windows := make([]ratelimit.Window, len(ws))
	for i, wc := range ws {
		windows[i] = ratelimit.Window{Limit: wc.Limit, Duration: wc.Period}
	}
	waits, err := meter.Float64Histogram("expensify_os.ratelimit.wait",
		metric.WithUnit("s"),
		metric.WithDescription("Time callers waited for a rate limit slot"))
	if err != nil {
		return nil, fmt.Errorf("create wait histogram: %w", err)
	}
	return ratelimit.New(windows, ratelimit.WithWaitObserver(func(ctx context.Context, _ time.Time, waited time.Duration) {
		waits.Record(ctx, waited.Seconds())
		if waited > 0 {
			log.Debug("rate limited", "waited", waited)
		}
	}))
}

func (w *Wire) newCookieStore(c CookiesConfig) (domain.CookieStore, error) {
	var s domain.CookieStore
	switch c.Backend {
	case CookieBackendFile:
		s = store.NewCookieFileStore(w.Config.Browser.StateDir)
	case CookieBackendMemory:
		s = store.NewMemoryCookieStore()
	case CookieBackendRedis:
		rs := store.NewRedisCookieStore(c.Redis.Addr, c.Redis.Password, c.Redis.DB, c.Redis.Prefix)
		w.closers = append(w.closers, rs)
		s = rs
	default:
		return nil, fmt.Errorf("unknown cookie backend %q", c.Backend)
	}
	if c.Passphrase != "" {
		s = store.NewSealedCookieStore(s, c.Passphrase)
	}
	return s, nil
}

// Close releases connections opened by NewWire.
func (w *Wire) Close() error {
	var errs []error
	for _, c := range w.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// stdinPrompt reads one line per question. Lines are read on a goroutine so a
// cancelled context unblocks the caller.
func stdinPrompt(in io.Reader, out io.Writer) func(ctx context.Context, question string) (string, error) {
	if out == nil {
		out = io.Discard
	}
	r := bufio.NewReader(in)
	return func(ctx context.Context, question string) (string, error) {
		fmt.Fprintf(out, "%s: ", question)
		type line struct {
			s   string
			err error
		}
		ch := make(chan line, 1)
		go func() {
			s, err := r.ReadString('\n')
			ch <- line{strings.TrimSpace(s), err}
		}()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case l := <-ch:
			if l.err != nil && l.s == "" {
				return "", fmt.Errorf("read answer: %w", l.err)
			}
			return l.s, nil
		}
	}
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
