package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"expensifyos/internal/domain"
	"expensifyos/internal/secrets"
)

// Config is the whole application configuration.
type Config struct {
	Expensify ExpensifyConfig                       `yaml:"expensify"`
	Plugins   map[domain.Source]domain.PluginConfig `yaml:"-"`
	Browser   BrowserConfig                         `yaml:"browser"`
	Cookies   CookiesConfig                         `yaml:"cookies"`
	Run       RunConfig                             `yaml:"run"`
	Notify    NotifyConfig                          `yaml:"notify"`

	// Path is the file the config was read from.
	Path string `yaml:"-"`
}

type ExpensifyConfig struct {
	PartnerUserID     string         `yaml:"partner_user_id"`
	PartnerUserSecret string         `yaml:"partner_user_secret"`
	EmployeeEmail     string         `yaml:"employee_email"`
	DefaultCurrency   string         `yaml:"default_currency"`
	URL               string         `yaml:"url"`
	RateLimit         []WindowConfig `yaml:"rate_limit"`
	Retry             RetryConfig    `yaml:"retry"`
}

// WindowConfig is one sliding window: at most Limit calls per Period.
type WindowConfig struct {
	Limit  int           `yaml:"limit"`
	Period time.Duration `yaml:"period"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type BrowserConfig struct {
	Headless           *bool  `yaml:"headless"`
	TimeoutMS          int    `yaml:"timeout"`
	ScreenshotsOnError *bool  `yaml:"screenshots_on_error"`
	ExecPath           string `yaml:"exec_path"`
	StateDir           string `yaml:"state_dir"`
	ScreenshotDir      string `yaml:"screenshot_dir"`
	DownloadDir        string `yaml:"download_dir"`
}

// Timeout is the per-action browser timeout.
func (b BrowserConfig) Timeout() time.Duration { return time.Duration(b.TimeoutMS) * time.Millisecond }

// Cookie backends.
const (
	CookieBackendFile   = "file"
	CookieBackendRedis  = "redis"
	CookieBackendMemory = "memory"
)

type CookiesConfig struct {
	Backend string `yaml:"backend"`
	// Passphrase, when set, encrypts every stored cookie jar.
	Passphrase string `yaml:"passphrase"`
	Redis      struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
}

type RunConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	PluginTimeout time.Duration `yaml:"plugin_timeout"`
}

type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// pluginEntry mirrors domain.PluginConfig with an optional Enabled so an
// omitted flag means enabled.
type pluginEntry struct {
	Enabled     *bool             `yaml:"enabled"`
	Credentials map[string]string `yaml:"credentials"`
	Category    string            `yaml:"category"`
}

// SecretResolver turns a secret reference into its value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// LoadOptions tune Load. The zero value reads the real environment and
// resolves references through the op CLI.
type LoadOptions struct {
	// Offline leaves op:// references unresolved.
	Offline  bool
	Resolver SecretResolver
	Getenv   func(string) string
	// Home overrides the user's home directory.
	Home string
	// EnvFile is loaded into the process environment first if it exists.
	EnvFile string
}

// SearchPaths lists where Load looks when no explicit path is given.
func SearchPaths(home string) []string {
	return []string{
		"config.yaml",
		"config.yml",
		filepath.Join(home, ".config", "expensify-os", "config.yaml"),
	}
}

// FindConfig returns explicit if set, otherwise the first existing search
// path.
func FindConfig(explicit, home string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	paths := SearchPaths(home)
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found, searched: %s; create one from config.example.yaml", strings.Join(paths, ", "))
}

// Load locates, parses, resolves and validates the configuration.
//
// Steps:
//  1. Load the optional .env file into the environment.
//  2. Expand ${VAR} references in the raw YAML.
//  3. Resolve op:// scalars unless offline.
//  4. Decode, apply defaults and validate.
func Load(ctx context.Context, path string, opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	home := opts.Home
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		home = h
	}

	path, err := FindConfig(path, home)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(expandEnv(raw, getenv), &root); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if !opts.Offline {
		resolver := opts.Resolver
		if resolver == nil {
			resolver = secrets.NewOPResolver(nil)
		}
		if err := resolveSecrets(ctx, &root, resolver); err != nil {
			return nil, err
		}
	}

	cfg, err := decode(&root)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	cfg.applyDefaults(home)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// resolveSecrets replaces every op:// scalar under n in place.
func resolveSecrets(ctx context.Context, n *yaml.Node, r SecretResolver) error {
	if n.Kind == yaml.ScalarNode {
		if !secrets.IsReference(n.Value) {
			return nil
		}
		v, err := r.Resolve(ctx, n.Value)
		if err != nil {
			return err
		}
		n.Value, n.Tag, n.Style = v, "!!str", yaml.DoubleQuotedStyle
		return nil
	}
	for _, c := range n.Content {
		if err := resolveSecrets(ctx, c, r); err != nil {
			return err
		}
	}
	return nil
}

func decode(root *yaml.Node) (*Config, error) {
	var doc struct {
		Config  `yaml:",inline"`
		Plugins map[domain.Source]pluginEntry `yaml:"plugins"`
	}
	if root.Kind != 0 {
		if err := root.Decode(&doc); err != nil {
			return nil, err
		}
	}
	cfg := doc.Config
	cfg.Plugins = make(map[domain.Source]domain.PluginConfig, len(doc.Plugins))
	for name, e := range doc.Plugins {
		enabled := e.Enabled == nil || *e.Enabled
		cfg.Plugins[name] = domain.PluginConfig{Enabled: enabled, Credentials: e.Credentials, Category: e.Category}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(home string) {
	base := filepath.Join(home, ".config", "expensify-os")
	if c.Expensify.DefaultCurrency == "" {
		c.Expensify.DefaultCurrency = "EUR"
	}
	if len(c.Expensify.RateLimit) == 0 {
		c.Expensify.RateLimit = []WindowConfig{{Limit: 5, Period: 10 * time.Second}, {Limit: 20, Period: 60 * time.Second}}
	}
	if c.Expensify.Retry == (RetryConfig{}) {
		c.Expensify.Retry = RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	}
	for name, p := range c.Plugins {
		if p.Category == "" {
			p.Category = "Uncategorized"
			c.Plugins[name] = p
		}
	}
	b := &c.Browser
	if b.Headless == nil {
		b.Headless = ptr(true)
	}
	if b.ScreenshotsOnError == nil {
		b.ScreenshotsOnError = ptr(true)
	}
	if b.TimeoutMS == 0 {
		b.TimeoutMS = 30000
	}
	b.StateDir = orDefault(expandHome(b.StateDir, home), filepath.Join(base, "browser_state"))
	b.ScreenshotDir = orDefault(expandHome(b.ScreenshotDir, home), filepath.Join(base, "screenshots"))
	b.DownloadDir = orDefault(expandHome(b.DownloadDir, home), "downloads")
	if c.Cookies.Backend == "" {
		c.Cookies.Backend = CookieBackendFile
	}
	if c.Cookies.Redis.Addr == "" {
		c.Cookies.Redis.Addr = "localhost:6379"
	}
	if c.Cookies.Redis.Prefix == "" {
		c.Cookies.Redis.Prefix = "expensify-os:cookies:"
	}
	if c.Run.Concurrency == 0 {
		c.Run.Concurrency = 1
	}
	if c.Run.PluginTimeout == 0 {
		c.Run.PluginTimeout = 5 * time.Minute
	}
}

// Validate reports every configuration problem found.
func (c *Config) Validate() error {
	var errs []error
	e := c.Expensify
	if e.PartnerUserID == "" {
		errs = append(errs, errors.New("expensify.partner_user_id is required"))
	}
	if e.PartnerUserSecret == "" {
		errs = append(errs, errors.New("expensify.partner_user_secret is required"))
	}
	if e.EmployeeEmail == "" {
		errs = append(errs, errors.New("expensify.employee_email is required"))
	}
	for i, w := range e.RateLimit {
		if w.Limit <= 0 || w.Period <= 0 {
			errs = append(errs, fmt.Errorf("expensify.rate_limit[%d]: limit and period must be positive", i))
		}
	}
	if r := e.Retry; r.MaxRetries < 0 || r.BaseDelay < 0 || r.MaxDelay < 0 {
		errs = append(errs, errors.New("expensify.retry: values must not be negative"))
	}
	for name, p := range c.Plugins {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("plugins.%s: %w", name, err))
		}
	}
	if c.Browser.TimeoutMS < 0 {
		errs = append(errs, errors.New("browser.timeout must not be negative"))
	}
	switch c.Cookies.Backend {
	case CookieBackendFile, CookieBackendRedis, CookieBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("cookies.backend %q is not one of file, redis, memory", c.Cookies.Backend))
	}
	if c.Run.Concurrency < 1 {
		errs = append(errs, errors.New("run.concurrency must be at least 1"))
	}
	if c.Run.PluginTimeout < 0 {
		errs = append(errs, errors.New("run.plugin_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} only, so a literal $ in a secret survives.
func expandEnv(raw []byte, getenv func(string) string) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		return []byte(getenv(string(m[2 : len(m)-1])))
	})
}

func expandHome(p, home string) string {
	if p == "~" {
		return home
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return filepath.Join(home, rest)
	}
	return p
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func ptr[T any](v T) *T { return &v }
