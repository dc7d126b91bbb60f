// Package anthropic reads monthly spend from the Anthropic Admin API cost
// report and downloads the matching invoice from the Console.
package anthropic

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"expensifyos/internal/browser"
	"expensifyos/internal/domain"
	"expensifyos/internal/plugins"
)

const (
	Name domain.Source = "anthropic"

	DefaultAPIURL     = "https://api.anthropic.com"
	DefaultConsoleURL = "https://console.anthropic.com"

	apiVersion = "2023-06-01"

	credAdminKey        = "admin_api_key"
	credConsoleEmail    = "console_email"
	credConsolePassword = "console_password"
)

// Console selectors.
const (
	selEmail    = `input[type="email"]`
	selPassword = `input[type="password"]`
	selSubmit   = `button[type="submit"]`
	selRows     = `table tbody tr`
	selRowLink  = `a, button`
)

// Plugin is the anthropic expense source.
type Plugin struct {
	// APIURL and ConsoleURL default to production.
	APIURL     string
	ConsoleURL string

	cfg  domain.PluginConfig
	deps plugins.Deps
	log  *slog.Logger
}

var _ domain.Plugin = (*Plugin)(nil)

// Register adds the source to r.
func Register(r *plugins.Registry) error {
	return r.Register(Name, func(cfg domain.PluginConfig, deps plugins.Deps) (domain.Plugin, error) {
		return NewPlugin(cfg, deps)
	})
}

func NewPlugin(cfg domain.PluginConfig, deps plugins.Deps) (*Plugin, error) {
	if cfg.Credential(credAdminKey) == "" {
		return nil, fmt.Errorf("%w: %s is required", domain.ErrCredentialInvalid, credAdminKey)
	}
	deps = deps.WithDefaults(Name)
	return &Plugin{
		APIURL:     DefaultAPIURL,
		ConsoleURL: DefaultConsoleURL,
		cfg:        cfg,
		deps:       deps,
		log:        deps.Logger,
	}, nil
}

func (p *Plugin) Name() domain.Source     { return Name }
func (p *Plugin) Kind() domain.PluginKind { return domain.KindAPI }
func (p *Plugin) Close() error            { return nil }

func (p *Plugin) header() http.Header {
	h := http.Header{}
	h.Set("x-api-key", p.cfg.Credential(credAdminKey))
	h.Set("anthropic-version", apiVersion)
	return h
}

// ValidateCredentials checks the admin key against the organization endpoint.
func (p *Plugin) ValidateCredentials(ctx context.Context) bool {
	return plugins.Probe(ctx, p.deps.HTTP, p.APIURL+"/v1/organizations/me", p.header())
}

// FetchExpense totals the month's cost report and fetches the invoice. A
// month that rounds to zero cents has no charge.
func (p *Plugin) FetchExpense(ctx context.Context, period domain.Period, dryRun bool) (*domain.Expense, error) {
	p.log.Info("fetching cost report", "period", period.String())

	var cents int64
	err := p.deps.Retrier("cost report").Do(ctx, func(ctx context.Context) error {
		var err error
		cents, err = p.totalCost(ctx, period)
		return err
	})
	if err != nil {
		return nil, plugins.Wrap("cost report", err)
	}
	if cents == 0 {
		p.log.Info("no charges", "period", period.String())
		return nil, nil
	}
	p.log.Info("cost found", "cents", cents)

	e := &domain.Expense{
		Source:   Name,
		Merchant: "Anthropic",
		Amount:   cents,
		Currency: "USD",
		Date:     period.Start(),
		Category: p.cfg.Category,
		Comment:  fmt.Sprintf("Anthropic API usage for %s", period),
	}
	if dryRun {
		path, err := plugins.WritePlaceholder(p.deps.DownloadDir, Name, period)
		if err != nil {
			return nil, plugins.Wrap("placeholder", err)
		}
		p.log.Info("dry run, invoice download skipped")
		e.ReceiptPath, e.Placeholder = path, true
		return e, nil
	}

	path, err := p.downloadInvoice(ctx, period)
	if err != nil {
		return nil, plugins.Wrap("invoice", err)
	}
	e.ReceiptPath = path
	return e, nil
}

type costReport struct {
	Data []struct {
		Results []struct {
			Amount decimal.Decimal `json:"amount"`
		} `json:"results"`
	} `json:"data"`
	HasMore  bool   `json:"has_more"`
	NextPage string `json:"next_page"`
}

// totalCost sums every page of the cost report. Amounts are decimal strings
// in cents.
func (p *Plugin) totalCost(ctx context.Context, period domain.Period) (int64, error) {
	pace := p.deps.Pacer()
	total := decimal.Zero
	page := ""
	for {
		if err := pace.Wait(ctx); err != nil {
			return 0, err
		}
		q := url.Values{}
		q.Set("starting_at", period.Start().Format(time.DateOnly)+"T00:00:00Z")
		q.Set("ending_at", period.End().Format(time.DateOnly)+"T00:00:00Z")
		q.Set("bucket_width", "1d")
		if page != "" {
			q.Set("page", page)
		}
		var r costReport
		if err := plugins.GetJSON(ctx, p.deps.HTTP, p.APIURL+"/v1/organizations/cost_report?"+q.Encode(), p.header(), &r); err != nil {
			return 0, err
		}
		for _, bucket := range r.Data {
			for _, res := range bucket.Results {
				total = total.Add(res.Amount)
			}
		}
		if !r.HasMore || r.NextPage == "" {
			break
		}
		page = r.NextPage
	}
	return plugins.CeilCents(total), nil
}

func (p *Plugin) downloadInvoice(ctx context.Context, period domain.Period) (string, error) {
	var path string
	err := p.deps.WithBrowser(ctx, Name, func(ctx context.Context, s *browser.Session) error {
		if err := p.login(ctx, s); err != nil {
			return err
		}
		if err := s.Navigate(ctx, p.ConsoleURL+"/settings/billing"); err != nil {
			return err
		}
		row, ok, err := plugins.FindInvoiceRow(ctx, s, selRows, invoiceNeedles(period)...)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no invoice listed for %s", period)
		}
		p.log.Info("invoice found", "row", strings.TrimSpace(row.Text))
		path, err = plugins.DownloadInvoiceRow(ctx, s, selRows, row, selRowLink)
		return err
	})
	return path, err
}

// login signs in unless restored cookies already did.
func (p *Plugin) login(ctx context.Context, s *browser.Session) error {
	if err := s.Navigate(ctx, p.ConsoleURL+"/login"); err != nil {
		return err
	}
	current, err := s.URL(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(current, "/login") {
		p.log.Info("session restored, skipping login")
		return nil
	}
	email, password := p.cfg.Credential(credConsoleEmail), p.cfg.Credential(credConsolePassword)
	if email == "" || password == "" {
		return fmt.Errorf("%w: %s and %s are required for invoice download",
			domain.ErrCredentialInvalid, credConsoleEmail, credConsolePassword)
	}
	if err := s.Fill(ctx, selEmail, email); err != nil {
		return err
	}
	if err := s.Click(ctx, selSubmit); err != nil {
		return err
	}
	if err := s.Fill(ctx, selPassword, password); err != nil {
		return err
	}
	return s.Click(ctx, selSubmit)
}

func invoiceNeedles(period domain.Period) []string {
	start := period.Start()
	return []string{
		period.String(),
		start.Format("January 2006"),
		start.Format("Jan 2006"),
	}
}
