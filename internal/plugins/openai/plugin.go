// Package openai reads monthly spend from the OpenAI organization costs API
// and downloads the matching invoice from the platform billing page.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"expensifyos/internal/browser"
	"expensifyos/internal/domain"
	"expensifyos/internal/plugins"
)

const (
	Name domain.Source = "openai"

	DefaultAPIURL      = "https://api.openai.com"
	DefaultPlatformURL = "https://platform.openai.com"

	// maxBuckets is the API's page size ceiling for daily buckets.
	maxBuckets = 180

	credAPIKey           = "api_key"
	credPlatformEmail    = "platform_email"
	credPlatformPassword = "platform_password"
)

const (
	selEmail    = `input[name="email"], input[type="email"]`
	selPassword = `input[type="password"]`
	selSubmit   = `button[type="submit"]`
	selRows     = `table tbody tr`
	selRowLink  = `a, button`
)

var hundred = decimal.NewFromInt(100)

type Plugin struct {
	APIURL      string
	PlatformURL string

	cfg  domain.PluginConfig
	deps plugins.Deps
	log  *slog.Logger
	now  func() time.Time
}

var _ domain.Plugin = (*Plugin)(nil)

func Register(r *plugins.Registry) error {
	return r.Register(Name, func(cfg domain.PluginConfig, deps plugins.Deps) (domain.Plugin, error) {
		return NewPlugin(cfg, deps)
	})
}

func NewPlugin(cfg domain.PluginConfig, deps plugins.Deps) (*Plugin, error) {
	if cfg.Credential(credAPIKey) == "" {
		return nil, fmt.Errorf("%w: %s is required", domain.ErrCredentialInvalid, credAPIKey)
	}
	deps = deps.WithDefaults(Name)
	return &Plugin{
		APIURL:      DefaultAPIURL,
		PlatformURL: DefaultPlatformURL,
		cfg:         cfg,
		deps:        deps,
		log:         deps.Logger,
		now:         time.Now,
	}, nil
}

func (p *Plugin) Name() domain.Source     { return Name }
func (p *Plugin) Kind() domain.PluginKind { return domain.KindAPI }
func (p *Plugin) Close() error            { return nil }

func (p *Plugin) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.cfg.Credential(credAPIKey))
	return h
}

// ValidateCredentials asks for a single bucket of the last day's costs.
func (p *Plugin) ValidateCredentials(ctx context.Context) bool {
	q := url.Values{}
	q.Set("start_time", strconv.FormatInt(p.now().Add(-24*time.Hour).Unix(), 10))
	q.Set("limit", "1")
	return plugins.Probe(ctx, p.deps.HTTP, p.APIURL+"/v1/organization/costs?"+q.Encode(), p.header())
}

func (p *Plugin) FetchExpense(ctx context.Context, period domain.Period, dryRun bool) (*domain.Expense, error) {
	p.log.Info("fetching costs", "period", period.String())

	var cents int64
	err := p.deps.Retrier("costs").Do(ctx, func(ctx context.Context) error {
		var err error
		cents, err = p.totalCost(ctx, period)
		return err
	})
	if err != nil {
		return nil, plugins.Wrap("costs", err)
	}
	if cents == 0 {
		p.log.Info("no charges", "period", period.String())
		return nil, nil
	}
	p.log.Info("cost found", "cents", cents)

	e := &domain.Expense{
		Source:   Name,
		Merchant: "OpenAI",
		Amount:   cents,
		Currency: "USD",
		Date:     period.Start(),
		Category: p.cfg.Category,
		Comment:  fmt.Sprintf("OpenAI API usage for %s", period),
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

type costsPage struct {
	Data []struct {
		Results []struct {
			Amount struct {
				Value    decimal.Decimal `json:"value"`
				Currency string          `json:"currency"`
			} `json:"amount"`
		} `json:"results"`
	} `json:"data"`
	HasMore  bool   `json:"has_more"`
	NextPage string `json:"next_page"`
}

// totalCost sums every page of daily buckets. Values are dollars.
func (p *Plugin) totalCost(ctx context.Context, period domain.Period) (int64, error) {
	days := int(period.End().Sub(period.Start()).Hours() / 24)
	pace := p.deps.Pacer()
	total := decimal.Zero
	page := ""
	for {
		if err := pace.Wait(ctx); err != nil {
			return 0, err
		}
		q := url.Values{}
		q.Set("start_time", strconv.FormatInt(period.Start().Unix(), 10))
		q.Set("end_time", strconv.FormatInt(period.End().Unix(), 10))
		q.Set("bucket_width", "1d")
		q.Set("limit", strconv.Itoa(min(days, maxBuckets)))
		if page != "" {
			q.Set("page", page)
		}
		var r costsPage
		if err := plugins.GetJSON(ctx, p.deps.HTTP, p.APIURL+"/v1/organization/costs?"+q.Encode(), p.header(), &r); err != nil {
			return 0, err
		}
		for _, bucket := range r.Data {
			for _, res := range bucket.Results {
				total = total.Add(res.Amount.Value.Mul(hundred))
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
		if err := s.Navigate(ctx, p.PlatformURL+"/settings/organization/billing/overview"); err != nil {
			return err
		}
		start := period.Start()
		row, ok, err := plugins.FindInvoiceRow(ctx, s, selRows,
			period.String(), start.Format("January 2006"), start.Format("Jan 2006"))
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

func (p *Plugin) login(ctx context.Context, s *browser.Session) error {
	if err := s.Navigate(ctx, p.PlatformURL+"/login"); err != nil {
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
	email, password := p.cfg.Credential(credPlatformEmail), p.cfg.Credential(credPlatformPassword)
	if email == "" || password == "" {
		return fmt.Errorf("%w: %s and %s are required for invoice download",
			domain.ErrCredentialInvalid, credPlatformEmail, credPlatformPassword)
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
