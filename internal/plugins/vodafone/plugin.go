// Package vodafone fetches the monthly invoice from the My Vodafone portal.
// There is no billing API, so login, 2FA, amount and PDF all come from the
// browser.
package vodafone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"expensifyos/internal/browser"
	"expensifyos/internal/domain"
	"expensifyos/internal/plugins"
)

const (
	Name domain.Source = "vodafone"

	DefaultBaseURL = "https://www.vodafone.nl"

	credUsername = "username"
	credPassword = "password"
	credSMSCode  = "sms_code"

	// SMSCodeEnv supplies the 2FA code for unattended first logins.
	SMSCodeEnv = "VODAFONE_SMS_CODE"
)

const (
	selUsername  = "#j_username"
	selPassword  = "#j_password"
	selLogin     = "#loginFormSubmitButton"
	selSMSCode   = `input[name="sms-code"]`
	selRemember  = `input[type="checkbox"]`
	selSMSSubmit = `button[type="submit"]`
	selRows      = `tr, div[class*="invoice"], li[class*="invoice"]`
	selRowLink   = `a, button`
)

var dutchMonths = [...]string{
	"januari", "februari", "maart", "april", "mei", "juni",
	"juli", "augustus", "september", "oktober", "november", "december",
}

var (
	euroRe  = regexp.MustCompile(`€\s*([\d.,]+)`)
	hundred = decimal.NewFromInt(100)
)

type Plugin struct {
	BaseURL string

	cfg  domain.PluginConfig
	deps plugins.Deps
	log  *slog.Logger
}

var _ domain.Plugin = (*Plugin)(nil)

func Register(r *plugins.Registry) error {
	return r.Register(Name, func(cfg domain.PluginConfig, deps plugins.Deps) (domain.Plugin, error) {
		return NewPlugin(cfg, deps)
	})
}

func NewPlugin(cfg domain.PluginConfig, deps plugins.Deps) (*Plugin, error) {
	if cfg.Credential(credUsername) == "" || cfg.Credential(credPassword) == "" {
		return nil, fmt.Errorf("%w: %s and %s are required", domain.ErrCredentialInvalid, credUsername, credPassword)
	}
	deps = deps.WithDefaults(Name)
	return &Plugin{BaseURL: DefaultBaseURL, cfg: cfg, deps: deps, log: deps.Logger}, nil
}

func (p *Plugin) Name() domain.Source     { return Name }
func (p *Plugin) Kind() domain.PluginKind { return domain.KindBrowser }
func (p *Plugin) Close() error            { return nil }

// ValidateCredentials logs in and reports whether that worked.
func (p *Plugin) ValidateCredentials(ctx context.Context) bool {
	err := p.deps.WithBrowser(ctx, Name, func(ctx context.Context, s *browser.Session) error {
		return p.login(ctx, s)
	})
	if err != nil {
		p.log.Warn("credential validation failed", "err", err)
		return false
	}
	return true
}

// FetchExpense reads the invoice row for period. Dry runs still log in and
// read the amount but skip the PDF download.
func (p *Plugin) FetchExpense(ctx context.Context, period domain.Period, dryRun bool) (*domain.Expense, error) {
	p.log.Info("fetching invoice", "period", period.String())

	var e *domain.Expense
	err := p.deps.WithBrowser(ctx, Name, func(ctx context.Context, s *browser.Session) error {
		if err := p.login(ctx, s); err != nil {
			return err
		}
		if err := s.Navigate(ctx, p.BaseURL+"/my/facturen"); err != nil {
			return err
		}
		row, ok, err := p.findRow(ctx, s, period)
		if err != nil {
			return err
		}
		if !ok {
			p.log.Info("no invoice found", "period", period.String())
			return nil
		}
		cents, err := ParseEuroCents(row.Text)
		if err != nil {
			return fmt.Errorf("invoice row %q: %w", strings.TrimSpace(row.Text), err)
		}
		if cents == 0 {
			p.log.Info("invoice is zero", "period", period.String())
			return nil
		}

		e = &domain.Expense{
			Source:   Name,
			Merchant: "Vodafone",
			Amount:   cents,
			Currency: "EUR",
			Date:     period.Start(),
			Category: p.cfg.Category,
			Comment:  fmt.Sprintf("Vodafone mobile subscription for %s", period),
		}
		if dryRun {
			path, err := plugins.WritePlaceholder(p.deps.DownloadDir, Name, period)
			if err != nil {
				return err
			}
			p.log.Info("dry run, invoice download skipped")
			e.ReceiptPath, e.Placeholder = path, true
			return nil
		}
		path, err := plugins.DownloadInvoiceRow(ctx, s, selRows, row, selRowLink)
		if err != nil {
			return err
		}
		e.ReceiptPath = path
		return nil
	})
	if err != nil {
		return nil, plugins.Wrap("invoice", err)
	}
	return e, nil
}

// findRow prefers rows naming the month and year, then any row naming the
// month.
func (p *Plugin) findRow(ctx context.Context, s *browser.Session, period domain.Period) (plugins.InvoiceRow, bool, error) {
	month := dutchMonths[period.Month-1]
	row, ok, err := plugins.FindInvoiceRow(ctx, s, selRows,
		fmt.Sprintf("%s %d", month, period.Year),
		fmt.Sprintf("%02d-%d", int(period.Month), period.Year))
	if err != nil || ok {
		return row, ok, err
	}
	return plugins.FindInvoiceRow(ctx, s, selRows, month)
}

// login signs in unless restored cookies already did, answering the SMS
// challenge when one appears.
func (p *Plugin) login(ctx context.Context, s *browser.Session) error {
	if err := s.Navigate(ctx, p.BaseURL+"/my/inloggen"); err != nil {
		return err
	}
	current, err := s.URL(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(current, "/my/facturen") || strings.Contains(current, "/my/dashboard") {
		p.log.Info("already logged in")
		return nil
	}

	if err := s.Fill(ctx, selUsername, p.cfg.Credential(credUsername)); err != nil {
		return err
	}
	if err := s.Fill(ctx, selPassword, p.cfg.Credential(credPassword)); err != nil {
		return err
	}
	if err := s.Click(ctx, selLogin); err != nil {
		return err
	}

	needsSMS, err := s.Exists(ctx, selSMSCode)
	if err != nil || !needsSMS {
		return err
	}
	p.log.Info("sms verification required")
	code, err := p.smsCode(ctx)
	if err != nil {
		return err
	}
	if err := s.Fill(ctx, selSMSCode, code); err != nil {
		return err
	}
	if ok, _ := s.Exists(ctx, selRemember); ok {
		if err := s.Check(ctx, selRemember); err != nil {
			return err
		}
		p.log.Info("remember device checked")
	}
	return s.Click(ctx, selSMSSubmit)
}

func (p *Plugin) smsCode(ctx context.Context) (string, error) {
	if code := p.cfg.Credential(credSMSCode); code != "" {
		return code, nil
	}
	if code := strings.TrimSpace(p.deps.Getenv(SMSCodeEnv)); code != "" {
		p.log.Info("sms code taken from environment")
		return code, nil
	}
	code, err := p.deps.Ask(ctx, "Vodafone sent an SMS code. Enter the 6-digit code: ")
	if errors.Is(err, plugins.ErrNoPrompt) {
		return "", fmt.Errorf("%w: sms code needed; set %s or credential %s", domain.ErrCredentialInvalid, SMSCodeEnv, credSMSCode)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

// ParseEuroCents extracts the first euro amount in text and returns it in
// cents. Dutch formatting is assumed ("€ 1.234,56"), with "€45.23" accepted
// as a decimal point when exactly two digits follow it.
func ParseEuroCents(text string) (int64, error) {
	m := euroRe.FindStringSubmatch(text)
	if m == nil {
		return 0, errors.New("no euro amount")
	}
	num := strings.TrimRight(m[1], ".,")
	if strings.Contains(num, ",") {
		num = strings.ReplaceAll(num, ".", "")
		num = strings.Replace(num, ",", ".", 1)
	} else if i := strings.LastIndex(num, "."); i >= 0 && len(num)-i-1 != 2 {
		num = strings.ReplaceAll(num, ".", "")
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", m[1], err)
	}
	return plugins.CeilCents(d.Mul(hundred)), nil
}
