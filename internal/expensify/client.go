package expensify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"expensifyos/internal/domain"
	"expensifyos/internal/ratelimit"
	"expensifyos/internal/retry"
)

// DefaultURL is the production Integration Server endpoint.
const DefaultURL = "https://integrations.expensify.com/Integration-Server/ExpensifyIntegrations"

// Credentials identify the partner and the employee expenses are filed for.
type Credentials struct {
	PartnerUserID     string
	PartnerUserSecret string
	EmployeeEmail     string
}

// Client submits expenses. It is safe for concurrent use.
type Client struct {
	URL  string
	HTTP *http.Client

	creds   Credentials
	limiter domain.Limiter
	retry   retry.Policy
	clock   ratelimit.Clock
	log     *slog.Logger

	requests metric.Int64Counter
}

var _ domain.ExpenseSubmitter = (*Client)(nil)

type Option func(*Client)

func WithURL(u string) Option { return func(c *Client) { c.URL = u } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.HTTP = h } }

func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.retry = p.Normalized() } }

// WithClock replaces the clock used for backoff sleeps.
func WithClock(clk ratelimit.Clock) Option { return func(c *Client) { c.clock = clk } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithMeter records request outcomes on m instead of the global meter.
func WithMeter(m metric.Meter) Option {
	return func(c *Client) { c.requests = newRequestCounter(m) }
}

// New returns a client that takes a limiter slot before every attempt.
func New(creds Credentials, limiter domain.Limiter, opts ...Option) *Client {
	c := &Client{
		URL:     DefaultURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		creds:   creds,
		limiter: limiter,
		retry:   retry.Default,
		clock:   ratelimit.SystemClock{},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.requests == nil {
		c.requests = newRequestCounter(otel.Meter("expensifyos/internal/expensify"))
	}
	return c
}

func newRequestCounter(m metric.Meter) metric.Int64Counter {
	ctr, err := m.Int64Counter("expensify.requests",
		metric.WithDescription("Expensify Integration Server attempts by operation and outcome"))
	if err != nil {
		otel.Handle(err)
	}
	return ctr
}

// CreateExpense files e and returns the transaction ID Expensify assigned.
func (c *Client) CreateExpense(ctx context.Context, e domain.Expense) (domain.ExpenseID, error) {
	c.log.Info("creating expense",
		"source", e.Source.String(), "merchant", e.Merchant, "amount", e.Decimal(), "currency", e.Currency)

	job := c.job(map[string]any{
		"type":          "create",
		"employeeEmail": c.creds.EmployeeEmail,
		"transactionList": []transaction{{
			Merchant: e.Merchant,
			Amount:   e.Amount,
			Currency: e.Currency,
			Created:  e.Date.Format(time.DateOnly),
			Category: e.Category,
			Comment:  e.Comment,
		}},
	})
	resp, err := c.send(ctx, "create", func() (request, error) { return formRequest(job) })
	if err != nil {
		return "", err
	}
	id := resp.transactionID()
	if id == "" {
		return "", &domain.RemoteError{Kind: domain.ErrRemoteRejected, Op: "create", Status: resp.status,
			Body: "response carried no transactionID: " + resp.body}
	}
	c.log.Info("expense created", "source", e.Source.String(), "transaction_id", id)
	return domain.ExpenseID(id), nil
}

// AttachReceipt uploads the file at receiptPath to an existing expense.
func (c *Client) AttachReceipt(ctx context.Context, id domain.ExpenseID, receiptPath string) error {
	blob, err := os.ReadFile(receiptPath)
	if err != nil {
		return fmt.Errorf("reading receipt: %w", err)
	}
	c.log.Info("uploading receipt", "transaction_id", id.String(), "receipt", receiptPath)

	job := c.job(map[string]any{
		"type":          "receiptUpload",
		"employeeEmail": c.creds.EmployeeEmail,
		"transactionID": id.String(),
	})
	name := filepath.Base(receiptPath)
	_, err = c.send(ctx, "receiptUpload", func() (request, error) { return multipartRequest(job, name, blob) })
	return err
}

// Submit creates e and attaches its receipt. The create is never reversed:
// when only the attach fails, the ID is returned with a *PartialSubmitError.
func (c *Client) Submit(ctx context.Context, e domain.Expense) (domain.ExpenseID, error) {
	id, err := c.CreateExpense(ctx, e)
	if err != nil {
		return "", err
	}
	if e.ReceiptPath == "" {
		return id, nil
	}
	if err := c.AttachReceipt(ctx, id, e.ReceiptPath); err != nil {
		return id, &domain.PartialSubmitError{ID: id, Err: err}
	}
	return id, nil
}

type transaction struct {
	Merchant string `json:"merchant"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Created  string `json:"created"`
	Category string `json:"category"`
	Comment  string `json:"comment"`
}

type credentialsJSON struct {
	PartnerUserID     string `json:"partnerUserID"`
	PartnerUserSecret string `json:"partnerUserSecret"`
}

type jobDescription struct {
	Type          string          `json:"type"`
	Credentials   credentialsJSON `json:"credentials"`
	InputSettings map[string]any  `json:"inputSettings"`
}

func (c *Client) job(input map[string]any) jobDescription {
	return jobDescription{
		Type: "create",
		Credentials: credentialsJSON{
			PartnerUserID:     c.creds.PartnerUserID,
			PartnerUserSecret: c.creds.PartnerUserSecret,
		},
		InputSettings: input,
	}
}

// send runs one job with retries. build is called per attempt so request
// bodies are fresh each time.
func (c *Client) send(ctx context.Context, op string, build func() (request, error)) (*response, error) {
	var out *response
	r := retry.Retrier{
		Policy:    c.retry,
		Sleep:     c.clock.Sleep,
		Retryable: retryable,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			c.log.Warn("expensify request failed, retrying",
				"op", op, "attempt", attempt, "delay", delay, "err", err)
		},
	}
	err := r.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
		req, err := build()
		if err != nil {
			return err
		}
		resp, err := c.post(ctx, op, req)
		switch {
		case err == nil:
			c.record(ctx, op, "ok")
			out = resp
		case retryable(err):
			c.record(ctx, op, "retry")
		default:
			c.record(ctx, op, "rejected")
		}
		return err
	})
	if errors.Is(err, retry.ErrExhausted) {
		c.record(ctx, op, "unavailable")
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func retryable(err error) bool {
	var re *domain.RemoteError
	if errors.As(err, &re) {
		return errors.Is(re.Kind, domain.ErrRemoteUnavailable)
	}
	return false
}

func (c *Client) record(ctx context.Context, op, outcome string) {
	if c.requests == nil {
		return
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(opAttr(op), outcomeAttr(outcome)))
}
