package stub_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"expensifyos/internal/domain"
	"expensifyos/internal/expensify"
	"expensifyos/internal/expensify/stub"
	"expensifyos/internal/ratelimit"
	"expensifyos/internal/ratelimit/ratelimittest"
	"expensifyos/internal/retry"
)

var creds = expensify.Credentials{PartnerUserID: "aa_me", PartnerUserSecret: "s", EmployeeEmail: "me@example.com"}

func expense(t *testing.T) domain.Expense {
	receipt := filepath.Join(t.TempDir(), "inv.pdf")
	require.NoError(t, os.WriteFile(receipt, []byte("%PDF-1.4"), 0o600))
	return domain.Expense{
		Source: "anthropic", Merchant: "Anthropic", Amount: 4250, Currency: "USD",
		Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Category: "Software", ReceiptPath: receipt,
	}
}

func TestClientAgainstStub(t *testing.T) {
	s := stub.New(creds.PartnerUserID, creds.PartnerUserSecret, nil, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	c := expensify.New(creds, ratelimit.NewDefault(), expensify.WithURL(srv.URL))
	id, err := c.Submit(context.Background(), expense(t))
	require.NoError(t, err)
	require.Equal(t, domain.ExpenseID("1"), id)

	txns := s.Transactions()
	require.Len(t, txns, 1)
	require.Equal(t, "Anthropic", txns[0].Merchant)
	require.EqualValues(t, 4250, txns[0].Amount)
	require.Equal(t, "2026-01-01", txns[0].Created)
	require.Equal(t, "me@example.com", txns[0].Employee)
	require.Equal(t, "inv.pdf", txns[0].Receipt)
	require.Equal(t, 8, txns[0].ReceiptSize)
}

func TestStubRejectsBadCredentials(t *testing.T) {
	srv := httptest.NewServer(stub.New("other", "x", nil, nil))
	defer srv.Close()

	c := expensify.New(creds, ratelimit.NewDefault(), expensify.WithURL(srv.URL))
	_, err := c.CreateExpense(context.Background(), expense(t))
	require.ErrorIs(t, err, domain.ErrRemoteRejected)
}

func TestStubRateLimitIsRetried(t *testing.T) {
	clk := ratelimittest.NewClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	serverLimit, err := ratelimit.New([]ratelimit.Window{{Limit: 1, Duration: time.Second}}, ratelimit.WithClock(clk))
	require.NoError(t, err)
	s := stub.New(creds.PartnerUserID, creds.PartnerUserSecret, serverLimit, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	// The client's own limiter is generous; the stub's 429 drives the retry and
	// the manual clock advances past the server window on each backoff sleep.
	c := expensify.New(creds, ratelimit.NewDefault(ratelimit.WithClock(clk)),
		expensify.WithURL(srv.URL),
		expensify.WithClock(clk),
		expensify.WithRetryPolicy(retry.Policy{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Second}))

	_, err = c.CreateExpense(context.Background(), expense(t))
	require.NoError(t, err)
	_, err = c.CreateExpense(context.Background(), expense(t))
	require.NoError(t, err)
	require.Len(t, s.Transactions(), 2)
	require.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
}
