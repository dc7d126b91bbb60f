package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"expensifyos/internal/domain"
	"expensifyos/internal/notify"
)

func report() *domain.Report {
	return &domain.Report{
		Period: domain.Period{Year: 2026, Month: 1},
		Results: []domain.RunResult{
			{Source: "anthropic", Status: domain.StatusSubmitted, ExpenseID: "T1",
				Expense: &domain.Expense{Amount: 4250, Currency: "USD"}},
			{Source: "openai", Status: domain.StatusNoCharge},
			{Source: "vodafone", Status: domain.StatusFailed, Err: errors.New("login failed")},
		},
	}
}

func TestFormatSummary(t *testing.T) {
	want := ":receipt: *expensify-os Run Summary*\n" +
		"_2026-01_\n" +
		"*Submitted:*\n  • anthropic: USD 42.50\n" +
		"*No charges:*\n  • openai\n" +
		"*Failed:*\n  • vodafone: login failed\n" +
		"\n*Total submitted:* USD 42.50"
	require.Equal(t, want, notify.FormatSummary(report()))
}

func TestNotifyPostsToWebhook(t *testing.T) {
	var got struct {
		Text     string `json:"text"`
		Username string `json:"username"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := notify.NewSlack(srv.URL, nil)
	require.NoError(t, s.Notify(context.Background(), report()))
	require.Equal(t, "expensify-os", got.Username)
	require.Contains(t, got.Text, "anthropic: USD 42.50")
}

func TestNotifyWithoutWebhookIsNoop(t *testing.T) {
	require.NoError(t, notify.NewSlack("", nil).Notify(context.Background(), report()))
}

func TestNotifyReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	require.ErrorContains(t, notify.NewSlack(srv.URL, nil).Notify(context.Background(), report()), "403")
}
