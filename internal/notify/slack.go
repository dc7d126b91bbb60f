// Package notify posts run summaries to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"expensifyos/internal/domain"
)

// Username is the display name the webhook posts as.
const Username = "expensify-os"

// Slack sends reports to a webhook. An empty URL makes Notify a no-op.
type Slack struct {
	URL  string
	HTTP *http.Client
	log  *slog.Logger
}

var _ domain.Notifier = (*Slack)(nil)

func NewSlack(url string, log *slog.Logger) *Slack {
	if log == nil {
		log = slog.Default()
	}
	return &Slack{URL: url, HTTP: &http.Client{Timeout: 10 * time.Second}, log: log}
}

type payload struct {
	Text     string `json:"text"`
	Username string `json:"username"`
}

func (s *Slack) Notify(ctx context.Context, r *domain.Report) error {
	if s.URL == "" {
		s.log.Debug("slack notification skipped, no webhook configured")
		return nil
	}
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(payload{Text: FormatSummary(r), Username: Username}); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack post: %s", resp.Status)
	}
	s.log.Info("slack notification sent")
	return nil
}

// FormatSummary renders r as Slack markdown.
func FormatSummary(r *domain.Report) string {
	var b strings.Builder
	title := ":receipt: *expensify-os Run Summary*"
	if r.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(&b, "%s\n_%s_\n", title, r.Period)

	section := func(name string, status domain.RunStatus, line func(domain.RunResult) string) {
		var lines []string
		for _, res := range r.Results {
			if res.Status == status {
				lines = append(lines, "  • "+line(res))
			}
		}
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "*%s:*\n%s\n", name, strings.Join(lines, "\n"))
	}
	amount := func(res domain.RunResult) string {
		if res.Expense == nil {
			return res.Source.String()
		}
		return fmt.Sprintf("%s: %s %s", res.Source, res.Expense.Currency, res.Expense.Decimal())
	}

	section("Submitted", domain.StatusSubmitted, amount)
	section("Dry run", domain.StatusDryRun, amount)
	section("No charges", domain.StatusNoCharge, func(res domain.RunResult) string { return res.Source.String() })
	section("Created without receipt", domain.StatusPartial, func(res domain.RunResult) string {
		return fmt.Sprintf("%s: expense %s, %s", res.Source, res.ExpenseID, detail(res))
	})
	section("Failed", domain.StatusFailed, func(res domain.RunResult) string {
		return fmt.Sprintf("%s: %s", res.Source, detail(res))
	})

	totals := map[string]int64{}
	for _, res := range r.Results {
		if (res.Status == domain.StatusSubmitted || res.Status == domain.StatusPartial) && res.Expense != nil {
			totals[res.Expense.Currency] += res.Expense.Amount
		}
	}
	if len(totals) > 0 {
		var parts []string
		for _, cur := range slices.Sorted(maps.Keys(totals)) {
			parts = append(parts, fmt.Sprintf("%s %s", cur, domain.Expense{Amount: totals[cur]}.Decimal()))
		}
		fmt.Fprintf(&b, "\n*Total submitted:* %s\n", strings.Join(parts, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func detail(res domain.RunResult) string {
	if res.Detail != "" {
		return res.Detail
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return "unknown error"
}
