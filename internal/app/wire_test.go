package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"expensifyos/internal/app"
	"expensifyos/internal/browser/browsertest"
	"expensifyos/internal/domain"
	"expensifyos/internal/services/orchestrator"
	"expensifyos/internal/store"
)

// rewrite sends every request to target, keeping path and query.
type rewrite struct{ target *url.URL }

func (r rewrite) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme, req.URL.Host = r.target.Scheme, r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	path, home := writeConfig(t, `
expensify:
  partner_user_id: id
  partner_user_secret: secret
  employee_email: me@example.com
plugins:
  anthropic:
    category: Software
    credentials:
      admin_api_key: sk-ant-admin
cookies:
  backend: memory
  passphrase: hunter2
browser:
  download_dir: `+filepath.Join(t.TempDir(), "downloads")+`
`)
	cfg, err := app.Load(context.Background(), path, app.LoadOptions{Offline: true, Home: home, EnvFile: filepath.Join(home, "x")})
	require.NoError(t, err)
	return cfg
}

func TestNewWireBuildsGraph(t *testing.T) {
	cfg := testConfig(t)
	w, err := app.NewWire(cfg, app.WireOptions{Launcher: &browsertest.Launcher{}})
	require.NoError(t, err)
	defer w.Close()

	require.Equal(t, []domain.Source{"anthropic", "openai", "vodafone"}, w.Registry.Names())
	require.IsType(t, &store.SealedCookieStore{}, w.Cookies)
	require.Equal(t, []int{0, 0}, w.Limiter.InFlight())
}

func TestWiredDryRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/organizations/cost_report"):
			_, _ = w.Write([]byte(`{"data":[{"results":[{"amount":"4250"}]}],"has_more":false}`))
		default:
			t.Errorf("unexpected request %s", r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	cfg := testConfig(t)
	w, err := app.NewWire(cfg, app.WireOptions{
		HTTP:     &http.Client{Transport: rewrite{target}, Timeout: 5 * time.Second},
		Launcher: &browsertest.Launcher{},
	})
	require.NoError(t, err)
	defer w.Close()

	report, err := w.Orchestrator.Run(context.Background(), orchestrator.Request{
		Period: domain.Period{Year: 2026, Month: time.January},
		DryRun: true,
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.Equal(t, domain.StatusDryRun, res.Status)
	require.EqualValues(t, 4250, res.Expense.Amount)
	require.Equal(t, filepath.Join(cfg.Browser.DownloadDir, "anthropic", "anthropic_2026-01.pdf"), res.Expense.ReceiptPath)
	require.Zero(t, report.ExitCode())
}
