package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"expensifyos/internal/app"
	"expensifyos/internal/browser/browsertest"
)

type rewrite struct{ target *url.URL }

func (r rewrite) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme, req.URL.Host = r.target.Scheme, r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func setup(t *testing.T, handler http.HandlerFunc) (*options, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
expensify:
  partner_user_id: id
  partner_user_secret: secret
  employee_email: me@example.com
plugins:
  anthropic:
    category: Software
    credentials:
      admin_api_key: sk-ant-admin
  openai:
    enabled: false
    credentials:
      api_key: sk
cookies:
  backend: memory
browser:
  download_dir: ` + filepath.Join(dir, "downloads") + `
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	o := &options{
		loadOpts: app.LoadOptions{Home: filepath.Join(dir, "home"), EnvFile: filepath.Join(dir, "none.env")},
		wireOpts: app.WireOptions{
			HTTP:     &http.Client{Transport: rewrite{target}, Timeout: 5 * time.Second},
			Launcher: &browsertest.Launcher{},
		},
	}
	return o, path
}

func execute(t *testing.T, o *options, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(o)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func costs(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/organizations/cost_report":
		_, _ = w.Write([]byte(`{"data":[{"results":[{"amount":"4250"}]}],"has_more":false}`))
	case "/v1/organizations/me":
		_, _ = w.Write([]byte(`{"id":"org"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestRunDryRun(t *testing.T) {
	o, path := setup(t, costs)
	out, err := execute(t, o, "-c", path, "run", "--month", "2026-01", "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "Target month: 2026-01")
	require.Contains(t, out, "--- anthropic ---")
	require.Contains(t, out, "Amount: USD 42.50")
	require.Contains(t, out, "[DRY RUN] Would submit to Expensify")
	require.Contains(t, out, "Submitted: 0, Dry run: 1, Skipped: 0, Partial: 0, Errors: 0")
}

func TestRunFailureReturnsError(t *testing.T) {
	o, path := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	out, err := execute(t, o, "-c", path, "run", "--month", "2026-01", "--dry-run")
	require.ErrorIs(t, err, errFailed)
	require.Contains(t, out, "ERROR:")
	require.Contains(t, out, "Errors: 1")
}

func TestRunRejectsBadMonth(t *testing.T) {
	o, path := setup(t, costs)
	_, err := execute(t, o, "-c", path, "run", "--month", "2026-13")
	require.ErrorContains(t, err, "--month")
}

func TestRunDisabledSource(t *testing.T) {
	o, path := setup(t, costs)
	out, err := execute(t, o, "-c", path, "run", "--month", "2026-01", "--source", "openai", "--dry-run")
	require.ErrorIs(t, err, errFailed)
	require.Contains(t, out, "--- openai ---")
}

func TestValidate(t *testing.T) {
	o, path := setup(t, costs)
	out, err := execute(t, o, "-c", path, "validate")
	require.NoError(t, err)
	require.Contains(t, out, "Config: OK")
	require.Contains(t, out, "openai: disabled")
	require.Contains(t, out, "anthropic: OK")
	require.Contains(t, out, "All validations passed.")
}

func TestValidateOffline(t *testing.T) {
	o, path := setup(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("offline validate made a request to %s", r.URL)
	})
	out, err := execute(t, o, "-c", path, "validate", "--offline")
	require.NoError(t, err)
	require.Contains(t, out, "credential checks skipped")
}

func TestValidateBadConfig(t *testing.T) {
	o, _ := setup(t, costs)
	out, err := execute(t, o, "-c", filepath.Join(t.TempDir(), "missing.yaml"), "validate")
	require.ErrorIs(t, err, errFailed)
	require.Contains(t, out, "Config: FAILED")
}

func TestPlugins(t *testing.T) {
	o, path := setup(t, costs)
	out, err := execute(t, o, "-c", path, "plugins")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Equal(t, "Available plugins:", lines[0])
	require.Contains(t, out, "anthropic")
	require.Regexp(t, `anthropic\s+enabled`, out)
	require.Regexp(t, `openai\s+disabled`, out)
	require.Regexp(t, `vodafone\s+not configured`, out)
}
