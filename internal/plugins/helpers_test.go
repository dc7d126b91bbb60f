package plugins_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"expensifyos/internal/domain"
	"expensifyos/internal/plugins"
)

func TestWritePlaceholder(t *testing.T) {
	dir := t.TempDir()
	p := domain.Period{Year: 2026, Month: 1}
	path, err := plugins.WritePlaceholder(dir, "anthropic", p)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "anthropic", "anthropic_2026-01.pdf"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "[DRY RUN] Invoice for 2026-01", string(b))
}

func TestCeilCents(t *testing.T) {
	require.EqualValues(t, 4250, plugins.CeilCents(decimal.RequireFromString("4249.01")))
	require.EqualValues(t, 4250, plugins.CeilCents(decimal.RequireFromString("4250")))
	require.EqualValues(t, 0, plugins.CeilCents(decimal.Zero))
}

func TestFindRow(t *testing.T) {
	rows := []string{"Factuur December 2025 € 40,00", "Factuur Januari 2026 € 45,23"}
	require.Equal(t, 1, plugins.FindRow(rows, "januari"))
	require.Equal(t, 0, plugins.FindRow(rows, "nope", "december"))
	require.Equal(t, -1, plugins.FindRow(rows, "maart"))
	require.Equal(t, -1, plugins.FindRow(rows, ""))
}

func TestGetJSONClassifiesAuthFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct{ OK bool }
	err := plugins.GetJSON(context.Background(), srv.Client(), srv.URL, http.Header{"X-Api-Key": {"bad"}}, &out)
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)

	require.NoError(t, plugins.GetJSON(context.Background(), srv.Client(), srv.URL, http.Header{"X-Api-Key": {"good"}}, &out))
	require.True(t, out.OK)
	require.True(t, plugins.Probe(context.Background(), srv.Client(), srv.URL, http.Header{"X-Api-Key": {"good"}}))
}

func TestWrapAddsFetchKind(t *testing.T) {
	err := plugins.Wrap("cost report", &plugins.StatusError{Status: 500})
	require.ErrorIs(t, err, domain.ErrFetchFailed)

	err = plugins.Wrap("cost report", &plugins.StatusError{Status: 403})
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)
	require.NotErrorIs(t, err, domain.ErrFetchFailed)
}
