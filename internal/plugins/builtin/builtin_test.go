package builtin_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"expensifyos/internal/domain"
	"expensifyos/internal/plugins"
	"expensifyos/internal/plugins/builtin"
)

func TestDiscoverRegistersAllSources(t *testing.T) {
	r := plugins.NewRegistry()
	require.NoError(t, builtin.Discover(r))
	require.NoError(t, builtin.Discover(r))
	require.Equal(t, []domain.Source{"anthropic", "openai", "vodafone"}, r.Names())

	p, err := r.New("vodafone", domain.PluginConfig{
		Enabled: true, Category: "Phone",
		Credentials: map[string]string{"username": "u", "password": "p"},
	}, plugins.Deps{})
	require.NoError(t, err)
	require.Equal(t, domain.KindBrowser, p.Kind())
	require.NoError(t, p.Close())
}
