// Package builtin registers the expense sources shipped with expensify-os.
package builtin

import (
	"expensifyos/internal/plugins"
	"expensifyos/internal/plugins/anthropic"
	"expensifyos/internal/plugins/openai"
	"expensifyos/internal/plugins/vodafone"
)

// Loaders returns one loader per built-in source.
func Loaders() []plugins.Loader {
	return []plugins.Loader{anthropic.Register, openai.Register, vodafone.Register}
}

// Discover registers every built-in source on r.
func Discover(r *plugins.Registry) error { return r.Discover(Loaders()...) }
