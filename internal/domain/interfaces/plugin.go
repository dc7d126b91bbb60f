package interfaces

import (
	"context"

	domaintypes "expensifyos/internal/domain/types"
)

// Plugin fetches one month's charge and receipt for a single billing source.
type Plugin interface {
	Name() domaintypes.Source
	Kind() domaintypes.PluginKind

	// FetchExpense returns the expense for period, or nil with a nil error when
	// nothing was charged. With dryRun set it performs no mutating network or
	// download operation and returns a placeholder receipt.
	FetchExpense(
		ctx context.Context,
		period domaintypes.Period,
		dryRun bool,
	) (*domaintypes.Expense, error)

	// ValidateCredentials is a read-only probe of the configured credentials.
	ValidateCredentials(ctx context.Context) bool

	// Close releases resources the plugin opened itself.
	Close() error
}
