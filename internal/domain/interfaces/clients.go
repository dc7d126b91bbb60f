package interfaces

import (
	"context"

	domaintypes "expensifyos/internal/domain/types"
)

// ExpenseSubmitter is how the orchestrator talks to the expense API.
type ExpenseSubmitter interface {
	CreateExpense(ctx context.Context, expense domaintypes.Expense) (domaintypes.ExpenseID, error)
	AttachReceipt(ctx context.Context, id domaintypes.ExpenseID, receiptPath string) error
	// Submit creates the expense and then attaches its receipt. A failed
	// attach yields the created ID together with a *PartialSubmitError.
	Submit(ctx context.Context, expense domaintypes.Expense) (domaintypes.ExpenseID, error)
}

// Limiter gates outbound calls.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Notifier delivers a finished run report somewhere humans will see it.
type Notifier interface {
	Notify(ctx context.Context, report *domaintypes.Report) error
}
