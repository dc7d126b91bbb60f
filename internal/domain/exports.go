package domain

import (
	interfaces "expensifyos/internal/domain/interfaces"
	types "expensifyos/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Source             = types.Source
	ExpenseID          = types.ExpenseID
	PluginKind         = types.PluginKind
	Period             = types.Period
	Expense            = types.Expense
	PluginConfig       = types.PluginConfig
	RunStatus          = types.RunStatus
	RunResult          = types.RunResult
	Report             = types.Report
	Cookie             = types.Cookie
	RemoteError        = types.RemoteError
	PartialSubmitError = types.PartialSubmitError
	SourceError        = types.SourceError
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Plugin           = interfaces.Plugin
	ExpenseSubmitter = interfaces.ExpenseSubmitter
	Limiter          = interfaces.Limiter
	Notifier         = interfaces.Notifier
	CookieStore      = interfaces.CookieStore
	ScreenshotStore  = interfaces.ScreenshotStore
)

const (
	KindAPI     = types.KindAPI
	KindBrowser = types.KindBrowser

	StatusSubmitted = types.StatusSubmitted
	StatusNoCharge  = types.StatusNoCharge
	StatusFailed    = types.StatusFailed
	StatusDryRun    = types.StatusDryRun
	StatusPartial   = types.StatusPartial
)

// Error kinds re-exported for errors.Is checks.
var (
	ErrCredentialInvalid     = types.ErrCredentialInvalid
	ErrFetchFailed           = types.ErrFetchFailed
	ErrRateLimitExhausted    = types.ErrRateLimitExhausted
	ErrRemoteRejected        = types.ErrRemoteRejected
	ErrRemoteUnavailable     = types.ErrRemoteUnavailable
	ErrReceiptAttachFailed   = types.ErrReceiptAttachFailed
	ErrUnknownSource         = types.ErrUnknownSource
	ErrDuplicateRegistration = types.ErrDuplicateRegistration
	ErrSourceDisabled        = types.ErrSourceDisabled
	ErrMalformedExpense      = types.ErrMalformedExpense
)

// Function re-exports.
var (
	ParsePeriod    = types.ParsePeriod
	PreviousPeriod = types.PreviousPeriod
	KindOf         = types.KindOf
)
