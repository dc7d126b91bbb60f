package types

import (
	"errors"
	"fmt"
)

// Error kinds. A month without charges is not among them: plugins report it
// by returning a nil expense.
var (
	ErrCredentialInvalid     = errors.New("credentials invalid")
	ErrFetchFailed           = errors.New("fetch failed")
	ErrRateLimitExhausted    = errors.New("rate limit exhausted")
	ErrRemoteRejected        = errors.New("remote rejected request")
	ErrRemoteUnavailable     = errors.New("remote unavailable")
	ErrReceiptAttachFailed   = errors.New("receipt attach failed")
	ErrUnknownSource         = errors.New("unknown source")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrSourceDisabled        = errors.New("source disabled")
	ErrMalformedExpense      = errors.New("malformed expense")
)

// RemoteError carries the HTTP status and response body of a failed call to
// the expense API.
type RemoteError struct {
	Kind   error
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.Status, body)
}

func (e *RemoteError) Unwrap() error { return e.Kind }

// PartialSubmitError reports an expense that was created but whose receipt
// upload failed.
type PartialSubmitError struct {
	ID  ExpenseID
	Err error
}

func (e *PartialSubmitError) Error() string {
	return fmt.Sprintf("expense %s created but %s: %v", e.ID, ErrReceiptAttachFailed, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *PartialSubmitError) Unwrap() []error { return []error{ErrReceiptAttachFailed, e.Err} }

// SourceError attributes a failure to the source it happened in.
type SourceError struct {
	Source Source
	// Kind is one of the Err* sentinels, or nil when the cause has none.
	Kind error
	Err  error
}

func (e *SourceError) Error() string { return fmt.Sprintf("%s: %v", e.Source, e.Err) }

func (e *SourceError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

var kinds = []error{
	ErrCredentialInvalid, ErrRateLimitExhausted, ErrRemoteRejected, ErrRemoteUnavailable,
	ErrReceiptAttachFailed, ErrUnknownSource, ErrSourceDisabled, ErrMalformedExpense,
	ErrDuplicateRegistration, ErrFetchFailed,
}

// KindOf returns the first error kind err carries, or nil.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
