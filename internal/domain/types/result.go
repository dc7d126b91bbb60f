package types

import (
	"time"
)

// RunStatus is the terminal outcome for one source.
type RunStatus string

const (
	StatusSubmitted RunStatus = "submitted"
	StatusNoCharge  RunStatus = "skipped-no-charge"
	StatusFailed    RunStatus = "failed"
	StatusDryRun    RunStatus = "dry-run"
	// StatusPartial means the expense was created but its receipt could not be
	// attached. The created expense is not rolled back.
	StatusPartial RunStatus = "partial"
)

// OK reports whether the status counts towards an overall successful run.
func (s RunStatus) OK() bool {
	switch s {
	case StatusSubmitted, StatusNoCharge, StatusDryRun:
		return true
	default:
		return false
	}
}

// RunResult is the outcome for one source. Results are appended to a Report
// once and not touched afterwards.
type RunResult struct {
	Source    Source        `json:"source"`
	Status    RunStatus     `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	ExpenseID ExpenseID     `json:"expense_id,omitempty"`
	Expense   *Expense      `json:"expense,omitempty"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// Report is the ordered set of results for one orchestration run.
type Report struct {
	RunID      string      `json:"run_id"`
	Period     Period      `json:"period"`
	DryRun     bool        `json:"dry_run"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Results    []RunResult `json:"results"`
}

// Success is true iff no selected source ended in a failing status.
func (r *Report) Success() bool {
	for _, res := range r.Results {
		if !res.Status.OK() {
			return false
		}
	}
	return true
}

// ExitCode maps the aggregate outcome onto a process exit code.
func (r *Report) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 1
}

// Count returns how many results ended in status s.
func (r *Report) Count(s RunStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}
