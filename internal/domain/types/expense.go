package types

import (
	"fmt"
	"strings"
	"time"
)

// Expense is one month's charge for a source, ready for submission.
//
// Plugins construct it and hand it over by value; nothing downstream modifies
// it. Amount is in minor currency units (cents): 4250 is 42.50.
type Expense struct {
	Source      Source    `json:"source"`
	Merchant    string    `json:"merchant"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Date        time.Time `json:"date"`
	Category    string    `json:"category"`
	Comment     string    `json:"comment,omitempty"`
	ReceiptPath string    `json:"receipt_path"`
	// Placeholder is set when ReceiptPath points at a dry-run stand-in rather
	// than a downloaded document.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Validate reports why e cannot be submitted. A missing receipt is tolerated
// only for dry-run placeholders.
func (e Expense) Validate(dryRun bool) error {
	switch {
	case strings.TrimSpace(e.Merchant) == "":
		return fmt.Errorf("%w: empty merchant", ErrMalformedExpense)
	case e.Amount < 0:
		return fmt.Errorf("%w: negative amount %d", ErrMalformedExpense, e.Amount)
	case !isCurrencyCode(e.Currency):
		return fmt.Errorf("%w: invalid currency %q", ErrMalformedExpense, e.Currency)
	case e.Date.IsZero():
		return fmt.Errorf("%w: missing date", ErrMalformedExpense)
	case e.Date.Day() != 1:
		return fmt.Errorf("%w: date %s is not the first of the month", ErrMalformedExpense, e.Date.Format(time.DateOnly))
	case e.ReceiptPath == "" && !(dryRun && e.Placeholder):
		return fmt.Errorf("%w: missing receipt", ErrMalformedExpense)
	}
	return nil
}

// Decimal renders the amount in major units, e.g. "42.50".
func (e Expense) Decimal() string {
	sign := ""
	a := e.Amount
	if a < 0 {
		sign, a = "-", -a
	}
	return fmt.Sprintf("%s%d.%02d", sign, a/100, a%100)
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
