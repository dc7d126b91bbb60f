package plugins

import (
	"context"
	"fmt"

	"expensifyos/internal/browser"
	"expensifyos/internal/domain"
)

// WithBrowser runs fn in a scoped session for source.
func (d Deps) WithBrowser(ctx context.Context, source domain.Source, fn func(ctx context.Context, s *browser.Session) error) error {
	if d.Browser == nil {
		return ErrNoBrowser
	}
	return d.Browser.With(ctx, source, fn)
}

// InvoiceRow is one row of a billing page's invoice list.
type InvoiceRow struct {
	Index int
	Text  string
}

// FindInvoiceRow lists rows and returns the first that mentions any needle.
// ok is false when none does.
func FindInvoiceRow(ctx context.Context, s *browser.Session, rows string, needles ...string) (InvoiceRow, bool, error) {
	texts, err := s.Texts(ctx, rows)
	if err != nil {
		return InvoiceRow{}, false, fmt.Errorf("listing invoices: %w", err)
	}
	i := FindRow(texts, needles...)
	if i < 0 {
		return InvoiceRow{}, false, nil
	}
	return InvoiceRow{Index: i, Text: texts[i]}, true, nil
}

// DownloadInvoiceRow downloads the document linked by link inside row.
func DownloadInvoiceRow(ctx context.Context, s *browser.Session, rows string, row InvoiceRow, link string) (string, error) {
	path, err := s.DownloadClickIn(ctx, rows, row.Index, link)
	if err != nil {
		return "", fmt.Errorf("downloading invoice: %w", err)
	}
	return path, nil
}
