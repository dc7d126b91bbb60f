package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"expensifyos/internal/domain"
)

// ReceiptPath is where the receipt for source and period is kept.
func ReceiptPath(dir string, source domain.Source, p domain.Period) string {
	return filepath.Join(dir, source.String(), fmt.Sprintf("%s_%s.pdf", source, p))
}

// WritePlaceholder synthesizes the stand-in receipt used by dry runs.
func WritePlaceholder(dir string, source domain.Source, p domain.Period) (string, error) {
	path := ReceiptPath(dir, source, p)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	body := fmt.Sprintf("[DRY RUN] Invoice for %s", p)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// StatusError is a non-2xx answer from a billing API.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("get %s: status %d: %s", e.URL, e.Status, body)
}

// Unwrap classifies 401 and 403 as invalid credentials.
func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return domain.ErrCredentialInvalid
	}
	return nil
}

// GetJSON issues a GET with header and decodes a 2xx body into out.
func GetJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{URL: url, Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Probe reports whether a GET with header answers 2xx.
func Probe(ctx context.Context, client *http.Client, url string, header http.Header) bool {
	return GetJSON(ctx, client, url, header, nil) == nil
}

// CeilCents rounds a decimal amount of cents up to whole cents. Rounding up
// never under-reports a charge.
func CeilCents(d decimal.Decimal) int64 { return d.Ceil().IntPart() }

// FindRow returns the index of the first row containing any needle,
// case-insensitively, or -1.
func FindRow(rows []string, needles ...string) int {
	for i, row := range rows {
		lower := strings.ToLower(row)
		for _, n := range needles {
			if n != "" && strings.Contains(lower, strings.ToLower(n)) {
				return i
			}
		}
	}
	return -1
}

// Wrap marks err as a fetch failure unless it already carries a kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isKind(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrFetchFailed, err)
}

func isKind(err error) bool {
	for _, k := range []error{domain.ErrCredentialInvalid, domain.ErrFetchFailed, context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
