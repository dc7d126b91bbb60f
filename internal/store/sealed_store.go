package store

import (
	"context"

	"expensifyos/internal/domain"
)

// SealedCookieStore encrypts cookie jars with a passphrase before handing them
// to the wrapped store. Session cookies are as good as passwords, so this is
// what a shared backend such as Redis should sit behind.
type SealedCookieStore struct {
	inner      domain.CookieStore
	passphrase string
	n, r, p    int
}

// NewSealedCookieStore wraps inner.
func NewSealedCookieStore(inner domain.CookieStore, passphrase string) *SealedCookieStore {
	n, r, p := scryptParamsDefault()
	return &SealedCookieStore{inner: inner, passphrase: passphrase, n: n, r: r, p: p}
}

// LoadCookies returns the decrypted jar. A jar that fails to decrypt is an
// error; the browser session treats it like a malformed jar.
func (s *SealedCookieStore) LoadCookies(ctx context.Context, source domain.Source) ([]byte, bool, error) {
	b, ok, err := s.inner.LoadCookies(ctx, source)
	if err != nil || !ok {
		return nil, ok, err
	}
	pt, err := open(s.passphrase, b, []byte(source))
	if err != nil {
		return nil, false, err
	}
	return pt, true, nil
}

func (s *SealedCookieStore) SaveCookies(ctx context.Context, source domain.Source, blob []byte) error {
	ct, err := seal(s.passphrase, blob, []byte(source), s.n, s.r, s.p)
	if err != nil {
		return err
	}
	return s.inner.SaveCookies(ctx, source, ct)
}

// Compile-time assertion that SealedCookieStore implements domain.CookieStore.
var _ domain.CookieStore = (*SealedCookieStore)(nil)
