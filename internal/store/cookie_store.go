package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"expensifyos/internal/domain"
)

const cookiesFile = "cookies.json"

// CookieFileStore persists one cookie jar per source at <dir>/<source>/cookies.json.
//
// Sources never share a file, so concurrent sessions for different sources
// need no locking between them.
type CookieFileStore struct {
	dir string
}

// NewCookieFileStore returns a CookieFileStore rooted at dir.
func NewCookieFileStore(dir string) *CookieFileStore {
	return &CookieFileStore{dir: dir}
}

// LoadCookies returns the stored jar for source and whether one was present.
func (s *CookieFileStore) LoadCookies(_ context.Context, source domain.Source) ([]byte, bool, error) {
	path, err := s.path(source)
	if err != nil {
		return nil, false, err
	}
	b, err := readFile(path)
	if err != nil {
		return nil, false, err
	}
	return b, b != nil, nil
}

// SaveCookies replaces the stored jar for source.
func (s *CookieFileStore) SaveCookies(_ context.Context, source domain.Source, blob []byte) error {
	path, err := s.path(source)
	if err != nil {
		return err
	}
	return writeFile(path, blob, 0o600)
}

func (s *CookieFileStore) path(source domain.Source) (string, error) {
	name := source.String()
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid source name %q", name)
	}
	return filepath.Join(s.dir, name, cookiesFile), nil
}

// Compile-time assertion that CookieFileStore implements domain.CookieStore.
var _ domain.CookieStore = (*CookieFileStore)(nil)
