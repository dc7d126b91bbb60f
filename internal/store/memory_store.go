package store

import (
	"context"
	"sync"

	"expensifyos/internal/domain"
)

// MemoryCookieStore keeps cookie jars in memory. It backs tests and runs that
// should leave nothing on disk.
type MemoryCookieStore struct {
	mu   sync.RWMutex
	jars map[domain.Source][]byte
}

// NewMemoryCookieStore returns an empty MemoryCookieStore.
func NewMemoryCookieStore() *MemoryCookieStore {
	return &MemoryCookieStore{jars: make(map[domain.Source][]byte)}
}

func (s *MemoryCookieStore) LoadCookies(_ context.Context, source domain.Source) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.jars[source]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (s *MemoryCookieStore) SaveCookies(_ context.Context, source domain.Source, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jars[source] = append([]byte(nil), blob...)
	return nil
}

// Compile-time assertion that MemoryCookieStore implements domain.CookieStore.
var _ domain.CookieStore = (*MemoryCookieStore)(nil)
