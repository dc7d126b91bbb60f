package store

import (
	"fmt"
	"path/filepath"
	"time"

	"expensifyos/internal/domain"
)

// ScreenshotFileStore writes failure screenshots as <dir>/<source>_error_<timestamp>.png.
type ScreenshotFileStore struct {
	dir string
}

// NewScreenshotFileStore returns a ScreenshotFileStore rooted at dir.
func NewScreenshotFileStore(dir string) *ScreenshotFileStore {
	return &ScreenshotFileStore{dir: dir}
}

// SaveScreenshot writes png and returns its path.
func (s *ScreenshotFileStore) SaveScreenshot(source domain.Source, at time.Time, png []byte) (string, error) {
	name := fmt.Sprintf("%s_error_%s.png", source, at.UTC().Format("20060102T150405.000Z"))
	path := filepath.Join(s.dir, name)
	if err := writeFile(path, png, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Compile-time assertion that ScreenshotFileStore implements domain.ScreenshotStore.
var _ domain.ScreenshotStore = (*ScreenshotFileStore)(nil)
