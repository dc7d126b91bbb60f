package interfaces

import (
	"context"
	"time"

	domaintypes "expensifyos/internal/domain/types"
)

// CookieStore keeps one opaque cookie-jar blob per source across runs.
type CookieStore interface {
	LoadCookies(ctx context.Context, source domaintypes.Source) ([]byte, bool, error)
	SaveCookies(ctx context.Context, source domaintypes.Source, blob []byte) error
}

// ScreenshotStore writes diagnostic screenshots and returns where they went.
type ScreenshotStore interface {
	SaveScreenshot(source domaintypes.Source, at time.Time, png []byte) (string, error)
}
