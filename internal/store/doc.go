// Package store provides persistence for browser state across runs.
//
// It contains concrete implementations of the domain storage interfaces. Cookie
// jars are opaque blobs keyed by source name; each source gets its own file or
// key, so sessions for different sources never contend. Files are written via
// a temp file and rename.
//
// The package includes:
//   - Cookie jars on disk (CookieFileStore)
//   - Cookie jars in Redis (RedisCookieStore)
//   - Cookie jars in memory (MemoryCookieStore)
//   - Passphrase encryption around any cookie store (SealedCookieStore)
//   - Failure screenshots on disk (ScreenshotFileStore)
package store
