// Package browser runs scoped, cookie-persistent browser sessions for plugins.
//
// Manager.With is the only way to obtain a Session. It launches a browser
// context for one source, restores that source's cookie jar, runs the caller's
// function and then, on every exit path, saves the jar back, captures a
// screenshot if the function failed and shuts the browser down. Saving the
// jar even after a failure means a login that got past 2FA is not lost to a
// later selector mismatch.
//
// The package depends only on the Driver interface. ChromeLauncher provides a
// chromedp implementation; browsertest provides a scripted fake.
package browser
