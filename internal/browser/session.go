// Package browser owns the browser-automation boundary. Everything
// site-mechanical (tab lifecycle, navigation, selector waits) lives behind
// the Session and Tab interfaces so the pipeline never touches the driver
// directly and tests can substitute a fake.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNavigationTimeout marks a selector wait that ran out of time. The
// pipeline retries these with a bounded budget before skipping the page.
var ErrNavigationTimeout = errors.New("navigation timeout")

// Tab is one open browser tab. A session has at most one live tab at a time;
// simultaneous navigation on one session is unsafe.
type Tab interface {
	Navigate(ctx context.Context, url string) error
	WaitForSelector(ctx context.Context, css string, timeout time.Duration) error
	PageSource(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
	// Close releases the tab. Safe to call on every exit path, including
	// after errors; callers defer it immediately after OpenPage.
	Close()
}

// Session is an exclusively-owned browser handle. OpenPage acquires a fresh
// tab scoped to one page's processing.
type Session interface {
	OpenPage(ctx context.Context, url string) (Tab, error)
	Close()
}
