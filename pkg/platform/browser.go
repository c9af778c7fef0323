// Package platform defines the browser-control surface the runtime drives.
// Implementations live in subpackages.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrPageClosed is returned by operations on a page that has been closed.
var ErrPageClosed = errors.New("page closed")

// Browser owns the live page collection.
type Browser interface {
	// Pages lists the open pages in browser order.
	Pages(ctx context.Context) ([]Page, error)
	// NewPage opens a page and navigates it to url when url is non-empty.
	NewPage(ctx context.Context, url string) (Page, error)
	Close() error
}

// Page is one tab.
type Page interface {
	// ID is stable for the page's lifetime.
	ID() string
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Goto(ctx context.Context, url string) error
	// Evaluate runs a JavaScript expression and returns its JSON-decoded
	// value. Promises are awaited.
	Evaluate(ctx context.Context, js string) (any, error)
	// WaitForFunction polls js until it is truthy or timeout elapses.
	WaitForFunction(ctx context.Context, js string, timeout time.Duration) error
	Mouse() Mouse
	Keyboard() Keyboard
	BringToFront(ctx context.Context) error
	Close(ctx context.Context) error
}

// Mouse dispatches pointer input in page coordinates.
type Mouse interface {
	Click(ctx context.Context, x, y float64) error
}

// Keyboard dispatches key input to the focused element.
type Keyboard interface {
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
}
