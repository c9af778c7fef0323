// Package platformtest provides an in-memory browser for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cgast/agbrowse/pkg/platform"
)

// Browser is an in-memory platform.Browser.
type Browser struct {
	mu     sync.Mutex
	pages  []*Page
	nextID int

	// NewPageErr, when set, is returned by NewPage.
	NewPageErr error
}

// NewBrowser creates a browser with one page per url.
func NewBrowser(urls ...string) *Browser {
	b := &Browser{}
	for _, u := range urls {
		b.add(u)
	}
	return b
}

func (b *Browser) add(url string) *Page {
	b.nextID++
	p := &Page{id: fmt.Sprintf("page-%d", b.nextID), url: url, title: "Page " + url, browser: b}
	b.pages = append(b.pages, p)
	return p
}

func (b *Browser) Pages(ctx context.Context) ([]platform.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]platform.Page, len(b.pages))
	for i, p := range b.pages {
		out[i] = p
	}
	return out, nil
}

func (b *Browser) NewPage(ctx context.Context, url string) (platform.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	return b.add(url), nil
}

func (b *Browser) Close() error { return nil }

// Page returns the i-th open page.
func (b *Browser) Page(i int) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[i]
}

// Len reports the number of open pages.
func (b *Browser) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}

func (b *Browser) remove(p *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, q := range b.pages {
		if q == p {
			b.pages = append(b.pages[:i], b.pages[i+1:]...)
			return
		}
	}
}

// Click is a recorded mouse click.
type Click struct{ X, Y float64 }

// Page is an in-memory platform.Page. Evaluate is answered by EvalFunc.
type Page struct {
	mu      sync.Mutex
	id      string
	url     string
	title   string
	closed  bool
	browser *Browser

	// EvalFunc answers Evaluate; nil returns (nil, nil).
	EvalFunc func(js string) (any, error)
	// Ready controls WaitForFunction; nil means always ready.
	Ready func(js string) bool

	Clicks    []Click
	Typed     []string
	Pressed   []string
	Fronted   int
	Evaluated []string
}

func (p *Page) ID() string { return p.id }

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", platform.ErrPageClosed
	}
	return p.url, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", platform.ErrPageClosed
	}
	return p.title, nil
}

// SetURL changes the page URL without navigation side effects.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

func (p *Page) Goto(ctx context.Context, url string) error {
	p.SetURL(url)
	return nil
}

func (p *Page) Evaluate(ctx context.Context, js string) (any, error) {
	p.mu.Lock()
	p.Evaluated = append(p.Evaluated, js)
	fn := p.EvalFunc
	p.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(js)
}

func (p *Page) WaitForFunction(ctx context.Context, js string, timeout time.Duration) error {
	if p.Ready == nil || p.Ready(js) {
		return nil
	}
	return fmt.Errorf("condition not met within %s: %w", timeout, context.DeadlineExceeded)
}

func (p *Page) Mouse() platform.Mouse       { return mouse{p} }
func (p *Page) Keyboard() platform.Keyboard { return keyboard{p} }

func (p *Page) BringToFront(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fronted++
	return nil
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.browser.remove(p)
	return nil
}

type mouse struct{ p *Page }

func (m mouse) Click(ctx context.Context, x, y float64) error {
	m.p.mu.Lock()
	defer m.p.mu.Unlock()
	m.p.Clicks = append(m.p.Clicks, Click{x, y})
	return nil
}

type keyboard struct{ p *Page }

func (k keyboard) Type(ctx context.Context, text string) error {
	k.p.mu.Lock()
	defer k.p.mu.Unlock()
	k.p.Typed = append(k.p.Typed, text)
	return nil
}

func (k keyboard) Press(ctx context.Context, key string) error {
	k.p.mu.Lock()
	defer k.p.mu.Unlock()
	k.p.Pressed = append(k.p.Pressed, key)
	return nil
}
