// Package rod implements the platform browser surface on top of go-rod.
package rod

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gorod "github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/platform"
)

// Options configures how the browser is obtained.
type Options struct {
	// RemoteURL connects to an existing DevTools endpoint. Empty launches a
	// local Chrome.
	RemoteURL         string
	Headless          bool
	Stealth           bool
	NavigationTimeout time.Duration
	Logger            *zap.Logger
}

// Browser is a go-rod backed platform.Browser.
type Browser struct {
	b    *gorod.Browser
	lnch *launcher.Launcher
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	pages map[proto.TargetTargetID]*Page
}

// Launch connects to RemoteURL or starts a local browser.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}

	wsURL := opts.RemoteURL
	var l *launcher.Launcher
	if wsURL == "" {
		l = launcher.New().Headless(opts.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		log.Info("launched local chrome", zap.String("url", wsURL), zap.Bool("headless", opts.Headless))
	} else {
		log.Info("connecting to remote browser", zap.String("url", wsURL))
	}

	b := gorod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	// Detach from the launch context so the browser outlives it.
	b = b.Context(context.Background())

	return &Browser{
		b:     b,
		lnch:  l,
		opts:  opts,
		log:   log,
		pages: make(map[proto.TargetTargetID]*Page),
	}, nil
}

func (br *Browser) wrap(p *gorod.Page) *Page {
	br.mu.Lock()
	defer br.mu.Unlock()
	if existing, ok := br.pages[p.TargetID]; ok {
		return existing
	}
	w := &Page{p: p, navTimeout: br.opts.NavigationTimeout, owner: br}
	br.pages[p.TargetID] = w
	return w
}

func (br *Browser) forget(id proto.TargetTargetID) {
	br.mu.Lock()
	delete(br.pages, id)
	br.mu.Unlock()
}

// Pages lists page targets in browser order.
func (br *Browser) Pages(ctx context.Context) ([]platform.Page, error) {
	pages, err := br.b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	out := make([]platform.Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, br.wrap(p))
	}
	return out, nil
}

// NewPage opens a tab, applying stealth patches when configured.
func (br *Browser) NewPage(ctx context.Context, url string) (platform.Page, error) {
	var (
		p   *gorod.Page
		err error
	)
	if br.opts.Stealth {
		p, err = stealth.Page(br.b)
	} else {
		p, err = br.b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	w := br.wrap(p)
	if url != "" {
		if err := w.Goto(ctx, url); err != nil {
			w.Close(ctx)
			return nil, err
		}
	}
	return w, nil
}

// Close shuts the browser down and kills a locally launched process.
func (br *Browser) Close() error {
	err := br.b.Close()
	if br.lnch != nil {
		br.lnch.Kill()
		br.lnch.Cleanup()
	}
	if err != nil {
		return fmt.Errorf("browser: close: %w", err)
	}
	return nil
}

// Page wraps a rod page.
type Page struct {
	p          *gorod.Page
	navTimeout time.Duration
	owner      *Browser
}

func (pg *Page) ID() string { return string(pg.p.TargetID) }

func (pg *Page) info(ctx context.Context) (*proto.TargetTargetInfo, error) {
	info, err := pg.p.Context(ctx).Info()
	if err != nil {
		return nil, fmt.Errorf("page %s: info: %w", pg.ID(), err)
	}
	return info, nil
}

func (pg *Page) URL(ctx context.Context) (string, error) {
	info, err := pg.info(ctx)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (pg *Page) Title(ctx context.Context) (string, error) {
	info, err := pg.info(ctx)
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// Goto navigates and waits for the load event, bounded by the navigation
// timeout. A load timeout after a successful navigation is not an error.
func (pg *Page) Goto(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, pg.navTimeout)
	defer cancel()

	if err := pg.p.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("page %s: navigate %s: %w", pg.ID(), url, err)
	}
	if err := pg.p.Context(navCtx).WaitLoad(); err != nil {
		pg.owner.log.Warn("wait load timeout", zap.String("url", url), zap.Error(err))
	}
	return nil
}

// evalWrapper runs the expression through indirect eval so both expressions
// and statement lists work.
const evalWrapper = `(code) => (0, eval)(code)`

func (pg *Page) Evaluate(ctx context.Context, js string) (any, error) {
	res, err := pg.p.Context(ctx).Eval(evalWrapper, js)
	if err != nil {
		return nil, fmt.Errorf("page %s: eval: %w", pg.ID(), err)
	}
	return res.Value.Val(), nil
}

func (pg *Page) WaitForFunction(ctx context.Context, js string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pg.p.Context(waitCtx).Wait(gorod.Eval(`(code) => !!(0, eval)(code)`, js)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("page %s: condition not met within %s: %w", pg.ID(), timeout, err)
		}
		return fmt.Errorf("page %s: wait: %w", pg.ID(), err)
	}
	return nil
}

func (pg *Page) Mouse() platform.Mouse       { return mouse{pg} }
func (pg *Page) Keyboard() platform.Keyboard { return keyboard{pg} }

func (pg *Page) BringToFront(ctx context.Context) error {
	if _, err := pg.p.Context(ctx).Activate(); err != nil {
		return fmt.Errorf("page %s: activate: %w", pg.ID(), err)
	}
	return nil
}

func (pg *Page) Close(ctx context.Context) error {
	defer pg.owner.forget(pg.p.TargetID)
	if err := pg.p.Context(ctx).Close(); err != nil {
		return fmt.Errorf("page %s: close: %w", pg.ID(), err)
	}
	return nil
}

type mouse struct{ pg *Page }

func (m mouse) Click(ctx context.Context, x, y float64) error {
	mo := m.pg.p.Context(ctx).Mouse
	if err := mo.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	if err := mo.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("mouse click: %w", err)
	}
	return nil
}

type keyboard struct{ pg *Page }

func (k keyboard) Type(ctx context.Context, text string) error {
	if err := k.pg.p.Context(ctx).InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"Space":      input.Space,
}

func (k keyboard) Press(ctx context.Context, key string) error {
	kb := k.pg.p.Context(ctx).Keyboard
	if rk, ok := namedKeys[key]; ok {
		return kb.Press(rk)
	}
	runes := []rune(key)
	if len(runes) != 1 {
		return fmt.Errorf("unknown key %q", key)
	}
	return kb.Type(input.Key(runes[0]))
}
