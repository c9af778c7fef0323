package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/events"
	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/platform"
)

// activePage returns the current page pointer, defaulting to the first
// page of the browser.
func (r *Runtime) activePage(ctx context.Context) (platform.Page, error) {
	r.mu.RLock()
	p := r.active
	r.mu.RUnlock()
	if p != nil {
		return p, nil
	}

	pages, err := r.browser.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, ErrNoPage
	}
	r.mu.Lock()
	if r.active == nil {
		r.active = pages[0]
	}
	p = r.active
	r.mu.Unlock()
	return p, nil
}

// setActive repoints the active page. Moving to a different page starts a
// new generation so refs into the previous page's snapshot go stale.
func (r *Runtime) setActive(p platform.Page) {
	r.mu.Lock()
	if r.active != nil && (p == nil || p.ID() != r.active.ID()) {
		r.generation++
	}
	r.active = p
	r.mu.Unlock()
}

func (r *Runtime) activeID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return ""
	}
	return r.active.ID()
}

func (r *Runtime) findPage(ctx context.Context, tabID string) (platform.Page, error) {
	pages, err := r.browser.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: list pages: %w", err)
	}
	for _, p := range pages {
		if p.ID() == tabID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
}

func describe(ctx context.Context, p platform.Page, active bool) page.Tab {
	t := page.Tab{TabID: p.ID(), IsActive: active}
	if u, err := p.URL(ctx); err == nil {
		t.URL = u
	}
	if title, err := p.Title(ctx); err == nil {
		t.Title = title
	}
	return t
}

func (r *Runtime) emitTab(action string, t page.Tab) {
	r.mu.RLock()
	stepID := r.stepID
	r.mu.RUnlock()
	r.emit(events.EventTab, stepID, map[string]any{"action": action, "tab_id": t.TabID, "url": t.URL})
}

// ListTabs enumerates the live pages, marking the active one.
func (r *Runtime) ListTabs(ctx context.Context) ([]page.Tab, error) {
	pages, err := r.browser.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: list pages: %w", err)
	}
	activeID := r.activeID()
	if activeID == "" && len(pages) > 0 {
		r.setActive(pages[0])
		activeID = pages[0].ID()
	}
	tabs := make([]page.Tab, 0, len(pages))
	for _, p := range pages {
		tabs = append(tabs, describe(ctx, p, p.ID() == activeID))
	}
	return tabs, nil
}

// OpenTab creates a page, navigates it to url and makes it active.
func (r *Runtime) OpenTab(ctx context.Context, url string) (page.Tab, error) {
	if err := r.checkURL(url); err != nil {
		return page.Tab{}, err
	}
	p, err := r.browser.NewPage(ctx, url)
	if err != nil {
		return page.Tab{}, fmt.Errorf("runtime: open tab: %w", err)
	}
	r.setActive(p)
	t := describe(ctx, p, true)
	r.log.Info("tab opened", zap.String("tab_id", t.TabID), zap.String("url", t.URL))
	r.emitTab("open", t)
	return t, nil
}

// SwitchTab brings the tab to front and makes it active.
func (r *Runtime) SwitchTab(ctx context.Context, tabID string) (page.Tab, error) {
	p, err := r.findPage(ctx, tabID)
	if err != nil {
		return page.Tab{}, err
	}
	if err := p.BringToFront(ctx); err != nil {
		return page.Tab{}, fmt.Errorf("runtime: switch tab: %w", err)
	}
	r.setActive(p)
	t := describe(ctx, p, true)
	r.emitTab("switch", t)
	return t, nil
}

// CloseTab closes the tab. Closing the active tab makes the first remaining
// page active, or leaves no active page when none remain.
func (r *Runtime) CloseTab(ctx context.Context, tabID string) error {
	p, err := r.findPage(ctx, tabID)
	if err != nil {
		return err
	}
	t := describe(ctx, p, p.ID() == r.activeID())
	if err := p.Close(ctx); err != nil {
		return fmt.Errorf("runtime: close tab: %w", err)
	}

	if t.IsActive {
		pages, err := r.browser.Pages(ctx)
		if err != nil {
			return fmt.Errorf("runtime: list pages: %w", err)
		}
		var next platform.Page
		if len(pages) > 0 {
			next = pages[0]
		}
		r.setActive(next)
	}
	r.emitTab("close", t)
	return nil
}

// Navigate points the active page at url.
func (r *Runtime) Navigate(ctx context.Context, url string) error {
	if err := r.checkURL(url); err != nil {
		return err
	}
	p, err := r.activePage(ctx)
	if err != nil {
		return err
	}
	if err := p.Goto(ctx, url); err != nil {
		return fmt.Errorf("runtime: navigate: %w", err)
	}
	r.emitTab("navigate", page.Tab{TabID: p.ID(), URL: url})
	return nil
}

func (r *Runtime) checkURL(url string) error {
	if r.guard == nil || url == "" {
		return nil
	}
	if err := r.guard(url); err != nil {
		r.log.Warn("navigation denied", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("runtime: %w: %v", ErrNavigationDenied, err)
	}
	return nil
}
