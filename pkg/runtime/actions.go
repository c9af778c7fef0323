package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/page"
)

// Resolve returns the element ref points to. Refs from any generation but
// the current one are rejected, including refs taken before a tab change.
func (r *Runtime) Resolve(ref page.Ref) (page.Element, error) {
	r.mu.RLock()
	last := r.last
	current := r.generation
	r.mu.RUnlock()

	if last == nil || ref.Generation != current || last.Generation != current {
		return page.Element{}, fmt.Errorf("%w: %s (current generation %d)", ErrStaleRef, ref, current)
	}
	el, ok := last.Element(ref.ID)
	if !ok {
		return page.Element{}, fmt.Errorf("%w: %s", ErrElementNotFound, ref)
	}
	return el, nil
}

// Click clicks the centre of the referenced element.
func (r *Runtime) Click(ctx context.Context, ref page.Ref) error {
	el, err := r.Resolve(ref)
	if err != nil {
		return err
	}
	p, err := r.activePage(ctx)
	if err != nil {
		return err
	}
	x, y := el.BBox.Center()
	r.log.Debug("click", zap.String("ref", ref.String()), zap.Float64("x", x), zap.Float64("y", y))
	if err := p.Mouse().Click(ctx, x, y); err != nil {
		return fmt.Errorf("runtime: click %s: %w", ref, err)
	}
	return nil
}

// TypeText focuses the referenced element by clicking it, then types text.
func (r *Runtime) TypeText(ctx context.Context, ref page.Ref, text string) error {
	if err := r.Click(ctx, ref); err != nil {
		return err
	}
	p, err := r.activePage(ctx)
	if err != nil {
		return err
	}
	if err := p.Keyboard().Type(ctx, text); err != nil {
		return fmt.Errorf("runtime: type into %s: %w", ref, err)
	}
	return nil
}

// Press sends a single named key to the active page.
func (r *Runtime) Press(ctx context.Context, key string) error {
	p, err := r.activePage(ctx)
	if err != nil {
		return err
	}
	if err := p.Keyboard().Press(ctx, key); err != nil {
		return fmt.Errorf("runtime: press %s: %w", key, err)
	}
	return nil
}
