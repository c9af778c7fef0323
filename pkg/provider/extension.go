// Package provider implements snapshot providers: the in-page extension
// bridge used against a live browser and a file-backed sequence for
// offline runs.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/platform"
)

// ErrProviderStatus is returned when the provider reports status "error".
var ErrProviderStatus = errors.New("provider returned error status")

const (
	readyExpr        = `typeof window.sentience !== 'undefined' && typeof window.sentience.snapshot === 'function'`
	defaultReadyWait = 10 * time.Second
)

// Extension asks the snapshot extension injected into the page for a ranked
// element graph.
type Extension struct {
	readyTimeout time.Duration
	log          *zap.Logger
}

// Option configures an Extension provider.
type Option func(*Extension)

// WithReadyTimeout bounds the wait for the extension to appear in the page.
func WithReadyTimeout(d time.Duration) Option {
	return func(e *Extension) {
		e.readyTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extension) {
		e.log = l
	}
}

// NewExtension creates an extension-backed provider.
func NewExtension(opts ...Option) *Extension {
	e := &Extension{readyTimeout: defaultReadyWait, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot takes one snapshot of p. Any failure is returned; the caller
// treats it as fatal for the current step.
func (e *Extension) Snapshot(ctx context.Context, p platform.Page, opts page.SnapshotOptions) (*page.Snapshot, error) {
	if err := p.WaitForFunction(ctx, readyExpr, e.readyTimeout); err != nil {
		return nil, fmt.Errorf("provider: extension not ready: %w", err)
	}

	optJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("provider: encode options: %w", err)
	}
	start := time.Now()
	raw, err := p.Evaluate(ctx, fmt.Sprintf("window.sentience.snapshot(%s)", optJSON))
	if err != nil {
		return nil, fmt.Errorf("provider: snapshot: %w", err)
	}

	snap, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if snap.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrProviderStatus, snap.Error)
	}
	if snap.URL == "" {
		if u, err := p.URL(ctx); err == nil {
			snap.URL = u
		}
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	e.log.Debug("snapshot taken",
		zap.String("url", snap.URL),
		zap.Int("elements", len(snap.Elements)),
		zap.Duration("took", time.Since(start)))
	return snap, nil
}

// decode converts the JSON-decoded evaluation result into a Snapshot.
func decode(raw any) (*page.Snapshot, error) {
	if raw == nil {
		return nil, fmt.Errorf("provider: snapshot returned nothing")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("provider: re-encode result: %w", err)
	}
	var snap page.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("provider: decode snapshot: %w", err)
	}
	return &snap, nil
}
