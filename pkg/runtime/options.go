package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/events"
	"github.com/cgast/agbrowse/pkg/page"
)

// ConfidencePolicy decides how a snapshot without a confidence value is
// treated when a minimum confidence is required.
type ConfidencePolicy int

const (
	// ConfidenceTrust lets snapshots without confidence through the gate.
	ConfidenceTrust ConfidencePolicy = iota
	// ConfidenceDistrust holds them back like low-confidence snapshots.
	ConfidenceDistrust
)

func (p ConfidencePolicy) String() string {
	if p == ConfidenceDistrust {
		return "distrust"
	}
	return "trust"
}

// ParseConfidencePolicy accepts "trust" or "distrust"; empty means trust.
func ParseConfidencePolicy(s string) (ConfidencePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trust":
		return ConfidenceTrust, nil
	case "distrust":
		return ConfidenceDistrust, nil
	}
	return ConfidenceTrust, fmt.Errorf("unknown missing-confidence policy %q (want trust or distrust)", s)
}

// EventuallyOptions bounds a retry loop.
type EventuallyOptions struct {
	Timeout      time.Duration `json:"timeout"`
	PollInterval time.Duration `json:"poll_interval"`
	// MinConfidence gates predicate evaluation on snapshot confidence.
	MinConfidence *float64 `json:"min_confidence,omitempty"`
	// MaxSnapshotAttempts caps snapshots taken; zero is unbounded.
	MaxSnapshotAttempts int  `json:"max_snapshot_attempts,omitempty"`
	Required            bool `json:"required,omitempty"`
	// Done marks the task done when the check passes. It implies Required.
	Done     bool                 `json:"done,omitempty"`
	Snapshot page.SnapshotOptions `json:"snapshot"`
}

// DefaultEventually is used when a Runtime is built without overrides.
var DefaultEventually = EventuallyOptions{
	Timeout:      10 * time.Second,
	PollInterval: 250 * time.Millisecond,
}

// DefaultMaxOutputChars bounds EvaluateJS output when the request does not.
const DefaultMaxOutputChars = 4000

// Option configures a Runtime.
type Option func(*Runtime)

// WithSink sets the trace sink.
func WithSink(s events.Sink) Option {
	return func(r *Runtime) {
		r.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		r.log = l
	}
}

// WithConfidencePolicy sets the missing-confidence policy.
func WithConfidencePolicy(p ConfidencePolicy) Option {
	return func(r *Runtime) {
		r.policy = p
	}
}

// WithEventuallyDefaults sets the options returned by EventuallyDefaults
// and the fallback timeout.
func WithEventuallyDefaults(o EventuallyOptions) Option {
	return func(r *Runtime) {
		r.defaults = o
	}
}

// WithSnapshotDefaults sets options merged into every snapshot request.
func WithSnapshotDefaults(o page.SnapshotOptions) Option {
	return func(r *Runtime) {
		r.snapshotDefaults = o
	}
}

// WithNavigationGuard checks every URL before it is loaded by Navigate or
// OpenTab. A non-nil error aborts the call with ErrNavigationDenied.
func WithNavigationGuard(fn func(url string) error) Option {
	return func(r *Runtime) {
		r.guard = fn
	}
}

// WithMaxOutputChars sets the default EvaluateJS output bound.
func WithMaxOutputChars(n int) Option {
	return func(r *Runtime) {
		r.maxOutputChars = n
	}
}

// WithClock replaces the time source and the poll sleep. Tests use it to
// drive the retry loop without waiting.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(r *Runtime) {
		r.now = now
		r.sleep = sleep
	}
}

// WithIDGenerator replaces step id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Runtime) {
		r.newID = fn
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newStepID() string { return uuid.NewString() }
