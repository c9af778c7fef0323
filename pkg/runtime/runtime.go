// Package runtime drives verification steps against a live browser: it takes
// snapshots, tags them against the previous one, evaluates predicates with
// optional retry, manages tabs, and writes every decision to the trace.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/diff"
	"github.com/cgast/agbrowse/pkg/events"
	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/platform"
	"github.com/cgast/agbrowse/pkg/verify"
)

var (
	ErrNoStep           = errors.New("no step is open")
	ErrNoPage           = errors.New("no page is open")
	ErrTabNotFound      = errors.New("tab not found")
	ErrStaleRef         = errors.New("stale element reference")
	ErrElementNotFound  = errors.New("element not found")
	ErrNavigationDenied = errors.New("navigation denied")
)

// SnapshotProvider turns a page into a ranked element graph.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, p platform.Page, opts page.SnapshotOptions) (*page.Snapshot, error)
}

// Runtime is the step state machine. Mutating calls must not run
// concurrently; read-only accessors are safe from other goroutines.
type Runtime struct {
	browser  platform.Browser
	provider SnapshotProvider
	sink     events.Sink
	log      *zap.Logger

	policy           ConfidencePolicy
	defaults         EventuallyOptions
	snapshotDefaults page.SnapshotOptions
	maxOutputChars   int
	guard            func(url string) error

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	newID func() string

	mu         sync.RWMutex
	stepID     string
	goal       string
	open       bool
	records    []AssertionRecord
	taskDone   bool
	last       *page.Snapshot
	generation uint64
	active     platform.Page
}

// New creates a Runtime over browser and provider.
func New(browser platform.Browser, provider SnapshotProvider, opts ...Option) *Runtime {
	r := &Runtime{
		browser:        browser,
		provider:       provider,
		sink:           events.Discard,
		log:            zap.NewNop(),
		defaults:       DefaultEventually,
		maxOutputChars: DefaultMaxOutputChars,
		now:            time.Now,
		sleep:          sleepCtx,
		newID:          newStepID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EventuallyDefaults returns the configured retry options.
func (r *Runtime) EventuallyDefaults() EventuallyOptions {
	return r.defaults
}

func (r *Runtime) emit(typ events.EventType, stepID string, data map[string]any) {
	e := events.Event{Type: typ, Timestamp: r.now(), StepID: stepID, Data: data}
	if err := r.sink.Emit(e); err != nil {
		r.log.Warn("trace emit failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

// BeginStep opens a step. A step that is still open is closed first. The
// last snapshot is kept so diffing spans steps.
func (r *Runtime) BeginStep(goal string) string {
	r.mu.Lock()
	var prev *StepEnd
	if r.open {
		end := r.stepEndLocked()
		prev = &end
	}
	r.stepID = r.newID()
	r.goal = goal
	r.open = true
	r.records = nil
	r.taskDone = false
	id := r.stepID
	r.mu.Unlock()

	if prev != nil {
		r.log.Debug("closing open step", zap.String("step_id", prev.StepID))
		r.emit(events.EventStepEnd, prev.StepID, prev.traceData())
	}
	r.log.Info("step started", zap.String("step_id", id), zap.String("goal", goal))
	r.emit(events.EventStepStart, id, map[string]any{"goal": goal})
	return id
}

// EndStep closes the open step and emits its step_end record. Records stay
// readable until the next BeginStep.
func (r *Runtime) EndStep() (StepEnd, error) {
	r.mu.Lock()
	if !r.open {
		r.mu.Unlock()
		return StepEnd{}, ErrNoStep
	}
	end := r.stepEndLocked()
	r.open = false
	r.mu.Unlock()

	r.log.Info("step ended",
		zap.String("step_id", end.StepID),
		zap.Int("assertions", len(end.Assertions)),
		zap.Bool("task_done", end.TaskDone))
	r.emit(events.EventStepEnd, end.StepID, end.traceData())
	return end, nil
}

// GetAssertionsForStepEnd returns the current step's records without
// clearing them.
func (r *Runtime) GetAssertionsForStepEnd() StepEnd {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stepEndLocked()
}

func (r *Runtime) stepEndLocked() StepEnd {
	return StepEnd{
		StepID:     r.stepID,
		Goal:       r.goal,
		Assertions: append([]AssertionRecord(nil), r.records...),
		TaskDone:   r.taskDone,
	}
}

// Step describes the current step.
func (r *Runtime) Step() StepInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := StepInfo{ID: r.stepID, Goal: r.goal, Open: r.open, TaskDone: r.taskDone, Assertions: len(r.records)}
	for _, a := range r.records {
		if !a.Passed() {
			info.Failed++
		}
	}
	return info
}

// LastSnapshot returns the most recent snapshot, or nil.
func (r *Runtime) LastSnapshot() *page.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Snapshot asks the provider for a fresh snapshot of the active page, tags
// it against the previous one and stores it under a new generation.
// Elements that disappeared are reported in the trace but not kept, so
// queries never match them. A provider failure is returned and ends any
// hope of verifying the current step.
func (r *Runtime) Snapshot(ctx context.Context, opts page.SnapshotOptions) (*page.Snapshot, error) {
	p, err := r.activePage(ctx)
	if err != nil {
		return nil, err
	}
	opts = r.mergeSnapshotOptions(opts)

	snap, err := r.provider.Snapshot(ctx, p, opts)
	if err != nil {
		return nil, fmt.Errorf("runtime: snapshot: %w", err)
	}

	r.mu.Lock()
	tagged := diff.ComputeDiffStatus(snap, r.last)
	summary := diff.Summarize(tagged)
	var removed []int
	for _, el := range tagged {
		if el.DiffStatus == page.DiffRemoved {
			removed = append(removed, el.ID)
		}
	}
	stored := *snap
	stored.Elements = diff.Actionable(tagged)
	if stored.Timestamp.IsZero() {
		stored.Timestamp = r.now()
	}
	r.generation++
	stored.Generation = r.generation
	r.last = &stored
	stepID := r.stepID
	r.mu.Unlock()

	data := map[string]any{
		"url":           stored.URL,
		"element_count": len(stored.Elements),
		"generation":    stored.Generation,
		"diff": map[string]any{
			"added":     summary.Added,
			"moved":     summary.Moved,
			"modified":  summary.Modified,
			"removed":   summary.Removed,
			"unchanged": summary.Unchanged,
		},
	}
	if len(removed) > 0 {
		data["removed_ids"] = removed
	}
	if c, ok := stored.Confidence(); ok {
		data["confidence"] = c
	}
	r.emit(events.EventSnapshot, stepID, data)
	return &stored, nil
}

func (r *Runtime) mergeSnapshotOptions(o page.SnapshotOptions) page.SnapshotOptions {
	d := r.snapshotDefaults
	if o.Limit == 0 {
		o.Limit = d.Limit
	}
	if o.Filter == nil {
		o.Filter = d.Filter
	}
	o.Screenshot = o.Screenshot || d.Screenshot
	o.ShowOverlay = o.ShowOverlay || d.ShowOverlay
	return o
}

// assertContext builds what predicates see. The URL is the one the last
// snapshot reported, falling back to the live page.
func (r *Runtime) assertContext(ctx context.Context) verify.Context {
	r.mu.RLock()
	c := verify.Context{Snapshot: r.last, StepID: r.stepID}
	if r.last != nil {
		c.URL = r.last.URL
	}
	active := r.active
	r.mu.RUnlock()

	if c.URL == "" && active != nil {
		if u, err := active.URL(ctx); err == nil {
			c.URL = u
		}
	}
	return c
}

func (r *Runtime) record(label string, out verify.Outcome, required bool) AssertionRecord {
	rec := AssertionRecord{Label: label, Required: required, Outcome: out, Timestamp: r.now()}
	r.mu.Lock()
	r.records = append(r.records, rec)
	stepID := r.stepID
	r.mu.Unlock()

	data := map[string]any{
		"label":    label,
		"passed":   out.Passed,
		"required": required,
		"reason":   out.Reason,
	}
	if d := verify.DetailsMap(out.Details); d != nil {
		data["details"] = d
	}
	if !out.Passed {
		r.log.Info("assertion failed", zap.String("label", label), zap.String("reason", out.Reason), zap.Bool("required", required))
	}
	r.emit(events.EventAssert, stepID, data)
	return rec
}

// Assert evaluates pred once against the last snapshot and records it.
func (r *Runtime) Assert(ctx context.Context, pred verify.Predicate, label string, required bool) bool {
	out := verify.Evaluate(pred, r.assertContext(ctx))
	r.record(label, out, required)
	return out.Passed
}

// Verify checks every assertion of intent against the current state and
// records each result in the open step, in order.
func (r *Runtime) Verify(ctx context.Context, intent verify.Intent, failFast bool) verify.VerificationResult {
	engine := verify.NewEngine(verify.WithFailFast(failFast), verify.WithClock(r.now))
	res := engine.Verify(r.assertContext(ctx), intent)
	for _, ar := range res.Results {
		r.record(ar.Label, ar.Outcome, ar.Assertion.Required)
	}
	return res
}

// AssertDone is Assert that also marks the task done when it passes. The
// terminal check is always required.
func (r *Runtime) AssertDone(ctx context.Context, pred verify.Predicate, label string) bool {
	ok := r.Assert(ctx, pred, label, true)
	if ok {
		r.mu.Lock()
		r.taskDone = true
		r.mu.Unlock()
	}
	return ok
}
