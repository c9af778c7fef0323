package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cgast/agbrowse/pkg/events"
	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/platform"
	"github.com/cgast/agbrowse/pkg/platform/platformtest"
	"github.com/cgast/agbrowse/pkg/provider"
	"github.com/cgast/agbrowse/pkg/verify"
)

type fakeClock struct {
	t      time.Time
	sleeps int
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	c.t = c.t.Add(d)
	return ctx.Err()
}

type harness struct {
	rt      *Runtime
	browser *platformtest.Browser
	bus     *events.MemoryBus
	clock   *fakeClock
}

func newHarness(t *testing.T, prov SnapshotProvider, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		browser: platformtest.NewBrowser("https://example.com/start"),
		bus:     events.NewMemoryBus(),
		clock:   &fakeClock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)},
	}
	n := 0
	base := []Option{
		WithSink(h.bus),
		WithClock(h.clock.now, h.clock.sleep),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("step-%d", n) }),
	}
	h.rt = New(h.browser, prov, append(base, opts...)...)
	return h
}

func (h *harness) types() []events.EventType {
	var out []events.EventType
	for _, e := range h.bus.History(time.Time{}) {
		out = append(out, e.Type)
	}
	return out
}

func snapAt(url string, elems ...page.Element) *page.Snapshot {
	return &page.Snapshot{Status: "success", URL: url, Elements: elems}
}

func withConfidence(s *page.Snapshot, c float64) *page.Snapshot {
	s.Diagnostics = &page.Diagnostics{Confidence: page.Float(c)}
	return s
}

func button(id int, text string, x float64) page.Element {
	return page.Element{ID: id, Role: "button", Text: text, Importance: 0.5,
		BBox: page.BBox{X: x, Y: 10, Width: 100, Height: 40}, InViewport: true}
}

func TestEventuallyPassesOnThirdSnapshot(t *testing.T) {
	seq := provider.NewSequence(
		snapAt("https://example.com/a"),
		snapAt("https://example.com/b"),
		snapAt("https://example.com/done"),
	)
	h := newHarness(t, seq)
	h.rt.BeginStep("reach done page")

	ok, err := h.rt.Check(verify.URLEndsWith("/done"), "on done page").Eventually(context.Background(), EventuallyOptions{
		Timeout:      10 * time.Second,
		PollInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Eventually: %v", err)
	}
	if !ok {
		t.Fatal("expected pass")
	}
	if seq.Served() != 3 {
		t.Errorf("snapshots taken = %d, want 3", seq.Served())
	}
	end := h.rt.GetAssertionsForStepEnd()
	if len(end.Assertions) != 1 || !end.Assertions[0].Passed() {
		t.Fatalf("records = %+v", end.Assertions)
	}
	d := end.Assertions[0].Outcome.Details.(verify.EventuallyDetails)
	if d.Attempts != 3 || d.ReasonCode != "" {
		t.Errorf("details = %+v", d)
	}
}

func TestEventuallyExhaustsOnLowConfidence(t *testing.T) {
	seq := provider.NewSequence(withConfidence(snapAt("https://example.com/done"), 0.1))
	h := newHarness(t, seq)
	h.rt.BeginStep("low confidence")

	calls := 0
	pred := func(verify.Context) (verify.Outcome, error) {
		calls++
		return verify.Outcome{Passed: true}, nil
	}
	ok, err := h.rt.Check(pred, "gated").Eventually(context.Background(), EventuallyOptions{
		Timeout:             time.Minute,
		PollInterval:        time.Second,
		MinConfidence:       page.Float(0.7),
		MaxSnapshotAttempts: 2,
	})
	if err != nil {
		t.Fatalf("Eventually: %v", err)
	}
	if ok {
		t.Fatal("expected failure")
	}
	if calls != 0 {
		t.Errorf("predicate evaluated %d times below the confidence gate", calls)
	}
	recs := h.rt.GetAssertionsForStepEnd().Assertions
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1 final record", len(recs))
	}
	if code := verify.ReasonCode(recs[0].Outcome.Details); code != verify.ReasonSnapshotExhausted {
		t.Errorf("reason_code = %q, want %q", code, verify.ReasonSnapshotExhausted)
	}
	d := recs[0].Outcome.Details.(verify.EventuallyDetails)
	if d.Attempts != 2 || d.LastConfidence == nil || *d.LastConfidence != 0.1 {
		t.Errorf("details = %+v", d)
	}
}

func TestEventuallyExhaustionBeforeDeadlineSleep(t *testing.T) {
	seq := provider.NewSequence(withConfidence(snapAt("https://example.com/done"), 0.1))
	h := newHarness(t, seq)
	h.rt.BeginStep("one attempt")

	ok, err := h.rt.Check(verify.URLEndsWith("/done"), "done").Eventually(context.Background(), EventuallyOptions{
		Timeout:             2 * time.Second,
		PollInterval:        2 * time.Second,
		MinConfidence:       page.Float(0.7),
		MaxSnapshotAttempts: 1,
	})
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	rec := h.rt.GetAssertionsForStepEnd().Assertions[0]
	if code := verify.ReasonCode(rec.Outcome.Details); code != verify.ReasonSnapshotExhausted {
		t.Errorf("reason_code = %q, want %q", code, verify.ReasonSnapshotExhausted)
	}
	if h.clock.sleeps != 0 {
		t.Errorf("sleeps = %d, want 0", h.clock.sleeps)
	}
	if seq.Served() != 1 {
		t.Errorf("snapshots taken = %d, want 1", seq.Served())
	}
}

func TestEventuallyZeroPollInterval(t *testing.T) {
	seq := provider.NewSequence(
		snapAt("https://example.com/"),
		snapAt("https://example.com/"),
		snapAt("https://example.com/done"),
	)
	h := newHarness(t, seq)
	h.rt.BeginStep("tight poll")

	ok, err := h.rt.Check(verify.URLEndsWith("/done"), "done").Eventually(context.Background(), EventuallyOptions{
		Timeout:      2 * time.Second,
		PollInterval: 0,
	})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if seq.Served() != 3 {
		t.Errorf("snapshots taken = %d, want 3", seq.Served())
	}
	d := h.rt.GetAssertionsForStepEnd().Assertions[0].Outcome.Details.(verify.EventuallyDetails)
	if d.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", d.Attempts)
	}
}

func TestEventuallyZeroPollIntervalEndsOnClock(t *testing.T) {
	// Each clock read moves time forward so only the timeout can stop the loop.
	tick := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time {
		tick = tick.Add(100 * time.Millisecond)
		return tick
	}
	sleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	h := newHarness(t, provider.NewSequence(snapAt("https://example.com/a")), WithClock(now, sleep))
	h.rt.BeginStep("never done")

	ok, err := h.rt.Check(verify.URLEndsWith("/done"), "done").Eventually(context.Background(), EventuallyOptions{
		Timeout:      time.Second,
		PollInterval: 0,
	})
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	rec := h.rt.GetAssertionsForStepEnd().Assertions[0]
	if code := verify.ReasonCode(rec.Outcome.Details); code != verify.ReasonTimeout {
		t.Errorf("reason_code = %q, want timeout", code)
	}
	d := rec.Outcome.Details.(verify.EventuallyDetails)
	if d.Attempts < 2 {
		t.Errorf("attempts = %d, want repeated polling", d.Attempts)
	}
}

func TestEventuallyTimeoutIsNotExhaustion(t *testing.T) {
	seq := provider.NewSequence(snapAt("https://example.com/a"))
	h := newHarness(t, seq)
	h.rt.BeginStep("never")

	ok, err := h.rt.Check(verify.URLEndsWith("/done"), "done").Eventually(context.Background(), EventuallyOptions{
		Timeout:      3 * time.Second,
		PollInterval: time.Second,
		Required:     true,
	})
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	rec := h.rt.GetAssertionsForStepEnd().Assertions[0]
	if code := verify.ReasonCode(rec.Outcome.Details); code != verify.ReasonTimeout {
		t.Errorf("reason_code = %q, want timeout", code)
	}
	if !rec.Required {
		t.Error("record should be required")
	}
	if !strings.Contains(rec.Outcome.Reason, "does not end with") {
		t.Errorf("reason should carry the last predicate failure: %q", rec.Outcome.Reason)
	}
	if h.clock.sleeps != 3 {
		t.Errorf("sleeps = %d, want 3", h.clock.sleeps)
	}
}

func TestEventuallyMissingConfidencePolicy(t *testing.T) {
	opts := EventuallyOptions{Timeout: time.Minute, MinConfidence: page.Float(0.5), MaxSnapshotAttempts: 2}

	trust := newHarness(t, provider.NewSequence(snapAt("https://x/done")))
	ok, _ := trust.rt.Check(verify.URLEndsWith("/done"), "t").Eventually(context.Background(), opts)
	if !ok {
		t.Error("trust policy should evaluate snapshots without confidence")
	}

	distrust := newHarness(t, provider.NewSequence(snapAt("https://x/done")), WithConfidencePolicy(ConfidenceDistrust))
	ok, _ = distrust.rt.Check(verify.URLEndsWith("/done"), "d").Eventually(context.Background(), opts)
	if ok {
		t.Error("distrust policy should gate snapshots without confidence")
	}
}

func TestEventuallyPropagatesProviderFailure(t *testing.T) {
	seq := provider.NewSequence(&page.Snapshot{Status: "error", Error: "renderer crashed"})
	h := newHarness(t, seq)
	h.rt.BeginStep("fatal")

	ok, err := h.rt.Check(verify.Exists("role=button"), "x").Eventually(context.Background(), EventuallyOptions{Timeout: time.Second})
	if ok || !errors.Is(err, provider.ErrProviderStatus) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if n := len(h.rt.GetAssertionsForStepEnd().Assertions); n != 0 {
		t.Errorf("records = %d, want none on provider failure", n)
	}
}

func TestEventuallyHonoursContext(t *testing.T) {
	h := newHarness(t, provider.NewSequence(snapAt("https://x/a")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.rt.Check(verify.URLEndsWith("/b"), "x").Eventually(ctx, EventuallyOptions{Timeout: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestSnapshotDiffAndGenerations(t *testing.T) {
	seq := provider.NewSequence(
		snapAt("https://x/", button(1, "Save", 0), button(2, "Cancel", 200)),
		snapAt("https://x/", button(1, "Saved", 0), button(3, "Undo", 400)),
	)
	h := newHarness(t, seq)
	ctx := context.Background()

	first, err := h.rt.Snapshot(ctx, page.SnapshotOptions{})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if first.Generation != 1 || first.Elements[0].DiffStatus != page.DiffAdded {
		t.Errorf("first = gen %d, status %q", first.Generation, first.Elements[0].DiffStatus)
	}

	second, _ := h.rt.Snapshot(ctx, page.SnapshotOptions{})
	if second.Generation != 2 {
		t.Errorf("generation = %d, want 2", second.Generation)
	}
	got := map[int]page.DiffStatus{}
	for _, el := range second.Elements {
		got[el.ID] = el.DiffStatus
	}
	want := map[int]page.DiffStatus{1: page.DiffModified, 3: page.DiffAdded}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}

	evs := h.bus.History(time.Time{})
	last := evs[len(evs)-1]
	if last.Type != events.EventSnapshot || last.Data["element_count"] != 2 {
		t.Errorf("last event = %+v", last)
	}
	if ids, _ := last.Data["removed_ids"].([]int); len(ids) != 1 || ids[0] != 2 {
		t.Errorf("removed_ids = %v", last.Data["removed_ids"])
	}
}

func TestSnapshotWithoutPage(t *testing.T) {
	rt := New(platformtest.NewBrowser(), provider.NewSequence(snapAt("https://x")))
	if _, err := rt.Snapshot(context.Background(), page.SnapshotOptions{}); !errors.Is(err, ErrNoPage) {
		t.Errorf("err = %v", err)
	}
}

type optsRecorder struct{ got page.SnapshotOptions }

func (o *optsRecorder) Snapshot(_ context.Context, _ platform.Page, opts page.SnapshotOptions) (*page.Snapshot, error) {
	o.got = opts
	return snapAt("https://x"), nil
}

func TestSnapshotMergesDefaults(t *testing.T) {
	rec := &optsRecorder{}
	h := newHarness(t, rec, WithSnapshotDefaults(page.SnapshotOptions{Limit: 50, ShowOverlay: true}))
	h.rt.Snapshot(context.Background(), page.SnapshotOptions{Screenshot: true})
	want := page.SnapshotOptions{Limit: 50, Screenshot: true, ShowOverlay: true}
	if diff := cmp.Diff(want, rec.got); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	h.rt.Snapshot(context.Background(), page.SnapshotOptions{Limit: 5})
	if rec.got.Limit != 5 {
		t.Errorf("explicit limit overridden: %d", rec.got.Limit)
	}
}

func TestStepLifecycleAndTrace(t *testing.T) {
	h := newHarness(t, provider.NewSequence(snapAt("https://example.com/cart", button(1, "Checkout", 0))))
	ctx := context.Background()

	if _, err := h.rt.EndStep(); !errors.Is(err, ErrNoStep) {
		t.Errorf("EndStep with no step: %v", err)
	}

	id := h.rt.BeginStep("open cart")
	if id != "step-1" {
		t.Errorf("step id = %q", id)
	}
	if h.rt.Assert(ctx, verify.Exists("role=button"), "has button", false) {
		t.Error("assert before any snapshot should fail")
	}
	if got := h.rt.GetAssertionsForStepEnd().Assertions[0].Outcome.Reason; got != verify.NoSnapshotReason {
		t.Errorf("reason = %q", got)
	}
	h.rt.Snapshot(ctx, page.SnapshotOptions{})
	if !h.rt.Assert(ctx, verify.Exists("text=Checkout"), "checkout visible", true) {
		t.Error("expected pass")
	}

	// Opening a new step closes the previous one.
	h.rt.BeginStep("pay")
	if !h.rt.AssertDone(ctx, verify.URLContains("/cart"), "still on cart") {
		t.Error("expected pass")
	}
	end, err := h.rt.EndStep()
	if err != nil {
		t.Fatalf("EndStep: %v", err)
	}
	if !end.TaskDone || end.StepID != "step-2" || len(end.Assertions) != 1 {
		t.Errorf("end = %+v", end)
	}
	if !end.RequiredPassed() {
		t.Error("required assertions should pass")
	}

	want := []events.EventType{
		events.EventStepStart, events.EventAssert, events.EventSnapshot, events.EventAssert,
		events.EventStepEnd, events.EventStepStart, events.EventAssert, events.EventStepEnd,
	}
	if diff := cmp.Diff(want, h.types()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}

	// Records stay readable after EndStep and are cleared by the next step.
	if n := len(h.rt.GetAssertionsForStepEnd().Assertions); n != 1 {
		t.Errorf("records after EndStep = %d", n)
	}
	h.rt.BeginStep("next")
	if n := len(h.rt.GetAssertionsForStepEnd().Assertions); n != 0 {
		t.Errorf("records after BeginStep = %d", n)
	}
	if info := h.rt.Step(); !info.Open || info.Goal != "next" || info.TaskDone {
		t.Errorf("step info = %+v", info)
	}
}

func TestStepEndHelpers(t *testing.T) {
	end := StepEnd{Assertions: []AssertionRecord{
		{Label: "a", Outcome: verify.Outcome{Passed: true}},
		{Label: "b", Outcome: verify.Outcome{Reason: "nope"}},
		{Label: "c", Required: true, Outcome: verify.Outcome{Reason: "nope"}},
	}}
	if end.RequiredPassed() {
		t.Error("RequiredPassed should be false")
	}
	if f := end.Failed(); len(f) != 2 || f[0].Label != "b" {
		t.Errorf("Failed = %+v", f)
	}
	m := end.Assertions[1].Map()
	if m["reason"] != "nope" || m["passed"] != false {
		t.Errorf("Map = %v", m)
	}
}

func TestResolveRejectsStaleRefs(t *testing.T) {
	seq := provider.NewSequence(
		snapAt("https://x", button(1, "Go", 0)),
		snapAt("https://x", button(1, "Go", 0)),
	)
	h := newHarness(t, seq)
	ctx := context.Background()

	if _, err := h.rt.Resolve(page.Ref{Generation: 1, ID: 1}); !errors.Is(err, ErrStaleRef) {
		t.Errorf("resolve before snapshot: %v", err)
	}
	first, _ := h.rt.Snapshot(ctx, page.SnapshotOptions{})
	ref := first.Ref(1)
	if _, err := h.rt.Resolve(ref); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := h.rt.Resolve(first.Ref(9)); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("missing id: %v", err)
	}

	h.rt.Snapshot(ctx, page.SnapshotOptions{})
	if _, err := h.rt.Resolve(ref); !errors.Is(err, ErrStaleRef) {
		t.Errorf("stale ref: %v", err)
	}
	if err := h.rt.Click(ctx, ref); !errors.Is(err, ErrStaleRef) {
		t.Errorf("click stale ref: %v", err)
	}
}

func TestRefsGoStaleAcrossTabs(t *testing.T) {
	seq := provider.NewSequence(
		snapAt("https://x", button(1, "Go", 0)),
		snapAt("https://x", button(1, "Go", 0)),
	)
	h := newHarness(t, seq)
	ctx := context.Background()

	snap, err := h.rt.Snapshot(ctx, page.SnapshotOptions{})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	ref := snap.Ref(1)
	tabs, _ := h.rt.ListTabs(ctx)
	first := tabs[0].TabID

	if _, err := h.rt.SwitchTab(ctx, first); err != nil {
		t.Fatalf("SwitchTab: %v", err)
	}
	if _, err := h.rt.Resolve(ref); err != nil {
		t.Errorf("switching to the active tab should keep refs: %v", err)
	}

	if _, err := h.rt.OpenTab(ctx, "https://example.com/second"); err != nil {
		t.Fatalf("OpenTab: %v", err)
	}
	if err := h.rt.Click(ctx, ref); !errors.Is(err, ErrStaleRef) {
		t.Errorf("click after OpenTab: %v, want ErrStaleRef", err)
	}
	if n := len(h.browser.Page(1).Clicks); n != 0 {
		t.Errorf("new tab received %d clicks", n)
	}

	if _, err := h.rt.SwitchTab(ctx, first); err != nil {
		t.Fatalf("SwitchTab: %v", err)
	}
	if _, err := h.rt.Resolve(ref); !errors.Is(err, ErrStaleRef) {
		t.Errorf("resolve after switching back: %v, want ErrStaleRef", err)
	}

	fresh, err := h.rt.Snapshot(ctx, page.SnapshotOptions{})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, err := h.rt.Resolve(fresh.Ref(1)); err != nil {
		t.Errorf("fresh ref: %v", err)
	}
}

func TestClickAndType(t *testing.T) {
	h := newHarness(t, provider.NewSequence(snapAt("https://x", button(4, "Email", 20))))
	ctx := context.Background()
	snap, _ := h.rt.Snapshot(ctx, page.SnapshotOptions{})

	if err := h.rt.TypeText(ctx, snap.Ref(4), "jane@example.com"); err != nil {
		t.Fatalf("TypeText: %v", err)
	}
	if err := h.rt.Press(ctx, "Enter"); err != nil {
		t.Fatalf("Press: %v", err)
	}
	p := h.browser.Page(0)
	if diff := cmp.Diff([]platformtest.Click{{X: 70, Y: 30}}, p.Clicks); diff != "" {
		t.Errorf("clicks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"jane@example.com"}, p.Typed); diff != "" {
		t.Errorf("typed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Enter"}, p.Pressed); diff != "" {
		t.Errorf("pressed mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateJS(t *testing.T) {
	h := newHarness(t, provider.NewSequence(snapAt("https://x")), WithMaxOutputChars(8))
	p := h.browser.Page(0)
	p.EvalFunc = func(js string) (any, error) {
		switch js {
		case "document.title":
			return "Checkout page", nil
		case "items":
			return []any{1.0, 2.0}, nil
		case "nothing":
			return nil, nil
		}
		return nil, errors.New("ReferenceError: boom is not defined")
	}
	ctx := context.Background()

	tests := []struct {
		req  EvalRequest
		want EvalResult
	}{
		{EvalRequest{Code: "document.title"}, EvalResult{OK: true, Text: "Checkout...", Truncated: true}},
		{EvalRequest{Code: "document.title", MaxOutputChars: 100}, EvalResult{OK: true, Text: "Checkout page"}},
		{EvalRequest{Code: "items"}, EvalResult{OK: true, Text: "[1,2]"}},
		{EvalRequest{Code: "nothing"}, EvalResult{OK: true, Text: "undefined"}},
		{EvalRequest{Code: "boom", MaxOutputChars: 100}, EvalResult{OK: false, Text: "ReferenceError: boom is not defined"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, h.rt.EvaluateJS(ctx, tt.req)); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", tt.req.Code, diff)
		}
	}

	noPage := New(platformtest.NewBrowser(), nil)
	if res := noPage.EvaluateJS(ctx, EvalRequest{Code: "1"}); res.OK {
		t.Error("evaluate without page should report ok=false")
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	got, cut := truncate("héllo wörld", 5)
	if got != "héllo..." || !cut {
		t.Errorf("truncate = %q, %v", got, cut)
	}
}

func TestTabs(t *testing.T) {
	h := newHarness(t, provider.NewSequence(snapAt("https://x")))
	ctx := context.Background()

	tabs, err := h.rt.ListTabs(ctx)
	if err != nil {
		t.Fatalf("ListTabs: %v", err)
	}
	if len(tabs) != 1 || !tabs[0].IsActive {
		t.Fatalf("tabs = %+v", tabs)
	}
	first := tabs[0].TabID

	opened, err := h.rt.OpenTab(ctx, "https://example.com/second")
	if err != nil {
		t.Fatalf("OpenTab: %v", err)
	}
	if !opened.IsActive || opened.URL != "https://example.com/second" {
		t.Errorf("opened = %+v", opened)
	}

	tabs, _ = h.rt.ListTabs(ctx)
	active := activeTabs(tabs)
	if len(tabs) != 2 || len(active) != 1 || active[0] != opened.TabID {
		t.Fatalf("tabs = %+v", tabs)
	}

	if _, err := h.rt.SwitchTab(ctx, first); err != nil {
		t.Fatalf("SwitchTab: %v", err)
	}
	if h.browser.Page(0).Fronted != 1 {
		t.Error("switch did not bring page to front")
	}
	if _, err := h.rt.SwitchTab(ctx, "missing"); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("switch missing: %v", err)
	}
	if err := h.rt.CloseTab(ctx, "missing"); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("close missing: %v", err)
	}
}

func TestCloseActiveTabFallsBackToFirst(t *testing.T) {
	h := newHarness(t, provider.NewSequence(snapAt("https://x")))
	ctx := context.Background()
	second, _ := h.rt.OpenTab(ctx, "https://example.com/second")

	if err := h.rt.CloseTab(ctx, second.TabID); err != nil {
		t.Fatalf("CloseTab: %v", err)
	}
	tabs, _ := h.rt.ListTabs(ctx)
	if len(tabs) != 1 || !tabs[0].IsActive || tabs[0].URL != "https://example.com/start" {
		t.Fatalf("tabs = %+v", tabs)
	}

	if err := h.rt.CloseTab(ctx, tabs[0].TabID); err != nil {
		t.Fatalf("CloseTab: %v", err)
	}
	if _, err := h.rt.Snapshot(ctx, page.SnapshotOptions{}); !errors.Is(err, ErrNoPage) {
		t.Errorf("snapshot with no pages: %v", err)
	}

	var actions []any
	for _, e := range h.bus.History(time.Time{}) {
		if e.Type == events.EventTab {
			actions = append(actions, e.Data["action"])
		}
	}
	if diff := cmp.Diff([]any{"open", "close", "close"}, actions); diff != "" {
		t.Errorf("tab events mismatch (-want +got):\n%s", diff)
	}
}

func TestNavigate(t *testing.T) {
	h := newHarness(t, provider.NewSequence(snapAt("https://x")))
	if err := h.rt.Navigate(context.Background(), "https://example.com/next"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if u, _ := h.browser.Page(0).URL(context.Background()); u != "https://example.com/next" {
		t.Errorf("url = %q", u)
	}
}

func TestVerifyRecordsEachAssertion(t *testing.T) {
	h := newHarness(t, provider.NewSequence(snapAt("https://example.com/cart", button(1, "Checkout", 0))))
	ctx := context.Background()
	h.rt.BeginStep("cart")
	if _, err := h.rt.Snapshot(ctx, page.SnapshotOptions{}); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	res := h.rt.Verify(ctx, verify.Intent{Assertions: []verify.AssertionDef{
		{Type: "url_ends_with", Expected: "/cart"},
		{Type: "exists", Selector: "role=slider", Required: true},
	}}, false)
	if res.Passed || len(res.Results) != 2 {
		t.Fatalf("result = %+v", res)
	}
	recs := h.rt.GetAssertionsForStepEnd().Assertions
	got := make([]string, len(recs))
	for i, rec := range recs {
		got[i] = fmt.Sprintf("%s passed=%v required=%v", rec.Label, rec.Passed(), rec.Required)
	}
	want := []string{
		`url_ends_with("/cart") passed=true required=false`,
		"exists(role=slider) passed=false required=true",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestNavigationGuard(t *testing.T) {
	guard := func(url string) error {
		if strings.Contains(url, "blocked") {
			return errors.New("domain not allowed")
		}
		return nil
	}
	h := newHarness(t, provider.NewSequence(snapAt("https://x")), WithNavigationGuard(guard))
	ctx := context.Background()

	err := h.rt.Navigate(ctx, "https://blocked.example/")
	if !errors.Is(err, ErrNavigationDenied) {
		t.Fatalf("Navigate err = %v, want ErrNavigationDenied", err)
	}
	if u, _ := h.browser.Page(0).URL(ctx); u != "https://example.com/start" {
		t.Errorf("url changed to %q", u)
	}
	if _, err := h.rt.OpenTab(ctx, "https://blocked.example/"); !errors.Is(err, ErrNavigationDenied) {
		t.Errorf("OpenTab err = %v, want ErrNavigationDenied", err)
	}
	if tabs, _ := h.rt.ListTabs(ctx); len(tabs) != 1 {
		t.Errorf("tabs = %d, want 1", len(tabs))
	}
	if err := h.rt.Navigate(ctx, "https://ok.example/"); err != nil {
		t.Errorf("Navigate allowed url: %v", err)
	}
}

func TestParseConfidencePolicy(t *testing.T) {
	for in, want := range map[string]ConfidencePolicy{"": ConfidenceTrust, "Trust": ConfidenceTrust, "distrust": ConfidenceDistrust} {
		got, err := ParseConfidencePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseConfidencePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseConfidencePolicy("maybe"); err == nil {
		t.Error("expected error")
	}
	if ConfidenceDistrust.String() != "distrust" {
		t.Error("String()")
	}
}

func activeTabs(tabs []page.Tab) []string {
	var out []string
	for _, t := range tabs {
		if t.IsActive {
			out = append(out, t.TabID)
		}
	}
	return out
}

func TestEventuallyDoneMarksTask(t *testing.T) {
	h := newHarness(t, provider.NewSequence(snapAt("https://x/a"), snapAt("https://x/done")))
	h.rt.BeginStep("finish")
	ok, err := h.rt.Check(verify.URLEndsWith("/done"), "finished").Eventually(context.Background(), EventuallyOptions{
		Timeout: time.Minute,
		Done:    true,
	})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	end := h.rt.GetAssertionsForStepEnd()
	if !end.TaskDone || !end.Assertions[0].Required {
		t.Errorf("end = %+v", end)
	}
}
