package spec

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/archive"
	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/platform/github"
	"github.com/cgast/agbrowse/pkg/query"
	"github.com/cgast/agbrowse/pkg/runtime"
	"github.com/cgast/agbrowse/pkg/verify"
)

// FailureReporter files a failed run somewhere a human will see it.
type FailureReporter interface {
	Report(ctx context.Context, f github.Failure) (github.Reported, error)
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Index int                  `json:"index"`
	Goal  string               `json:"goal"`
	End   runtime.StepEnd      `json:"end"`
	Evals []runtime.EvalResult `json:"evals,omitempty"`
	// Error is set when an action or snapshot failed and the run stopped.
	Error string `json:"error,omitempty"`
	// Archived names the snapshot saved for this step, if any.
	Archived string `json:"archived,omitempty"`
}

// Passed reports whether the step ran to completion with every required
// check passing.
func (s StepResult) Passed() bool {
	return s.Error == "" && s.End.RequiredPassed()
}

// Result is the outcome of a scenario run.
type Result struct {
	Scenario string           `json:"scenario"`
	RunID    string           `json:"run_id,omitempty"`
	Steps    []StepResult     `json:"steps"`
	Passed   bool             `json:"passed"`
	TaskDone bool             `json:"task_done"`
	Issue    *github.Reported `json:"issue,omitempty"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// WithReporter files an issue when a run fails.
func WithReporter(rep FailureReporter) Option {
	return func(r *Runner) {
		r.reporter = rep
	}
}

// WithArchive saves the last snapshot of every step.
func WithArchive(a *archive.Store) Option {
	return func(r *Runner) {
		r.archive = a
	}
}

// WithRunID tags results, archived snapshots and reports with a run id.
func WithRunID(id string) Option {
	return func(r *Runner) {
		r.runID = id
	}
}

// WithSleep replaces the timer used by wait actions.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(r *Runner) {
		r.sleep = fn
	}
}

// Runner executes scenarios step by step against a Runtime.
type Runner struct {
	rt       *runtime.Runtime
	log      *zap.Logger
	reporter FailureReporter
	archive  *archive.Store
	runID    string
	sleep    func(context.Context, time.Duration) error
}

// NewRunner creates a runner driving rt.
func NewRunner(rt *runtime.Runtime, opts ...Option) *Runner {
	r := &Runner{rt: rt, log: zap.NewNop(), sleep: sleep}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes sc. The run stops at the first step whose required checks
// fail or whose actions cannot be performed. The returned error is
// non-nil only for the latter, and for an invalid scenario.
func (r *Runner) Run(ctx context.Context, sc Scenario) (Result, error) {
	res := Result{Scenario: sc.Meta.Name, RunID: r.runID}
	if vr := ValidateScenario(sc); !vr.Valid() {
		return res, fmt.Errorf("invalid scenario: %s", vr.Error())
	}

	r.log.Info("scenario started", zap.String("scenario", sc.Meta.Name), zap.Int("steps", len(sc.Steps)))
	if sc.StartURL != "" {
		if err := r.rt.Navigate(ctx, sc.StartURL); err != nil {
			return res, fmt.Errorf("start url: %w", err)
		}
	}

	var runErr error
	for i, st := range sc.Steps {
		sr, err := r.runStep(ctx, sc, st)
		sr.Index = i
		sr.Archived = r.archiveStep(sc, i)
		res.Steps = append(res.Steps, sr)
		if sr.End.TaskDone {
			res.TaskDone = true
		}
		if err != nil {
			runErr = fmt.Errorf("step %d (%s): %w", i+1, st.Goal, err)
			break
		}
		if !sr.Passed() {
			r.log.Warn("required verification failed, stopping",
				zap.Int("step", i+1), zap.String("goal", st.Goal))
			break
		}
	}

	res.Passed = runErr == nil && len(res.Steps) == len(sc.Steps)
	for _, sr := range res.Steps {
		if !sr.Passed() {
			res.Passed = false
		}
	}
	r.log.Info("scenario finished", zap.String("scenario", sc.Meta.Name), zap.Bool("passed", res.Passed))

	if !res.Passed {
		r.report(ctx, &res)
	}
	return res, runErr
}

func (r *Runner) runStep(ctx context.Context, sc Scenario, st Step) (StepResult, error) {
	sr := StepResult{Goal: st.Goal}
	r.rt.BeginStep(st.Goal)

	err := r.perform(ctx, sc, st, &sr)
	if err != nil {
		sr.Error = err.Error()
	}
	end, endErr := r.rt.EndStep()
	if endErr != nil && err == nil {
		err = endErr
	}
	sr.End = end
	return sr, err
}

func (r *Runner) perform(ctx context.Context, sc Scenario, st Step, sr *StepResult) error {
	for _, a := range st.Actions {
		if err := r.act(ctx, sc, a, sr); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}

	if needsSnapshot(st) {
		if _, err := r.rt.Snapshot(ctx, sc.Snapshot); err != nil {
			return err
		}
	}
	for _, a := range st.Assertions {
		if err := r.check(ctx, sc, a, false); err != nil {
			return err
		}
	}
	if st.Done != nil {
		return r.check(ctx, sc, *st.Done, true)
	}
	return nil
}

// needsSnapshot reports whether a step evaluates anything without its own
// retry loop, which takes fresh snapshots itself.
func needsSnapshot(st Step) bool {
	all := append([]Assertion(nil), st.Assertions...)
	if st.Done != nil {
		all = append(all, *st.Done)
	}
	for _, a := range all {
		if a.Eventually == nil || !a.Eventually.Enabled {
			return true
		}
	}
	return false
}

func (r *Runner) check(ctx context.Context, sc Scenario, a Assertion, done bool) error {
	pred, err := verify.Build(a.AssertionDef)
	if err != nil {
		return err
	}
	label := a.DisplayLabel()
	if opts, ok := eventuallyFor(sc, a, r.rt.EventuallyDefaults()); ok {
		opts.Done = done
		_, err := r.rt.Check(pred, label).Eventually(ctx, opts)
		return err
	}
	if done {
		r.rt.AssertDone(ctx, pred, label)
		return nil
	}
	r.rt.Assert(ctx, pred, label, a.Required)
	return nil
}

func (r *Runner) act(ctx context.Context, sc Scenario, a Action, sr *StepResult) error {
	r.log.Debug("action", zap.String("action", a.String()))
	switch a.Kind() {
	case "navigate":
		return r.rt.Navigate(ctx, a.Navigate)
	case "open_tab":
		_, err := r.rt.OpenTab(ctx, a.OpenTab)
		return err
	case "switch_tab":
		tabs, err := r.rt.ListTabs(ctx)
		if err != nil {
			return err
		}
		if *a.SwitchTab >= len(tabs) {
			return fmt.Errorf("%w: index %d of %d open", runtime.ErrTabNotFound, *a.SwitchTab, len(tabs))
		}
		_, err = r.rt.SwitchTab(ctx, tabs[*a.SwitchTab].TabID)
		return err
	case "close_tab":
		tabs, err := r.rt.ListTabs(ctx)
		if err != nil {
			return err
		}
		for _, t := range tabs {
			if t.IsActive {
				return r.rt.CloseTab(ctx, t.TabID)
			}
		}
		return runtime.ErrNoPage
	case "click":
		ref, err := r.locate(ctx, sc, a.Click)
		if err != nil {
			return err
		}
		return r.rt.Click(ctx, ref)
	case "type":
		ref, err := r.locate(ctx, sc, a.Type.Selector)
		if err != nil {
			return err
		}
		return r.rt.TypeText(ctx, ref, a.Type.Text)
	case "press":
		return r.rt.Press(ctx, a.Press)
	case "evaluate":
		res := r.rt.EvaluateJS(ctx, runtime.EvalRequest{Code: a.Evaluate})
		if !res.OK {
			r.log.Warn("script failed", zap.String("error", res.Text))
		}
		sr.Evals = append(sr.Evals, res)
		return nil
	case "wait":
		return r.sleep(ctx, time.Duration(a.Wait))
	}
	return fmt.Errorf("invalid action")
}

// locate snapshots the page and resolves selector to its best match.
func (r *Runner) locate(ctx context.Context, sc Scenario, selector string) (page.Ref, error) {
	snap, err := r.rt.Snapshot(ctx, sc.Snapshot)
	if err != nil {
		return page.Ref{}, err
	}
	el, ok, err := query.Find(snap, selector)
	if err != nil {
		return page.Ref{}, err
	}
	if !ok {
		return page.Ref{}, fmt.Errorf("%w: nothing matches %q", runtime.ErrElementNotFound, selector)
	}
	return snap.Ref(el.ID), nil
}

func (r *Runner) archiveStep(sc Scenario, i int) string {
	if r.archive == nil {
		return ""
	}
	snap := r.rt.LastSnapshot()
	if snap == nil {
		return ""
	}
	parts := []string{slug(sc.Meta.Name)}
	if r.runID != "" {
		parts = append(parts, shortID(r.runID))
	}
	parts = append(parts, fmt.Sprintf("step%02d", i+1))
	name := strings.Join(parts, "-")
	if err := r.archive.Save(name, snap); err != nil {
		r.log.Warn("archive snapshot failed", zap.String("name", name), zap.Error(err))
		return ""
	}
	return name
}

func (r *Runner) report(ctx context.Context, res *Result) {
	if r.reporter == nil {
		return
	}
	var failed *StepResult
	for i := range res.Steps {
		if !res.Steps[i].Passed() {
			failed = &res.Steps[i]
			break
		}
	}
	if failed == nil {
		return
	}

	f := github.Failure{Scenario: res.Scenario, RunID: res.RunID, StepGoal: failed.Goal}
	if snap := r.rt.LastSnapshot(); snap != nil {
		f.URL = snap.URL
	}
	for _, rec := range failed.End.Failed() {
		if rec.Required {
			f.Checks = append(f.Checks, github.FailedCheck{Label: rec.Label, Reason: rec.Outcome.Reason})
		}
	}
	if failed.Error != "" {
		f.Checks = append(f.Checks, github.FailedCheck{Label: "step error", Reason: failed.Error})
	}

	rep, err := r.reporter.Report(ctx, f)
	if err != nil {
		r.log.Warn("failure report not filed", zap.Error(err))
		return
	}
	res.Issue = &rep
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(s) {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			b.WriteRune(c)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "scenario"
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
