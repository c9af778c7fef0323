package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/provider"
	"github.com/cgast/agbrowse/pkg/query"
	"github.com/cgast/agbrowse/pkg/runtime"
	"github.com/cgast/agbrowse/pkg/spec"
	"github.com/cgast/agbrowse/pkg/verify"
)

// runtimeError maps runtime failures onto application error codes.
func runtimeError(err error) *Error {
	code := CodeInternalError
	switch {
	case errors.Is(err, runtime.ErrNoStep):
		code = CodeNoStep
	case errors.Is(err, runtime.ErrNoPage):
		code = CodeNoPage
	case errors.Is(err, runtime.ErrTabNotFound):
		code = CodeTabNotFound
	case errors.Is(err, runtime.ErrStaleRef):
		code = CodeStaleRef
	case errors.Is(err, runtime.ErrElementNotFound):
		code = CodeElementNotFound
	case errors.Is(err, runtime.ErrNavigationDenied):
		code = CodeNavigationDenied
	case errors.Is(err, provider.ErrProviderStatus):
		code = CodeProviderFailed
	}
	return &Error{Code: code, Message: err.Error()}
}

func buildPredicate(def verify.AssertionDef) (verify.Predicate, *Error) {
	pred, err := verify.Build(def)
	if err != nil {
		return nil, &Error{Code: CodeInvalidAssertion, Message: err.Error(), Data: map[string]any{"type": def.Type}}
	}
	return pred, nil
}

func lastRecord(rt *runtime.Runtime) AssertResult {
	end := rt.GetAssertionsForStepEnd()
	res := AssertResult{TaskDone: end.TaskDone}
	if n := len(end.Assertions); n > 0 {
		rec := end.Assertions[n-1]
		res.Passed = rec.Passed()
		res.Record = &rec
	}
	return res
}

// RegisterRuntime exposes rt's operations as JSON-RPC methods.
func RegisterRuntime(h *Handler, rt *runtime.Runtime) {
	h.Register(MethodStepBegin, func(_ context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[StepBeginParams](params)
		if err != nil {
			return nil, err
		}
		return StepBeginResult{StepID: rt.BeginStep(p.Goal)}, nil
	})

	h.Register(MethodStepEnd, func(context.Context, json.RawMessage) (any, *Error) {
		end, err := rt.EndStep()
		if err != nil {
			return nil, runtimeError(err)
		}
		return end, nil
	})

	h.Register(MethodStepAssertions, func(context.Context, json.RawMessage) (any, *Error) {
		return rt.GetAssertionsForStepEnd(), nil
	})

	h.Register(MethodStepInfo, func(context.Context, json.RawMessage) (any, *Error) {
		return rt.Step(), nil
	})

	h.Register(MethodSnapshot, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[SnapshotParams](params)
		if err != nil {
			return nil, err
		}
		snap, serr := rt.Snapshot(ctx, p.SnapshotOptions)
		if serr != nil {
			return nil, runtimeError(serr)
		}
		return snap, nil
	})

	h.Register(MethodQuery, func(_ context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[QueryParams](params)
		if err != nil {
			return nil, err
		}
		snap := rt.LastSnapshot()
		if snap == nil {
			return nil, &Error{Code: CodeNoSnapshot, Message: verify.NoSnapshotReason}
		}
		sel, perr := query.Parse(p.Selector)
		if perr != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: perr.Error()}
		}
		res := QueryResult{Generation: snap.Generation, Elements: []page.Element{}}
		if p.Find {
			if el, ok := sel.Find(snap); ok {
				res.Elements = append(res.Elements, el)
			}
		} else {
			res.Elements = append(res.Elements, sel.Query(snap)...)
		}
		return res, nil
	})

	h.Register(MethodEvaluateJS, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[runtime.EvalRequest](params)
		if err != nil {
			return nil, err
		}
		return rt.EvaluateJS(ctx, p), nil
	})

	h.Register(MethodAssert, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[AssertParams](params)
		if err != nil {
			return nil, err
		}
		pred, err := buildPredicate(p.Assertion)
		if err != nil {
			return nil, err
		}
		rt.Assert(ctx, pred, p.Assertion.DisplayLabel(), p.Assertion.Required)
		return lastRecord(rt), nil
	})

	h.Register(MethodAssertDone, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[AssertParams](params)
		if err != nil {
			return nil, err
		}
		pred, err := buildPredicate(p.Assertion)
		if err != nil {
			return nil, err
		}
		rt.AssertDone(ctx, pred, p.Assertion.DisplayLabel())
		return lastRecord(rt), nil
	})

	h.Register(MethodVerify, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[VerifyParams](params)
		if err != nil {
			return nil, err
		}
		if len(p.Intent.Assertions) == 0 {
			return nil, &Error{Code: CodeInvalidParams, Message: "intent.assertions is required"}
		}
		return rt.Verify(ctx, p.Intent, p.FailFast), nil
	})

	h.Register(MethodEventually, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[EventuallyParams](params)
		if err != nil {
			return nil, err
		}
		pred, err := buildPredicate(p.Assertion)
		if err != nil {
			return nil, err
		}
		opts := rt.EventuallyDefaults()
		if p.TimeoutMS > 0 {
			opts.Timeout = time.Duration(p.TimeoutMS) * time.Millisecond
		}
		if p.PollIntervalMS > 0 {
			opts.PollInterval = time.Duration(p.PollIntervalMS) * time.Millisecond
		}
		if p.MinConfidence != nil {
			opts.MinConfidence = p.MinConfidence
		}
		if p.MaxSnapshotAttempts > 0 {
			opts.MaxSnapshotAttempts = p.MaxSnapshotAttempts
		}
		opts.Required = p.Assertion.Required
		opts.Done = p.Done
		opts.Snapshot = p.Snapshot

		if _, everr := rt.Check(pred, p.Assertion.DisplayLabel()).Eventually(ctx, opts); everr != nil {
			return nil, runtimeError(everr)
		}
		return lastRecord(rt), nil
	})

	h.Register(MethodTabsList, func(ctx context.Context, _ json.RawMessage) (any, *Error) {
		tabs, err := rt.ListTabs(ctx)
		if err != nil {
			return nil, runtimeError(err)
		}
		return tabs, nil
	})

	h.Register(MethodTabsOpen, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[TabParams](params)
		if err != nil {
			return nil, err
		}
		tab, oerr := rt.OpenTab(ctx, p.URL)
		if oerr != nil {
			return nil, runtimeError(oerr)
		}
		return tab, nil
	})

	h.Register(MethodTabsSwitch, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[TabParams](params)
		if err != nil {
			return nil, err
		}
		tab, serr := rt.SwitchTab(ctx, p.TabID)
		if serr != nil {
			return nil, runtimeError(serr)
		}
		return tab, nil
	})

	h.Register(MethodTabsClose, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[TabParams](params)
		if err != nil {
			return nil, err
		}
		if cerr := rt.CloseTab(ctx, p.TabID); cerr != nil {
			return nil, runtimeError(cerr)
		}
		return OKResult{OK: true}, nil
	})

	h.Register(MethodNavigate, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[NavigateParams](params)
		if err != nil {
			return nil, err
		}
		if p.URL == "" {
			return nil, &Error{Code: CodeInvalidParams, Message: "url is required"}
		}
		if nerr := rt.Navigate(ctx, p.URL); nerr != nil {
			return nil, runtimeError(nerr)
		}
		return OKResult{OK: true}, nil
	})

	h.Register(MethodClick, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[RefParams](params)
		if err != nil {
			return nil, err
		}
		if cerr := rt.Click(ctx, page.Ref{Generation: p.Generation, ID: p.ID}); cerr != nil {
			return nil, runtimeError(cerr)
		}
		return OKResult{OK: true}, nil
	})

	h.Register(MethodType, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[RefParams](params)
		if err != nil {
			return nil, err
		}
		if terr := rt.TypeText(ctx, page.Ref{Generation: p.Generation, ID: p.ID}, p.Text); terr != nil {
			return nil, runtimeError(terr)
		}
		return OKResult{OK: true}, nil
	})

	h.Register(MethodPress, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		p, err := ParseParams[PressParams](params)
		if err != nil {
			return nil, err
		}
		if p.Key == "" {
			return nil, &Error{Code: CodeInvalidParams, Message: "key is required"}
		}
		if perr := rt.Press(ctx, p.Key); perr != nil {
			return nil, runtimeError(perr)
		}
		return OKResult{OK: true}, nil
	})
}

// RegisterScenarios exposes scenario validation, planning and execution.
func RegisterScenarios(h *Handler, runner *spec.Runner, defaults runtime.EventuallyOptions) {
	load := func(params json.RawMessage) (spec.Scenario, *Error) {
		p, err := ParseParams[ScenarioParams](params)
		if err != nil {
			return spec.Scenario{}, err
		}
		if p.Path == "" {
			return spec.Scenario{}, &Error{Code: CodeInvalidParams, Message: "path is required"}
		}
		sc, lerr := spec.LoadScenario(p.Path, p.Params)
		if lerr != nil {
			return spec.Scenario{}, &Error{Code: CodeScenarioInvalid, Message: lerr.Error()}
		}
		return sc, nil
	}

	h.Register(MethodScenarioValidate, func(_ context.Context, params json.RawMessage) (any, *Error) {
		sc, err := load(params)
		if err != nil {
			return nil, err
		}
		vr := spec.ValidateScenario(sc)
		out := map[string]any{"valid": vr.Valid()}
		if !vr.Valid() {
			errs := make([]string, len(vr.Errors))
			for i, e := range vr.Errors {
				errs[i] = e.Error()
			}
			out["errors"] = errs
		}
		return out, nil
	})

	h.Register(MethodScenarioPlan, func(_ context.Context, params json.RawMessage) (any, *Error) {
		sc, err := load(params)
		if err != nil {
			return nil, err
		}
		plan, perr := spec.GeneratePlan(sc, defaults)
		if perr != nil {
			return nil, &Error{Code: CodeScenarioInvalid, Message: perr.Error()}
		}
		return plan, nil
	})

	h.Register(MethodScenarioRun, func(ctx context.Context, params json.RawMessage) (any, *Error) {
		sc, err := load(params)
		if err != nil {
			return nil, err
		}
		res, rerr := runner.Run(ctx, sc)
		if rerr != nil {
			return nil, &Error{Code: runtimeError(rerr).Code, Message: fmt.Sprintf("scenario run: %v", rerr), Data: res}
		}
		return res, nil
	})
}
