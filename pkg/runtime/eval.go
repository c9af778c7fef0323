package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cgast/agbrowse/pkg/events"
)

// EvalRequest is a script to run in the active page.
type EvalRequest struct {
	Code string `json:"code"`
	// MaxOutputChars bounds the returned text; zero uses the runtime default.
	MaxOutputChars int `json:"max_output_chars,omitempty"`
}

// EvalResult is the serialized outcome of a script. A script error yields
// OK=false with the message as Text.
type EvalResult struct {
	OK        bool   `json:"ok"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

// EvaluateJS runs req.Code in the active page. It never returns an error.
func (r *Runtime) EvaluateJS(ctx context.Context, req EvalRequest) EvalResult {
	limit := req.MaxOutputChars
	if limit <= 0 {
		limit = r.maxOutputChars
	}

	res := r.evaluate(ctx, req.Code)
	res.Text, res.Truncated = truncate(res.Text, limit)

	r.mu.RLock()
	stepID := r.stepID
	r.mu.RUnlock()
	r.emit(events.EventEval, stepID, map[string]any{"ok": res.OK, "truncated": res.Truncated})
	return res
}

func (r *Runtime) evaluate(ctx context.Context, code string) EvalResult {
	p, err := r.activePage(ctx)
	if err != nil {
		return EvalResult{OK: false, Text: err.Error()}
	}
	v, err := p.Evaluate(ctx, code)
	if err != nil {
		return EvalResult{OK: false, Text: err.Error()}
	}
	return EvalResult{OK: true, Text: stringify(v)}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "undefined"
	case string:
		return t
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// truncate cuts s to limit runes and appends "..." when it did.
func truncate(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[:limit]) + "...", true
}
