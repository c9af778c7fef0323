package protocol

import (
	"encoding/json"

	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/runtime"
	"github.com/cgast/agbrowse/pkg/verify"
)

// JSON-RPC 2.0 message types for agent mode communication.

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"` // string or int; nil for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application-specific error codes.
const (
	CodeNoStep           = -32000
	CodeNoPage           = -32001
	CodeTabNotFound      = -32002
	CodeStaleRef         = -32003
	CodeElementNotFound  = -32004
	CodeProviderFailed   = -32005
	CodeInvalidAssertion = -32006
	CodeNoSnapshot       = -32007
	CodeScenarioInvalid  = -32008
	CodeNavigationDenied = -32009
)

// Method constants for all supported JSON-RPC methods.
const (
	// Step lifecycle.
	MethodStepBegin      = "step.begin"
	MethodStepEnd        = "step.end"
	MethodStepAssertions = "step.assertions"
	MethodStepInfo       = "step.info"

	// Observation.
	MethodSnapshot   = "snapshot"
	MethodQuery      = "query"
	MethodEvaluateJS = "evaluate_js"

	// Verification.
	MethodAssert     = "assert"
	MethodAssertDone = "assert_done"
	MethodEventually = "eventually"
	MethodVerify     = "verify"

	// Tabs.
	MethodTabsList   = "tabs.list"
	MethodTabsOpen   = "tabs.open"
	MethodTabsSwitch = "tabs.switch"
	MethodTabsClose  = "tabs.close"

	// Actions.
	MethodNavigate = "navigate"
	MethodClick    = "click"
	MethodType     = "type"
	MethodPress    = "press"

	// Scenarios.
	MethodScenarioValidate = "scenario.validate"
	MethodScenarioPlan     = "scenario.plan"
	MethodScenarioRun      = "scenario.run"

	// Discovery.
	MethodMethods = "methods"
)

// NewResponse creates a successful response.
func NewResponse(id any, result any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id any, code int, message string, data any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// Parameter types.

// StepBeginParams holds parameters for "step.begin".
type StepBeginParams struct {
	Goal string `json:"goal"`
}

// StepBeginResult is returned by "step.begin".
type StepBeginResult struct {
	StepID string `json:"step_id"`
}

// SnapshotParams holds parameters for "snapshot".
type SnapshotParams struct {
	page.SnapshotOptions
}

// QueryParams holds parameters for "query". With Find set only the best
// match is returned.
type QueryParams struct {
	Selector string `json:"selector"`
	Find     bool   `json:"find,omitempty"`
}

// QueryResult is returned by "query".
type QueryResult struct {
	Generation uint64         `json:"generation"`
	Elements   []page.Element `json:"elements"`
}

// AssertParams holds parameters for "assert" and "assert_done".
type AssertParams struct {
	Assertion verify.AssertionDef `json:"assertion"`
}

// VerifyParams holds parameters for "verify".
type VerifyParams struct {
	Intent   verify.Intent `json:"intent"`
	FailFast bool          `json:"fail_fast,omitempty"`
}

// EventuallyParams holds parameters for "eventually". Zero durations use
// the runtime defaults.
type EventuallyParams struct {
	Assertion           verify.AssertionDef  `json:"assertion"`
	TimeoutMS           int64                `json:"timeout_ms,omitempty"`
	PollIntervalMS      int64                `json:"poll_interval_ms,omitempty"`
	MinConfidence       *float64             `json:"min_confidence,omitempty"`
	MaxSnapshotAttempts int                  `json:"max_snapshot_attempts,omitempty"`
	Done                bool                 `json:"done,omitempty"`
	Snapshot            page.SnapshotOptions `json:"snapshot"`
}

// AssertResult is returned by the verification methods.
type AssertResult struct {
	Passed   bool                     `json:"passed"`
	TaskDone bool                     `json:"task_done"`
	Record   *runtime.AssertionRecord `json:"record,omitempty"`
}

// TabParams holds parameters for tab operations.
type TabParams struct {
	TabID string `json:"tab_id,omitempty"`
	URL   string `json:"url,omitempty"`
}

// RefParams addresses an element of a snapshot generation.
type RefParams struct {
	Generation uint64 `json:"generation"`
	ID         int    `json:"id"`
	Text       string `json:"text,omitempty"`
}

// PressParams holds parameters for "press".
type PressParams struct {
	Key string `json:"key"`
}

// NavigateParams holds parameters for "navigate".
type NavigateParams struct {
	URL string `json:"url"`
}

// ScenarioParams holds parameters for the scenario methods.
type ScenarioParams struct {
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
}

// OKResult acknowledges methods without a payload.
type OKResult struct {
	OK bool `json:"ok"`
}
