package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHandlerMethodNotFound(t *testing.T) {
	h := NewHandler(nil)
	req := Request{JSONRPC: "2.0", ID: 1, Method: "nonexistent"}

	resp := h.Handle(context.Background(), req)
	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestHandlerInvalidVersion(t *testing.T) {
	h := NewHandler(nil)
	req := Request{JSONRPC: "1.0", ID: 1, Method: "test"}

	resp := h.Handle(context.Background(), req)
	if resp.Error == nil {
		t.Fatal("expected error for invalid version")
	}
	if resp.Error.Code != CodeInvalidRequest {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeInvalidRequest)
	}
}

func TestHandlerSuccess(t *testing.T) {
	h := NewHandler(nil)
	h.Register("echo", func(_ context.Context, params json.RawMessage) (any, *Error) {
		return map[string]string{"echo": string(params)}, nil
	})

	req := Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "echo",
		Params:  json.RawMessage(`"hello"`),
	}

	resp := h.Handle(context.Background(), req)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]string)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result["echo"] != `"hello"` {
		t.Errorf("echo = %q", result["echo"])
	}
}

func TestHandlerError(t *testing.T) {
	h := NewHandler(nil)
	h.Register("fail", func(context.Context, json.RawMessage) (any, *Error) {
		return nil, &Error{Code: CodeNoStep, Message: "boom"}
	})

	resp := h.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 2, Method: "fail"})
	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != CodeNoStep {
		t.Errorf("Code = %d", resp.Error.Code)
	}
	if resp.ID != 2 {
		t.Errorf("ID = %v", resp.ID)
	}
}

func TestHandlerRecoversPanic(t *testing.T) {
	h := NewHandler(nil)
	h.Register("boom", func(context.Context, json.RawMessage) (any, *Error) {
		panic("nil map")
	})
	resp := h.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 3, Method: "boom"})
	if resp.Error == nil || resp.Error.Code != CodeInternalError || !strings.Contains(resp.Error.Message, "nil map") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleRaw(t *testing.T) {
	h := NewHandler(nil)
	resp := h.HandleRaw(context.Background(), []byte(`{not json`))
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("resp = %+v", resp)
	}

	resp = h.HandleRaw(context.Background(), []byte(`{"jsonrpc":"2.0","id":"a","method":"methods"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if diff := cmp.Diff([]string{MethodMethods}, resp.Result); diff != "" {
		t.Errorf("methods mismatch (-want +got):\n%s", diff)
	}
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams[StepBeginParams](json.RawMessage(`{"goal":"open cart"}`))
	if err != nil || p.Goal != "open cart" {
		t.Errorf("ParseParams = %+v, %v", p, err)
	}
	if _, err := ParseParams[StepBeginParams](nil); err != nil {
		t.Errorf("empty params: %v", err)
	}
	if _, err := ParseParams[StepBeginParams](json.RawMessage(`{"goal":1}`)); err == nil || err.Code != CodeInvalidParams {
		t.Errorf("bad params: %v", err)
	}
}

func TestServe(t *testing.T) {
	h := NewHandler(nil)
	var notified int
	h.Register("note", func(context.Context, json.RawMessage) (any, *Error) {
		notified++
		return nil, nil
	})

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"methods"}`,
		``,
		`{"jsonrpc":"2.0","method":"note"}`,
		`garbage`,
		`{"jsonrpc":"2.0","id":2,"method":"missing"}`,
	}, "\n")
	var out bytes.Buffer
	if err := h.Serve(context.Background(), strings.NewReader(in), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("responses = %d, want 3:\n%s", len(lines), out.String())
	}
	if notified != 1 {
		t.Errorf("notification handled %d times", notified)
	}
	var codes []int
	for _, l := range lines[1:] {
		var resp Response
		if err := json.Unmarshal([]byte(l), &resp); err != nil {
			t.Fatal(err)
		}
		codes = append(codes, resp.Error.Code)
	}
	if diff := cmp.Diff([]int{CodeParseError, CodeMethodNotFound}, codes); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
}
