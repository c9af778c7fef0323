package inspector

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cgast/agbrowse/pkg/archive"
	"github.com/cgast/agbrowse/pkg/events"
	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/platform/platformtest"
	"github.com/cgast/agbrowse/pkg/provider"
	"github.com/cgast/agbrowse/pkg/runtime"
	"github.com/cgast/agbrowse/pkg/tracestore"
	"github.com/cgast/agbrowse/pkg/verify"
)

type fixture struct {
	bus     *events.MemoryBus
	rt      *runtime.Runtime
	archive *archive.Store
	traces  *tracestore.Store
	srv     *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	bus := events.NewMemoryBus()
	snap := &page.Snapshot{
		Status:   "success",
		URL:      "https://shop.example.com/cart",
		Elements: []page.Element{{ID: 1, Role: "button", Text: "Checkout", Importance: 0.9}},
	}
	rt := runtime.New(platformtest.NewBrowser("https://shop.example.com/cart"), provider.NewSequence(snap), runtime.WithSink(bus))

	arch, err := archive.New(filepath.Join(dir, "snapshots"))
	if err != nil {
		t.Fatal(err)
	}
	traces, err := tracestore.Open(filepath.Join(dir, "trace.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { traces.Close() })

	return &fixture{
		bus:     bus,
		rt:      rt,
		archive: arch,
		traces:  traces,
		srv:     New(bus, rt, WithArchive(arch), WithTraceStore(traces)),
	}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestStatusAndStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rt.BeginStep("open cart")
	if _, err := f.rt.Snapshot(ctx, page.SnapshotOptions{}); err != nil {
		t.Fatal(err)
	}
	f.rt.Assert(ctx, verify.Exists("role=button"), "has button", true)
	f.rt.Assert(ctx, verify.Exists("role=slider"), "has slider", false)

	var status map[string]any
	if code := f.get(t, "/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status["snapshots"] != float64(1) || status["assertions"] != float64(2) || status["assertions_failed"] != float64(1) {
		t.Errorf("status = %v", status)
	}

	var step struct {
		Step    runtime.StepInfo `json:"step"`
		Records struct {
			Goal       string           `json:"goal"`
			Assertions []map[string]any `json:"assertions"`
		} `json:"records"`
	}
	if code := f.get(t, "/api/step", &step); code != http.StatusOK {
		t.Fatalf("step code = %d", code)
	}
	if step.Step.Goal != "open cart" || step.Step.Failed != 1 || !step.Step.Open {
		t.Errorf("step = %+v", step.Step)
	}
	if len(step.Records.Assertions) != 2 {
		t.Errorf("records = %+v", step.Records)
	}
}

func TestSnapshotAndTabs(t *testing.T) {
	f := newFixture(t)
	if code := f.get(t, "/api/snapshot", nil); code != http.StatusNotFound {
		t.Errorf("snapshot before any = %d, want 404", code)
	}
	if _, err := f.rt.Snapshot(context.Background(), page.SnapshotOptions{}); err != nil {
		t.Fatal(err)
	}
	var snap page.Snapshot
	if code := f.get(t, "/api/snapshot", &snap); code != http.StatusOK {
		t.Fatalf("snapshot code = %d", code)
	}
	if snap.Generation != 1 || len(snap.Elements) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	var tabs []page.Tab
	if code := f.get(t, "/api/tabs", &tabs); code != http.StatusOK {
		t.Fatalf("tabs code = %d", code)
	}
	if len(tabs) != 1 || tabs[0].URL != "https://shop.example.com/cart" {
		t.Errorf("tabs = %+v", tabs)
	}
}

func TestHistoryFilter(t *testing.T) {
	f := newFixture(t)
	f.rt.BeginStep("one")
	if _, err := f.rt.EndStep(); err != nil {
		t.Fatal(err)
	}

	var all, starts []events.Event
	f.get(t, "/api/history", &all)
	f.get(t, "/api/history?type=step_start", &starts)
	if len(all) != 2 || len(starts) != 1 {
		t.Errorf("history = %d events, %d step_start", len(all), len(starts))
	}
	if code := f.get(t, "/api/history?since=yesterday", nil); code != http.StatusBadRequest {
		t.Errorf("bad since = %d, want 400", code)
	}
}

func TestArchiveEndpoints(t *testing.T) {
	f := newFixture(t)
	snap := &page.Snapshot{Status: "success", URL: "https://shop.example.com/"}
	if err := f.archive.Save("home", snap); err != nil {
		t.Fatal(err)
	}

	var infos []archive.Info
	f.get(t, "/api/snapshots", &infos)
	if len(infos) != 1 || infos[0].Name != "home" {
		t.Errorf("infos = %+v", infos)
	}

	var got page.Snapshot
	if code := f.get(t, "/api/snapshots/home", &got); code != http.StatusOK {
		t.Fatalf("get code = %d", code)
	}
	if got.URL != snap.URL {
		t.Errorf("URL = %q", got.URL)
	}
	if code := f.get(t, "/api/snapshots/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing = %d, want 404", code)
	}
	if code := f.get(t, "/api/snapshots/..", nil); code != http.StatusBadRequest {
		t.Errorf("invalid name = %d, want 400", code)
	}
}

func TestRunEndpoints(t *testing.T) {
	f := newFixture(t)
	run, err := f.traces.BeginRun("checkout")
	if err != nil {
		t.Fatal(err)
	}
	run.Emit(events.NewEvent(events.EventStepStart, "s1", map[string]any{"goal": "a"}))
	run.Emit(events.NewEvent(events.EventStepEnd, "s1", nil))
	run.Finish(true)

	var runs []tracestore.RunInfo
	f.get(t, "/api/runs", &runs)
	if len(runs) != 1 || runs[0].Name != "checkout" {
		t.Fatalf("runs = %+v", runs)
	}

	var evs []events.Event
	if code := f.get(t, "/api/runs/"+run.ID()+"/events", &evs); code != http.StatusOK {
		t.Fatalf("events code = %d", code)
	}
	got := make([]events.EventType, len(evs))
	for i, e := range evs {
		got[i] = e.Type
	}
	if diff := cmp.Diff([]events.EventType{events.EventStepStart, events.EventStepEnd}, got); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if code := f.get(t, "/api/runs/nope/events", nil); code != http.StatusNotFound {
		t.Errorf("unknown run = %d, want 404", code)
	}
}

func TestStreamSendsHistory(t *testing.T) {
	f := newFixture(t)
	f.rt.BeginStep("stream me")

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?type=step_start", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[0] != "event: step_start" {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], `"stream me"`) {
		t.Errorf("data line = %q", lines[1])
	}
}
