package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/platform/platformtest"
)

func TestExtensionSnapshot(t *testing.T) {
	b := platformtest.NewBrowser("https://example.com/login")
	p := b.Page(0)
	p.EvalFunc = func(js string) (any, error) {
		if !strings.HasPrefix(js, "window.sentience.snapshot(") {
			t.Errorf("unexpected script %q", js)
		}
		if !strings.Contains(js, `"limit":25`) {
			t.Errorf("options not forwarded: %q", js)
		}
		return map[string]any{
			"status": "success",
			"elements": []any{
				map[string]any{"id": float64(3), "role": "button", "text": "Sign in", "importance": 0.8,
					"bbox": map[string]any{"x": 1.0, "y": 2.0, "width": 3.0, "height": 4.0}},
			},
			"diagnostics": map[string]any{"confidence": 0.93},
		}, nil
	}

	snap, err := NewExtension().Snapshot(context.Background(), p, page.SnapshotOptions{Limit: 25})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.URL != "https://example.com/login" {
		t.Errorf("URL = %q, want page url fallback", snap.URL)
	}
	if len(snap.Elements) != 1 || snap.Elements[0].ID != 3 || snap.Elements[0].BBox.Height != 4 {
		t.Errorf("elements = %+v", snap.Elements)
	}
	if c, ok := snap.Confidence(); !ok || c != 0.93 {
		t.Errorf("confidence = %v, %v", c, ok)
	}
	if snap.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestExtensionErrors(t *testing.T) {
	tests := []struct {
		name  string
		ready bool
		eval  func(string) (any, error)
		check func(error) bool
	}{
		{"not ready", false, nil, func(err error) bool { return strings.Contains(err.Error(), "not ready") }},
		{"eval fails", true, func(string) (any, error) { return nil, errors.New("boom") }, func(err error) bool { return strings.Contains(err.Error(), "boom") }},
		{"nothing returned", true, func(string) (any, error) { return nil, nil }, func(err error) bool { return strings.Contains(err.Error(), "nothing") }},
		{"error status", true, func(string) (any, error) {
			return map[string]any{"status": "error", "error": "no document"}, nil
		}, func(err error) bool { return errors.Is(err, ErrProviderStatus) && strings.Contains(err.Error(), "no document") }},
		{"wrong shape", true, func(string) (any, error) { return "nope", nil }, func(err error) bool { return strings.Contains(err.Error(), "decode") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := platformtest.NewBrowser("https://example.com").Page(0)
			ready := tt.ready
			p.Ready = func(string) bool { return ready }
			p.EvalFunc = tt.eval
			_, err := NewExtension().Snapshot(context.Background(), p, page.SnapshotOptions{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSequenceRepeatsLast(t *testing.T) {
	seq := NewSequence(
		&page.Snapshot{Status: "success", URL: "https://a"},
		&page.Snapshot{Status: "success", URL: "https://b"},
	)
	var urls []string
	for i := 0; i < 4; i++ {
		s, err := seq.Snapshot(context.Background(), nil, page.SnapshotOptions{})
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		urls = append(urls, s.URL)
	}
	if got := strings.Join(urls, ","); got != "https://a,https://b,https://b,https://b" {
		t.Errorf("urls = %s", got)
	}
	if seq.Served() != 2 {
		t.Errorf("Served = %d", seq.Served())
	}
}

func TestSequenceReturnsCopies(t *testing.T) {
	orig := &page.Snapshot{Elements: []page.Element{{ID: 1, Text: "a"}}}
	seq := NewSequence(orig)
	s, _ := seq.Snapshot(context.Background(), nil, page.SnapshotOptions{})
	s.Elements[0].Text = "changed"
	s.Generation = 9
	if orig.Elements[0].Text != "a" || orig.Generation != 0 {
		t.Error("sequence handed out its own snapshot")
	}
}

func TestSequenceErrorStatusAndCancel(t *testing.T) {
	seq := NewSequence(&page.Snapshot{Status: "error", Error: "crashed"})
	if _, err := seq.Snapshot(context.Background(), nil, page.SnapshotOptions{}); !errors.Is(err, ErrProviderStatus) {
		t.Errorf("err = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := seq.Snapshot(ctx, nil, page.SnapshotOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestLoadSequence(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "one.json")
	os.WriteFile(good, []byte(`{"status":"success","url":"https://x","elements":[{"id":1,"role":"link"}]}`), 0644)
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{`), 0644)

	seq, err := LoadSequence(good)
	if err != nil {
		t.Fatalf("LoadSequence: %v", err)
	}
	s, _ := seq.Snapshot(context.Background(), nil, page.SnapshotOptions{})
	if s.URL != "https://x" || len(s.Elements) != 1 {
		t.Errorf("snapshot = %+v", s)
	}

	if _, err := LoadSequence(); err == nil {
		t.Error("expected error for no files")
	}
	if _, err := LoadSequence(good, bad); err == nil {
		t.Error("expected parse error")
	}
	if _, err := LoadSequence(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected read error")
	}
}
