package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cgast/agbrowse/pkg/diff"
	"github.com/cgast/agbrowse/pkg/page"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func cartSnapshot() *page.Snapshot {
	return &page.Snapshot{
		Status: "success",
		URL:    "https://shop.example.com/cart",
		Elements: []page.Element{
			{ID: 1, Role: "button", Text: "Checkout", Importance: 0.9, BBox: page.BBox{X: 10, Y: 10, Width: 80, Height: 30}},
			{ID: 2, Role: "link", Text: "Help", Importance: 0.2, BBox: page.BBox{X: 10, Y: 300, Width: 40, Height: 20}},
		},
		Diagnostics: &page.Diagnostics{Confidence: page.Float(0.92)},
	}
}

func TestSaveLoad(t *testing.T) {
	s := newStore(t)
	if err := s.Save("cart", cartSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load("cart")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(cartSnapshot(), got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissing(t *testing.T) {
	s := newStore(t)
	if _, err := s.Load("nonexistent"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestInvalidNames(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if err := s.Save(name, cartSnapshot()); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Save(%q) = %v", name, err)
		}
	}
	if err := s.Save("ok", nil); err == nil {
		t.Error("nil snapshot should be rejected")
	}
}

func TestListAndDelete(t *testing.T) {
	s := newStore(t)
	if infos, err := s.List(); err != nil || len(infos) != 0 {
		t.Fatalf("List on empty = %v, %v", infos, err)
	}
	s.Save("b-after", cartSnapshot())
	s.Save("a-before", &page.Snapshot{Status: "success", URL: "https://shop.example.com/"})
	os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("ignored"), 0644)

	infos, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	byName := map[string]Info{}
	for _, i := range infos {
		byName[i.Name] = i
	}
	if len(byName) != 2 {
		t.Fatalf("infos = %+v", infos)
	}
	if byName["b-after"].Elements != 2 || byName["a-before"].URL != "https://shop.example.com/" {
		t.Errorf("infos = %+v", infos)
	}

	if err := s.Delete("a-before"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	infos, _ = s.List()
	if len(infos) != 1 || infos[0].Name != "b-after" {
		t.Errorf("after delete = %+v", infos)
	}
}

func TestDiff(t *testing.T) {
	s := newStore(t)
	before := cartSnapshot()
	after := cartSnapshot()
	after.Elements[0].Text = "Checking out..."
	after.Elements = append(after.Elements[:1], page.Element{ID: 3, Role: "dialog", Text: "Payment"})
	s.Save("before", before)
	s.Save("after", after)

	cmpr, err := s.Diff("before", "after")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	want := diff.Summary{Added: 1, Modified: 1, Removed: 1}
	if d := cmp.Diff(want, cmpr.Summary); d != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", d)
	}
	var ids []int
	for _, el := range cmpr.Changed() {
		ids = append(ids, el.ID)
	}
	if d := cmp.Diff([]int{1, 3, 2}, ids); d != "" {
		t.Errorf("changed ids mismatch (-want +got):\n%s", d)
	}

	if _, err := s.Diff("before", "missing"); err == nil {
		t.Error("expected error for missing snapshot")
	}
}
