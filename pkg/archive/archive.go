// Package archive keeps named snapshots on disk so two page states can be
// compared after the fact.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cgast/agbrowse/pkg/diff"
	"github.com/cgast/agbrowse/pkg/page"
)

// ErrInvalidName is returned for names that are empty or contain a path
// separator.
var ErrInvalidName = errors.New("archive: invalid snapshot name")

// Info is metadata about an archived snapshot.
type Info struct {
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Elements int       `json:"elements"`
	SavedAt  time.Time `json:"saved_at"`
}

// Comparison is the outcome of diffing two archived snapshots. Elements
// holds every id seen in either, tagged relative to the older one.
type Comparison struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Elements []page.Element `json:"elements"`
	Summary  diff.Summary   `json:"summary"`
}

// Changed returns the elements whose status is set.
func (c Comparison) Changed() []page.Element {
	var out []page.Element
	for _, el := range c.Elements {
		if el.DiffStatus != "" {
			out = append(out, el)
		}
	}
	return out
}

// Store persists snapshots as JSON files in a directory.
type Store struct {
	dir string
}

// New creates the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the archive directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Save writes snap under name, replacing any earlier snapshot of that name.
func (s *Store) Save(name string, snap *page.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("archive: nil snapshot")
	}
	path, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads the snapshot saved under name.
func (s *Store) Load(name string) (*page.Snapshot, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %q: %w", name, err)
	}
	var snap page.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %q: %w", name, err)
	}
	return &snap, nil
}

// List returns archived snapshots, oldest first.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list archive: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info := Info{Name: name, SavedAt: fi.ModTime()}
		// Unreadable files are still listed so they can be inspected.
		if snap, err := s.Load(name); err == nil {
			info.URL = snap.URL
			info.Elements = len(snap.Elements)
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].SavedAt.Equal(infos[j].SavedAt) {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].SavedAt.Before(infos[j].SavedAt)
	})
	return infos, nil
}

// Delete removes the snapshot saved under name.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", name, err)
	}
	return nil
}

// Diff compares snapshot a (older) with b (newer).
func (s *Store) Diff(a, b string) (Comparison, error) {
	from, err := s.Load(a)
	if err != nil {
		return Comparison{}, fmt.Errorf("load snapshot %q: %w", a, err)
	}
	to, err := s.Load(b)
	if err != nil {
		return Comparison{}, fmt.Errorf("load snapshot %q: %w", b, err)
	}
	return Compare(a, from, b, to), nil
}

// Compare diffs two snapshots that are already in memory.
func Compare(fromName string, from *page.Snapshot, toName string, to *page.Snapshot) Comparison {
	tagged := diff.ComputeDiffStatus(to, from)
	return Comparison{
		From:     fromName,
		To:       toName,
		Elements: tagged,
		Summary:  diff.Summarize(tagged),
	}
}
