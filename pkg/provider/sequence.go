package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/platform"
)

// Sequence replays a fixed list of snapshots, one per call. Once exhausted
// it keeps returning the last one.
type Sequence struct {
	mu    sync.Mutex
	snaps []*page.Snapshot
	next  int
}

// NewSequence creates a provider over snaps. It panics if snaps is empty.
func NewSequence(snaps ...*page.Snapshot) *Sequence {
	if len(snaps) == 0 {
		panic("provider: empty snapshot sequence")
	}
	return &Sequence{snaps: snaps}
}

// LoadSequence reads each path as a snapshot JSON file.
func LoadSequence(paths ...string) (*Sequence, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("provider: no snapshot files given")
	}
	snaps := make([]*page.Snapshot, 0, len(paths))
	for _, p := range paths {
		s, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return NewSequence(snaps...), nil
}

// Snapshot returns the next snapshot in the sequence. The page is ignored.
func (s *Sequence) Snapshot(ctx context.Context, _ platform.Page, _ page.SnapshotOptions) (*page.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.next
	if i >= len(s.snaps) {
		i = len(s.snaps) - 1
	} else {
		s.next++
	}
	cp := *s.snaps[i]
	cp.Elements = append([]page.Element(nil), s.snaps[i].Elements...)
	if cp.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrProviderStatus, cp.Error)
	}
	return &cp, nil
}

// Served reports how many distinct snapshots have been handed out.
func (s *Sequence) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// ReadFile decodes a snapshot JSON file.
func ReadFile(path string) (*page.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap page.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return &snap, nil
}
