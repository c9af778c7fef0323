// Package tracestore persists trace events in bbolt, one nested bucket per
// run, keyed by a monotonically increasing sequence.
package tracestore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cgast/agbrowse/pkg/events"
)

const (
	bucketRuns  = "runs"
	bucketTrace = "trace"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunInfo is the metadata stored for every run.
type RunInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Passed     *bool      `json:"passed,omitempty"`
	EventCount uint64     `json:"event_count"`
}

// Store is a bbolt-backed append-only trace store.
type Store struct {
	db  *bolt.DB
	mu  sync.RWMutex
	now func() time.Time
}

// Open opens or creates the trace database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketRuns, bucketTrace} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun registers a new run and returns a sink that appends to it.
func (s *Store) BeginRun(name string) (*Run, error) {
	info := RunInfo{ID: uuid.NewString(), Name: name, StartedAt: s.now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.Bucket([]byte(bucketTrace)).CreateBucket([]byte(info.ID)); err != nil {
			return fmt.Errorf("create run bucket: %w", err)
		}
		return putInfo(tx, info)
	})
	if err != nil {
		return nil, err
	}
	return &Run{store: s, id: info.ID}, nil
}

func putInfo(tx *bolt.Tx, info RunInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal run info: %w", err)
	}
	return tx.Bucket([]byte(bucketRuns)).Put([]byte(info.ID), data)
}

func getInfo(tx *bolt.Tx, id string) (RunInfo, error) {
	var info RunInfo
	data := tx.Bucket([]byte(bucketRuns)).Get([]byte(id))
	if data == nil {
		return info, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("unmarshal run %s: %w", id, err)
	}
	return info, nil
}

func (s *Store) append(runID string, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTrace)).Bucket([]byte(runID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		info, err := getInfo(tx, runID)
		if err != nil {
			return err
		}
		info.EventCount = seq
		return putInfo(tx, info)
	})
}

func (s *Store) finish(runID string, passed *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		info, err := getInfo(tx, runID)
		if err != nil {
			return err
		}
		if info.EndedAt != nil {
			return nil
		}
		ended := s.now().UTC()
		info.EndedAt = &ended
		info.Passed = passed
		return putInfo(tx, info)
	})
}

// Runs lists every run, oldest first.
func (s *Store) Runs() ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RunInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).ForEach(func(k, v []byte) error {
			var info RunInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("unmarshal run %s: %w", string(k), err)
			}
			out = append(out, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Run returns the metadata of a single run.
func (s *Store) Run(id string) (RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var info RunInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		info, err = getInfo(tx, id)
		return err
	})
	return info, err
}

// Latest returns the most recently started run.
func (s *Store) Latest() (RunInfo, error) {
	runs, err := s.Runs()
	if err != nil {
		return RunInfo{}, err
	}
	if len(runs) == 0 {
		return RunInfo{}, ErrRunNotFound
	}
	return runs[len(runs)-1], nil
}

// Replay calls fn for every event of the run in emission order. Returning
// an error from fn stops the replay and is returned unchanged.
func (s *Store) Replay(runID string, fn func(seq uint64, event events.Event) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTrace)).Bucket([]byte(runID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e events.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if err := fn(binary.BigEndian.Uint64(k), e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Events collects a run's events.
func (s *Store) Events(runID string) ([]events.Event, error) {
	var out []events.Event
	err := s.Replay(runID, func(_ uint64, e events.Event) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Run is an open run. It implements events.Sink.
type Run struct {
	store *Store
	id    string
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Emit appends event to the run, stamping the run id.
func (r *Run) Emit(event events.Event) error {
	event.RunID = r.id
	return r.store.append(r.id, event)
}

// Finish records the run's verdict. Later calls are ignored.
func (r *Run) Finish(passed bool) error {
	return r.store.finish(r.id, &passed)
}

// Close marks the run ended without a verdict unless Finish was called.
func (r *Run) Close() error {
	return r.store.finish(r.id, nil)
}
