package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// JSONLSink writes one JSON object per line.
type JSONLSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLSink writes events to w. If w is an io.Closer it is closed by Close.
func NewJSONLSink(w io.Writer) *JSONLSink {
	s := &JSONLSink{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenJSONL appends events to the file at path, creating it if needed.
func OpenJSONL(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return NewJSONLSink(f), nil
}

func (s *JSONLSink) Emit(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// ReadJSONL decodes a stream written by JSONLSink.
func ReadJSONL(r io.Reader) ([]Event, error) {
	dec := json.NewDecoder(r)
	var out []Event
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decode trace event %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
}

// MultiSink fans events out to every sink. Every sink sees every event even
// when an earlier one fails; the errors are joined.
type MultiSink []Sink

func (m MultiSink) Emit(event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunSink stamps every event with a run id before forwarding it.
type RunSink struct {
	RunID string
	Next  Sink
}

func (r RunSink) Emit(event Event) error {
	if event.RunID == "" {
		event.RunID = r.RunID
	}
	return r.Next.Emit(event)
}

func (r RunSink) Close() error { return r.Next.Close() }

// LogSink mirrors events to a zap logger at debug level.
type LogSink struct {
	Logger *zap.Logger
}

func (l LogSink) Emit(event Event) error {
	if l.Logger == nil {
		return nil
	}
	fields := []zap.Field{zap.String("type", string(event.Type))}
	if event.StepID != "" {
		fields = append(fields, zap.String("step_id", event.StepID))
	}
	if event.RunID != "" {
		fields = append(fields, zap.String("run_id", event.RunID))
	}
	fields = append(fields, zap.Any("data", event.Data))
	l.Logger.Debug("trace event", fields...)
	return nil
}

func (l LogSink) Close() error { return nil }

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) error { return nil }
func (discard) Close() error     { return nil }
