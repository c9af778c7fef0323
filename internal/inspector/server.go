package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/archive"
	"github.com/cgast/agbrowse/pkg/events"
	"github.com/cgast/agbrowse/pkg/runtime"
	"github.com/cgast/agbrowse/pkg/tracestore"
)

// Server is the inspector HTTP server. It exposes the live runtime state,
// the in-memory trace and a server-sent event stream.
type Server struct {
	bus       events.EventBus
	rt        *runtime.Runtime
	archive   *archive.Store
	traces    *tracestore.Store
	log       *zap.Logger
	router    *chi.Mux
	startTime time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithArchive exposes archived snapshots under /api/snapshots.
func WithArchive(a *archive.Store) Option {
	return func(s *Server) { s.archive = a }
}

// WithTraceStore exposes persisted runs under /api/runs.
func WithTraceStore(t *tracestore.Store) Option {
	return func(s *Server) { s.traces = t }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a new inspector server.
func New(bus events.EventBus, rt *runtime.Runtime, opts ...Option) *Server {
	s := &Server{
		bus:       bus,
		rt:        rt,
		log:       zap.NewNop(),
		startTime: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/events", s.handleStream)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/step", s.handleStep)
		r.Get("/tabs", s.handleTabs)
		r.Get("/snapshot", s.handleSnapshot)
		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", s.handleArchiveList)
			r.Get("/{name}", s.handleArchiveGet)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleRuns)
			r.Get("/{runID}/events", s.handleRunEvents)
		})
	})
	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("inspector: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("inspector listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("inspector: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine and returns immediately.
func (s *Server) StartAsync(ctx context.Context, port int) {
	go func() {
		if err := s.Start(ctx, fmt.Sprintf(":%d", port)); err != nil {
			s.log.Error("inspector stopped", zap.Error(err))
		}
	}()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("inspector request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// handleStream sends the event history followed by live events as
// server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, past := s.bus.SubscribeWithHistory(eventFilter(r)...)
	defer s.bus.Unsubscribe(ch)

	for _, ev := range past {
		writeEvent(w, ev)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

func eventFilter(r *http.Request) []events.EventType {
	var out []events.EventType
	for _, t := range r.URL.Query()["type"] {
		out = append(out, events.EventType(t))
	}
	return out
}

func matches(filter []events.EventType, t events.EventType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == t {
			return true
		}
	}
	return false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	history := s.bus.History(time.Time{})
	var snapshots, asserts, failed int
	for _, ev := range history {
		switch ev.Type {
		case events.EventSnapshot:
			snapshots++
		case events.EventAssert:
			asserts++
			if passed, _ := ev.Data["passed"].(bool); !passed {
				failed++
			}
		}
	}

	status := map[string]any{
		"uptime":            time.Since(s.startTime).String(),
		"events":            len(history),
		"snapshots":         snapshots,
		"assertions":        asserts,
		"assertions_failed": failed,
	}
	if s.rt != nil {
		status["step"] = s.rt.Step()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
			return
		}
		since = t
	}
	filter := eventFilter(r)
	out := []events.Event{}
	for _, ev := range s.bus.History(since) {
		if matches(filter, ev.Type) {
			out = append(out, ev)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if s.rt == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no runtime attached"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"step":    s.rt.Step(),
		"records": s.rt.GetAssertionsForStepEnd(),
	})
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	if s.rt == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no runtime attached"))
		return
	}
	tabs, err := s.rt.ListTabs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tabs)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.rt == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no runtime attached"))
		return
	}
	snap := s.rt.LastSnapshot()
	if snap == nil {
		writeError(w, http.StatusNotFound, errors.New("no snapshot taken yet"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusOK, []archive.Info{})
		return
	}
	infos, err := s.archive.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, errors.New("no snapshot archive configured"))
		return
	}
	snap, err := s.archive.Load(chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, archive.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.traces == nil {
		writeJSON(w, http.StatusOK, []tracestore.RunInfo{})
		return
	}
	runs, err := s.traces.Runs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.traces == nil {
		writeError(w, http.StatusNotFound, errors.New("no trace store configured"))
		return
	}
	evs, err := s.traces.Events(chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, tracestore.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		if evs == nil {
			evs = []events.Event{}
		}
		writeJSON(w, http.StatusOK, evs)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
