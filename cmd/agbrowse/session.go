package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgast/agbrowse/internal/inspector"
	"github.com/cgast/agbrowse/internal/sandbox"
	"github.com/cgast/agbrowse/pkg/archive"
	"github.com/cgast/agbrowse/pkg/events"
	"github.com/cgast/agbrowse/pkg/platform"
	"github.com/cgast/agbrowse/pkg/platform/rod"
	"github.com/cgast/agbrowse/pkg/provider"
	"github.com/cgast/agbrowse/pkg/runtime"
	"github.com/cgast/agbrowse/pkg/tracestore"
)

// session is a live browser plus everything that observes it.
type session struct {
	runID   string
	rt      *runtime.Runtime
	bus     *events.MemoryBus
	archive *archive.Store

	browser platform.Browser
	traces  *tracestore.Store
	run     *tracestore.Run
	sink    events.Sink
	stop    context.CancelFunc
	log     *zap.Logger
}

// openSession launches the browser and wires trace sinks, the snapshot
// archive and the inspector. With snapshotFiles the page is still driven
// live but snapshots come from the files in order.
func (a *app) openSession(ctx context.Context, name string, snapshotFiles []string) (*session, error) {
	guard, err := sandbox.New(sandbox.Config{
		AllowedDomains: a.cfg.Sandbox.AllowedDomains,
		DeniedDomains:  a.cfg.Sandbox.DeniedDomains,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	var prov runtime.SnapshotProvider
	if len(snapshotFiles) > 0 {
		seq, err := provider.LoadSequence(snapshotFiles...)
		if err != nil {
			return nil, err
		}
		prov = seq
	} else {
		prov = provider.NewExtension(
			provider.WithReadyTimeout(a.cfg.Snapshot.ExtensionTimeout),
			provider.WithLogger(a.log.Named("provider")),
		)
	}

	browser, err := rod.Launch(ctx, rod.Options{
		RemoteURL:         a.cfg.Browser.Remote,
		Headless:          a.cfg.Browser.Headless,
		Stealth:           a.cfg.Browser.Stealth,
		NavigationTimeout: a.cfg.Browser.NavigationTimeout,
		Logger:            a.log.Named("browser"),
	})
	if err != nil {
		return nil, err
	}

	s := &session{browser: browser, bus: events.NewMemoryBus(), log: a.log}
	if err := s.openTrace(a, name); err != nil {
		browser.Close()
		return nil, err
	}
	if dir := a.cfg.Archive.Dir; dir != "" {
		if s.archive, err = archive.New(dir); err != nil {
			s.Close(nil)
			return nil, err
		}
	}

	opts := []runtime.Option{
		runtime.WithSink(s.sink),
		runtime.WithLogger(a.log.Named("runtime")),
		runtime.WithConfidencePolicy(a.cfg.ConfidencePolicy()),
		runtime.WithEventuallyDefaults(a.cfg.EventuallyDefaults()),
		runtime.WithSnapshotDefaults(a.cfg.SnapshotDefaults()),
		runtime.WithMaxOutputChars(a.cfg.Eval.MaxOutputChars),
	}
	if guard.Enabled() {
		opts = append(opts, runtime.WithNavigationGuard(guard.CheckURL))
	}
	s.rt = runtime.New(browser, prov, opts...)

	ictx, stop := context.WithCancel(ctx)
	s.stop = stop
	if port := a.inspector(); port > 0 {
		srv := inspector.New(s.bus, s.rt,
			inspector.WithArchive(s.archive),
			inspector.WithTraceStore(s.traces),
			inspector.WithLogger(a.log.Named("inspector")))
		srv.StartAsync(ictx, port)
		fmt.Fprintf(os.Stderr, "Inspector running at http://localhost:%d\n", port)
	}

	a.log.Info("session opened", zap.String("run_id", s.runID), zap.String("name", name))
	return s, nil
}

// openTrace sets up the sink chain: the in-memory bus, the debug log, the
// bbolt run and an optional JSONL file. Every event is stamped with the run id.
func (s *session) openTrace(a *app, name string) error {
	sinks := events.MultiSink{s.bus, events.LogSink{Logger: a.log.Named("trace")}}

	if path := a.cfg.Trace.DBPath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create trace dir: %w", err)
		}
		traces, err := tracestore.Open(path)
		if err != nil {
			return err
		}
		run, err := traces.BeginRun(name)
		if err != nil {
			traces.Close()
			return err
		}
		s.traces, s.run, s.runID = traces, run, run.ID()
		sinks = append(sinks, run)
	} else {
		s.runID = uuid.NewString()
	}

	if path := a.cfg.Trace.JSONLPath; path != "" {
		jsonl, err := events.OpenJSONL(path)
		if err != nil {
			if s.traces != nil {
				s.traces.Close()
			}
			return err
		}
		sinks = append(sinks, jsonl)
	}

	s.sink = events.RunSink{RunID: s.runID, Next: sinks}
	return nil
}

// Close records the verdict when passed is non-nil, then releases the
// sinks, the trace store and the browser.
func (s *session) Close(passed *bool) error {
	var errs []error
	if s.stop != nil {
		s.stop()
	}
	if s.run != nil && passed != nil {
		errs = append(errs, s.run.Finish(*passed))
	}
	if s.sink != nil {
		errs = append(errs, s.sink.Close())
	}
	if s.traces != nil {
		errs = append(errs, s.traces.Close())
	}
	errs = append(errs, s.browser.Close())
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("session close", zap.Error(err))
		return err
	}
	return nil
}
