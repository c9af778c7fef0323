package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/events"
	"github.com/cgast/agbrowse/pkg/protocol"
	"github.com/cgast/agbrowse/pkg/spec"
)

func newAgentCmd(a *app) *cobra.Command {
	var (
		name      string
		startURL  string
		snapshots []string
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve the runtime as JSON-RPC 2.0 over stdin/stdout",
		Long: `agent reads one JSON-RPC request per line from stdin and writes one
response per line to stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openSession(ctx, name, snapshots)
			if err != nil {
				return err
			}
			defer s.Close(nil)

			if startURL != "" {
				if err := s.rt.Navigate(ctx, startURL); err != nil {
					return err
				}
			}

			h := protocol.NewHandler(a.log.Named("rpc"))
			protocol.RegisterRuntime(h, s.rt)

			opts := []spec.Option{spec.WithLogger(a.log.Named("runner")), spec.WithRunID(s.runID)}
			if s.archive != nil {
				opts = append(opts, spec.WithArchive(s.archive))
			}
			if rep := a.reporter(); rep != nil {
				opts = append(opts, spec.WithReporter(rep))
			}
			protocol.RegisterScenarios(h, spec.NewRunner(s.rt, opts...), s.rt.EventuallyDefaults())

			s.sink.Emit(events.NewEvent(events.EventRunStart, "", map[string]any{
				"mode":    "agent",
				"methods": h.Methods(),
			}))
			a.log.Info("agent mode started", zap.String("run_id", s.runID), zap.Int("methods", len(h.Methods())))

			err = h.Serve(ctx, os.Stdin, cmd.OutOrStdout())
			s.sink.Emit(events.NewEvent(events.EventRunEnd, "", map[string]any{"mode": "agent"}))
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "agent", "run name recorded in the trace store")
	cmd.Flags().StringVar(&startURL, "url", "", "navigate the first tab here before serving")
	cmd.Flags().StringArrayVar(&snapshots, "snapshots", nil, "snapshot JSON files served in order instead of the page extension")
	return cmd
}
