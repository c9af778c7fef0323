package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cgast/agbrowse/pkg/events"
	"github.com/cgast/agbrowse/pkg/tracestore"
)

func newReplayCmd(a *app) *cobra.Command {
	var (
		list   bool
		jsonl  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "replay [run-id]",
		Short: "Print a recorded trace",
		Long: `replay prints the events of a recorded run in emission order. Without a
run id the most recent run is shown. --jsonl reads a JSONL trace file instead
of the trace database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if jsonl != "" {
				f, err := os.Open(jsonl)
				if err != nil {
					return fmt.Errorf("open trace: %w", err)
				}
				defer f.Close()
				evs, err := events.ReadJSONL(f)
				if err != nil {
					return err
				}
				return printEvents(out, evs, asJSON)
			}

			store, err := tracestore.Open(a.cfg.Trace.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if list {
				runs, err := store.Runs()
				if err != nil {
					return err
				}
				printRuns(out, runs)
				return nil
			}

			var info tracestore.RunInfo
			if len(args) == 1 {
				info, err = store.Run(args[0])
			} else {
				info, err = store.Latest()
			}
			if err != nil {
				return err
			}
			evs, err := store.Events(info.ID)
			if err != nil {
				return err
			}
			if !asJSON {
				fmt.Fprintf(out, "Run %s (%s) started %s, %d event(s)\n",
					info.ID, info.Name, info.StartedAt.Format(time.RFC3339), info.EventCount)
			}
			return printEvents(out, evs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list recorded runs")
	cmd.Flags().StringVar(&jsonl, "jsonl", "", "read events from a JSONL trace file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	return cmd
}

func printRuns(w io.Writer, runs []tracestore.RunInfo) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		verdict := "running"
		switch {
		case r.Passed != nil && *r.Passed:
			verdict = "passed"
		case r.Passed != nil:
			verdict = "failed"
		case r.EndedAt != nil:
			verdict = "ended"
		}
		fmt.Fprintf(w, "%s  %-20s %-8s %s  %d event(s)\n",
			r.ID, r.Name, verdict, r.StartedAt.Format(time.RFC3339), r.EventCount)
	}
}

func printEvents(w io.Writer, evs []events.Event, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, e := range evs {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range evs {
		fmt.Fprintf(w, "%s  %-10s %s\n", e.Timestamp.Format("15:04:05.000"), e.Type, describeEvent(e))
	}
	return nil
}

// describeEvent renders the interesting fields of an event on one line.
func describeEvent(e events.Event) string {
	d := e.Data
	switch e.Type {
	case events.EventStepStart:
		return fmt.Sprintf("%v", d["goal"])
	case events.EventSnapshot:
		return fmt.Sprintf("g%v %v (%v elements)", d["generation"], d["url"], d["element_count"])
	case events.EventAssert:
		mark := "pass"
		if p, _ := d["passed"].(bool); !p {
			mark = "FAIL"
		}
		s := fmt.Sprintf("%s %v", mark, d["label"])
		if r, _ := d["reason"].(string); r != "" {
			s += ": " + r
		}
		return s
	}
	if len(d) == 0 {
		return ""
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, d[k]))
	}
	return strings.Join(parts, " ")
}
