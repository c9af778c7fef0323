package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/agbrowse/pkg/platform/github"
	"github.com/cgast/agbrowse/pkg/spec"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		params    []string
		snapshots []string
		asJSON    bool
		noReport  bool
	)
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a verification scenario against a live browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadScenario(args[0], params)
			if err != nil {
				return err
			}
			if vr := spec.ValidateScenario(sc); !vr.Valid() {
				return fmt.Errorf("scenario validation failed:\n  %s", strings.Join(validationMessages(vr), "\n  "))
			}

			ctx := cmd.Context()
			s, err := a.openSession(ctx, sc.Meta.Name, snapshots)
			if err != nil {
				return err
			}

			opts := []spec.Option{
				spec.WithLogger(a.log.Named("runner")),
				spec.WithRunID(s.runID),
			}
			if s.archive != nil {
				opts = append(opts, spec.WithArchive(s.archive))
			}
			if !noReport {
				if rep := a.reporter(); rep != nil {
					opts = append(opts, spec.WithReporter(rep))
				}
			}

			res, runErr := spec.NewRunner(s.rt, opts...).Run(ctx, sc)
			passed := runErr == nil && res.Passed
			s.Close(&passed)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printResult(out, res)
			}

			if runErr != nil {
				return runErr
			}
			if !res.Passed {
				return fmt.Errorf("scenario %q failed", sc.Meta.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "scenario parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&snapshots, "snapshots", nil, "snapshot JSON files served in order instead of the page extension")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "do not file a GitHub issue on failure")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Validate a scenario and print its execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			sc, err := loadScenario(args[0], params)
			if err != nil {
				return err
			}
			vr := spec.ValidateScenario(sc)
			if !vr.Valid() {
				fmt.Fprintf(out, "Scenario %q has %d error(s):\n", sc.Meta.Name, len(vr.Errors))
				for _, m := range validationMessages(vr) {
					fmt.Fprintf(out, "  - %s\n", m)
				}
				return fmt.Errorf("validation failed")
			}

			plan, err := spec.GeneratePlan(sc, a.cfg.EventuallyDefaults())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Scenario %q is valid.\n\n", sc.Meta.Name)
			displayPlan(out, plan)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "scenario parameter as key=value (repeatable)")
	return cmd
}

// reporter builds the GitHub failure reporter, or nil when not configured.
func (a *app) reporter() spec.FailureReporter {
	gh := a.platforms.GitHub
	if gh.Token == "" || gh.Repo == "" {
		return nil
	}
	client, err := github.NewClient(gh.Token)
	if err != nil {
		a.log.Warn("github client init", zap.Error(err))
		return nil
	}
	rep, err := github.NewReporter(client, gh.Repo, gh.Labels, a.log.Named("github"))
	if err != nil {
		a.log.Warn("github reporter init", zap.Error(err))
		return nil
	}
	return rep
}

func loadScenario(path string, params []string) (spec.Scenario, error) {
	kv, err := parseParams(params)
	if err != nil {
		return spec.Scenario{}, err
	}
	sc, err := spec.LoadScenario(path, kv)
	if err != nil {
		return spec.Scenario{}, fmt.Errorf("load scenario: %w", err)
	}
	return sc, nil
}

// parseParams splits key=value pairs.
func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q: want key=value", arg)
		}
		params[k] = v
	}
	return params, nil
}

func validationMessages(vr spec.ValidationResult) []string {
	msgs := make([]string, len(vr.Errors))
	for i, e := range vr.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return msgs
}

// displayPlan prints a human-readable representation of the execution plan.
func displayPlan(w io.Writer, plan spec.ExecutionPlan) {
	fmt.Fprintf(w, "Scenario: %s\n", plan.Scenario)
	if plan.StartURL != "" {
		fmt.Fprintf(w, "Start:    %s\n", plan.StartURL)
	}
	fmt.Fprintf(w, "Steps:\n")
	for i, step := range plan.Steps {
		marker := ""
		if step.Interactive {
			marker = " [interactive]"
		}
		fmt.Fprintf(w, "  %d. %s%s\n", i+1, step.Goal, marker)
		for _, a := range step.Actions {
			fmt.Fprintf(w, "     > %s\n", a)
		}
		for _, c := range step.Checks {
			kind := "optional"
			switch {
			case c.Done:
				kind = "done"
			case c.Required:
				kind = "required"
			}
			line := fmt.Sprintf("     ? %s (%s)", c.Label, kind)
			if c.Retry != "" {
				line += ", " + c.Retry
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintf(w, "%s\n", plan.Summary)
}

// printResult summarizes a run: one line per step, failing checks indented.
func printResult(w io.Writer, res spec.Result) {
	for _, st := range res.Steps {
		status := "PASS"
		if !st.Passed() {
			status = "FAIL"
		}
		fmt.Fprintf(w, "[%s] %d. %s\n", status, st.Index+1, st.Goal)
		for _, rec := range st.End.Assertions {
			if rec.Passed() {
				continue
			}
			req := ""
			if rec.Required {
				req = " (required)"
			}
			fmt.Fprintf(w, "       x %s%s: %s\n", rec.Label, req, rec.Outcome.Reason)
		}
		if st.Error != "" {
			fmt.Fprintf(w, "       ! %s\n", st.Error)
		}
		if st.Archived != "" {
			fmt.Fprintf(w, "       snapshot: %s\n", st.Archived)
		}
	}

	verdict := "PASSED"
	if !res.Passed {
		verdict = "FAILED"
	}
	fmt.Fprintf(w, "\n%s: %s", res.Scenario, verdict)
	if res.TaskDone {
		fmt.Fprint(w, " (task done)")
	}
	fmt.Fprintf(w, " run=%s\n", res.RunID)
	if res.Issue != nil {
		fmt.Fprintf(w, "Reported: %s\n", res.Issue.HTMLURL)
	}
}
