package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const sampleConfig = `log_level: info
browser:
  remote: ""          # DevTools websocket URL; empty launches Chrome
  headless: true
  stealth: false
  navigation_timeout: 30s
sandbox:
  allowed_domains: [] # empty allows every host
  denied_domains: []
snapshot:
  limit: 50
  extension_timeout: 5s
verify:
  timeout: 10s
  poll_interval: 250ms
  # min_confidence: 0.6
  max_snapshot_attempts: 0
  missing_confidence: trust
eval:
  max_output_chars: 4000
trace:
  db_path: .agbrowse/trace.db
  jsonl_path: ""
archive:
  dir: .agbrowse/snapshots
inspector:
  enabled: false
  port: 4200
`

const samplePlatforms = `github:
  token: "${GITHUB_TOKEN}"
  repo: ""            # owner/name; failed runs are filed here
  labels:
    - agbrowse
`

const sampleScenario = `apiVersion: agbrowse/v1
kind: Scenario
meta:
  name: example-search
  description: Search the example site and check the results page.
params:
  - name: query
    default: "golang"
start_url: "https://example.com/"
eventually:
  timeout: 10s
  poll_interval: 250ms
steps:
  - goal: search box is ready
    assertions:
      - type: exists
        selector: "role=searchbox"
        required: true
  - goal: search for {{query}}
    actions:
      - type:
          selector: "role=searchbox"
          text: "{{query}}"
      - press: Enter
    done:
      type: url_contains
      expected: "{{query}}"
      eventually: true
`

func newInitCmd(a *app) *cobra.Command {
	var (
		dir    string
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold config files and an example scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			files := []struct {
				path    string
				content string
			}{
				{filepath.Join(dir, "config.yaml"), sampleConfig},
				{filepath.Join(dir, "platforms.yaml"), samplePlatforms},
				{output, sampleScenario},
			}
			for _, f := range files {
				created, err := scaffold(f.path, f.content, force)
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(out, "Created %s\n", f.path)
				} else {
					fmt.Fprintf(out, "Kept existing %s\n", f.path)
				}
			}
			fmt.Fprintln(out, "Edit the scenario, then run:")
			fmt.Fprintf(out, "  agbrowse validate %s\n  agbrowse run %s\n", output, output)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".agbrowse", "directory for config files")
	cmd.Flags().StringVarP(&output, "output", "o", "scenario.yaml", "path of the example scenario")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// scaffold writes content to path unless the file exists and force is off.
func scaffold(path, content string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	if d := filepath.Dir(path); d != "." {
		if err := os.MkdirAll(d, 0755); err != nil {
			return false, fmt.Errorf("create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
