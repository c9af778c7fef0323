package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cgast/agbrowse/pkg/archive"
	"github.com/cgast/agbrowse/pkg/page"
	"github.com/cgast/agbrowse/pkg/provider"
	"github.com/cgast/agbrowse/pkg/query"
)

func newQueryCmd(a *app) *cobra.Command {
	var (
		find   bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "query <snapshot> <selector>",
		Short: "Run a selector against a saved snapshot",
		Long: `query evaluates a selector such as "role=button text~checkout" against a
snapshot JSON file or an archived snapshot name. --find returns only the best
match.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.loadSnapshot(args[0])
			if err != nil {
				return err
			}
			sel, err := query.Parse(args[1])
			if err != nil {
				return err
			}

			var matches []page.Element
			if find {
				if el, ok := sel.Find(snap); ok {
					matches = append(matches, el)
				}
			} else {
				matches = sel.Query(snap)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if matches == nil {
					matches = []page.Element{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(matches)
			}
			if len(matches) == 0 {
				fmt.Fprintf(out, "No element matches %s\n", sel)
				return nil
			}
			for _, el := range matches {
				printElement(out, el)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&find, "find", false, "print only the best match")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print matches as JSON")
	return cmd
}

func newDiffCmd(a *app) *cobra.Command {
	var (
		all    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Compare two snapshots element by element",
		Long: `diff tags every element of <to> relative to <from> as added, removed,
moved or modified. Arguments are snapshot JSON files or archived snapshot names.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := a.loadSnapshot(args[0])
			if err != nil {
				return err
			}
			to, err := a.loadSnapshot(args[1])
			if err != nil {
				return err
			}
			cmp := archive.Compare(args[0], from, args[1], to)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cmp)
			}

			s := cmp.Summary
			fmt.Fprintf(out, "%s -> %s: %d added, %d removed, %d moved, %d modified, %d unchanged\n",
				cmp.From, cmp.To, s.Added, s.Removed, s.Moved, s.Modified, s.Unchanged)
			elems := cmp.Changed()
			if all {
				elems = cmp.Elements
			}
			for _, el := range elems {
				printElement(out, el)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list unchanged elements too")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the comparison as JSON")
	return cmd
}

// loadSnapshot reads ref as a file when it exists on disk, otherwise as a
// name in the snapshot archive.
func (a *app) loadSnapshot(ref string) (*page.Snapshot, error) {
	if _, err := os.Stat(ref); err == nil || strings.HasSuffix(ref, ".json") || strings.ContainsRune(ref, filepath.Separator) {
		return provider.ReadFile(ref)
	}
	store, err := archive.New(a.cfg.Archive.Dir)
	if err != nil {
		return nil, err
	}
	return store.Load(ref)
}

func printElement(w io.Writer, el page.Element) {
	status := ""
	if el.DiffStatus != "" {
		status = fmt.Sprintf(" [%s]", el.DiffStatus)
	}
	fmt.Fprintf(w, "#%-4d %-12s %-40q importance=%.2f%s\n", el.ID, el.Role, truncateText(el.Text, 40), el.Importance, status)
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
