package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"find-replace/replace"
	"find-replace/search"
)

func rootsOf(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}

func newSearchCommand(e *env) *cobra.Command {
	var cf criteriaFlags
	var contextLines int
	var asJSON, tui bool

	cmd := &cobra.Command{
		Use:   "search PATTERN [PATH...]",
		Short: "Search files for a pattern",
		Example: `  find-replace search TODO ./src
  find-replace search -t regex 'func (\w+)' --include '*.go'
  find-replace search -t xpath '//book/title' --include '*.xml'
  find-replace search invoice --archives --hours-to 48 ~/mail`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.criteria(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			roots := rootsOf(args[1:])
			engine := search.NewEngine(e.settings, e.registry)
			opts := search.LineOptions{Before: contextLines, After: contextLines}

			if tui {
				return runTUI(ctx, engine, roots, c, opts)
			}

			s, err := engine.Stream(ctx, roots, c)
			if err != nil {
				return err
			}

			p := &printer{w: cmd.OutOrStdout(), countOnly: c.CountOnly}
			var collected []*search.GrepSearchResult
			for r := range s.Results() {
				if asJSON {
					collected = append(collected, r)
					continue
				}
				if r.Success && !c.CountOnly && r.MatchCount > 0 {
					if err := engine.Materialize(ctx, r, opts); err != nil {
						r.Success = false
						r.ErrorMessage = err.Error()
					}
				}
				p.result(r)
			}
			summary := s.Wait()

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), collected, summary)
			}
			p.summary(summary)
			return nil
		},
	}

	cf.register(cmd.Flags())
	cmd.Flags().IntVarP(&contextLines, "context", "C", 0, "Lines of context around each match")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON lines")
	cmd.Flags().BoolVar(&tui, "tui", false, "Browse results in an interactive view")
	cmd.MarkFlagsMutuallyExclusive("json", "tui")
	return cmd
}

func newReplaceCommand(e *env) *cobra.Command {
	var cf criteriaFlags
	var dryRun, noBackup bool

	cmd := &cobra.Command{
		Use:   "replace PATTERN REPLACEMENT [PATH...]",
		Short: "Replace a pattern in place",
		Long: `Replace rewrites every matching text file through a temporary file and an atomic rename.
Regex replacements may use $1 or ${name} to refer to groups. Extracted documents,
binary files and archive members are never rewritten.`,
		Example: `  find-replace replace colour color ./docs
  find-replace replace -t regex '(\w+)@example\.com' '$1@example.org' --include '*.txt'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.criteria(args[0])
			if err != nil {
				return err
			}
			c.CountOnly = false
			c.IncludeZeroMatches = false
			ctx := cmd.Context()

			engine := search.NewEngine(e.settings, e.registry)
			set, err := engine.Search(ctx, rootsOf(args[2:]), c)
			if err != nil {
				return err
			}
			if set.Summary.Cancelled {
				return errors.New("search cancelled, nothing replaced")
			}

			p := &printer{w: cmd.OutOrStdout()}
			if dryRun {
				for _, r := range set.Results {
					if r.Success {
						if err := engine.Materialize(ctx, r, search.LineOptions{}); err != nil {
							return err
						}
					}
					p.result(r)
				}
				p.summary(set.Summary)
				return nil
			}

			settings := *e.settings
			if noBackup {
				settings.Backup.Enabled = false
			}
			outcomes := replace.NewReplacer(&settings).Replace(ctx, set.Results, args[1])
			p.outcomes(outcomes)
			for _, o := range outcomes {
				if o.Err != nil {
					return errors.New("some files were not replaced")
				}
			}
			return nil
		},
	}

	cf.register(cmd.Flags())
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be replaced")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Do not keep a copy of the original")
	return cmd
}

func newUndoCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "undo FILE...",
		Short: "Restore files from their latest backup",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := replace.NewReplacer(e.settings)
			var failed []string
			for _, path := range args {
				backup, err := replace.LatestBackup(e.settings.Backup, path)
				if err == nil {
					err = r.Undo(ctx, replace.Outcome{Path: path, Backup: backup})
				}
				if err != nil {
					printError(cmd.ErrOrStderr(), err)
					failed = append(failed, path)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("restored"), path)
			}
			if len(failed) > 0 {
				return errors.Errorf("could not restore %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func newPluginsCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List document plugins and the extensions they handle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, p := range e.registry.Plugins() {
				state := successStyle.Render("enabled ")
				if !p.Enabled {
					state = warningStyle.Render("disabled")
				}
				kind := "extract"
				switch {
				case p.Container:
					kind = "archive"
				case p.Extractor == nil:
					kind = "unknown"
				}
				fmt.Fprintf(w, "%-14s %s %-8s %s\n", p.Name, state, kind, infoStyle.Render(strings.Join(p.Extensions, ", ")))
			}
			return nil
		},
	}
}
