package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keepsake-dev/keepsake/internal/ui"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

var logCmd = &cobra.Command{
	Use:     "log <folder>",
	GroupID: "history",
	Short:   "List recorded versions of a folder",
	Long: `List commits newest first.

Examples:
  keepsake log ~/notes
  keepsake log ~/notes --path todo.md --limit 5
  keepsake log 1a2b -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := sess.resolve(args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		path, _ := cmd.Flags().GetString("path")

		eng := sess.engine()
		defer eng.Close(context.Background())

		fetch := limit
		if path != "" {
			fetch = 0
		}
		commits, err := eng.ListCommits(cmd.Context(), f.ID, fetch)
		if err != nil {
			return err
		}
		if path != "" {
			if path, err = vcs.NormalizeRelPath(path); err != nil {
				return err
			}
			commits = slices.DeleteFunc(commits, func(c vcs.Commit) bool {
				return !slices.Contains(c.ChangedPaths, path)
			})
			if limit > 0 && len(commits) > limit {
				commits = commits[:limit]
			}
		}

		if sess.structured() {
			if commits == nil {
				commits = []vcs.Commit{}
			}
			return sess.encode(commits)
		}
		if len(commits) == 0 {
			sess.out.Println("No versions recorded yet.")
			return nil
		}

		now := timeNow()
		for _, c := range commits {
			subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
			sess.out.Printf("%s  %s  %s\n",
				sess.out.Hash(c.ShortHash()),
				sess.out.Muted(fmt.Sprintf("%-16s", ui.RelativeTime(c.Timestamp, now))),
				subject)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <folder> <path>",
	GroupID: "history",
	Short:   "Print a file as it was at a recorded version",
	Long: `Print a file's content at a commit. When the file did not change in that
commit, the newest earlier version is shown.

Examples:
  keepsake show ~/notes todo.md                      # last recorded version
  keepsake show ~/notes todo.md --ref 1a2b3c4
  keepsake show ~/notes todo.md --at "yesterday 5pm"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := sess.resolve(args[0])
		if err != nil {
			return err
		}

		eng := sess.engine()
		defer eng.Close(context.Background())

		ref, err := resolveRef(cmd.Context(), eng, f.ID, cmd, "ref", "at", "HEAD")
		if err != nil {
			return err
		}
		data, err := eng.ReadFileAt(cmd.Context(), f.ID, ref, args[1])
		if err != nil {
			return err
		}

		if sess.structured() {
			return sess.encode(map[string]any{
				"path":    args[1],
				"ref":     ref,
				"size":    len(data),
				"content": string(data),
			})
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var diffCmd = &cobra.Command{
	Use:     "diff <folder> <path>",
	GroupID: "history",
	Short:   "Compare a file between versions",
	Long: `Show line changes of a file between two versions. By default the last
recorded version is compared with the file on disk.

Examples:
  keepsake diff ~/notes todo.md
  keepsake diff ~/notes todo.md --from 1a2b3c4 --to 5d6e7f8
  keepsake diff ~/notes todo.md --from-at "2 hours ago"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := sess.resolve(args[0])
		if err != nil {
			return err
		}

		eng := sess.engine()
		defer eng.Close(context.Background())

		from, err := resolveRef(cmd.Context(), eng, f.ID, cmd, "from", "from-at", "HEAD")
		if err != nil {
			return err
		}
		to, _ := cmd.Flags().GetString("to")

		diff, err := eng.Diff(cmd.Context(), f.ID, args[1], from, to)
		if err != nil {
			return err
		}

		if sess.structured() {
			return sess.encode(struct {
				vcs.DiffResult `yaml:",inline"`
				Lines          []vcs.DiffLine `json:"lines" yaml:"lines"`
			}{*diff, diff.Lines()})
		}

		sess.out.Printf("%s %s  %s → %s  %s\n",
			sess.out.Title("diff"), diff.FileName,
			sess.out.Hash(vcs.ShortRef(diff.OldRef)), sess.out.Hash(vcs.ShortRef(diff.NewRef)),
			sess.out.Stats(diff.Stats))
		if diff.OldContent == diff.NewContent {
			sess.out.Println(sess.out.Muted("no changes"))
			return nil
		}
		sess.out.Diff(diff.Lines())
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:     "commit <folder> <path>...",
	GroupID: "history",
	Short:   "Record the current state of files now",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := sess.resolve(args[0])
		if err != nil {
			return err
		}

		eng := sess.engine()
		defer eng.Close(context.Background())

		hash, err := eng.CommitNow(cmd.Context(), f.ID, args[1:])
		if err != nil {
			return err
		}

		if sess.structured() {
			return sess.encode(map[string]any{"hash": hash, "changed": hash != ""})
		}
		if hash == "" {
			sess.out.Println("Nothing changed.")
			return nil
		}
		sess.out.Success("recorded %s as %s", ui.Plural(len(args)-1, "path", "paths"), sess.out.Hash(vcs.ShortRef(hash)))
		return nil
	},
}

func init() {
	logCmd.Flags().IntP("limit", "n", 20, "Maximum number of versions (0 = all)")
	logCmd.Flags().String("path", "", "Only versions that changed this file")

	showCmd.Flags().String("ref", "", "Commit hash (default: latest)")
	showCmd.Flags().String("at", "", `Version at a time, e.g. "yesterday 5pm" or "2024-01-15 10:30"`)

	diffCmd.Flags().String("from", "", "Old commit hash (default: latest)")
	diffCmd.Flags().String("from-at", "", "Old version at a time")
	diffCmd.Flags().String("to", "", "New commit hash (default: file on disk)")

	rootCmd.AddCommand(logCmd, showCmd, diffCmd, commitCmd)
}
