package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keepsake-dev/keepsake/internal/journal"
	"github.com/keepsake-dev/keepsake/internal/ui"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

var activityCmd = &cobra.Command{
	Use:     "activity",
	GroupID: "history",
	Short:   "Show recent commits, errors and relocations",
	Long: `Show the activity journal: every commit, error and store relocation seen
by keepsake, newest first.

Examples:
  keepsake activity
  keepsake activity --folder ~/notes --kind error
  keepsake activity --since "last monday"
  keepsake activity --prune-before "30 days ago"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		folderArg, _ := flags.GetString("folder")
		kind, _ := flags.GetString("kind")
		limit, _ := flags.GetInt("limit")
		since, _ := flags.GetString("since")
		pruneBefore, _ := flags.GetString("prune-before")

		j, err := sess.journal()
		if err != nil {
			return err
		}
		now := timeNow()

		if pruneBefore != "" {
			t, err := ui.ParseTime(pruneBefore, now)
			if err != nil {
				return err
			}
			n, err := j.Prune(cmd.Context(), t)
			if err != nil {
				return err
			}
			if sess.structured() {
				return sess.encode(map[string]int64{"pruned": n})
			}
			sess.out.Success("pruned %s", ui.Plural(int(n), "entry", "entries"))
			return nil
		}

		q := journal.Query{Kind: journal.Kind(kind), Limit: limit}
		switch q.Kind {
		case "", journal.KindCommit, journal.KindError, journal.KindRelocate:
		default:
			return fmt.Errorf("unknown kind %q (want commit, error or relocate)", kind)
		}
		if folderArg != "" {
			f, err := sess.resolve(folderArg)
			if err != nil {
				return err
			}
			q.FolderID = f.ID
		}
		if since != "" {
			if q.Since, err = ui.ParseTime(since, now); err != nil {
				return err
			}
		}

		entries, err := j.List(cmd.Context(), q)
		if err != nil {
			return err
		}

		if sess.structured() {
			if entries == nil {
				entries = []journal.Entry{}
			}
			return sess.encode(entries)
		}
		if len(entries) == 0 {
			sess.out.Println("No activity recorded.")
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.At.Local().Format(time.DateTime),
				shortID(e.FolderID),
				string(e.Kind),
				describeEntry(e),
			})
		}
		sess.out.Table([]string{"TIME", "FOLDER", "KIND", "DETAIL"}, rows)
		return nil
	},
}

func describeEntry(e journal.Entry) string {
	switch e.Kind {
	case journal.KindCommit:
		return fmt.Sprintf("%s %s (%s)", vcs.ShortRef(e.Hash), ui.Plural(len(e.Paths), "path", "paths"), e.Message)
	default:
		return e.Message
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	flags := activityCmd.Flags()
	flags.String("folder", "", "Only this folder (id, id prefix or path)")
	flags.String("kind", "", "Only this kind: commit, error or relocate")
	flags.IntP("limit", "n", 50, "Maximum number of entries (0 = all)")
	flags.String("since", "", `Only entries after a time, e.g. "yesterday"`)
	flags.String("prune-before", "", "Delete entries older than a time instead of listing")
	rootCmd.AddCommand(activityCmd)
}
