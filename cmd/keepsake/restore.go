package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/keepsake-dev/keepsake/internal/vcs"
)

var restoreCmd = &cobra.Command{
	Use:     "restore <folder> <path>",
	GroupID: "history",
	Short:   "Bring back an earlier version of a file",
	Long: `Write a recorded version of a file back to disk. The restoration is itself
recorded as a new version, so it can be undone.

Examples:
  keepsake restore ~/notes todo.md --ref 1a2b3c4
  keepsake restore ~/notes todo.md --at "this morning 9am"
  keepsake restore ~/notes drafts/old.md --ref deleted   # last version of a deleted file`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := sess.resolve(args[0])
		if err != nil {
			return err
		}

		eng := sess.engine()
		defer eng.Close(context.Background())

		ref, err := resolveRef(cmd.Context(), eng, f.ID, cmd, "ref", "at", "")
		if err != nil {
			return err
		}
		if ref == "" {
			return errRefRequired
		}

		hash, err := eng.Restore(cmd.Context(), f.ID, args[1], ref)
		if err != nil {
			return err
		}

		if sess.structured() {
			return sess.encode(map[string]any{"path": args[1], "ref": ref, "hash": hash, "changed": hash != ""})
		}
		if hash == "" {
			sess.out.Println("File already matches that version.")
			return nil
		}
		sess.out.Success("restored %s from %s (recorded as %s)",
			args[1], sess.out.Hash(vcs.ShortRef(ref)), sess.out.Hash(vcs.ShortRef(hash)))
		return nil
	},
}

func init() {
	restoreCmd.Flags().String("ref", "", `Commit hash to restore from ("deleted" = last recorded version)`)
	restoreCmd.Flags().String("at", "", `Restore the version current at a time, e.g. "yesterday 5pm"`)
	rootCmd.AddCommand(restoreCmd)
}
