package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keepsake-dev/keepsake/internal/relocate"
	"github.com/keepsake-dev/keepsake/internal/ui"
)

var relocateCmd = &cobra.Command{
	Use:     "relocate <folder> [location]",
	GroupID: "folders",
	Short:   "Move a folder's history store",
	Long: `Move the history store of a folder to a new location, or back inside the
folder with --default.

When a store already exists at the destination, the one with the newer
commits is kept and the other is renamed to <path>.backup-YYYYMMDD-HHMMSS.
Nothing is deleted.

Stop 'keepsake watch' first, or relocate through its HTTP API.

Examples:
  keepsake relocate ~/notes /mnt/backup/notes-history
  keepsake relocate ~/notes --default`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := sess.resolve(args[0])
		if err != nil {
			return err
		}
		toDefault, _ := cmd.Flags().GetBool("default")
		yes, _ := cmd.Flags().GetBool("yes")

		var location string
		switch {
		case len(args) == 2 && toDefault:
			return fmt.Errorf("give a location or --default, not both")
		case len(args) == 2:
			if location, err = absPath(args[1]); err != nil {
				return err
			}
		case !toDefault:
			return fmt.Errorf("a location or --default is required")
		}

		target := location
		if target == "" {
			target = f.DefaultStoragePath()
		}
		if target == f.StoragePath() {
			sess.out.Println("History store is already at " + target)
			return nil
		}

		ok, err := ui.Confirm(
			"Move history store?",
			fmt.Sprintf("%s\n→ %s", f.StoragePath(), target),
			"Move",
			yes || sess.structured(),
		)
		if err != nil {
			return err
		}
		if !ok {
			sess.out.Println("Cancelled.")
			return nil
		}

		eng := sess.engine()
		defer eng.Close(context.Background())

		res, err := eng.Relocate(cmd.Context(), f.ID, location)
		if err != nil {
			return err
		}

		if sess.structured() {
			return sess.encode(res)
		}
		switch res.Action {
		case relocate.ActionNone:
			sess.out.Println("History store is already at " + res.To)
		case relocate.ActionMoved:
			sess.out.Success("moved history store to %s", res.To)
		case relocate.ActionAdopted:
			sess.out.Success("using the history store already at %s", res.To)
		case relocate.ActionSourceWins:
			sess.out.Success("moved history store to %s", res.To)
			sess.out.Warn("the older store that was there is kept at %s", res.BackupPath)
		case relocate.ActionDestinationWins:
			sess.out.Success("kept the newer history store already at %s", res.To)
			sess.out.Warn("the previous store is kept at %s", res.BackupPath)
		}
		return nil
	},
}

func init() {
	relocateCmd.Flags().Bool("default", false, "Move the store back inside the folder")
	relocateCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(relocateCmd)
}
