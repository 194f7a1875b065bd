package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/keepsake-dev/keepsake/internal/engine"
	"github.com/keepsake-dev/keepsake/internal/folder"
	"github.com/keepsake-dev/keepsake/internal/ui"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

var folderCmd = &cobra.Command{
	Use:     "folder",
	GroupID: "folders",
	Short:   "Manage watched folders",
}

var folderAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Start keeping history for a folder",
	Long: `Register a folder and create its history store.

The store lives in <path>/.keepsake unless --store or --external is given.
Files already in the folder are recorded as the initial commit.

Examples:
  keepsake folder add ~/notes
  keepsake folder add ~/drawings --strategy periodic --interval 15
  keepsake folder add ~/novel --external --ignore "*.bak"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		strategy, _ := flags.GetString("strategy")
		interval, _ := flags.GetInt("interval")
		ignore, _ := flags.GetStringSlice("ignore")
		noSubtree, _ := flags.GetBool("no-subtree")
		store, _ := flags.GetString("store")
		external, _ := flags.GetBool("external")
		disabled, _ := flags.GetBool("disabled")

		if store != "" && external {
			return fmt.Errorf("--store and --external are mutually exclusive")
		}

		path, err := absPath(args[0])
		if err != nil {
			return err
		}
		f := folder.WatchedFolder{ID: uuid.NewString(), Path: path}
		if strategy != "" {
			if f.Strategy, err = folder.ParseStrategy(strategy); err != nil {
				return err
			}
		}
		if flags.Changed("interval") {
			f.IntervalMinutes = interval
		}
		if flags.Changed("ignore") {
			f.IgnorePatterns = ignore
		}
		f = sess.cfg.NewFolder(f)
		f.WatchSubtree = sess.cfg.Defaults.WatchSubtree && !noSubtree
		f.Enabled = !disabled

		switch {
		case external:
			f.StorageOverride = folder.CustomStorePath(sess.cfg.StoreRoot, f)
		case store != "":
			if f.StorageOverride, err = absPath(store); err != nil {
				return err
			}
		}

		if !vcs.GitAvailable() {
			return fmt.Errorf("%w: install git to keep history", vcs.ErrVCSNotAvailable)
		}

		ctx := cmd.Context()
		eng := sess.engine()
		defer eng.Close(context.Background())

		f, err = eng.Attach(ctx, f)
		if err != nil {
			return err
		}

		if sess.structured() {
			return sess.encode(f)
		}
		sess.out.Success("keeping history for %s", f.Path)
		sess.out.Printf("  id:       %s\n", sess.out.Hash(f.ShortID()))
		sess.out.Printf("  store:    %s\n", f.StoragePath())
		sess.out.Printf("  strategy: %s\n", describeStrategy(f))
		if repo, ok := vcs.DetectUserRepo(f.Path); ok && f.StorageOverride == "" && !repo.IgnoresStore(folder.StoreDirName) {
			sess.out.Warn("%s is inside the %s repository at %s; add %s to its ignore file", f.Path, repo.Kind, repo.Root, folder.StoreDirName)
		}
		if !f.Enabled {
			sess.out.Warn("folder is disabled; enable it with 'keepsake folder set %s --enable'", f.ShortID())
		}
		return nil
	},
}

var folderListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List watched folders",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		folders, err := sess.registry().List()
		if err != nil {
			return err
		}

		eng := sess.engine()
		defer eng.Close(context.Background())

		type row struct {
			folder.WatchedFolder
			StoragePath string      `json:"storagePath" yaml:"storagePath"`
			LastCommit  *vcs.Commit `json:"lastCommit,omitempty" yaml:"lastCommit,omitempty"`
		}
		rows := make([]row, 0, len(folders))
		for _, f := range folders {
			r := row{WatchedFolder: f, StoragePath: f.StoragePath()}
			if commits, err := eng.ListCommits(cmd.Context(), f.ID, 1); err == nil && len(commits) > 0 {
				r.LastCommit = &commits[0]
			}
			rows = append(rows, r)
		}

		if sess.structured() {
			return sess.encode(rows)
		}
		if len(rows) == 0 {
			sess.out.Println("No folders are being watched. Add one with 'keepsake folder add <path>'.")
			return nil
		}

		now := timeNow()
		table := make([][]string, 0, len(rows))
		for _, r := range rows {
			last := sess.out.Muted("never")
			if r.LastCommit != nil {
				last = ui.RelativeTime(r.LastCommit.Timestamp, now)
			}
			state := "enabled"
			if !r.Enabled {
				state = sess.out.Muted("disabled")
			}
			table = append(table, []string{
				sess.out.Hash(r.ShortID()), r.Path, describeStrategy(r.WatchedFolder), state, last,
			})
		}
		sess.out.Table([]string{"ID", "PATH", "STRATEGY", "STATE", "LAST CHANGE"}, table)
		return nil
	},
}

var folderRemoveCmd = &cobra.Command{
	Use:     "remove <folder>",
	Aliases: []string{"rm"},
	Short:   "Stop keeping history for a folder",
	Long: `Forget a folder. Its history store is left on disk; add the folder again
to pick the history back up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := sess.resolve(args[0])
		if err != nil {
			return err
		}

		eng := sess.engine()
		defer eng.Close(context.Background())
		if err := eng.Detach(cmd.Context(), f.ID); err != nil {
			return err
		}

		if sess.structured() {
			return sess.encode(map[string]string{"removed": f.ID, "storagePath": f.StoragePath()})
		}
		sess.out.Success("stopped watching %s", f.Path)
		sess.out.Printf("  history kept at %s\n", f.StoragePath())
		return nil
	},
}

var folderSetCmd = &cobra.Command{
	Use:   "set <folder>",
	Short: "Change a folder's settings",
	Long: `Change how a folder is watched. Only the given flags are changed.

Examples:
  keepsake folder set ~/notes --strategy periodic --interval 10
  keepsake folder set 1a2b --ignore "*.log" --ignore "build/"
  keepsake folder set ~/notes --disable`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := sess.resolve(args[0])
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		var patch engine.Patch
		if flags.Changed("strategy") {
			raw, _ := flags.GetString("strategy")
			s, err := folder.ParseStrategy(raw)
			if err != nil {
				return err
			}
			patch.Strategy = &s
		}
		if flags.Changed("interval") {
			n, _ := flags.GetInt("interval")
			patch.IntervalMinutes = &n
		}
		if flags.Changed("ignore") {
			p, _ := flags.GetStringSlice("ignore")
			patch.IgnorePatterns = &p
		}
		if flags.Changed("subtree") {
			b, _ := flags.GetBool("subtree")
			patch.WatchSubtree = &b
		}
		enable, _ := flags.GetBool("enable")
		disable, _ := flags.GetBool("disable")
		switch {
		case enable && disable:
			return fmt.Errorf("--enable and --disable are mutually exclusive")
		case enable:
			patch.Enabled = &enable
		case disable:
			off := false
			patch.Enabled = &off
		}

		eng := sess.engine()
		defer eng.Close(context.Background())
		updated, err := eng.UpdateConfig(cmd.Context(), f.ID, patch)
		if err != nil {
			return err
		}

		if sess.structured() {
			return sess.encode(updated)
		}
		sess.out.Success("updated %s", updated.Path)
		sess.out.Printf("  strategy: %s\n", describeStrategy(updated))
		sess.out.Printf("  subtree:  %s\n", strconv.FormatBool(updated.WatchSubtree))
		sess.out.Printf("  enabled:  %s\n", strconv.FormatBool(updated.Enabled))
		if len(updated.IgnorePatterns) > 0 {
			sess.out.Printf("  ignore:   %v\n", updated.IgnorePatterns)
		}
		return nil
	},
}

func describeStrategy(f folder.WatchedFolder) string {
	if f.Strategy == folder.StrategyPeriodic {
		return fmt.Sprintf("every %s", ui.Plural(f.IntervalMinutes, "minute", "minutes"))
	}
	return "on save"
}

func init() {
	addFlags := folderAddCmd.Flags()
	addFlags.String("strategy", "", "Commit strategy: on-save or periodic (default from config)")
	addFlags.Int("interval", 0, "Periodic commit interval in minutes")
	addFlags.StringSlice("ignore", nil, "Glob pattern to exclude (repeatable)")
	addFlags.Bool("no-subtree", false, "Only watch the top-level directory")
	addFlags.String("store", "", "Keep the history store at this path")
	addFlags.Bool("external", false, "Keep the history store under the configured store root")
	addFlags.Bool("disabled", false, "Register without watching")

	setFlags := folderSetCmd.Flags()
	setFlags.String("strategy", "", "Commit strategy: on-save or periodic")
	setFlags.Int("interval", 0, "Periodic commit interval in minutes")
	setFlags.StringSlice("ignore", nil, "Replace the folder's ignore patterns (repeatable)")
	setFlags.Bool("subtree", true, "Watch subdirectories")
	setFlags.Bool("enable", false, "Enable watching")
	setFlags.Bool("disable", false, "Disable watching")

	folderCmd.AddCommand(folderAddCmd, folderListCmd, folderRemoveCmd, folderSetCmd)
	rootCmd.AddCommand(folderCmd)
}
