package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/keepsake-dev/keepsake/internal/config"
	"github.com/keepsake-dev/keepsake/internal/engine"
	"github.com/keepsake-dev/keepsake/internal/folder"
	"github.com/keepsake-dev/keepsake/internal/journal"
	"github.com/keepsake-dev/keepsake/internal/logging"
	"github.com/keepsake-dev/keepsake/internal/ui"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

var rootCmd = &cobra.Command{
	Use:   "keepsake",
	Short: "Continuous automatic version history for your folders",
	Long: `keepsake watches folders and records every saved change as a commit in a
hidden history store, so any earlier version of any file can be viewed,
compared or restored.

Quick start:
  keepsake folder add ~/notes     # start keeping history for a folder
  keepsake watch                  # record changes as they happen
  keepsake log ~/notes            # list recorded versions
  keepsake restore ~/notes todo.md --at "yesterday 5pm"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return sess.open(cmd)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "folders", Title: "Folders:"},
		&cobra.Group{ID: "history", Title: "History:"},
		&cobra.Group{ID: "daemon", Title: "Watching:"},
		&cobra.Group{ID: "settings", Title: "Settings:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default: search $XDG_CONFIG_HOME/keepsake, ~/.keepsake)")
	flags.StringP("output", "o", "text", "Output format: text, json or yaml")
	flags.Bool("no-color", false, "Disable colored output")
	flags.BoolP("verbose", "v", false, "Log debug output to stderr")
}

// session holds per-invocation state built before a command runs.
type session struct {
	cfg     *config.Config
	cfgFile string
	logger  *slog.Logger
	logs    io.Closer
	out     *ui.Printer
	format  ui.Format
	jrnl    *journal.Journal
}

var sess session

func (s *session) open(cmd *cobra.Command) error {
	*s = session{}

	flags := cmd.Flags()
	cfgPath, _ := flags.GetString("config")
	output, _ := flags.GetString("output")
	noColor, _ := flags.GetBool("no-color")
	verbose, _ := flags.GetBool("verbose")

	format, err := ui.ParseFormat(output)
	if err != nil {
		return err
	}
	s.format = format
	s.out = ui.NewPrinter(cmd.OutOrStdout(), noColor)

	cfg, used, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	s.cfg, s.cfgFile = cfg, used

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, closer, err := logging.New(logging.Options{
		Level:        level,
		Format:       cfg.Log.Format,
		File:         cfg.Log.File,
		MaxSizeMB:    cfg.Log.MaxSizeMB,
		MaxBackups:   cfg.Log.MaxBackups,
		MaxAgeDays:   cfg.Log.MaxAgeDays,
		Stderr:       cfg.Log.Stderr || verbose,
		StderrWriter: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	s.logger, s.logs = logger, closer
	s.logger.Debug("config loaded", "file", used, "data_dir", cfg.DataDir)
	return nil
}

func (s *session) close() {
	if s.jrnl != nil {
		_ = s.jrnl.Close()
		s.jrnl = nil
	}
	if s.logs != nil {
		_ = s.logs.Close()
		s.logs = nil
	}
}

func (s *session) registry() *folder.FileRegistry {
	return folder.NewFileRegistry(s.cfg.Registry)
}

// journal opens the activity journal once per invocation.
func (s *session) journal() (*journal.Journal, error) {
	if s.jrnl == nil {
		j, err := journal.Open(s.cfg.Journal, s.logger)
		if err != nil {
			return nil, err
		}
		s.jrnl = j
	}
	return s.jrnl, nil
}

// engine builds an engine over the folder registry. The journal and the
// log receive its notifications.
func (s *session) engine(listeners ...engine.Listener) *engine.Engine {
	listeners = append(listeners, engine.LogListener{Logger: s.logger})
	if j, err := s.journal(); err == nil {
		listeners = append(listeners, j)
	} else {
		s.logger.Warn("activity journal unavailable", "error", err)
	}
	return engine.New(engine.Options{
		Folders:   s.registry(),
		Author:    s.cfg.Author,
		Logger:    s.logger,
		Listeners: listeners,
	})
}

func (s *session) resolve(arg string) (folder.WatchedFolder, error) {
	return folder.Resolve(s.registry(), arg)
}

// structured reports whether results should be encoded instead of printed.
func (s *session) structured() bool {
	return s.format != ui.FormatText
}

func (s *session) encode(v any) error {
	return ui.Encode(s.out.Out(), s.format, v)
}

// resolveRef turns --ref/--at flags into a commit reference. With neither
// set, fallback is returned.
func resolveRef(ctx context.Context, eng *engine.Engine, id string, cmd *cobra.Command, refFlag, atFlag, fallback string) (string, error) {
	ref, _ := cmd.Flags().GetString(refFlag)
	at, _ := cmd.Flags().GetString(atFlag)
	if ref != "" && at != "" {
		return "", fmt.Errorf("--%s and --%s are mutually exclusive", refFlag, atFlag)
	}
	if ref != "" {
		return ref, nil
	}
	if at == "" {
		return fallback, nil
	}

	t, err := ui.ParseTime(at, timeNow())
	if err != nil {
		return "", err
	}
	hash, err := eng.ResolveRefAt(ctx, id, t)
	if errors.Is(err, vcs.ErrNotFound) {
		return "", fmt.Errorf("no version recorded at or before %s", t.Format("2006-01-02 15:04:05"))
	}
	return hash, err
}
