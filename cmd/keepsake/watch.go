package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keepsake-dev/keepsake/internal/engine"
	"github.com/keepsake-dev/keepsake/internal/metrics"
	"github.com/keepsake-dev/keepsake/internal/server"
	"github.com/keepsake-dev/keepsake/internal/ui"
)

const shutdownTimeout = 10 * time.Second

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "daemon",
	Short:   "Record changes in every enabled folder until interrupted",
	Long: `Watch every enabled folder and record changes as they happen.

On-save folders are committed 2 seconds after the last change; periodic
folders at their interval. Pending changes that were not yet committed when
watching stops are recorded the next time the file changes.

With --serve, an HTTP API is started as well:
  GET  /health
  GET  /api/folders
  GET  /api/folders/:id/commits?limit=
  GET  /api/folders/:id/file?ref=&path=
  GET  /api/folders/:id/diff?path=&old=&new=
  POST /api/folders/:id/restore    {"path": "...", "ref": "..."}
  POST /api/folders/:id/relocate   {"location": "..."}
  GET  /api/activity?folder=&kind=&limit=&since=
  GET  /ws        commit, error and relocate notifications
  GET  /metrics   prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serve, _ := cmd.Flags().GetBool("serve")
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = sess.cfg.Server.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := metrics.New()
		printer := sess.out
		eng := sess.engine(m, consoleListener{out: printer})

		var srv *server.Server
		if serve {
			j, _ := sess.journal()
			srv = server.New(server.Config{
				Addr:    addr,
				Backend: eng,
				Metrics: m,
				Journal: j,
				Logger:  sess.logger,
			})
			eng.AddListener(srv.Hub())
		}

		if err := eng.StartAll(ctx); err != nil {
			printer.Warn("some folders could not be watched: %v", err)
		}
		folders, err := eng.Folders()
		if err != nil {
			return err
		}
		m.SetFolders(len(folders))

		watching := 0
		for _, f := range folders {
			if st, err := eng.Status(f.ID); err == nil && st.State == "watching" {
				watching++
				printer.Printf("watching %s %s\n", f.Path, printer.Muted("("+describeStrategy(f)+")"))
			}
		}
		if watching == 0 {
			printer.Warn("no folders are being watched; add one with 'keepsake folder add <path>'")
		}

		if srv != nil {
			if err := srv.Start(); err != nil {
				_ = eng.Close(context.Background())
				return err
			}
			printer.Printf("API listening on http://%s\n", srv.Addr())
		}
		printer.Println(printer.Muted("Press Ctrl+C to stop."))

		<-ctx.Done()
		printer.Println("\nStopping...")

		shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if srv != nil {
			if err := srv.Stop(shutdown); err != nil {
				printer.Warn("%v", err)
			}
		}
		if err := eng.Close(shutdown); err != nil {
			return fmt.Errorf("stop watching: %w", err)
		}
		return nil
	},
}

// consoleListener prints notifications while watching in the foreground.
type consoleListener struct {
	out *ui.Printer
}

func (c consoleListener) OnCommit(e engine.CommitEvent) {
	c.out.Printf("%s %s %s\n",
		c.out.Muted(e.At.Local().Format(time.TimeOnly)),
		c.out.Hash(shortHash(e.Hash)),
		ui.Plural(len(e.Paths), "file", "files"))
}

func (c consoleListener) OnError(e engine.ErrorEvent) {
	c.out.Error("%s: %s", shortID(e.FolderID), e.Message)
}

func (c consoleListener) OnRelocate(e engine.RelocateEvent) {
	if e.Err != "" {
		c.out.Error("relocation of %s failed: %s", shortID(e.Result.FolderID), e.Err)
		return
	}
	c.out.Printf("relocated %s store: %s\n", shortID(e.Result.FolderID), e.Result.Action)
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}

func init() {
	watchCmd.Flags().Bool("serve", false, "Also serve the HTTP API")
	watchCmd.Flags().String("addr", "", "HTTP API address (default from config)")
	rootCmd.AddCommand(watchCmd)
}
