package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tessro/encore/internal/config"
	"github.com/tessro/encore/internal/tail"
	"github.com/tessro/encore/internal/tui"
)

var (
	uiAudio   string
	uiRefresh int
)

var uiCmd = &cobra.Command{
	Use:     "ui",
	Aliases: []string{"tui"},
	Short:   "Launch interactive dashboard",
	Long: `Launch the interactive terminal dashboard.

The dashboard provides a live view with:
  • Now Playing - current item, progress, volume and modes
  • Queue - the server's queue around the current item
  • Connection - online state, profile and recent notices
  • History - recently played items

Keyboard shortcuts:
  q, Ctrl+C    Quit
  ?            Help
  Space        Play/Pause
  n            Next item
  p            Previous item
  ←/→          Seek 5s
  +/-          Volume up/down
  s, r         Cycle shuffle, repeat
  Tab          Switch panel`,
	RunE: runUI,
}

func init() {
	uiCmd.Flags().StringVar(&uiAudio, "audio", "", "audio backend: mpv or silent (default from config)")
	uiCmd.Flags().IntVar(&uiRefresh, "refresh", 0, "refresh interval in milliseconds (default from config)")
	rootCmd.AddCommand(uiCmd)
}

func runUI(cmd *cobra.Command, args []string) error {
	// Log lines would tear the alternate screen
	if cfg.Log.File == "" {
		logger.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := newSession(cfg, logger, sessionOptions{Audio: uiAudio})
	if err != nil {
		return err
	}
	defer sess.close()

	refresh := cfg.TUI.RefreshRate
	if uiRefresh > 0 {
		refresh = uiRefresh
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher := tail.NewWatcher(sess.engine, sess.clock)
	return sess.run(ctx, watcher.Start, func(ctx context.Context) error {
		// Quitting the UI ends the session
		defer cancel()
		profile, _ := sess.ident.Current()
		return tui.Run(ctx, tui.Options{
			Controller:  sess.engine,
			Events:      watcher.Events(),
			Profile:     profile,
			Device:      sess.deviceID,
			RefreshRate: config.Millis(refresh),
			Theme:       cfg.TUI.Theme,
			Clock:       sess.clock,
		})
	})
}
