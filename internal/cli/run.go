package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tessro/encore/internal/playback"
	"github.com/tessro/encore/internal/tail"
)

var (
	runAudio     string
	runNoEmoji   bool
	runTimestamp bool
	runFormat    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play and follow the server's playback state",
	Long: `Connect to the media server, mirror its playback state on the local
audio output and print changes as they happen.

Events printed:
  - Item changes, completions and skips
  - Pause/Resume and seeks
  - Volume and shuffle/repeat changes
  - Connection changes and failed commands

The last state is saved locally, so a restart within a short window
resumes where playback left off even when the server is unreachable.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAudio, "audio", "", "audio backend: mpv or silent (default from config)")
	runCmd.Flags().BoolVar(&runNoEmoji, "no-emoji", false, "disable emoji output")
	runCmd.Flags().BoolVarP(&runTimestamp, "timestamp", "t", false, "show timestamps")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "", "custom format template")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	formatter := tail.NewFormatter(
		tail.WithEmoji(!runNoEmoji),
		tail.WithTimestamp(runTimestamp),
		tail.WithTemplate(runFormat),
	)

	// Handle Ctrl+C gracefully
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := newSession(cfg, logger, sessionOptions{
		Audio:    runAudio,
		Notifier: playback.NotifierFunc(func(msg string) { logger.Warn(msg) }),
	})
	if err != nil {
		return err
	}
	defer sess.close()

	watcher := tail.NewWatcher(sess.engine, sess.clock)
	out := cmd.OutOrStdout()

	return sess.run(ctx, watcher.Start, func(ctx context.Context) error {
		showInitialState(out, sess, formatter)
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events():
				if !ok {
					return nil
				}
				printEvent(out, formatter, event)
			}
		}
	})
}

// showInitialState prints the restored item, if any, before live events.
func showInitialState(out io.Writer, sess *session, formatter *tail.Formatter) {
	st := sess.engine.Snapshot()
	if !st.HasItem() {
		return
	}
	printEvent(out, formatter, tail.Event{
		Type:      tail.EventItemChange,
		Timestamp: sess.clock.Now(),
		Current:   &st,
	})
}

type jsonEvent struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Source   string    `json:"source,omitempty"`
	ItemID   string    `json:"item_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	Creator  string    `json:"creator,omitempty"`
	Playing  *bool     `json:"playing,omitempty"`
	Position *float64  `json:"position,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

func printEvent(out io.Writer, formatter *tail.Formatter, e tail.Event) {
	if !JSONOutput() {
		_, _ = fmt.Fprintln(out, formatter.Format(e))
		return
	}

	je := jsonEvent{
		Type:   e.Type.String(),
		Time:   e.Timestamp,
		Source: string(e.Source),
		Detail: e.Detail,
	}
	if e.Current != nil {
		je.ItemID = e.Current.ItemID
		je.Title = e.Current.Title
		je.Creator = e.Current.Creator
		je.Playing = &e.Current.Playing
		je.Position = &e.Current.Position
	}
	_ = json.NewEncoder(out).Encode(je)
}
