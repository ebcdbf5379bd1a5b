package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/tessro/encore/internal/core"
	encerrors "github.com/tessro/encore/internal/errors"
	"github.com/tessro/encore/internal/events"
)

var controlTimeout time.Duration

// commandBuilder turns the current state and arguments into a command.
type commandBuilder func(st core.PlaybackState, args []string) (core.Command, error)

// describer renders the confirmation line for an acknowledged command.
type describer func(cmd core.Command, st core.PlaybackState) string

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Toggle play/pause",
	Args:  cobra.NoArgs,
	RunE: controlRunner(
		fixed(core.ActionPlayPause),
		func(_ core.Command, st core.PlaybackState) string {
			if st.Playing {
				return "▶ Resumed"
			}
			return "⏸ Paused"
		}),
}

var playCmd = &cobra.Command{
	Use:     "play",
	Aliases: []string{"resume"},
	Short:   "Resume playback",
	Args:    cobra.NoArgs,
	RunE:    controlRunner(fixed(core.ActionPlay), say("▶ Resumed")),
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause playback",
	Args:  cobra.NoArgs,
	RunE:  controlRunner(fixed(core.ActionPause), say("⏸ Paused")),
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Skip to next item",
	Args:  cobra.NoArgs,
	RunE:  controlRunner(fixed(core.ActionNext), say("⏭ Skipped to next item")),
}

var prevCmd = &cobra.Command{
	Use:   "prev",
	Short: "Go to previous item",
	Args:  cobra.NoArgs,
	RunE:  controlRunner(fixed(core.ActionPrevious), say("⏮ Previous item")),
}

var shuffleCmd = &cobra.Command{
	Use:   "shuffle",
	Short: "Cycle shuffle mode (off, shuffle, smart shuffle)",
	Args:  cobra.NoArgs,
	RunE: controlRunner(fixed(core.ActionShuffleCycle), func(_ core.Command, st core.PlaybackState) string {
		return fmt.Sprintf("🔀 Shuffle: %s", st.Shuffle)
	}),
}

var repeatCmd = &cobra.Command{
	Use:   "repeat",
	Short: "Cycle repeat mode (off, all, one)",
	Args:  cobra.NoArgs,
	RunE: controlRunner(fixed(core.ActionRepeatCycle), func(_ core.Command, st core.PlaybackState) string {
		return fmt.Sprintf("🔁 Repeat: %s", st.Repeat)
	}),
}

var seekCmd = &cobra.Command{
	Use:   "seek <position>",
	Short: "Seek within the current item",
	Long: `Seek to an absolute position or by an offset.

Examples:
  encore seek 90      # Seek to 1:30
  encore seek 1:30    # Same
  encore seek +15     # Forward 15 seconds
  encore seek -10     # Back 10 seconds`,
	Args: cobra.ExactArgs(1),
	RunE: controlRunner(buildSeek, func(cmd core.Command, _ core.PlaybackState) string {
		return "⏩ Seek: " + FormatDuration(int(cmd.Value))
	}),
}

var (
	volumeUp   bool
	volumeDown bool
)

var volumeCmd = &cobra.Command{
	Use:   "volume [level]",
	Short: "Set or adjust volume",
	Long: `Set the playback volume (0-100) or adjust it up/down.

Examples:
  encore volume 50      # Set volume to 50%
  encore volume --up    # Increase volume by 10%
  encore volume --down  # Decrease volume by 10%`,
	Args: cobra.MaximumNArgs(1),
	RunE: controlRunner(buildVolume, func(cmd core.Command, _ core.PlaybackState) string {
		return fmt.Sprintf("🔊 Volume: %d%%", int(math.Round(cmd.Value*100)))
	}),
}

func init() {
	for _, c := range []*cobra.Command{toggleCmd, playCmd, pauseCmd, nextCmd, prevCmd, shuffleCmd, repeatCmd, seekCmd, volumeCmd} {
		c.Flags().DurationVar(&controlTimeout, "timeout", 10*time.Second, "how long to wait for the server")
		rootCmd.AddCommand(c)
	}
	volumeCmd.Flags().BoolVar(&volumeUp, "up", false, "Increase volume by 10%")
	volumeCmd.Flags().BoolVar(&volumeDown, "down", false, "Decrease volume by 10%")
}

func fixed(a core.Action) commandBuilder {
	return func(core.PlaybackState, []string) (core.Command, error) {
		return core.Command{Action: a}, nil
	}
}

func say(line string) describer {
	return func(core.Command, core.PlaybackState) string { return line }
}

func buildSeek(st core.PlaybackState, args []string) (core.Command, error) {
	if !st.HasItem() {
		return core.Command{}, errors.New("nothing is playing")
	}
	arg := args[0]
	relative := strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-")
	secs, err := parsePosition(strings.TrimLeft(arg, "+-"))
	if err != nil {
		return core.Command{}, err
	}

	target := secs
	if relative {
		if strings.HasPrefix(arg, "-") {
			secs = -secs
		}
		target = st.Position + secs
	}
	target = math.Max(target, 0)
	if st.Duration > 0 {
		target = math.Min(target, st.Duration)
	}
	return core.Command{Action: core.ActionSeek, Value: target}, nil
}

// parsePosition accepts seconds or m:ss.
func parsePosition(s string) (float64, error) {
	if m, sec, ok := strings.Cut(s, ":"); ok {
		mins, err1 := strconv.Atoi(m)
		secs, err2 := strconv.ParseFloat(sec, 64)
		if err1 != nil || err2 != nil || secs >= 60 {
			return 0, fmt.Errorf("invalid position %q (use seconds or m:ss)", s)
		}
		return float64(mins*60) + secs, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid position %q (use seconds or m:ss)", s)
	}
	return v, nil
}

func buildVolume(st core.PlaybackState, args []string) (core.Command, error) {
	var target float64
	switch {
	case volumeUp && volumeDown:
		return core.Command{}, errors.New("use either --up or --down, not both")
	case volumeUp:
		target = st.Volume + 0.1
	case volumeDown:
		target = st.Volume - 0.1
	case len(args) == 1:
		level, err := strconv.Atoi(args[0])
		if err != nil || level < 0 || level > 100 {
			return core.Command{}, fmt.Errorf("volume must be between 0 and 100")
		}
		target = float64(level) / 100
	default:
		return core.Command{}, errors.New("specify a level (0-100), --up or --down")
	}
	return core.Command{Action: core.ActionVolume, Value: lo.Clamp(target, 0, 1)}, nil
}

// controlRunner starts a short-lived session, waits for the server, issues
// one command and reports the server's verdict.
func controlRunner(build commandBuilder, describe describer) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
		defer cancel()

		sess, err := newSession(cfg, logger, sessionOptions{Audio: "silent", ManualResync: true})
		if err != nil {
			return err
		}
		defer sess.close()

		connected := make(chan struct{}, 1)
		outcome := make(chan events.Event, 1)
		unsubscribe := sess.bus.Subscribe(func(e events.Event) {
			switch e.(type) {
			case events.Connected:
				select {
				case connected <- struct{}{}:
				default:
				}
			case events.CommandAcknowledged, events.CommandFailed:
				select {
				case outcome <- e:
				default:
				}
			}
		})
		defer unsubscribe()

		var (
			issued core.Command
			final  core.PlaybackState
		)
		err = sess.run(ctx, func(ctx context.Context) error {
			// Stop the session once the command settles
			defer cancel()

			select {
			case <-connected:
			case <-ctx.Done():
				return encerrors.WithSuggestion(encerrors.ErrNotConnected, "Check that the server is running and server.url is correct")
			}
			if err := sess.engine.Resync(ctx); err != nil {
				return err
			}

			c, err := build(sess.engine.Snapshot(), args)
			if err != nil {
				return err
			}
			sent, err := sess.engine.Dispatch(c)
			if err != nil {
				return err
			}
			if !sent {
				return encerrors.ErrNotConnected
			}

			select {
			case e := <-outcome:
				if failed, ok := e.(events.CommandFailed); ok {
					return fmt.Errorf("%w: %s", encerrors.ErrCommandRejected, failed.Reason)
				}
			case <-ctx.Done():
				return fmt.Errorf("%w: no reply to %s", encerrors.ErrTimeout, c.Action)
			}
			issued = c
			final = sess.engine.Snapshot()
			return nil
		})
		if err != nil {
			return err
		}
		if issued.Action == "" {
			// Interrupted before the command settled
			return nil
		}

		out := cmd.OutOrStdout()
		if JSONOutput() {
			return json.NewEncoder(out).Encode(map[string]any{
				"status": "ok",
				"action": issued.Action,
				"value":  issued.Value,
				"state":  final,
			})
		}
		_, err = fmt.Fprintln(out, describe(issued, final))
		return err
	}
}
