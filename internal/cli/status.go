package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tessro/encore/internal/config"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/persist"
	"github.com/tessro/encore/internal/transport"
)

var (
	statusLive  bool
	statusClear bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last saved playback state",
	Long: `Shows the playback snapshot saved on this device. With --live the
server's current state is fetched instead.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusLive, "live", false, "fetch the server's current state")
	statusCmd.Flags().BoolVar(&statusClear, "clear", false, "delete the saved snapshot")
	rootCmd.AddCommand(statusCmd)
}

// statusResult is what status reports, from either source.
type statusResult struct {
	Source    string             `json:"source"`
	State     core.PlaybackState `json:"state"`
	HasPos    bool               `json:"has_position"`
	SavedAt   *time.Time         `json:"saved_at,omitempty"`
	DeviceID  string             `json:"device_id,omitempty"`
	WasOnline bool               `json:"saved_online"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if statusLive {
		res, err := liveStatus(cmd.Context())
		if err != nil {
			return err
		}
		return printStatus(out, res)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	kv, err := persist.Open(cfg.Persistence, dataDir)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() { _ = kv.Close() }()

	layer := persist.NewLayer(kv, nil, persist.Options{Logger: logger})

	if statusClear {
		layer.Clear()
		if JSONOutput() {
			return json.NewEncoder(out).Encode(map[string]string{"status": "cleared"})
		}
		_, err := fmt.Fprintln(out, "Saved snapshot cleared")
		return err
	}

	snap, ok := layer.Peek().Get()
	if !ok {
		if JSONOutput() {
			return json.NewEncoder(out).Encode(map[string]any{
				"playing": false,
				"message": "No saved playback",
			})
		}
		_, err := fmt.Fprintln(out, "No saved playback")
		return err
	}

	savedAt := time.UnixMilli(snap.TimestampMillis)
	st := core.PlaybackState{}
	snap.Patch().ApplyTo(&st)
	return printStatus(out, &statusResult{
		Source:    "snapshot",
		State:     st,
		HasPos:    snap.Position != nil,
		SavedAt:   &savedAt,
		DeviceID:  snap.DeviceID,
		WasOnline: !snap.SavedWhileOffline,
	})
}

func liveStatus(ctx context.Context) (*statusResult, error) {
	api, err := transport.NewAPI(cfg.Server.URL, cfg.Server.Token, config.Millis(cfg.Server.RequestTimeout), logger)
	if err != nil {
		return nil, err
	}
	profile := cfg.Profile.ID
	if profile == "" {
		if profile, err = api.CurrentProfile(ctx); err != nil {
			return nil, err
		}
	}
	remote, err := api.FetchState(ctx, profile)
	if err != nil {
		return nil, err
	}
	st := core.PlaybackState{}
	remote.Patch().ApplyTo(&st)
	return &statusResult{Source: "server", State: st, HasPos: remote.Position != nil, WasOnline: true}, nil
}

func printStatus(out io.Writer, res *statusResult) error {
	if JSONOutput() {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	st := res.State
	if !st.HasItem() {
		_, err := fmt.Fprintln(out, "No active playback")
		return err
	}

	t := NewTableWriter(out, "FIELD", "VALUE")
	t.Row("Item", st.ItemID)
	if st.Title != "" {
		t.Row("Title", st.Title)
	}
	if st.Creator != "" {
		t.Row("Creator", st.Creator)
	}
	state := "⏸ Paused"
	if st.Playing {
		state = "▶ Playing"
	}
	t.Row("State", state)
	if res.HasPos {
		t.Row("Position", FormatDuration(int(st.Position))+" / "+FormatDuration(int(st.Duration))+"  "+FormatProgress(int(st.Position), int(st.Duration), 20))
	} else {
		t.Row("Duration", FormatDuration(int(st.Duration)))
	}
	t.Row("Volume", fmt.Sprintf("%d%%", int(st.Volume*100+0.5)))
	t.Row("Shuffle", string(st.Shuffle))
	t.Row("Repeat", string(st.Repeat))
	t.Row("Queue", fmt.Sprintf("%d items", len(st.Queue)))
	if res.SavedAt != nil {
		t.Row("Saved", res.SavedAt.Local().Format(time.DateTime))
		t.Row("Device", res.DeviceID)
		conn := "offline"
		if res.WasOnline {
			conn = "online"
		}
		t.Row("Connection", StatusIcon(res.WasOnline)+" "+conn)
	}
	t.Flush()
	return nil
}
