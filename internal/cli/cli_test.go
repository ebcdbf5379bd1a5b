package cli

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tessro/encore/internal/core"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"90", 90, false},
		{"1:30", 90, false},
		{"0:05", 5, false},
		{"12.5", 12.5, false},
		{"1:75", 0, true},
		{"a:10", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePosition(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePosition(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parsePosition(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildSeek(t *testing.T) {
	st := core.PlaybackState{ItemID: "a", Position: 30, Duration: 120}

	tests := []struct {
		arg  string
		want float64
	}{
		{"45", 45},
		{"+15", 45},
		{"-10", 20},
		{"-1:00", 0},
		{"5:00", 120},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			cmd, err := buildSeek(st, []string{tt.arg})
			if err != nil {
				t.Fatalf("buildSeek(%q) error = %v", tt.arg, err)
			}
			if cmd.Action != core.ActionSeek || cmd.Value != tt.want {
				t.Errorf("buildSeek(%q) = %+v, want seek to %v", tt.arg, cmd, tt.want)
			}
		})
	}

	if _, err := buildSeek(core.PlaybackState{}, []string{"10"}); err == nil {
		t.Error("buildSeek without an item should fail")
	}
}

func TestBuildVolume(t *testing.T) {
	defer func() { volumeUp, volumeDown = false, false }()

	tests := []struct {
		name    string
		up      bool
		down    bool
		args    []string
		current float64
		want    float64
		wantErr bool
	}{
		{"absolute", false, false, []string{"40"}, 0.8, 0.4, false},
		{"up", true, false, nil, 0.5, 0.6, false},
		{"up clamps", true, false, nil, 0.95, 1, false},
		{"down clamps", false, true, nil, 0.05, 0, false},
		{"out of range", false, false, []string{"150"}, 0.5, 0, true},
		{"both flags", true, true, nil, 0.5, 0, true},
		{"nothing", false, false, nil, 0.5, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			volumeUp, volumeDown = tt.up, tt.down
			cmd, err := buildVolume(core.PlaybackState{Volume: tt.current}, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildVolume() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cmd.Action != core.ActionVolume || math.Abs(cmd.Value-tt.want) > 1e-9 {
				t.Errorf("buildVolume() = %+v, want volume %v", cmd, tt.want)
			}
		})
	}
}

func TestPrintStatusTable(t *testing.T) {
	savedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	res := &statusResult{
		Source: "snapshot",
		State: core.PlaybackState{
			ItemID:   "track-1",
			Title:    "So What",
			Playing:  true,
			Position: 65,
			Duration: 545,
			Volume:   0.7,
			Shuffle:  core.ShuffleOff,
			Repeat:   core.RepeatAll,
			Queue:    []string{"track-1", "track-2"},
		},
		HasPos:   true,
		SavedAt:  &savedAt,
		DeviceID: "dev-1",
	}

	var buf bytes.Buffer
	if err := printStatus(&buf, res); err != nil {
		t.Fatalf("printStatus() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"So What", "▶ Playing", "1:05 / 9:05", "70%", "ALL", "2 items", "dev-1", "offline"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatusEmptyAndJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printStatus(&buf, &statusResult{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No active playback") {
		t.Errorf("output = %q", buf.String())
	}

	jsonOut = true
	defer func() { jsonOut = false }()

	buf.Reset()
	res := &statusResult{Source: "server", State: core.PlaybackState{ItemID: "x"}, WasOnline: true}
	if err := printStatus(&buf, res); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["source"] != "server" || got["saved_online"] != true {
		t.Errorf("json = %v", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		secs int
		want string
	}{
		{0, "0:00"},
		{65, "1:05"},
		{3725, "1:02:05"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.secs); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}
