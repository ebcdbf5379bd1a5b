package suppress

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tessro/encore/internal/core"
)

func newTracker() (*Tracker, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	return New(clk, nil, nil), clk
}

func TestFilterDropsOnlyConflictingField(t *testing.T) {
	tr, clk := newTracker()
	tr.Record(core.ActionPlayPause)
	clk.Add(2999 * time.Millisecond)

	in := core.Patch{
		ItemID:   core.Ptr("song-2"),
		Playing:  core.Ptr(true),
		Position: core.Ptr(4.0),
		Duration: core.Ptr(180.0),
	}
	out := tr.Filter(in)

	if out.Playing != nil {
		t.Error("Playing passed through inside the suppression window")
	}
	if out.ItemID == nil || *out.ItemID != "song-2" {
		t.Error("ItemID was dropped")
	}
	if out.Position == nil || out.Duration == nil {
		t.Error("non-conflicting fields were dropped")
	}
}

func TestFilterPassesAfterWindow(t *testing.T) {
	tr, clk := newTracker()
	tr.Record(core.ActionPlayPause)
	clk.Add(3 * time.Second)

	out := tr.Filter(core.Patch{Playing: core.Ptr(false)})
	if out.Playing == nil {
		t.Error("Playing suppressed after the window expired")
	}
}

func TestShouldSuppress(t *testing.T) {
	tests := []struct {
		name    string
		record  core.Action
		elapsed time.Duration
		check   core.Action
		patch   core.Patch
		want    bool
	}{
		{"fresh toggle", core.ActionPlayPause, time.Second, core.ActionPlayPause, core.Patch{Playing: core.Ptr(true)}, true},
		{"expired toggle", core.ActionPlayPause, 3 * time.Second, core.ActionPlayPause, core.Patch{Playing: core.Ptr(true)}, false},
		{"no conflicting key", core.ActionPlayPause, time.Second, core.ActionPlayPause, core.Patch{ItemID: core.Ptr("x")}, false},
		{"seek window", core.ActionSeek, time.Second, core.ActionSeek, core.Patch{Position: core.Ptr(3.0)}, true},
		{"seek expired", core.ActionSeek, 1500 * time.Millisecond, core.ActionSeek, core.Patch{Position: core.Ptr(3.0)}, false},
		{"other action", core.ActionVolume, time.Second, core.ActionPlayPause, core.Patch{Playing: core.Ptr(true)}, false},
		{"next never suppresses", core.ActionNext, 0, core.ActionNext, core.Patch{ItemID: core.Ptr("x")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, clk := newTracker()
			tr.Record(tt.record)
			clk.Add(tt.elapsed)

			if got := tr.ShouldSuppress(tt.check, tt.patch); got != tt.want {
				t.Errorf("ShouldSuppress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterCombinesActiveActions(t *testing.T) {
	tr, _ := newTracker()
	tr.Record(core.ActionVolume)
	tr.Record(core.ActionRepeatCycle)

	out := tr.Filter(core.Patch{
		Volume:  core.Ptr(0.2),
		Repeat:  core.Ptr(core.RepeatAll),
		Shuffle: core.Ptr(core.ShuffleOn),
	})

	if out.Volume != nil || out.Repeat != nil {
		t.Error("guarded fields passed through")
	}
	if out.Shuffle == nil {
		t.Error("unguarded shuffle was dropped")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	tr, clk := newTracker()
	start := clk.Now().UnixMilli()

	for i := 0; i < HistoryLimit+5; i++ {
		tr.Record(core.ActionSeek)
		clk.Add(time.Millisecond)
	}

	hist := tr.History(core.ActionSeek)
	if len(hist) != HistoryLimit {
		t.Fatalf("len(History) = %d, want %d", len(hist), HistoryLimit)
	}
	if hist[0].TimestampMillis != start+5 {
		t.Errorf("oldest record = %d, want %d (oldest evicted)", hist[0].TimestampMillis, start+5)
	}
	if len(tr.History(core.ActionVolume)) != 0 {
		t.Error("history leaked across actions")
	}
}

func TestTimeoutsFromConfig(t *testing.T) {
	d := DefaultTimeouts()
	if d[core.ActionPlayPause] != 3*time.Second {
		t.Errorf("playPause timeout = %v, want 3s", d[core.ActionPlayPause])
	}
	if d[core.ActionSeek] != 1500*time.Millisecond {
		t.Errorf("seek timeout = %v, want 1.5s", d[core.ActionSeek])
	}
	if _, ok := d[core.ActionNext]; ok {
		t.Error("next should have no suppression window")
	}
}
