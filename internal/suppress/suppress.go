// Package suppress remembers recent local commands so that server echoes of
// the pre-command state do not overwrite an optimistic change.
package suppress

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/config"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/logging"
)

// HistoryLimit is the number of records kept per action.
const HistoryLimit = 10

// Record is one locally issued action.
type Record struct {
	Action          core.Action `json:"action"`
	TimestampMillis int64       `json:"timestampMillis"`
}

// conflicts maps an action to the state keys a server echo may not
// overwrite while the action is fresh. Actions that are absent never
// suppress anything.
var conflicts = map[core.Action][]core.Field{
	core.ActionPlayPause:    {core.FieldPlaying},
	core.ActionPlay:         {core.FieldPlaying},
	core.ActionPause:        {core.FieldPlaying},
	core.ActionSeek:         {core.FieldPosition},
	core.ActionVolume:       {core.FieldVolume},
	core.ActionShuffleCycle: {core.FieldShuffle},
	core.ActionRepeatCycle:  {core.FieldRepeat},
}

// Conflicts returns the keys guarded by action a.
func Conflicts(a core.Action) []core.Field {
	return conflicts[a]
}

// Timeouts is the suppression window per action.
type Timeouts map[core.Action]time.Duration

// DefaultTimeouts returns the built-in windows.
func DefaultTimeouts() Timeouts {
	return TimeoutsFromConfig(config.Default().Sync)
}

// TimeoutsFromConfig builds windows from the [sync] section.
func TimeoutsFromConfig(cfg config.SyncConfig) Timeouts {
	toggle := config.Millis(cfg.PlayPauseSuppress)
	mode := config.Millis(cfg.ModeSuppress)
	return Timeouts{
		core.ActionPlayPause:    toggle,
		core.ActionPlay:         toggle,
		core.ActionPause:        toggle,
		core.ActionSeek:         config.Millis(cfg.SeekSuppress),
		core.ActionVolume:       config.Millis(cfg.VolumeSuppress),
		core.ActionShuffleCycle: mode,
		core.ActionRepeatCycle:  mode,
	}
}

// Tracker records local actions and filters inbound state against them.
type Tracker struct {
	mu       sync.Mutex
	clock    clock.Clock
	timeouts Timeouts
	history  map[core.Action][]Record
	log      *logrus.Entry
}

// New creates a tracker. A nil clock uses the wall clock.
func New(clk clock.Clock, timeouts Timeouts, log logrus.FieldLogger) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	if timeouts == nil {
		timeouts = DefaultTimeouts()
	}
	return &Tracker{
		clock:    clk,
		timeouts: timeouts,
		history:  make(map[core.Action][]Record),
		log:      logging.Component(log, "suppress"),
	}
}

// Record notes that action a was just issued locally.
func (t *Tracker) Record(a core.Action) {
	t.mu.Lock()
	defer t.mu.Unlock()

	recs := append(t.history[a], Record{Action: a, TimestampMillis: t.clock.Now().UnixMilli()})
	if len(recs) > HistoryLimit {
		recs = recs[len(recs)-HistoryLimit:]
	}
	t.history[a] = recs
}

// History returns the retained records for action a, oldest first.
func (t *Tracker) History(a core.Action) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record(nil), t.history[a]...)
}

// Active reports whether the most recent record of a is inside its window.
func (t *Tracker) Active(a core.Action) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked(a)
}

// ShouldSuppress reports whether p carries a key that action a currently
// guards.
func (t *Tracker) ShouldSuppress(a core.Action, p core.Patch) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.activeLocked(a) {
		return false
	}
	return lo.SomeBy(conflicts[a], p.Has)
}

// Filter drops from p every key guarded by an action still inside its
// window. Unrelated keys pass through untouched.
func (t *Tracker) Filter(p core.Patch) core.Patch {
	t.mu.Lock()
	defer t.mu.Unlock()

	var drop []core.Field
	for a, fields := range conflicts {
		if !t.activeLocked(a) {
			continue
		}
		drop = append(drop, lo.Filter(fields, func(f core.Field, _ int) bool { return p.Has(f) })...)
	}
	if len(drop) == 0 {
		return p
	}

	t.log.WithField("fields", drop).Debug("suppressed server echo")
	return p.Without(drop...)
}

func (t *Tracker) activeLocked(a core.Action) bool {
	recs := t.history[a]
	if len(recs) == 0 {
		return false
	}
	last := recs[len(recs)-1]
	elapsed := t.clock.Now().UnixMilli() - last.TimestampMillis
	return elapsed < t.timeouts[a].Milliseconds()
}
