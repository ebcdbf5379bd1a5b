package core

import "fmt"

// Action is a user command understood by the playback controller.
type Action string

const (
	ActionPlayPause    Action = "playPause"
	ActionPlay         Action = "play"
	ActionPause        Action = "pause"
	ActionPrevious     Action = "previous"
	ActionNext         Action = "next"
	ActionShuffleCycle Action = "shuffleCycle"
	ActionRepeatCycle  Action = "repeatCycle"
	ActionSeek         Action = "seek"
	ActionVolume       Action = "volume"
)

// Actions lists every supported action.
var Actions = []Action{
	ActionPlayPause,
	ActionPlay,
	ActionPause,
	ActionPrevious,
	ActionNext,
	ActionShuffleCycle,
	ActionRepeatCycle,
	ActionSeek,
	ActionVolume,
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action: %s", s)
}

// Command is a user command with its optional argument.
// Value carries the seek position in seconds or the volume in [0,1].
type Command struct {
	Action Action  `json:"action"`
	Value  float64 `json:"value,omitempty"`
}
