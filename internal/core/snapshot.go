package core

import "slices"

// Snapshot is the persisted copy of a PlaybackState.
// Position is nil unless a live position was captured.
type Snapshot struct {
	ItemID            string      `json:"currentItemId"`
	Title             string      `json:"title"`
	Creator           string      `json:"creator"`
	Playing           bool        `json:"playing"`
	Duration          float64     `json:"durationSeconds"`
	Volume            float64     `json:"volume"`
	Shuffle           ShuffleMode `json:"shuffleMode"`
	Repeat            RepeatMode  `json:"repeatMode"`
	Queue             []string    `json:"queue,omitempty"`
	HasLyrics         bool        `json:"hasLyrics"`
	TimestampMillis   int64       `json:"timestampMillis"`
	DeviceID          string      `json:"deviceId"`
	Position          *float64    `json:"positionSeconds"`
	SavedWhileOffline bool        `json:"savedWhileOffline"`
}

// NewSnapshot copies s into a snapshot. The live position is only kept
// when withPosition is true.
func NewSnapshot(s PlaybackState, withPosition bool) Snapshot {
	snap := Snapshot{
		ItemID:    s.ItemID,
		Title:     s.Title,
		Creator:   s.Creator,
		Playing:   s.Playing,
		Duration:  s.Duration,
		Volume:    s.Volume,
		Shuffle:   s.Shuffle,
		Repeat:    s.Repeat,
		Queue:     slices.Clone(s.Queue),
		HasLyrics: s.HasLyrics,
	}
	if withPosition {
		snap.Position = Ptr(s.Position)
	}
	return snap
}

// Patch converts the snapshot to a full patch suitable for a replace.
// Position is only present when it was persisted.
func (s Snapshot) Patch() Patch {
	q := slices.Clone(s.Queue)
	p := Patch{
		ItemID:    Ptr(s.ItemID),
		Title:     Ptr(s.Title),
		Creator:   Ptr(s.Creator),
		Playing:   Ptr(s.Playing),
		Duration:  Ptr(s.Duration),
		Volume:    Ptr(s.Volume),
		Shuffle:   Ptr(s.Shuffle),
		Repeat:    Ptr(s.Repeat),
		Queue:     &q,
		HasLyrics: Ptr(s.HasLyrics),
	}
	if s.Position != nil {
		p.Position = Ptr(*s.Position)
	}
	return p
}
