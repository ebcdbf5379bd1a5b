package core

import "slices"

// PlaybackState represents the current "now playing" state.
type PlaybackState struct {
	ItemID    string      `json:"item_id"`
	Title     string      `json:"title"`
	Creator   string      `json:"creator"`
	Playing   bool        `json:"playing"`
	Position  float64     `json:"position"`
	Duration  float64     `json:"duration"`
	Volume    float64     `json:"volume"`
	Shuffle   ShuffleMode `json:"shuffle"`
	Repeat    RepeatMode  `json:"repeat"`
	Queue     []string    `json:"queue"`
	HasLyrics bool        `json:"has_lyrics"`
}

// HasItem returns true if an item is loaded.
func (s *PlaybackState) HasItem() bool {
	return s != nil && s.ItemID != ""
}

// ProgressPercent returns playback progress as a percentage (0-100).
func (s *PlaybackState) ProgressPercent() float64 {
	if s == nil || s.Duration <= 0 {
		return 0
	}
	p := s.Position / s.Duration * 100
	if p > 100 {
		return 100
	}
	return p
}

// Clone returns a deep copy of the state.
func (s PlaybackState) Clone() PlaybackState {
	s.Queue = slices.Clone(s.Queue)
	return s
}

// Equal reports whether two states hold the same values.
func (s PlaybackState) Equal(o PlaybackState) bool {
	for _, f := range AllFields {
		if !s.FieldEqual(o, f) {
			return false
		}
	}
	return true
}

// FieldEqual reports whether field f holds the same value in s and o.
func (s PlaybackState) FieldEqual(o PlaybackState, f Field) bool {
	if f == FieldQueue {
		return slices.Equal(s.Queue, o.Queue)
	}
	return s.Get(f) == o.Get(f)
}

// Get returns the value of field f. Queue values are returned as a copy.
func (s PlaybackState) Get(f Field) any {
	switch f {
	case FieldItemID:
		return s.ItemID
	case FieldTitle:
		return s.Title
	case FieldCreator:
		return s.Creator
	case FieldPlaying:
		return s.Playing
	case FieldPosition:
		return s.Position
	case FieldDuration:
		return s.Duration
	case FieldVolume:
		return s.Volume
	case FieldShuffle:
		return s.Shuffle
	case FieldRepeat:
		return s.Repeat
	case FieldQueue:
		return slices.Clone(s.Queue)
	case FieldHasLyrics:
		return s.HasLyrics
	default:
		return nil
	}
}
