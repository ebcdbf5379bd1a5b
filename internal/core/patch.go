package core

import "slices"

// Patch is a partial PlaybackState. A nil field means the key is absent.
type Patch struct {
	ItemID    *string      `json:"item_id,omitempty"`
	Title     *string      `json:"title,omitempty"`
	Creator   *string      `json:"creator,omitempty"`
	Playing   *bool        `json:"playing,omitempty"`
	Position  *float64     `json:"position,omitempty"`
	Duration  *float64     `json:"duration,omitempty"`
	Volume    *float64     `json:"volume,omitempty"`
	Shuffle   *ShuffleMode `json:"shuffle,omitempty"`
	Repeat    *RepeatMode  `json:"repeat,omitempty"`
	Queue     *[]string    `json:"queue,omitempty"`
	HasLyrics *bool        `json:"has_lyrics,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// FullPatch returns a patch with every key of s present.
func FullPatch(s PlaybackState) Patch {
	q := slices.Clone(s.Queue)
	return Patch{
		ItemID:    Ptr(s.ItemID),
		Title:     Ptr(s.Title),
		Creator:   Ptr(s.Creator),
		Playing:   Ptr(s.Playing),
		Position:  Ptr(s.Position),
		Duration:  Ptr(s.Duration),
		Volume:    Ptr(s.Volume),
		Shuffle:   Ptr(s.Shuffle),
		Repeat:    Ptr(s.Repeat),
		Queue:     &q,
		HasLyrics: Ptr(s.HasLyrics),
	}
}

// Has reports whether key f is present.
func (p Patch) Has(f Field) bool {
	switch f {
	case FieldItemID:
		return p.ItemID != nil
	case FieldTitle:
		return p.Title != nil
	case FieldCreator:
		return p.Creator != nil
	case FieldPlaying:
		return p.Playing != nil
	case FieldPosition:
		return p.Position != nil
	case FieldDuration:
		return p.Duration != nil
	case FieldVolume:
		return p.Volume != nil
	case FieldShuffle:
		return p.Shuffle != nil
	case FieldRepeat:
		return p.Repeat != nil
	case FieldQueue:
		return p.Queue != nil
	case FieldHasLyrics:
		return p.HasLyrics != nil
	default:
		return false
	}
}

// Fields returns the present keys in AllFields order.
func (p Patch) Fields() []Field {
	var out []Field
	for _, f := range AllFields {
		if p.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// IsEmpty returns true if no key is present.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Without returns a copy of p with the given keys removed.
func (p Patch) Without(fields ...Field) Patch {
	for _, f := range fields {
		switch f {
		case FieldItemID:
			p.ItemID = nil
		case FieldTitle:
			p.Title = nil
		case FieldCreator:
			p.Creator = nil
		case FieldPlaying:
			p.Playing = nil
		case FieldPosition:
			p.Position = nil
		case FieldDuration:
			p.Duration = nil
		case FieldVolume:
			p.Volume = nil
		case FieldShuffle:
			p.Shuffle = nil
		case FieldRepeat:
			p.Repeat = nil
		case FieldQueue:
			p.Queue = nil
		case FieldHasLyrics:
			p.HasLyrics = nil
		}
	}
	return p
}

// Only returns a copy of p restricted to the given keys.
func (p Patch) Only(fields ...Field) Patch {
	var drop []Field
	for _, f := range AllFields {
		if !slices.Contains(fields, f) {
			drop = append(drop, f)
		}
	}
	return p.Without(drop...)
}

// ApplyTo merges the present keys of p into s.
func (p Patch) ApplyTo(s *PlaybackState) {
	if p.ItemID != nil {
		s.ItemID = *p.ItemID
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Creator != nil {
		s.Creator = *p.Creator
	}
	if p.Playing != nil {
		s.Playing = *p.Playing
	}
	if p.Position != nil {
		s.Position = *p.Position
	}
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.Volume != nil {
		s.Volume = *p.Volume
	}
	if p.Shuffle != nil {
		s.Shuffle = *p.Shuffle
	}
	if p.Repeat != nil {
		s.Repeat = *p.Repeat
	}
	if p.Queue != nil {
		s.Queue = slices.Clone(*p.Queue)
	}
	if p.HasLyrics != nil {
		s.HasLyrics = *p.HasLyrics
	}
}

// Rollback returns a patch restoring the keys of p to their values in s.
func (p Patch) Rollback(s PlaybackState) Patch {
	return FullPatch(s).Only(p.Fields()...)
}
