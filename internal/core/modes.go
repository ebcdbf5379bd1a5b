package core

import (
	"fmt"
	"strings"
)

// ShuffleMode controls queue ordering.
type ShuffleMode string

const (
	ShuffleOff   ShuffleMode = "OFF"
	ShuffleOn    ShuffleMode = "SHUFFLE"
	ShuffleSmart ShuffleMode = "SMART_SHUFFLE"
)

// Next returns the mode that follows s in the UI cycle.
func (s ShuffleMode) Next() ShuffleMode {
	switch s {
	case ShuffleOn:
		return ShuffleSmart
	case ShuffleSmart:
		return ShuffleOff
	default:
		return ShuffleOn
	}
}

// RepeatMode controls end-of-item behavior.
type RepeatMode string

const (
	RepeatOff RepeatMode = "OFF"
	RepeatOne RepeatMode = "ONE"
	RepeatAll RepeatMode = "ALL"
)

// Next returns the mode that follows r in the UI cycle.
func (r RepeatMode) Next() RepeatMode {
	switch r {
	case RepeatAll:
		return RepeatOne
	case RepeatOne:
		return RepeatOff
	default:
		return RepeatAll
	}
}

// ParseShuffleMode parses a shuffle mode, accepting lower case names.
func ParseShuffleMode(s string) (ShuffleMode, error) {
	switch m := ShuffleMode(strings.ToUpper(s)); m {
	case ShuffleOff, ShuffleOn, ShuffleSmart:
		return m, nil
	case "":
		return ShuffleOff, nil
	default:
		return ShuffleOff, fmt.Errorf("invalid shuffle mode: %s", s)
	}
}

// ParseRepeatMode parses a repeat mode, accepting lower case names.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch m := RepeatMode(strings.ToUpper(s)); m {
	case RepeatOff, RepeatOne, RepeatAll:
		return m, nil
	case "":
		return RepeatOff, nil
	default:
		return RepeatOff, fmt.Errorf("invalid repeat mode: %s", s)
	}
}
