// Package transport owns the connection to the media server: the push
// channel carrying {type, payload} frames and the HTTP API used for
// out-of-band resyncs.
package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tessro/encore/internal/core"
	encerrors "github.com/tessro/encore/internal/errors"
)

// Frame types exchanged on the push channel.
const (
	TypeState         = "state"
	TypeQueue         = "queue"
	TypeCommand       = "command"
	TypeCommandResult = "command_result"
)

// Frame is one message on the push channel.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseFrame decodes a frame. Errors wrap ErrMalformedFrame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", encerrors.ErrMalformedFrame, err)
	}
	f.Type = strings.TrimSpace(f.Type)
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", encerrors.ErrMalformedFrame)
	}
	return f, nil
}

// EncodeFrame builds a frame from a payload value.
func EncodeFrame(typ string, payload any) ([]byte, error) {
	f := Frame{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		f.Payload = raw
	}
	return json.Marshal(f)
}

// DecodePayload unmarshals a frame payload. Errors wrap ErrMalformedFrame.
func DecodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", encerrors.ErrMalformedFrame)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", encerrors.ErrMalformedFrame, err)
	}
	return nil
}

// ServerState is the authoritative state pushed by the server and
// returned by the resync endpoint. Absent keys are left untouched.
type ServerState struct {
	ItemID          *string           `json:"currentItemId,omitempty"`
	Title           *string           `json:"title,omitempty"`
	Creator         *string           `json:"creator,omitempty"`
	Playing         *bool             `json:"playing,omitempty"`
	Position        *float64          `json:"positionSeconds,omitempty"`
	Duration        *float64          `json:"durationSeconds,omitempty"`
	Volume          *float64          `json:"volume,omitempty"`
	Shuffle         *core.ShuffleMode `json:"shuffleMode,omitempty"`
	Repeat          *core.RepeatMode  `json:"repeatMode,omitempty"`
	Queue           *[]string         `json:"queue,omitempty"`
	HasLyrics       *bool             `json:"hasLyrics,omitempty"`
	TimestampMillis int64             `json:"timestamp"`
}

// Patch converts the present keys to a store patch.
func (s ServerState) Patch() core.Patch {
	return core.Patch{
		ItemID:    s.ItemID,
		Title:     s.Title,
		Creator:   s.Creator,
		Playing:   s.Playing,
		Position:  s.Position,
		Duration:  s.Duration,
		Volume:    s.Volume,
		Shuffle:   s.Shuffle,
		Repeat:    s.Repeat,
		Queue:     s.Queue,
		HasLyrics: s.HasLyrics,
	}
}

// QueuePayload is the body of a queue frame.
type QueuePayload struct {
	Items []string `json:"items"`
}

// CommandPayload is the body of an outbound command frame.
type CommandPayload struct {
	Action   core.Action `json:"action"`
	Value    float64     `json:"value,omitempty"`
	Seq      uint64      `json:"seq"`
	DeviceID string      `json:"deviceId,omitempty"`
}

// CommandResult is the server's verdict on a command.
type CommandResult struct {
	Seq    uint64      `json:"seq"`
	Action core.Action `json:"action"`
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
}
