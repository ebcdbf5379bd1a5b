package core

// Field names a single key of PlaybackState.
type Field string

const (
	FieldItemID    Field = "currentItemId"
	FieldTitle     Field = "title"
	FieldCreator   Field = "creator"
	FieldPlaying   Field = "playing"
	FieldPosition  Field = "positionSeconds"
	FieldDuration  Field = "durationSeconds"
	FieldVolume    Field = "volume"
	FieldShuffle   Field = "shuffleMode"
	FieldRepeat    Field = "repeatMode"
	FieldQueue     Field = "queue"
	FieldHasLyrics Field = "hasLyrics"
)

// AllFields lists every PlaybackState field in a stable order.
var AllFields = []Field{
	FieldItemID,
	FieldTitle,
	FieldCreator,
	FieldPlaying,
	FieldPosition,
	FieldDuration,
	FieldVolume,
	FieldShuffle,
	FieldRepeat,
	FieldQueue,
	FieldHasLyrics,
}
