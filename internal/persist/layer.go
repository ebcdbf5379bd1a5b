package persist

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"
	"github.com/tessro/encore/internal/core"
	encerrors "github.com/tessro/encore/internal/errors"
	"github.com/tessro/encore/internal/logging"
)

// SnapshotKey is the constant key the snapshot is stored under.
const SnapshotKey = "encore.playback.snapshot"

// DefaultMaxAge is how old a snapshot may be and still be restored.
const DefaultMaxAge = 30 * time.Second

// StateSource is the read-only view of the store the layer snapshots.
type StateSource interface {
	Snapshot() core.PlaybackState
	Offline() bool
}

// SaveOptions controls what a save captures.
type SaveOptions struct {
	IncludeLivePosition bool
}

// Options configures a Layer.
type Options struct {
	DeviceID string
	MaxAge   time.Duration
	Clock    clock.Clock
	Logger   logrus.FieldLogger
}

// Layer writes and reads the playback snapshot. It never mutates the
// store.
type Layer struct {
	kv       KV
	src      StateSource
	deviceID string
	maxAge   time.Duration
	clock    clock.Clock
	log      *logrus.Entry
}

// NewLayer creates a persistence layer over kv reading from src.
func NewLayer(kv KV, src StateSource, opts Options) *Layer {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Layer{
		kv:       kv,
		src:      src,
		deviceID: opts.DeviceID,
		maxAge:   opts.MaxAge,
		clock:    opts.Clock,
		log:      logging.Component(opts.Logger, "persist"),
	}
}

// Save writes the current state. The position is stored only when
// requested or while offline. Failures are logged and reported as false.
func (l *Layer) Save(opts SaveOptions) bool {
	offline := l.src.Offline()

	snap := core.NewSnapshot(l.src.Snapshot(), opts.IncludeLivePosition || offline)
	snap.TimestampMillis = l.clock.Now().UnixMilli()
	snap.DeviceID = l.deviceID
	snap.SavedWhileOffline = offline

	data, err := json.Marshal(snap)
	if err != nil {
		l.log.WithError(err).Warn("failed to encode snapshot")
		return false
	}
	if err := l.kv.Set(SnapshotKey, data); err != nil {
		l.log.WithError(err).Warn("failed to save snapshot")
		return false
	}

	l.log.WithFields(logrus.Fields{
		"item":    snap.ItemID,
		"offline": offline,
	}).Debug("snapshot saved")
	return true
}

// Restore returns the stored snapshot when it is fresh and was written by
// this device. Absent, corrupt, stale and foreign snapshots all yield None.
func (l *Layer) Restore() mo.Option[core.Snapshot] {
	snap, ok := l.Peek().Get()
	if !ok {
		return mo.None[core.Snapshot]()
	}

	age := time.Duration(l.clock.Now().UnixMilli()-snap.TimestampMillis) * time.Millisecond
	if age > l.maxAge {
		l.log.WithField("age", age).Debug("snapshot too old, ignoring")
		return mo.None[core.Snapshot]()
	}
	if snap.DeviceID != l.deviceID {
		l.log.WithField("device", snap.DeviceID).Debug("snapshot from another device, ignoring")
		return mo.None[core.Snapshot]()
	}
	return mo.Some(snap)
}

// Peek returns the stored snapshot without age or device checks.
func (l *Layer) Peek() mo.Option[core.Snapshot] {
	data, err := l.kv.Get(SnapshotKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.log.WithError(err).Warn("failed to read snapshot")
		}
		return mo.None[core.Snapshot]()
	}

	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		l.log.WithError(errors.Join(encerrors.ErrCorruptSnapshot, err)).Warn("discarding snapshot")
		return mo.None[core.Snapshot]()
	}
	return mo.Some(snap)
}

// Clear removes the stored snapshot.
func (l *Layer) Clear() {
	if err := l.kv.Delete(SnapshotKey); err != nil {
		l.log.WithError(err).Warn("failed to clear snapshot")
	}
}

// DeviceID returns the identity snapshots are tagged with.
func (l *Layer) DeviceID() string {
	return l.deviceID
}
