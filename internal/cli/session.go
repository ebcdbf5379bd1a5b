package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tessro/encore/internal/audio"
	"github.com/tessro/encore/internal/audio/mpv"
	"github.com/tessro/encore/internal/config"
	"github.com/tessro/encore/internal/coord"
	"github.com/tessro/encore/internal/core"
	encerrors "github.com/tessro/encore/internal/errors"
	"github.com/tessro/encore/internal/events"
	"github.com/tessro/encore/internal/identity"
	"github.com/tessro/encore/internal/persist"
	"github.com/tessro/encore/internal/playback"
	"github.com/tessro/encore/internal/state"
	"github.com/tessro/encore/internal/suppress"
	"github.com/tessro/encore/internal/transport"
)

// sessionOptions tunes how a session is assembled.
type sessionOptions struct {
	// Audio overrides cfg.Audio.Backend when set.
	Audio    string
	Notifier playback.Notifier
	// ManualResync skips the resync the channel runs on every connect.
	ManualResync bool
}

// session is one fully wired playback client.
type session struct {
	cfg      *config.Config
	log      *logrus.Logger
	clock    clock.Clock
	deviceID string

	kv      persist.KV
	api     *transport.API
	ident   *identity.Context
	store   *state.Store
	bus     *events.Bus
	coord   *coord.Coordinator
	layer   *persist.Layer
	player  *mpv.MPV
	audio   *audio.Manager
	engine  *playback.Engine
	channel *transport.Channel
}

// newSession builds every component from cfg. Nothing touches the
// network until run.
func newSession(cfg *config.Config, log *logrus.Logger, opts sessionOptions) (*session, error) {
	s := &session{cfg: cfg, log: log, clock: clock.New()}

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	s.kv, err = persist.Open(cfg.Persistence, dataDir)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	s.deviceID = cfg.Device.ID
	if s.deviceID == "" {
		if s.deviceID, err = persist.DeviceID(s.kv); err != nil {
			_ = s.kv.Close()
			return nil, err
		}
	}

	s.api, err = transport.NewAPI(cfg.Server.URL, cfg.Server.Token, config.Millis(cfg.Server.RequestTimeout), log, transport.WithClock(s.clock))
	if err != nil {
		_ = s.kv.Close()
		return nil, encerrors.WithSuggestion(err, "Set server.url to the media server's http(s) address")
	}

	s.ident = identity.New()
	s.ident.Resolve(cfg.Profile.ID)

	s.store = state.New(core.PlaybackState{Volume: float64(cfg.Audio.Volume) / 100}, log)
	s.bus = events.NewBus(log)
	s.coord = coord.New(coord.Options{
		Frames: coord.ClockFrames{Clock: s.clock, Interval: config.Millis(cfg.Sync.FrameInterval)},
		Logger: log,
	})
	tracker := suppress.New(s.clock, suppress.TimeoutsFromConfig(cfg.Sync), log)
	s.layer = persist.NewLayer(s.kv, s.store, persist.Options{
		DeviceID: s.deviceID,
		MaxAge:   config.Millis(cfg.Persistence.MaxAge),
		Clock:    s.clock,
		Logger:   log,
	})

	backend := cfg.Audio.Backend
	if opts.Audio != "" {
		backend = opts.Audio
	}
	var out audio.Primitive
	switch backend {
	case "silent":
		out = audio.NewSilent(audio.SilentOptions{Clock: s.clock})
	case "mpv", "":
		s.player = mpv.New(mpv.Options{
			Path:   cfg.Audio.MPVPath,
			Volume: float64(cfg.Audio.Volume) / 100,
			Logger: log,
		})
		out = s.player
	default:
		_ = s.kv.Close()
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}

	s.audio = audio.NewManager(out, audio.Options{
		Coordinator: s.coord,
		Identity:    s.ident,
		Store:       s.store,
		Events:      s.bus,
		Address: func(itemID string) string {
			profile, _ := s.ident.Current()
			return s.api.StreamURL(itemID, profile)
		},
		Clock:      s.clock,
		RetryDelay: config.Millis(cfg.Sync.AudioRetryDelay),
		Logger:     log,
	})

	s.engine = playback.New(playback.Options{
		Store:        s.store,
		Tracker:      tracker,
		Persist:      s.layer,
		Coordinator:  s.coord,
		Audio:        s.audio,
		Identity:     s.ident,
		Events:       s.bus,
		API:          s.api,
		Notifier:     opts.Notifier,
		Debounce:     config.Millis(cfg.Sync.Debounce),
		SaveThrottle: config.Millis(cfg.Persistence.Throttle),
		Clock:        s.clock,
		Logger:       log,
	})

	header := s.api.Header()
	header.Set("X-Encore-Device", s.deviceID)
	var onOpen func(context.Context)
	if !opts.ManualResync {
		onOpen = func(ctx context.Context) { _ = s.engine.Resync(ctx) }
	}
	s.channel = transport.NewChannel(transport.Options{
		URL:            s.api.WebSocketURL,
		Header:         header,
		Identity:       s.ident,
		Inbox:          s.coord,
		Store:          s.store,
		Events:         s.bus,
		OnOpen:         onOpen,
		ReconnectDelay: config.Millis(cfg.Sync.ReconnectDelay),
		Clock:          s.clock,
		Logger:         log,
	})
	s.engine.SetSender(s.channel)

	return s, nil
}

// run restores the local snapshot, then drives the audio output, profile
// resolution and the push channel together with any extra workers until
// ctx ends or one of them fails.
func (s *session) run(ctx context.Context, workers ...func(context.Context) error) error {
	s.engine.Start()

	g, ctx := errgroup.WithContext(ctx)

	if s.player != nil {
		g.Go(func() error {
			if err := s.player.Start(ctx); err != nil {
				return errors.Join(encerrors.ErrPrimitiveNotReady, err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-s.player.Exited():
				return errors.Join(encerrors.ErrPrimitiveNotReady, errors.New("mpv exited"))
			}
		})
	}

	if _, ok := s.ident.Current(); !ok {
		g.Go(func() error {
			return s.resolveProfile(ctx)
		})
	}

	g.Go(func() error {
		return s.channel.Run(ctx)
	})

	for _, w := range workers {
		g.Go(func() error {
			return w(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *session) resolveProfile(ctx context.Context) error {
	profile, err := s.api.CurrentProfile(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("resolve profile: %w", err)
	}
	s.ident.Resolve(profile)
	s.log.WithField("profile", profile).Info("profile resolved")
	return nil
}

// close writes the final snapshot and releases the output and store.
func (s *session) close() {
	s.engine.Close()
	if s.player != nil {
		if err := s.player.Close(); err != nil {
			s.log.WithError(err).Debug("closing mpv")
		}
	}
	if err := s.kv.Close(); err != nil {
		s.log.WithError(err).Warn("closing snapshot store")
	}
}
