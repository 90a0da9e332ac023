// Package audio wires a Lavalink node, the player registry and a voice
// gateway into one service.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/lavalink/node"
	"github.com/keshon/lavaplay/internal/lavalink/rest"
	"github.com/keshon/lavaplay/internal/music/player"
	"github.com/keshon/lavaplay/internal/music/queue"
	"github.com/keshon/lavaplay/internal/tracking"
	"github.com/keshon/lavaplay/internal/voice"
	"github.com/keshon/lavaplay/pkg/jobmgr"
	"github.com/rs/zerolog"
)

const (
	linkJob     = "lavalink"
	trackingJob = "inactivity"
)

type NodeConfig struct {
	Label             string
	URL               string
	Passphrase        string
	ClientName        string
	ReadyTimeout      time.Duration
	ResumeTimeout     time.Duration
	RequestsPerSecond float64
}

type Config struct {
	Node   NodeConfig
	Player player.Options

	// Queue enables queued players when set.
	Queue *queue.Options
	// Tracking enables the inactivity poller when set.
	Tracking *tracking.Options

	Store  node.SessionStore
	Dial   node.Dialer
	Logger zerolog.Logger
}

type Service struct {
	voice    voice.Client
	rest     *rest.Client
	link     *node.Link
	players  *player.Manager
	tracking *tracking.Service
	jobs     *jobmgr.Manager
	logger   zerolog.Logger

	unsubscribe []func()

	linkDone chan struct{}
	linkOnce sync.Once
	linkErr  error
}

func New(client voice.Client, cfg Config) (*Service, error) {
	if client == nil {
		return nil, errors.New("audio: voice client is required")
	}

	api, err := rest.New(rest.Config{
		BaseURL:           cfg.Node.URL,
		Passphrase:        cfg.Node.Passphrase,
		RequestsPerSecond: cfg.Node.RequestsPerSecond,
	}, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}

	s := &Service{
		voice:    client,
		rest:     api,
		jobs:     jobmgr.NewManager(cfg.Logger),
		linkDone: make(chan struct{}),
		logger:   cfg.Logger.With().Str("component", "audio").Logger(),
	}

	factory := player.DefaultFactory
	if cfg.Queue != nil {
		factory = queue.Factory(*cfg.Queue)
	}
	s.players = player.NewManager(player.ManagerConfig{
		Sessions: s,
		Voice:    client,
		Factory:  factory,
		Options:  cfg.Player,
		Logger:   cfg.Logger,
	})

	s.link, err = node.New(node.Options{
		Label:         cfg.Node.Label,
		URL:           cfg.Node.URL,
		Passphrase:    cfg.Node.Passphrase,
		ClientName:    cfg.Node.ClientName,
		ReadyTimeout:  cfg.Node.ReadyTimeout,
		ResumeTimeout: cfg.Node.ResumeTimeout,
		Voice:         client,
		API:           api,
		Dial:          cfg.Dial,
		Players:       listeners{s.players},
		Store:         cfg.Store,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}

	if cfg.Tracking != nil {
		opts := *cfg.Tracking
		opts.Logger = cfg.Logger
		s.tracking = tracking.New(s.players, client, opts)
	}

	s.unsubscribe = append(s.unsubscribe,
		client.VoiceServerUpdated().Add(func(ctx context.Context, e voice.ServerUpdate) error {
			return s.players.UpdateVoiceServer(ctx, e.GuildID, e.Server)
		}),
		client.VoiceStateUpdated().Add(func(ctx context.Context, e voice.StateUpdate) error {
			return s.players.UpdateVoiceState(ctx, e.GuildID, e.State)
		}),
	)
	return s, nil
}

func (s *Service) Link() *node.Link { return s.link }

func (s *Service) Players() *player.Manager { return s.players }

func (s *Service) REST() *rest.Client { return s.rest }

// Tracking returns the inactivity poller, or nil when it is disabled.
func (s *Service) Tracking() *tracking.Service { return s.tracking }

// Session waits for the link to be ready and returns its session.
func (s *Service) Session(ctx context.Context, _ snowflake.ID) (player.Session, error) {
	id, err := s.link.WaitReady(ctx)
	if err != nil {
		return player.Session{}, fmt.Errorf("wait for node session: %w", err)
	}
	return player.Session{ID: id, API: s.rest}, nil
}

// Retrieve returns the player of guildID, joining channelID first when asked to.
func (s *Service) Retrieve(ctx context.Context, guildID, channelID snowflake.ID, opts player.RetrieveOptions) (player.Controller, error) {
	return s.players.Retrieve(ctx, guildID, channelID, opts)
}

// Start launches the link and, if enabled, the inactivity poller. A link that
// fails to start is reported through Done and Err.
func (s *Service) Start() error {
	err := s.jobs.StartAsync(linkJob, func(ctx context.Context) error {
		err := s.link.Run(ctx)
		s.stopped(err)
		return err
	})
	if err != nil {
		return err
	}
	if s.tracking != nil {
		if err := s.jobs.StartAsync(trackingJob, s.tracking.Run); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed once the link has stopped, either through Close or because
// it failed.
func (s *Service) Done() <-chan struct{} { return s.linkDone }

// Err returns the error the link stopped with. It is nil while the link runs
// and after a clean Close.
func (s *Service) Err() error {
	select {
	case <-s.linkDone:
		return s.linkErr
	default:
		return nil
	}
}

func (s *Service) stopped(err error) {
	s.linkOnce.Do(func() {
		s.linkErr = err
		close(s.linkDone)
	})
}

// Close stops the poller, destroys every player and closes the link.
func (s *Service) Close(ctx context.Context) error {
	for _, remove := range s.unsubscribe {
		remove()
	}

	var errs []error
	if s.jobs.Done(trackingJob) != nil {
		if err := s.jobs.Stop(ctx, trackingJob); err != nil {
			errs = append(errs, fmt.Errorf("stop inactivity tracking: %w", err))
		}
	}
	if err := s.players.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close players: %w", err))
	}
	if err := s.link.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close link: %w", err))
	}
	if err := s.jobs.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.Err(); err != nil {
		errs = append(errs, fmt.Errorf("link: %w", err))
	}
	s.logger.Info().Msg("audio service closed")
	return errors.Join(errs...)
}

// listeners exposes the registry to the link.
type listeners struct {
	players *player.Manager
}

func (l listeners) Listener(guildID snowflake.ID) (node.PlayerListener, bool) {
	p, ok := l.players.Listener(guildID)
	if !ok {
		return nil, false
	}
	return p, true
}
