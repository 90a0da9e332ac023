// Package tracking retires players that stay inactive for longer than a
// grace period.
//
// Every poll evaluates the trackers against each registered player. A player
// that any tracker reports inactive gets a deadline; one that turns active
// again before the deadline is untracked. Players whose deadline has passed
// are destroyed unless an InactivePlayer handler vetoes it.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/music/player"
	"github.com/keshon/lavaplay/internal/voice"
	"github.com/keshon/lavaplay/pkg/event"
	"github.com/rs/zerolog"
)

type Status int

const (
	StatusUntracked Status = iota
	StatusTracked
	StatusInactive
)

func (s Status) String() string {
	switch s {
	case StatusUntracked:
		return "untracked"
	case StatusTracked:
		return "tracked"
	case StatusInactive:
		return "inactive"
	}
	return "unknown"
}

// Registry is the set of live players.
type Registry interface {
	Players() []player.Controller
	Player(guildID snowflake.ID) (player.Controller, bool)
}

// InactivePlayer is published before an expired player is destroyed.
// Handlers set ShouldStop to false to keep it.
type InactivePlayer struct {
	GuildID    snowflake.ID
	Player     player.Controller
	ShouldStop bool
}

// StatusUpdated is published when a player is tracked or untracked. Player
// is nil when the player was already gone.
type StatusUpdated struct {
	GuildID snowflake.ID
	Player  player.Controller
	Status  Status
}

// Listener is implemented by players that want to observe their own tracking.
type Listener interface {
	NotifyTracked(ctx context.Context) error
	NotifyActive(ctx context.Context) error
	NotifyInactive(ctx context.Context) error
}

type Options struct {
	PollInterval    time.Duration
	DelayFirstPoll  bool
	DisconnectDelay time.Duration

	// Trackers defaults to DefaultTrackers(DefaultUsersOptions()).
	Trackers []Tracker

	Now    func() time.Time
	Logger zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		PollInterval:    5 * time.Second,
		DisconnectDelay: 30 * time.Second,
		Logger:          zerolog.Nop(),
	}
}

type Service struct {
	registry Registry
	client   voice.Client
	opts     Options
	now      func() time.Time
	logger   zerolog.Logger

	InactivePlayer event.Handlers[*InactivePlayer]
	StatusUpdated  event.Handlers[StatusUpdated]

	trackersMu sync.RWMutex
	trackers   []Tracker

	pollMu    sync.Mutex
	mu        sync.RWMutex
	deadlines map[snowflake.ID]time.Time
}

func New(registry Registry, client voice.Client, opts Options) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	trackers := opts.Trackers
	if trackers == nil {
		trackers = DefaultTrackers(DefaultUsersOptions())
	}
	return &Service{
		registry:  registry,
		client:    client,
		opts:      opts,
		now:       now,
		logger:    opts.Logger.With().Str("component", "tracking").Logger(),
		trackers:  slices.Clone(trackers),
		deadlines: make(map[snowflake.ID]time.Time),
	}
}

// Run polls every PollInterval until ctx ends. A failed poll is logged and
// does not stop the loop.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.opts.PollInterval).Dur("delay", s.opts.DisconnectDelay).Msg("inactivity tracking started")

	if !s.opts.DelayFirstPoll {
		s.poll(ctx)
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("inactivity tracking stopped")
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Service) poll(ctx context.Context) {
	if err := s.Poll(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("inactivity poll failed")
	}
}

// Poll runs one pass. Concurrent calls are serialized.
func (s *Service) Poll(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	var errs []error
	for _, p := range s.registry.Players() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.evaluate(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}

	now := s.now()
	for guildID, deadline := range s.snapshot() {
		if !now.After(deadline) {
			continue
		}
		if err := s.expire(ctx, guildID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) evaluate(ctx context.Context, p player.Controller) error {
	guildID := p.GuildID()

	inactive, err := s.isInactive(ctx, p)
	if err != nil {
		return fmt.Errorf("check player %s: %w", guildID, err)
	}

	s.mu.Lock()
	_, tracked := s.deadlines[guildID]
	switch {
	case inactive && !tracked:
		s.deadlines[guildID] = s.now().Add(s.opts.DisconnectDelay)
	case !inactive && tracked:
		delete(s.deadlines, guildID)
	}
	s.mu.Unlock()

	switch {
	case inactive && !tracked:
		s.logger.Debug().Str("guild_id", guildID.String()).Msg("tracked player as inactive")
		s.notify(ctx, p, Listener.NotifyTracked)
		s.publish(ctx, StatusUpdated{GuildID: guildID, Player: p, Status: StatusTracked})
	case !inactive && tracked:
		s.logger.Debug().Str("guild_id", guildID.String()).Msg("player is active again")
		s.notify(ctx, p, Listener.NotifyActive)
		s.publish(ctx, StatusUpdated{GuildID: guildID, Player: p, Status: StatusUntracked})
	}
	return nil
}

func (s *Service) expire(ctx context.Context, guildID snowflake.ID) error {
	p, ok := s.registry.Player(guildID)
	if !ok {
		s.Untrack(ctx, guildID, nil)
		return nil
	}

	e := &InactivePlayer{GuildID: guildID, Player: p, ShouldStop: true}
	if err := s.InactivePlayer.Invoke(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("guild_id", guildID.String()).Msg("inactive player handler failed")
	}
	if !e.ShouldStop {
		return nil
	}

	s.logger.Info().Str("guild_id", guildID.String()).Msg("destroying inactive player")
	s.notify(ctx, p, Listener.NotifyInactive)

	err := p.Destroy(ctx)
	s.Untrack(ctx, guildID, p)
	if err != nil {
		return fmt.Errorf("destroy inactive player %s: %w", guildID, err)
	}
	return nil
}

// Untrack drops the record of guildID and publishes StatusUntracked.
func (s *Service) Untrack(ctx context.Context, guildID snowflake.ID, p player.Controller) {
	s.mu.Lock()
	delete(s.deadlines, guildID)
	s.mu.Unlock()

	s.publish(ctx, StatusUpdated{GuildID: guildID, Player: p, Status: StatusUntracked})
}

// Status reports whether guildID is tracked and whether its deadline passed.
func (s *Service) Status(guildID snowflake.ID) Status {
	s.mu.RLock()
	deadline, ok := s.deadlines[guildID]
	s.mu.RUnlock()

	switch {
	case !ok:
		return StatusUntracked
	case s.now().After(deadline):
		return StatusInactive
	default:
		return StatusTracked
	}
}

func (s *Service) snapshot() map[snowflake.ID]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.deadlines)
}

func (s *Service) isInactive(ctx context.Context, p player.Controller) (bool, error) {
	for _, t := range s.Trackers() {
		inactive, err := t.Check(ctx, p, s.client)
		if err != nil {
			return false, fmt.Errorf("tracker %s: %w", t.Name, err)
		}
		if inactive {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) publish(ctx context.Context, e StatusUpdated) {
	if err := s.StatusUpdated.Invoke(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("guild_id", e.GuildID.String()).Msg("status handler failed")
	}
}

func (s *Service) notify(ctx context.Context, p player.Controller, fn func(Listener, context.Context) error) {
	l, ok := p.(Listener)
	if !ok {
		return
	}
	if err := fn(l, ctx); err != nil {
		s.logger.Warn().Err(err).Str("guild_id", p.GuildID().String()).Msg("inactivity listener failed")
	}
}

func (s *Service) Trackers() []Tracker {
	s.trackersMu.RLock()
	defer s.trackersMu.RUnlock()
	return slices.Clone(s.trackers)
}

func (s *Service) AddTracker(t Tracker) {
	s.trackersMu.Lock()
	defer s.trackersMu.Unlock()
	s.trackers = append(s.trackers, t)
}

// RemoveTracker removes the trackers named name.
func (s *Service) RemoveTracker(name string) bool {
	s.trackersMu.Lock()
	defer s.trackersMu.Unlock()
	before := len(s.trackers)
	s.trackers = slices.DeleteFunc(s.trackers, func(t Tracker) bool { return t.Name == name })
	return len(s.trackers) != before
}

func (s *Service) ClearTrackers() {
	s.trackersMu.Lock()
	defer s.trackersMu.Unlock()
	s.trackers = nil
}
