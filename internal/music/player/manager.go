package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/internal/voice"
	"github.com/keshon/lavaplay/pkg/util"
	"github.com/rs/zerolog"
)

type ManagerConfig struct {
	Sessions SessionProvider
	Voice    VoiceUpdater
	Factory  Factory
	Options  Options
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Manager is the registry of player handles, one per guild.
type Manager struct {
	cfg    ManagerConfig
	logger zerolog.Logger

	mu      sync.RWMutex
	handles map[snowflake.ID]*Handle
	closed  bool
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Factory == nil {
		cfg.Factory = DefaultFactory
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "players").Logger(),
		handles: make(map[snowflake.ID]*Handle),
	}
}

// Handle returns the handle of guildID, creating it if needed.
func (m *Manager) Handle(guildID snowflake.ID) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	h, ok := m.handles[guildID]
	if !ok {
		h = m.newHandle(guildID)
		m.handles[guildID] = h
	}
	return h, nil
}

func (m *Manager) lookup(guildID snowflake.ID) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[guildID]
	return h, ok
}

// Has reports whether a player was created for guildID.
func (m *Manager) Has(guildID snowflake.ID) bool {
	_, ok := m.Player(guildID)
	return ok
}

// Player returns the created player of guildID.
func (m *Manager) Player(guildID snowflake.ID) (Controller, bool) {
	h, ok := m.lookup(guildID)
	if !ok {
		return nil, false
	}
	return h.Player()
}

// Listener is Player typed for notification delivery.
func (m *Manager) Listener(guildID snowflake.ID) (Listener, bool) {
	p, ok := m.Player(guildID)
	if !ok {
		return nil, false
	}
	return p, true
}

// Players returns every created player.
func (m *Manager) Players() []Controller {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	players := make([]Controller, 0, len(handles))
	for _, h := range handles {
		if p, ok := h.Player(); ok {
			players = append(players, p)
		}
	}
	return players
}

func (m *Manager) UpdateVoiceServer(ctx context.Context, guildID snowflake.ID, server voice.Server) error {
	h, err := m.Handle(guildID)
	if err != nil {
		return err
	}
	return h.UpdateVoiceServer(ctx, server)
}

// UpdateVoiceState routes the bot's voice state. A state without channel
// never allocates a handle.
func (m *Manager) UpdateVoiceState(ctx context.Context, guildID snowflake.ID, state voice.State) error {
	if state.ChannelID == nil {
		h, ok := m.lookup(guildID)
		if !ok {
			return nil
		}
		return h.UpdateVoiceState(ctx, state)
	}

	h, err := m.Handle(guildID)
	if err != nil {
		return err
	}
	return h.UpdateVoiceState(ctx, state)
}

type RetrieveOptions struct {
	// Join asks the gateway to join channelID when no player exists yet.
	Join          bool
	Preconditions []Precondition
}

// Retrieve returns the player of guildID, joining channelID first if
// requested, and checks the preconditions against it.
func (m *Manager) Retrieve(ctx context.Context, guildID, channelID snowflake.ID, opts RetrieveOptions) (Controller, error) {
	player, ok := m.Player(guildID)
	if !ok {
		if !opts.Join {
			return nil, ErrNotConnected
		}
		if channelID == 0 {
			return nil, ErrNoChannel
		}

		h, err := m.Handle(guildID)
		if err != nil {
			return nil, err
		}
		if m.cfg.Voice != nil {
			if err := m.cfg.Voice.SendVoiceUpdate(ctx, guildID, &channelID, m.cfg.Options.SelfDeaf, m.cfg.Options.SelfMute); err != nil {
				return nil, fmt.Errorf("join voice channel %s: %w", channelID, err)
			}
		}
		if player, err = h.Wait(ctx); err != nil {
			return nil, err
		}
	}

	for i, pre := range opts.Preconditions {
		ok, err := pre.Check(ctx, player)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &PreconditionError{GuildID: guildID, Index: i, State: player.State()}
		}
	}
	return player, nil
}

// Close destroys every player in parallel and fails pending handles.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	var players []Controller
	for _, h := range handles {
		h.close(ErrManagerClosed)
		if p, ok := h.Player(); ok {
			players = append(players, p)
		}
	}

	return util.Parallel(ctx, players, 8, func(ctx context.Context, p Controller) error {
		if err := p.Destroy(ctx); err != nil && !errors.Is(err, ErrDestroyed) {
			return err
		}
		return nil
	})
}

func (m *Manager) remove(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handles[h.guildID] == h {
		delete(m.handles, h.guildID)
	}
}

func (m *Manager) newHandle(guildID snowflake.ID) *Handle {
	logger := m.logger.With().Str("guild_id", guildID.String()).Logger()

	var h *Handle
	create := func(ctx context.Context, server voice.Server, state voice.State) (Controller, error) {
		session, err := m.cfg.Sessions.Session(ctx, guildID)
		if err != nil {
			return nil, err
		}

		opts := m.cfg.Options
		update := protocol.PlayerUpdate{Voice: voiceUpdate(server, state)}
		if opts.InitialTrack != nil && opts.InitialTrack.Valid() {
			update.Track = opts.InitialTrack.update()
		}
		if opts.InitialVolume != nil {
			update.Volume = protocol.Ptr(*opts.InitialVolume)
		}

		initial, err := session.API.UpdatePlayer(ctx, session.ID, guildID, update, false)
		if err != nil {
			return nil, err
		}

		return m.cfg.Factory(ctx, Properties{
			GuildID:        guildID,
			VoiceChannelID: *state.ChannelID,
			Label:          opts.Label,
			Session:        session,
			InitialState:   *initial,
			Voice:          m.cfg.Voice,
			Options:        opts,
			Logger:         m.cfg.Logger,
			Now:            m.cfg.Now,
			OnDestroy:      func() { m.remove(h) },
		})
	}

	h = newHandle(guildID, create, logger)
	return h
}
