package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/internal/voice"
	"github.com/keshon/lavaplay/pkg/future"
	"github.com/rs/zerolog"
)

// slot is either pending (waiters block on a future) or created.
type slot interface{ isSlot() }

type pendingSlot struct {
	waiters  *future.Future[Controller]
	creating bool
}

type createdSlot struct {
	player Controller
}

func (*pendingSlot) isSlot() {}
func (*createdSlot) isSlot() {}

// creator builds the controller once both voice facts are known.
type creator func(ctx context.Context, server voice.Server, state voice.State) (Controller, error)

// Handle rendezvous the voice server grant and the voice state of one guild
// and creates the player when both are present.
type Handle struct {
	guildID snowflake.ID
	create  creator
	logger  zerolog.Logger

	mu     sync.Mutex
	slot   slot
	server *voice.Server
	state  *voice.State
}

func newHandle(guildID snowflake.ID, create creator, logger zerolog.Logger) *Handle {
	return &Handle{
		guildID: guildID,
		create:  create,
		logger:  logger,
		slot:    &pendingSlot{waiters: future.New[Controller]()},
	}
}

func (h *Handle) GuildID() snowflake.ID { return h.guildID }

// Player returns the created player without waiting.
func (h *Handle) Player() (Controller, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.slot.(*createdSlot); ok {
		return s.player, true
	}
	return nil, false
}

// Wait blocks until the player is created, creation fails or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Controller, error) {
	h.mu.Lock()
	switch s := h.slot.(type) {
	case *createdSlot:
		h.mu.Unlock()
		return s.player, nil
	case *pendingSlot:
		waiters := s.waiters
		h.mu.Unlock()
		return waiters.Wait(ctx)
	}
	h.mu.Unlock()
	return nil, fmt.Errorf("player %s: invalid handle state", h.guildID)
}

// UpdateVoiceServer stores the grant and completes the handle if the voice
// state is already known.
func (h *Handle) UpdateVoiceServer(ctx context.Context, server voice.Server) error {
	h.mu.Lock()
	h.server = &server
	ready := h.state != nil
	h.mu.Unlock()

	if !ready {
		return nil
	}
	return h.complete(ctx)
}

// UpdateVoiceState stores the voice state and completes the handle if the
// grant is already known. A state without channel tells a created player that
// the bot left voice; a pending handle forgets the stored state instead.
func (h *Handle) UpdateVoiceState(ctx context.Context, state voice.State) error {
	if state.ChannelID == nil {
		h.mu.Lock()
		h.state = nil
		s, created := h.slot.(*createdSlot)
		h.mu.Unlock()

		if created {
			return s.player.NotifyChannelUpdate(ctx, nil)
		}
		return nil
	}

	h.mu.Lock()
	h.state = &state
	ready := h.server != nil
	h.mu.Unlock()

	if !ready {
		return nil
	}
	return h.complete(ctx)
}

func (h *Handle) complete(ctx context.Context) error {
	h.mu.Lock()
	switch s := h.slot.(type) {
	case *createdSlot:
		if h.state == nil {
			h.mu.Unlock()
			return nil
		}
		channelID := h.state.ChannelID
		h.mu.Unlock()
		return s.player.NotifyChannelUpdate(ctx, channelID)

	case *pendingSlot:
		if s.creating {
			h.mu.Unlock()
			return nil
		}
		s.creating = true
		server, state := *h.server, *h.state
		h.mu.Unlock()

		h.logger.Debug().Str("endpoint", server.Endpoint).Msg("voice grant complete, creating player")
		player, err := h.create(ctx, server, state)

		h.mu.Lock()
		if err != nil {
			h.slot = &pendingSlot{waiters: future.New[Controller]()}
			h.mu.Unlock()
			s.waiters.Fail(err)
			return fmt.Errorf("create player %s: %w", h.guildID, err)
		}
		h.slot = &createdSlot{player: player}
		var channelID *snowflake.ID
		if h.state != nil {
			channelID = h.state.ChannelID
		}
		h.mu.Unlock()

		s.waiters.Resolve(player)
		return player.NotifyChannelUpdate(ctx, channelID)
	}
	h.mu.Unlock()
	return nil
}

// close fails pending waiters.
func (h *Handle) close(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.slot.(*pendingSlot); ok {
		s.waiters.Fail(err)
	}
}

// voiceUpdate is the voice material sent to the node when creating a player.
func voiceUpdate(server voice.Server, state voice.State) *protocol.VoiceState {
	return &protocol.VoiceState{Token: server.Token, Endpoint: server.Endpoint, SessionID: state.SessionID}
}
