// Package voice describes the boundary to the voice-signaling source (the
// chat gateway). The audio service only needs two inbound facts per guild,
// one outbound voice state request, and the identity of the bot.
package voice

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/pkg/event"
)

// Server is the voice server grant: where to connect and with which token.
type Server struct {
	Token    string
	Endpoint string
}

// State is the bot's own voice membership. ChannelID is nil when the bot is
// not in a voice channel.
type State struct {
	ChannelID *snowflake.ID
	SessionID string
}

// ClientInfo identifies the bot user to the node.
type ClientInfo struct {
	Label      string
	UserID     snowflake.ID
	ShardCount int
}

type ServerUpdate struct {
	GuildID snowflake.ID
	Server  Server
}

type StateUpdate struct {
	GuildID snowflake.ID
	State   State
}

// Client is implemented by gateway adapters.
type Client interface {
	// WaitForReady blocks until the gateway identified the bot user.
	WaitForReady(ctx context.Context) (ClientInfo, error)
	// SendVoiceUpdate joins, moves or (with a nil channel) leaves voice.
	SendVoiceUpdate(ctx context.Context, guildID snowflake.ID, channelID *snowflake.ID, selfDeaf, selfMute bool) error
	// ChannelUsers lists the users connected to a voice channel, the bot itself excluded.
	ChannelUsers(ctx context.Context, guildID, channelID snowflake.ID, includeBots bool) ([]snowflake.ID, error)

	VoiceServerUpdated() *event.Handlers[ServerUpdate]
	VoiceStateUpdated() *event.Handlers[StateUpdate]
}

// Events can be embedded by Client implementations to provide the handler lists.
type Events struct {
	servers event.Handlers[ServerUpdate]
	states  event.Handlers[StateUpdate]
}

func (e *Events) VoiceServerUpdated() *event.Handlers[ServerUpdate] { return &e.servers }
func (e *Events) VoiceStateUpdated() *event.Handlers[StateUpdate]   { return &e.states }
