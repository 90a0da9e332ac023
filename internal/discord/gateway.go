package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/voice"
	"github.com/keshon/lavaplay/pkg/future"
	"github.com/rs/zerolog"
)

const handlerTimeout = 30 * time.Second

var ErrNotInVoice = errors.New("user not in any voice channel")

// Gateway adapts a discordgo session to voice.Client.
type Gateway struct {
	voice.Events

	session *discordgo.Session
	logger  zerolog.Logger
	ready   *future.Future[voice.ClientInfo]
	remove  []func()
}

// NewGateway registers the voice handlers on s. Call it before s.Open.
func NewGateway(s *discordgo.Session, logger zerolog.Logger) *Gateway {
	g := &Gateway{
		session: s,
		logger:  logger.With().Str("component", "discord").Logger(),
		ready:   future.New[voice.ClientInfo](),
	}
	s.Identify.Intents |= discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	g.remove = append(g.remove,
		s.AddHandler(g.onReady),
		s.AddHandler(g.onVoiceServerUpdate),
		s.AddHandler(g.onVoiceStateUpdate),
	)
	return g
}

// Close removes the handlers and fails pending ready waiters.
func (g *Gateway) Close() {
	for _, remove := range g.remove {
		remove()
	}
	g.ready.Fail(errors.New("discord gateway closed"))
}

func (g *Gateway) WaitForReady(ctx context.Context) (voice.ClientInfo, error) {
	return g.ready.Wait(ctx)
}

func (g *Gateway) SendVoiceUpdate(_ context.Context, guildID snowflake.ID, channelID *snowflake.ID, selfDeaf, selfMute bool) error {
	var cID string
	if channelID != nil {
		cID = channelID.String()
	}
	if err := g.session.ChannelVoiceJoinManual(guildID.String(), cID, selfMute, selfDeaf); err != nil {
		return fmt.Errorf("send voice state update: %w", err)
	}
	return nil
}

// ChannelUsers lists the users of a voice channel from the state cache. The
// bot itself is never included.
func (g *Gateway) ChannelUsers(_ context.Context, guildID, channelID snowflake.ID, includeBots bool) ([]snowflake.ID, error) {
	guild, err := g.session.State.Guild(guildID.String())
	if err != nil {
		return nil, fmt.Errorf("error retrieving guild: %w", err)
	}

	self := g.selfID()
	var users []snowflake.ID
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID.String() || vs.UserID == self {
			continue
		}
		if !includeBots && g.isBot(guildID.String(), vs) {
			continue
		}
		id, err := snowflake.Parse(vs.UserID)
		if err != nil {
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

// UserChannel returns the voice channel userID is connected to.
func (g *Gateway) UserChannel(guildID, userID snowflake.ID) (snowflake.ID, error) {
	guild, err := g.session.State.Guild(guildID.String())
	if err != nil {
		return 0, fmt.Errorf("error retrieving guild: %w", err)
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID.String() && vs.ChannelID != "" {
			return snowflake.Parse(vs.ChannelID)
		}
	}
	return 0, ErrNotInVoice
}

func (g *Gateway) isBot(guildID string, vs *discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	m, err := g.session.State.Member(guildID, vs.UserID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

func (g *Gateway) selfID() string {
	if g.session.State == nil || g.session.State.User == nil {
		return ""
	}
	return g.session.State.User.ID
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	userID, err := snowflake.Parse(r.User.ID)
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", r.User.ID).Msg("invalid bot user id")
		return
	}

	shards := s.ShardCount
	if shards < 1 {
		shards = 1
	}
	info := voice.ClientInfo{Label: "discordgo", UserID: userID, ShardCount: shards}
	if g.ready.Resolve(info) {
		g.logger.Info().Str("user", r.User.Username).Int("shards", shards).Msg("discord gateway ready")
	}
}

func (g *Gateway) onVoiceServerUpdate(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	guildID, err := snowflake.Parse(e.GuildID)
	if err != nil {
		g.logger.Warn().Err(err).Str("guild_id", e.GuildID).Msg("invalid guild id in voice server update")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	update := voice.ServerUpdate{GuildID: guildID, Server: voice.Server{Token: e.Token, Endpoint: e.Endpoint}}
	if err := g.VoiceServerUpdated().Invoke(ctx, update); err != nil {
		g.logger.Warn().Err(err).Str("guild_id", e.GuildID).Msg("voice server update handler failed")
	}
}

func (g *Gateway) onVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.VoiceState == nil || e.UserID != g.selfID() {
		return
	}
	update, err := stateUpdate(e.VoiceState)
	if err != nil {
		g.logger.Warn().Err(err).Str("guild_id", e.GuildID).Msg("invalid voice state update")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := g.VoiceStateUpdated().Invoke(ctx, update); err != nil {
		g.logger.Warn().Err(err).Str("guild_id", e.GuildID).Msg("voice state update handler failed")
	}
}

func stateUpdate(vs *discordgo.VoiceState) (voice.StateUpdate, error) {
	guildID, err := snowflake.Parse(vs.GuildID)
	if err != nil {
		return voice.StateUpdate{}, fmt.Errorf("guild id: %w", err)
	}
	state := voice.State{SessionID: vs.SessionID}
	if vs.ChannelID != "" {
		channelID, err := snowflake.Parse(vs.ChannelID)
		if err != nil {
			return voice.StateUpdate{}, fmt.Errorf("channel id: %w", err)
		}
		state.ChannelID = &channelID
	}
	return voice.StateUpdate{GuildID: guildID, State: state}, nil
}
