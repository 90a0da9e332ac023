package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/voice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) (*Gateway, *discordgo.Session) {
	t.Helper()
	s, err := discordgo.New("Bot token")
	require.NoError(t, err)
	s.State.User = &discordgo.User{ID: "1", Username: "lavaplay", Bot: true}

	require.NoError(t, s.State.GuildAdd(&discordgo.Guild{
		ID: "42",
		VoiceStates: []*discordgo.VoiceState{
			{GuildID: "42", ChannelID: "7", UserID: "1"},
			{GuildID: "42", ChannelID: "7", UserID: "100"},
			{GuildID: "42", ChannelID: "7", UserID: "101", Member: &discordgo.Member{User: &discordgo.User{ID: "101", Bot: true}}},
			{GuildID: "42", ChannelID: "8", UserID: "102"},
		},
	}))

	g := NewGateway(s, zerolog.Nop())
	t.Cleanup(g.Close)
	return g, s
}

func TestReadyResolvesClientInfo(t *testing.T) {
	g, s := newTestGateway(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	g.onReady(s, &discordgo.Ready{User: &discordgo.User{ID: "1", Username: "lavaplay"}})

	info, err := g.WaitForReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1), info.UserID)
	assert.GreaterOrEqual(t, info.ShardCount, 1)
}

func TestWaitForReadyTimesOut(t *testing.T) {
	g, _ := newTestGateway(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.WaitForReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelUsers(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	users, err := g.ChannelUsers(ctx, 42, 7, false)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{100}, users)

	users, err = g.ChannelUsers(ctx, 42, 7, true)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{100, 101}, users)

	_, err = g.ChannelUsers(ctx, 99, 7, true)
	assert.Error(t, err)
}

func TestUserChannel(t *testing.T) {
	g, _ := newTestGateway(t)

	channel, err := g.UserChannel(42, 102)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(8), channel)

	_, err = g.UserChannel(42, 555)
	assert.ErrorIs(t, err, ErrNotInVoice)
}

func TestVoiceServerUpdateIsPublished(t *testing.T) {
	g, s := newTestGateway(t)

	var got []voice.ServerUpdate
	g.VoiceServerUpdated().Add(func(_ context.Context, e voice.ServerUpdate) error {
		got = append(got, e)
		return nil
	})

	g.onVoiceServerUpdate(s, &discordgo.VoiceServerUpdate{GuildID: "42", Token: "t", Endpoint: "e"})
	g.onVoiceServerUpdate(s, &discordgo.VoiceServerUpdate{GuildID: "bad", Token: "t", Endpoint: "e"})

	require.Len(t, got, 1)
	assert.Equal(t, voice.ServerUpdate{GuildID: 42, Server: voice.Server{Token: "t", Endpoint: "e"}}, got[0])
}

func TestVoiceStateUpdateOnlyForSelf(t *testing.T) {
	g, s := newTestGateway(t)

	var got []voice.StateUpdate
	g.VoiceStateUpdated().Add(func(_ context.Context, e voice.StateUpdate) error {
		got = append(got, e)
		return nil
	})

	g.onVoiceStateUpdate(s, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "42", ChannelID: "7", UserID: "100", SessionID: "x"}})
	g.onVoiceStateUpdate(s, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "42", ChannelID: "7", UserID: "1", SessionID: "s"}})
	g.onVoiceStateUpdate(s, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "42", UserID: "1", SessionID: "s"}})

	require.Len(t, got, 2)
	require.NotNil(t, got[0].State.ChannelID)
	assert.Equal(t, snowflake.ID(7), *got[0].State.ChannelID)
	assert.Equal(t, "s", got[0].State.SessionID)
	assert.Nil(t, got[1].State.ChannelID)
}

func TestStateUpdateConversion(t *testing.T) {
	_, err := stateUpdate(&discordgo.VoiceState{GuildID: "42", ChannelID: "nope"})
	assert.Error(t, err)

	u, err := stateUpdate(&discordgo.VoiceState{GuildID: "42", ChannelID: "7", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), u.GuildID)
}
