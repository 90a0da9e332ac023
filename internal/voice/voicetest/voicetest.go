// Package voicetest provides an in-memory voice.Client for tests.
package voicetest

import (
	"context"
	"slices"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/voice"
)

// VoiceUpdate is one recorded SendVoiceUpdate call.
type VoiceUpdate struct {
	GuildID   snowflake.ID
	ChannelID *snowflake.ID
	SelfDeaf  bool
	SelfMute  bool
}

type member struct {
	id  snowflake.ID
	bot bool
}

type Client struct {
	voice.Events

	Info  voice.ClientInfo
	Ready chan struct{}

	mu       sync.Mutex
	updates  []VoiceUpdate
	channels map[snowflake.ID][]member
}

// New returns a client that is already ready.
func New(userID snowflake.ID) *Client {
	c := &Client{
		Info:     voice.ClientInfo{UserID: userID, ShardCount: 1},
		Ready:    make(chan struct{}),
		channels: map[snowflake.ID][]member{},
	}
	close(c.Ready)
	return c
}

func (c *Client) WaitForReady(ctx context.Context) (voice.ClientInfo, error) {
	select {
	case <-c.Ready:
		return c.Info, nil
	case <-ctx.Done():
		return voice.ClientInfo{}, ctx.Err()
	}
}

func (c *Client) SendVoiceUpdate(_ context.Context, guildID snowflake.ID, channelID *snowflake.ID, selfDeaf, selfMute bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, VoiceUpdate{GuildID: guildID, ChannelID: channelID, SelfDeaf: selfDeaf, SelfMute: selfMute})
	return nil
}

func (c *Client) ChannelUsers(_ context.Context, _ snowflake.ID, channelID snowflake.ID, includeBots bool) ([]snowflake.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []snowflake.ID
	for _, m := range c.channels[channelID] {
		if m.bot && !includeBots {
			continue
		}
		ids = append(ids, m.id)
	}
	return ids, nil
}

// Join puts a user into a voice channel.
func (c *Client) Join(channelID, userID snowflake.ID, bot bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] = append(c.channels[channelID], member{id: userID, bot: bot})
}

// Leave removes a user from a voice channel.
func (c *Client) Leave(channelID, userID snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] = slices.DeleteFunc(c.channels[channelID], func(m member) bool { return m.id == userID })
}

// Updates returns the recorded voice updates.
func (c *Client) Updates() []VoiceUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.updates)
}

// DeliverServer publishes a voice server grant.
func (c *Client) DeliverServer(ctx context.Context, guildID snowflake.ID, s voice.Server) error {
	return c.VoiceServerUpdated().Invoke(ctx, voice.ServerUpdate{GuildID: guildID, Server: s})
}

// DeliverState publishes a voice state of the bot.
func (c *Client) DeliverState(ctx context.Context, guildID snowflake.ID, s voice.State) error {
	return c.VoiceStateUpdated().Invoke(ctx, voice.StateUpdate{GuildID: guildID, State: s})
}
