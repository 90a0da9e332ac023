package tracking

import (
	"context"

	"github.com/keshon/lavaplay/internal/music/player"
	"github.com/keshon/lavaplay/internal/voice"
)

// Tracker reports whether a player is inactive.
type Tracker struct {
	Name  string
	Check func(ctx context.Context, p player.Controller, client voice.Client) (bool, error)
}

type UsersOptions struct {
	// Threshold is the number of users needed for the player to count as active.
	Threshold   int
	ExcludeBots bool
}

func DefaultUsersOptions() UsersOptions {
	return UsersOptions{Threshold: 1, ExcludeBots: true}
}

// UsersTracker reports players whose voice channel has fewer than
// opts.Threshold users.
func UsersTracker(opts UsersOptions) Tracker {
	return Tracker{
		Name: "users",
		Check: func(ctx context.Context, p player.Controller, client voice.Client) (bool, error) {
			channelID := p.VoiceChannelID()
			if channelID == 0 {
				return false, nil
			}
			users, err := client.ChannelUsers(ctx, p.GuildID(), channelID, !opts.ExcludeBots)
			if err != nil {
				return false, err
			}
			return len(users) < opts.Threshold, nil
		},
	}
}

// ChannelTracker reports players without a voice channel.
var ChannelTracker = Tracker{
	Name: "channel",
	Check: func(_ context.Context, p player.Controller, _ voice.Client) (bool, error) {
		return p.VoiceChannelID() == 0, nil
	},
}

func DefaultTrackers(users UsersOptions) []Tracker {
	return []Tracker{UsersTracker(users), ChannelTracker}
}
