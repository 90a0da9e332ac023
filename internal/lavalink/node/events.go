package node

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/pkg/event"
)

// PlayerListener receives the notifications addressed to one player.
type PlayerListener interface {
	NotifyTrackStarted(ctx context.Context, track protocol.Track) error
	NotifyTrackEnded(ctx context.Context, track protocol.Track, reason protocol.TrackEndReason) error
	NotifyTrackException(ctx context.Context, track protocol.Track, exception protocol.TrackException) error
	NotifyTrackStuck(ctx context.Context, track protocol.Track, threshold time.Duration) error
	NotifyWebSocketClosed(ctx context.Context, code int, reason string, byRemote bool) error
	NotifyPlayerUpdate(ctx context.Context, syncedAt time.Time, position time.Duration, connected bool, latency time.Duration) error
}

// PlayerLookup resolves the listener of a guild's player.
type PlayerLookup interface {
	Listener(guildID snowflake.ID) (PlayerListener, bool)
}

type TrackStarted struct {
	GuildID snowflake.ID
	Track   protocol.Track
}

type TrackEnded struct {
	GuildID snowflake.ID
	Track   protocol.Track
	Reason  protocol.TrackEndReason
}

type TrackException struct {
	GuildID   snowflake.ID
	Track     protocol.Track
	Exception protocol.TrackException
}

type TrackStuck struct {
	GuildID   snowflake.ID
	Track     protocol.Track
	Threshold time.Duration
}

type WebSocketClosed struct {
	GuildID  snowflake.ID
	Code     int
	Reason   string
	ByRemote bool
}

type StatisticsUpdated struct {
	Label      string
	Statistics protocol.Statistics
}

// Events are published after the owning player has been notified.
type Events struct {
	TrackStarted      event.Handlers[TrackStarted]
	TrackEnded        event.Handlers[TrackEnded]
	TrackException    event.Handlers[TrackException]
	TrackStuck        event.Handlers[TrackStuck]
	WebSocketClosed   event.Handlers[WebSocketClosed]
	StatisticsUpdated event.Handlers[StatisticsUpdated]
}

// Extension observes every accepted payload after core handling.
type Extension interface {
	ProcessPayload(ctx context.Context, payload protocol.Payload) error
}

type ExtensionFunc func(ctx context.Context, payload protocol.Payload) error

func (f ExtensionFunc) ProcessPayload(ctx context.Context, payload protocol.Payload) error {
	return f(ctx, payload)
}
