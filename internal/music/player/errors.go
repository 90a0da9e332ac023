package player

import (
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrDestroyed      = errors.New("player destroyed")
	ErrNoTrackPlaying = errors.New("no track is currently playing")
	ErrNoChannel      = errors.New("voice channel is not set")
	ErrNotConnected   = errors.New("bot is not connected to a voice channel")
	ErrInvalidTrack   = errors.New("track reference must hold either a track or an identifier")
	ErrInvalidVolume  = errors.New("volume must be between 0 and 1000")
	ErrManagerClosed  = errors.New("player manager closed")
)

// PreconditionError is returned by Manager.Retrieve when a player exists but
// one of the requested preconditions does not hold.
type PreconditionError struct {
	GuildID snowflake.ID
	Index   int
	State   State
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("player %s: precondition %d failed (state %s)", e.GuildID, e.Index, e.State)
}
