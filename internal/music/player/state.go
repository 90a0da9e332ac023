package player

import (
	"time"

	"github.com/keshon/lavaplay/internal/lavalink/protocol"
)

type State int

const (
	StateNotPlaying State = iota
	StatePlaying
	StatePaused
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateNotPlaying:
		return "Not Playing"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateDestroyed:
		return "Destroyed"
	}
	return "Unknown"
}

type SeekOrigin int

const (
	SeekBegin SeekOrigin = iota
	SeekCurrent
	SeekEnd
)

// ConnectionState is the voice connectivity reported by the last player update.
type ConnectionState struct {
	Connected bool
	Latency   time.Duration
}

// TrackPosition is the position reported by the node at SyncedAt. The
// current position is extrapolated from the elapsed wall-clock time.
type TrackPosition struct {
	SyncedAt      time.Time
	Unstretched   time.Duration
	StretchFactor float64

	now func() time.Time
}

// Position returns the extrapolated track position.
func (p TrackPosition) Position() time.Duration {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return p.At(now())
}

// At returns the extrapolated track position at t.
func (p TrackPosition) At(t time.Time) time.Duration {
	elapsed := t.Sub(p.SyncedAt)
	return p.Unstretched + time.Duration(float64(elapsed)*p.StretchFactor)
}

// TrackReference is either a resolved track or an identifier the node
// resolves when playing it.
type TrackReference struct {
	Track      *protocol.Track
	Identifier string
}

func FromTrack(t protocol.Track) TrackReference {
	return TrackReference{Track: &t}
}

func FromIdentifier(identifier string) TrackReference {
	return TrackReference{Identifier: identifier}
}

// Valid reports whether exactly one of Track and Identifier is set.
func (r TrackReference) Valid() bool {
	return (r.Track != nil) != (r.Identifier != "")
}

// Same reports whether r and o refer to the same track.
func (r TrackReference) Same(o TrackReference) bool {
	if r.Track != nil && o.Track != nil {
		return r.Track.Encoded == o.Track.Encoded
	}
	return r.Track == nil && o.Track == nil && r.Identifier == o.Identifier
}

func (r TrackReference) String() string {
	if r.Track != nil {
		return r.Track.Info.Title
	}
	return r.Identifier
}

func (r TrackReference) update() *protocol.UpdateTrack {
	if r.Track != nil {
		u := protocol.PlayEncoded(r.Track.Encoded)
		u.UserData = r.Track.UserData
		return u
	}
	return protocol.PlayIdentifier(r.Identifier)
}

// PlayOptions are optional bounds of a play command. Zero values are not sent.
type PlayOptions struct {
	StartPosition time.Duration
	EndTime       time.Duration
}
