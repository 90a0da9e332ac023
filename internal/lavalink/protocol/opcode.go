// Package protocol holds the vocabulary exchanged with a Lavalink v4 node:
// inbound websocket payloads and the REST request/response models.
package protocol

// Op identifies an inbound websocket payload.
type Op string

const (
	OpReady        Op = "ready"
	OpPlayerUpdate Op = "playerUpdate"
	OpStats        Op = "stats"
	OpEvent        Op = "event"
)

// EventType identifies the kind of an event payload.
type EventType string

const (
	EventTrackStart      EventType = "TrackStartEvent"
	EventTrackEnd        EventType = "TrackEndEvent"
	EventTrackException  EventType = "TrackExceptionEvent"
	EventTrackStuck      EventType = "TrackStuckEvent"
	EventWebSocketClosed EventType = "WebSocketClosedEvent"
)

// TrackEndReason tells why a track stopped playing.
type TrackEndReason string

const (
	EndReasonFinished   TrackEndReason = "finished"
	EndReasonLoadFailed TrackEndReason = "loadFailed"
	EndReasonStopped    TrackEndReason = "stopped"
	EndReasonReplaced   TrackEndReason = "replaced"
	EndReasonCleanup    TrackEndReason = "cleanup"
)

// MayStartNext reports whether a queue may continue with the next track.
func (r TrackEndReason) MayStartNext() bool {
	return r == EndReasonFinished || r == EndReasonLoadFailed
}

// Severity of a track exception.
type Severity string

const (
	SeverityCommon     Severity = "common"
	SeveritySuspicious Severity = "suspicious"
	SeverityFault      Severity = "fault"
)
