package protocol

import (
	"encoding/json"
	"time"
)

// PlayerUpdate is the body of an update-player command. Nil fields are left
// untouched by the node.
type PlayerUpdate struct {
	Track    *UpdateTrack `json:"track,omitempty"`
	Position *int64       `json:"position,omitempty"`
	EndTime  *int64       `json:"endTime,omitempty"`
	Volume   *int         `json:"volume,omitempty"`
	Paused   *bool        `json:"paused,omitempty"`
	Filters  Filters      `json:"filters,omitempty"`
	Voice    *VoiceState  `json:"voice,omitempty"`
}

// UpdateTrack selects the track to play. Encoded holds a raw JSON value so
// that an explicit null (stop) can be distinguished from an omitted field.
type UpdateTrack struct {
	Encoded    json.RawMessage `json:"encoded,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
}

var nullTrack = json.RawMessage("null")

// PlayEncoded plays resolved track data.
func PlayEncoded(data string) *UpdateTrack {
	raw, _ := json.Marshal(data)
	return &UpdateTrack{Encoded: raw}
}

// PlayIdentifier asks the node to resolve and play identifier.
func PlayIdentifier(identifier string) *UpdateTrack {
	return &UpdateTrack{Identifier: identifier}
}

// StopTrack clears the active track.
func StopTrack() *UpdateTrack {
	return &UpdateTrack{Encoded: nullTrack}
}

// IsStop reports whether t clears the active track.
func (t *UpdateTrack) IsStop() bool {
	return t != nil && string(t.Encoded) == string(nullTrack)
}

// Millis converts d for the wire.
func Millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// SessionUpdate is the body of the configure-resume command.
type SessionUpdate struct {
	Resuming *bool `json:"resuming,omitempty"`
	Timeout  *int  `json:"timeout,omitempty"`
}
