package protocol

import (
	"encoding/json"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Track is a resolved track as the node encodes it.
type Track struct {
	Encoded    string          `json:"encoded"`
	Info       TrackInfo       `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
}

// TrackInfo is the human readable part of a track.
type TrackInfo struct {
	Identifier string  `json:"identifier"`
	IsSeekable bool    `json:"isSeekable"`
	Author     string  `json:"author"`
	Length     int64   `json:"length"`
	IsStream   bool    `json:"isStream"`
	Position   int64   `json:"position"`
	Title      string  `json:"title"`
	URI        *string `json:"uri"`
	ArtworkURL *string `json:"artworkUrl"`
	ISRC       *string `json:"isrc"`
	SourceName string  `json:"sourceName"`
}

// Duration returns the track length.
func (i TrackInfo) Duration() time.Duration {
	return time.Duration(i.Length) * time.Millisecond
}

// StartPosition returns the position the track was loaded at.
func (i TrackInfo) StartPosition() time.Duration {
	return time.Duration(i.Position) * time.Millisecond
}

// VoiceState is the voice connection material handed to the node.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// PlayerState is the position/connectivity block of players and player updates.
type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int64 `json:"ping"`
}

// SyncedAt returns the node timestamp of this state.
func (s PlayerState) SyncedAt() time.Time {
	return time.UnixMilli(s.Time)
}

// PlaybackPosition returns the track position at SyncedAt.
func (s PlayerState) PlaybackPosition() time.Duration {
	return time.Duration(s.Position) * time.Millisecond
}

// Latency returns the voice gateway ping; negative when not connected.
func (s PlayerState) Latency() time.Duration {
	return time.Duration(s.Ping) * time.Millisecond
}

// Filters is an opaque filter map keyed by filter name ("equalizer", "timescale", ...).
type Filters map[string]json.RawMessage

// Player is the authoritative snapshot of a player on the node.
type Player struct {
	GuildID snowflake.ID `json:"guildId"`
	Track   *Track       `json:"track"`
	Volume  int          `json:"volume"`
	Paused  bool         `json:"paused"`
	State   PlayerState  `json:"state"`
	Voice   VoiceState   `json:"voice"`
	Filters Filters      `json:"filters"`
}

// TrackException describes why a track failed.
type TrackException struct {
	Message  *string  `json:"message"`
	Severity Severity `json:"severity"`
	Cause    string   `json:"cause"`
}

// Statistics is the node load report.
type Statistics struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         Memory      `json:"memory"`
	CPU            CPU         `json:"cpu"`
	FrameStats     *FrameStats `json:"frameStats"`
}

// UptimeDuration converts the reported uptime.
func (s Statistics) UptimeDuration() time.Duration {
	return time.Duration(s.Uptime) * time.Millisecond
}

type Memory struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type CPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// FrameStats is absent when no player is connected.
type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// Session is the resuming configuration of a node session.
type Session struct {
	Resuming bool `json:"resuming"`
	Timeout  int  `json:"timeout"`
}

// Info describes the node build.
type Info struct {
	Version struct {
		Semver string `json:"semver"`
		Major  int    `json:"major"`
		Minor  int    `json:"minor"`
		Patch  int    `json:"patch"`
	} `json:"version"`
	BuildTime      int64    `json:"buildTime"`
	JVM            string   `json:"jvm"`
	Lavaplayer     string   `json:"lavaplayer"`
	SourceManagers []string `json:"sourceManagers"`
	Filters        []string `json:"filters"`
}
