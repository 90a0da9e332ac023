// Package playertest provides an in-memory node API for player tests.
package playertest

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/internal/music/player"
)

const SessionID = "session"

type Call struct {
	GuildID snowflake.ID
	Update  protocol.PlayerUpdate
}

// API applies updates to in-memory players the way a node would.
type API struct {
	mu        sync.Mutex
	players   map[snowflake.ID]*protocol.Player
	calls     []Call
	destroyed []snowflake.ID

	// Err fails every call while set.
	Err error
}

func NewAPI() *API {
	return &API{players: map[snowflake.ID]*protocol.Player{}}
}

func (a *API) UpdatePlayer(_ context.Context, _ string, guildID snowflake.ID, u protocol.PlayerUpdate, _ bool) (*protocol.Player, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	a.calls = append(a.calls, Call{GuildID: guildID, Update: u})

	p, ok := a.players[guildID]
	if !ok {
		p = &protocol.Player{GuildID: guildID, Volume: 100, Filters: protocol.Filters{}}
		a.players[guildID] = p
	}

	if u.Track != nil {
		switch {
		case u.Track.IsStop():
			p.Track = nil
		case u.Track.Identifier != "":
			p.Track = &protocol.Track{Encoded: "resolved:" + u.Track.Identifier, Info: protocol.TrackInfo{Identifier: u.Track.Identifier, Title: u.Track.Identifier}}
		default:
			var encoded string
			_ = json.Unmarshal(u.Track.Encoded, &encoded)
			p.Track = &protocol.Track{Encoded: encoded, Info: protocol.TrackInfo{Title: encoded, Length: 180000}}
		}
	}
	if u.Position != nil {
		p.State.Position = *u.Position
	}
	if u.Paused != nil {
		p.Paused = *u.Paused
	}
	if u.Volume != nil {
		p.Volume = *u.Volume
	}
	if u.Filters != nil {
		p.Filters = u.Filters
	}
	if u.Voice != nil {
		p.Voice = *u.Voice
	}

	out := *p
	return &out, nil
}

func (a *API) Player(_ context.Context, _ string, guildID snowflake.ID) (*protocol.Player, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	p, ok := a.players[guildID]
	if !ok {
		return &protocol.Player{GuildID: guildID}, nil
	}
	out := *p
	return &out, nil
}

func (a *API) DestroyPlayer(_ context.Context, _ string, guildID snowflake.ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	delete(a.players, guildID)
	a.destroyed = append(a.destroyed, guildID)
	return nil
}

// SetPlayer overrides the node-side state of a player.
func (a *API) SetPlayer(p protocol.Player) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.players[p.GuildID] = &p
}

func (a *API) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

func (a *API) Destroyed() []snowflake.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.destroyed)
}

// Played returns the encoded tracks of every play command in order.
func (a *API) Played(guildID snowflake.ID) []string {
	var out []string
	for _, c := range a.Calls() {
		if c.GuildID != guildID || c.Update.Track == nil || c.Update.Track.IsStop() {
			continue
		}
		if c.Update.Track.Identifier != "" {
			out = append(out, c.Update.Track.Identifier)
			continue
		}
		var encoded string
		_ = json.Unmarshal(c.Update.Track.Encoded, &encoded)
		out = append(out, encoded)
	}
	return out
}

// Sessions always hands out the same session of API.
type Sessions struct {
	API *API
}

func (s Sessions) Session(context.Context, snowflake.ID) (player.Session, error) {
	return player.Session{ID: SessionID, API: s.API}, nil
}

// Track returns a resolved track whose encoded data is name.
func Track(name string) protocol.Track {
	return protocol.Track{Encoded: name, Info: protocol.TrackInfo{Title: name, Length: 180000}}
}
