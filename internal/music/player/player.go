// Package player keeps a local model of the players running on a Lavalink
// node. A Player issues commands over REST and reconciles the snapshots the
// node returns; Handles rendezvous the two voice facts a player needs before
// it can be created; the Manager is the per-guild registry of handles.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/rs/zerolog"
)

// API is the node command channel used by players.
type API interface {
	UpdatePlayer(ctx context.Context, sessionID string, guildID snowflake.ID, update protocol.PlayerUpdate, noReplace bool) (*protocol.Player, error)
	Player(ctx context.Context, sessionID string, guildID snowflake.ID) (*protocol.Player, error)
	DestroyPlayer(ctx context.Context, sessionID string, guildID snowflake.ID) error
}

// VoiceUpdater sends voice state updates through the gateway.
type VoiceUpdater interface {
	SendVoiceUpdate(ctx context.Context, guildID snowflake.ID, channelID *snowflake.ID, selfDeaf, selfMute bool) error
}

// Session addresses the node session a player lives in.
type Session struct {
	ID  string
	API API
}

type SessionProvider interface {
	Session(ctx context.Context, guildID snowflake.ID) (Session, error)
}

// Playback is the command surface of a player.
type Playback interface {
	GuildID() snowflake.ID
	VoiceChannelID() snowflake.ID
	Label() string
	State() State
	CurrentTrack() *protocol.Track
	Position() (TrackPosition, bool)
	Volume() int
	Filters() protocol.Filters
	ConnectionState() ConnectionState

	Play(ctx context.Context, ref TrackReference, opts PlayOptions) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error
	SeekFrom(ctx context.Context, offset time.Duration, origin SeekOrigin) error
	SetVolume(ctx context.Context, volume int) error
	SetFilters(ctx context.Context, filters protocol.Filters) error
	Stop(ctx context.Context) error
	Refresh(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Listener receives the notifications of the link and the voice gateway.
type Listener interface {
	NotifyTrackStarted(ctx context.Context, track protocol.Track) error
	NotifyTrackEnded(ctx context.Context, track protocol.Track, reason protocol.TrackEndReason) error
	NotifyTrackException(ctx context.Context, track protocol.Track, exception protocol.TrackException) error
	NotifyTrackStuck(ctx context.Context, track protocol.Track, threshold time.Duration) error
	NotifyWebSocketClosed(ctx context.Context, code int, reason string, byRemote bool) error
	NotifyPlayerUpdate(ctx context.Context, syncedAt time.Time, position time.Duration, connected bool, latency time.Duration) error
	NotifyChannelUpdate(ctx context.Context, channelID *snowflake.ID) error
}

// Controller is what the registry stores: a player that can be commanded and notified.
type Controller interface {
	Playback
	Listener
}

type Options struct {
	Label               string
	DisconnectOnStop    bool
	DisconnectOnDestroy bool
	SelfDeaf            bool
	SelfMute            bool
	InitialTrack        *TrackReference
	InitialVolume       *int
}

func DefaultOptions() Options {
	return Options{DisconnectOnDestroy: true, SelfDeaf: true}
}

// Properties is everything a factory needs to build a player.
type Properties struct {
	GuildID        snowflake.ID
	VoiceChannelID snowflake.ID
	Label          string
	Session        Session
	InitialState   protocol.Player
	Voice          VoiceUpdater
	Options        Options
	Logger         zerolog.Logger
	Now            func() time.Time

	// OnDestroy is called once after the player was destroyed.
	OnDestroy func()
}

// Factory builds the controller for a freshly created node player.
type Factory func(ctx context.Context, props Properties) (Controller, error)

func DefaultFactory(_ context.Context, props Properties) (Controller, error) {
	return New(props), nil
}

type Player struct {
	guildID          snowflake.ID
	label            string
	session          Session
	voice            VoiceUpdater
	logger           zerolog.Logger
	now              func() time.Time
	onDestroy        func()
	disconnectOnStop bool

	destroyed           atomic.Bool
	disconnectOnDestroy atomic.Bool

	mu            sync.RWMutex
	channelID     snowflake.ID
	connectedOnce bool
	track         *protocol.Track
	trackData     string
	paused        bool
	volume        int
	filters       protocol.Filters
	syncedAt      time.Time
	position      time.Duration
	connection    ConnectionState
}

// New creates a player from the node's initial snapshot.
func New(props Properties) *Player {
	now := props.Now
	if now == nil {
		now = time.Now
	}
	label := props.Label
	if label == "" {
		label = fmt.Sprintf("player@%s", props.GuildID)
	}

	p := &Player{
		guildID:          props.GuildID,
		label:            label,
		session:          props.Session,
		voice:            props.Voice,
		logger:           props.Logger.With().Str("component", "player").Str("label", label).Str("guild_id", props.GuildID.String()).Logger(),
		now:              now,
		onDestroy:        props.OnDestroy,
		disconnectOnStop: props.Options.DisconnectOnStop,
		channelID:        props.VoiceChannelID,
		syncedAt:         now(),
	}
	p.disconnectOnDestroy.Store(props.Options.DisconnectOnDestroy)
	p.apply(&props.InitialState)
	return p
}

func (p *Player) GuildID() snowflake.ID { return p.guildID }

func (p *Player) Label() string { return p.label }

func (p *Player) SessionID() string { return p.session.ID }

func (p *Player) VoiceChannelID() snowflake.ID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channelID
}

func (p *Player) State() State {
	if p.destroyed.Load() {
		return StateDestroyed
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.paused:
		return StatePaused
	case p.track == nil:
		return StateNotPlaying
	default:
		return StatePlaying
	}
}

// CurrentTrack returns a copy of the current track, or nil.
func (p *Player) CurrentTrack() *protocol.Track {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.track == nil {
		return nil
	}
	t := *p.track
	return &t
}

// Position reports the last synced position. ok is false without a track.
func (p *Player) Position() (TrackPosition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.track == nil {
		return TrackPosition{}, false
	}
	return TrackPosition{SyncedAt: p.syncedAt, Unstretched: p.position, StretchFactor: 1, now: p.now}, true
}

func (p *Player) Volume() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.volume
}

func (p *Player) Filters() protocol.Filters {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filters
}

func (p *Player) ConnectionState() ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connection
}

// Play starts ref, replacing any playing track.
func (p *Player) Play(ctx context.Context, ref TrackReference, opts PlayOptions) error {
	if !ref.Valid() {
		return ErrInvalidTrack
	}

	update := protocol.PlayerUpdate{Track: ref.update()}
	if opts.StartPosition > 0 {
		update.Position = protocol.Millis(opts.StartPosition)
	}
	if opts.EndTime > 0 {
		update.EndTime = protocol.Millis(opts.EndTime)
	}

	if err := p.update(ctx, update); err != nil {
		return err
	}
	p.logger.Debug().Str("track", ref.String()).Msg("play")
	return nil
}

func (p *Player) Pause(ctx context.Context) error {
	if err := p.update(ctx, protocol.PlayerUpdate{Paused: protocol.Ptr(true)}); err != nil {
		return err
	}
	p.logger.Info().Msg("paused")
	return nil
}

func (p *Player) Resume(ctx context.Context) error {
	if err := p.update(ctx, protocol.PlayerUpdate{Paused: protocol.Ptr(false)}); err != nil {
		return err
	}
	p.logger.Info().Msg("resumed")
	return nil
}

func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	return p.update(ctx, protocol.PlayerUpdate{Position: protocol.Millis(max(position, 0))})
}

// SeekFrom seeks relative to the start, the current position or the end of the track.
func (p *Player) SeekFrom(ctx context.Context, offset time.Duration, origin SeekOrigin) error {
	if p.destroyed.Load() {
		return ErrDestroyed
	}

	var target time.Duration
	switch origin {
	case SeekBegin:
		target = offset
	case SeekCurrent:
		pos, ok := p.Position()
		if !ok {
			return ErrNoTrackPlaying
		}
		target = pos.Position() + offset
	case SeekEnd:
		track := p.CurrentTrack()
		if track == nil {
			return ErrNoTrackPlaying
		}
		target = track.Info.Duration() + offset
	default:
		return fmt.Errorf("invalid seek origin %d", origin)
	}
	return p.Seek(ctx, target)
}

func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 || volume > 1000 {
		return ErrInvalidVolume
	}
	if err := p.update(ctx, protocol.PlayerUpdate{Volume: protocol.Ptr(volume)}); err != nil {
		return err
	}
	p.logger.Info().Int("volume", volume).Msg("volume changed")
	return nil
}

func (p *Player) SetFilters(ctx context.Context, filters protocol.Filters) error {
	if filters == nil {
		filters = protocol.Filters{}
	}
	if err := p.update(ctx, protocol.PlayerUpdate{Filters: filters}); err != nil {
		return err
	}
	p.logger.Info().Int("filters", len(filters)).Msg("filters changed")
	return nil
}

// Stop clears the current track. With DisconnectOnStop the player is destroyed afterwards.
func (p *Player) Stop(ctx context.Context) error {
	if err := p.update(ctx, protocol.PlayerUpdate{Track: protocol.StopTrack()}); err != nil {
		return err
	}
	p.logger.Info().Msg("stopped")

	if p.disconnectOnStop {
		return p.Destroy(ctx)
	}
	return nil
}

// Refresh fetches the player from the node and applies it.
func (p *Player) Refresh(ctx context.Context) error {
	if p.destroyed.Load() {
		return ErrDestroyed
	}
	model, err := p.session.API.Player(ctx, p.session.ID, p.guildID)
	if err != nil {
		return fmt.Errorf("refresh player %s: %w", p.guildID, err)
	}
	if !p.destroyed.Load() {
		p.apply(model)
	}
	return nil
}

// Disconnect leaves the voice channel and destroys the player.
func (p *Player) Disconnect(ctx context.Context) error {
	if p.destroyed.Load() {
		return ErrDestroyed
	}
	leaveErr := p.leave(ctx)
	p.disconnectOnDestroy.Store(false)
	return errors.Join(leaveErr, p.Destroy(ctx))
}

// Destroy removes the player from the node. Only the first call has an
// effect; later calls return nil.
func (p *Player) Destroy(ctx context.Context) error {
	if !p.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	if p.onDestroy != nil {
		defer p.onDestroy()
	}

	p.logger.Info().Msg("destroyed")

	var errs []error
	if err := p.session.API.DestroyPlayer(ctx, p.session.ID, p.guildID); err != nil {
		errs = append(errs, fmt.Errorf("destroy player %s: %w", p.guildID, err))
	}
	if p.disconnectOnDestroy.Load() {
		errs = append(errs, p.leave(ctx))
	}
	return errors.Join(errs...)
}

func (p *Player) leave(ctx context.Context) error {
	if p.voice == nil {
		return nil
	}
	if err := p.voice.SendVoiceUpdate(ctx, p.guildID, nil, false, false); err != nil {
		return fmt.Errorf("leave voice channel: %w", err)
	}
	return nil
}

func (p *Player) NotifyTrackStarted(_ context.Context, track protocol.Track) error {
	p.mu.Lock()
	p.track = &track
	p.trackData = track.Encoded
	p.mu.Unlock()

	p.logger.Debug().Str("track", track.Info.Title).Msg("track started")
	return nil
}

func (p *Player) NotifyTrackEnded(_ context.Context, track protocol.Track, reason protocol.TrackEndReason) error {
	p.mu.Lock()
	p.track = nil
	p.trackData = ""
	p.mu.Unlock()

	p.logger.Debug().Str("track", track.Info.Title).Str("reason", string(reason)).Msg("track ended")
	return nil
}

func (p *Player) NotifyTrackException(_ context.Context, track protocol.Track, exception protocol.TrackException) error {
	ev := p.logger.Warn().Str("track", track.Info.Title).Str("severity", string(exception.Severity)).Str("cause", exception.Cause)
	if exception.Message != nil {
		ev = ev.Str("message", *exception.Message)
	}
	ev.Msg("track exception")
	return nil
}

func (p *Player) NotifyTrackStuck(_ context.Context, track protocol.Track, threshold time.Duration) error {
	p.logger.Warn().Str("track", track.Info.Title).Dur("threshold", threshold).Msg("track stuck")
	return nil
}

func (p *Player) NotifyWebSocketClosed(_ context.Context, code int, reason string, byRemote bool) error {
	p.logger.Warn().Int("code", code).Str("reason", reason).Bool("by_remote", byRemote).Msg("voice websocket closed")
	return nil
}

func (p *Player) NotifyPlayerUpdate(_ context.Context, syncedAt time.Time, position time.Duration, connected bool, latency time.Duration) error {
	p.mu.Lock()
	p.syncedAt = syncedAt
	p.position = position
	p.connection = ConnectionState{Connected: connected, Latency: latency}
	p.mu.Unlock()

	p.logger.Trace().Time("synced_at", syncedAt).Dur("position", position).Bool("connected", connected).Dur("latency", latency).Msg("player update")
	return nil
}

// NotifyChannelUpdate tracks voice channel moves. A nil channel means the
// bot left voice and destroys the player.
func (p *Player) NotifyChannelUpdate(ctx context.Context, channelID *snowflake.ID) error {
	if channelID == nil {
		p.logger.Info().Msg("disconnected from voice channel")
		p.disconnectOnDestroy.Store(false)
		return p.Destroy(ctx)
	}
	if p.destroyed.Load() {
		return ErrDestroyed
	}

	p.mu.Lock()
	first := !p.connectedOnce
	p.connectedOnce = true
	p.channelID = *channelID
	p.mu.Unlock()

	if first {
		p.logger.Info().Str("channel_id", channelID.String()).Msg("connected")
	} else {
		p.logger.Info().Str("channel_id", channelID.String()).Msg("moved")
	}
	return nil
}

// update sends u and applies the returned snapshot. A snapshot that arrives
// after the player was destroyed is discarded.
func (p *Player) update(ctx context.Context, u protocol.PlayerUpdate) error {
	if p.destroyed.Load() {
		return ErrDestroyed
	}
	model, err := p.session.API.UpdatePlayer(ctx, p.session.ID, p.guildID, u, false)
	if err != nil {
		return fmt.Errorf("update player %s: %w", p.guildID, err)
	}
	if !p.destroyed.Load() {
		p.apply(model)
	}
	return nil
}

// apply reconciles a node snapshot. The current track is only replaced when
// the encoded track differs from the previous snapshot.
func (p *Player) apply(model *protocol.Player) {
	if model == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.paused = model.Paused

	var data string
	if model.Track != nil {
		data = model.Track.Encoded
	}
	if data != p.trackData {
		p.trackData = data
		if model.Track == nil {
			p.track = nil
		} else {
			t := *model.Track
			p.track = &t
		}
	}

	p.volume = model.Volume
	if model.Filters != nil {
		p.filters = model.Filters
	}
}
