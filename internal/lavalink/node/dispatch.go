package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/keshon/lavaplay/internal/lavalink/protocol"
)

// connection is the dispatch state of one connection attempt.
type connection struct {
	ready bool
}

func (l *Link) dispatch(ctx context.Context, conn *connection, payload protocol.Payload) {
	if ready, ok := payload.(protocol.ReadyPayload); ok {
		if conn.ready {
			l.logger.Warn().Str("session_id", ready.SessionID).Msg("duplicate ready payload on connection, ignoring")
			return
		}
		conn.ready = true
		l.handleReady(ctx, ready)
	}

	if l.SessionID() == "" {
		l.logger.Warn().Str("op", string(payload.Op())).Msg("payload received before ready, ignoring")
		return
	}

	var err error
	switch p := payload.(type) {
	case protocol.EventPayload:
		err = l.handleEvent(ctx, p)
	case protocol.PlayerUpdatePayload:
		err = l.handlePlayerUpdate(ctx, p)
	case protocol.StatsPayload:
		err = l.handleStatistics(ctx, p)
	}
	if err != nil {
		l.logger.Warn().Err(err).Str("op", string(payload.Op())).Msg("failed to handle payload")
	}

	l.runExtensions(ctx, payload)
}

func (l *Link) handleReady(ctx context.Context, ready protocol.ReadyPayload) {
	id := ready.SessionID
	l.sessionID.Store(&id)
	l.ready.Resolve(id)
	l.logger.Info().Str("session_id", id).Bool("resumed", ready.Resumed).Msg("ready")

	if l.opts.Store != nil {
		if err := l.opts.Store.SaveSession(l.label, id); err != nil {
			l.logger.Warn().Err(err).Msg("failed to persist session")
		}
	}

	if l.opts.ResumeTimeout > 0 && l.opts.API != nil {
		update := protocol.SessionUpdate{
			Resuming: protocol.Ptr(true),
			Timeout:  protocol.Ptr(int(l.opts.ResumeTimeout.Seconds())),
		}
		if _, err := l.opts.API.UpdateSession(ctx, id, update); err != nil {
			l.logger.Warn().Err(err).Msg("failed to configure resuming")
		}
	}
}

func (l *Link) listener(p protocol.EventPayload) (PlayerListener, bool) {
	if l.opts.Players == nil {
		return nil, false
	}
	return l.opts.Players.Listener(p.GuildID())
}

func (l *Link) handleEvent(ctx context.Context, p protocol.EventPayload) error {
	player, ok := l.listener(p)
	if !ok {
		l.logger.Debug().Str("guild_id", p.GuildID().String()).Str("type", string(p.Type())).Msg("event for unknown player")
		return nil
	}

	var notifyErr, publishErr error
	switch e := p.(type) {
	case protocol.TrackStartEvent:
		notifyErr = player.NotifyTrackStarted(ctx, e.Track)
		publishErr = l.events.TrackStarted.Invoke(ctx, TrackStarted{GuildID: e.Guild, Track: e.Track})
	case protocol.TrackEndEvent:
		notifyErr = player.NotifyTrackEnded(ctx, e.Track, e.Reason)
		publishErr = l.events.TrackEnded.Invoke(ctx, TrackEnded{GuildID: e.Guild, Track: e.Track, Reason: e.Reason})
	case protocol.TrackExceptionEvent:
		notifyErr = player.NotifyTrackException(ctx, e.Track, e.Exception)
		publishErr = l.events.TrackException.Invoke(ctx, TrackException{GuildID: e.Guild, Track: e.Track, Exception: e.Exception})
	case protocol.TrackStuckEvent:
		notifyErr = player.NotifyTrackStuck(ctx, e.Track, e.Threshold())
		publishErr = l.events.TrackStuck.Invoke(ctx, TrackStuck{GuildID: e.Guild, Track: e.Track, Threshold: e.Threshold()})
	case protocol.WebSocketClosedEvent:
		notifyErr = player.NotifyWebSocketClosed(ctx, e.Code, e.Reason, e.ByRemote)
		publishErr = l.events.WebSocketClosed.Invoke(ctx, WebSocketClosed{GuildID: e.Guild, Code: e.Code, Reason: e.Reason, ByRemote: e.ByRemote})
	}

	if notifyErr != nil {
		notifyErr = fmt.Errorf("notify player %s: %w", p.GuildID(), notifyErr)
	}
	if publishErr != nil {
		publishErr = fmt.Errorf("publish %s: %w", p.Type(), publishErr)
	}
	return errors.Join(notifyErr, publishErr)
}

func (l *Link) handlePlayerUpdate(ctx context.Context, p protocol.PlayerUpdatePayload) error {
	if l.opts.Players == nil {
		return nil
	}
	player, ok := l.opts.Players.Listener(p.Guild)
	if !ok {
		l.logger.Debug().Str("guild_id", p.Guild.String()).Msg("player update for unknown player")
		return nil
	}
	state := p.State
	return player.NotifyPlayerUpdate(ctx, state.SyncedAt(), state.PlaybackPosition(), state.Connected, state.Latency())
}

func (l *Link) handleStatistics(ctx context.Context, p protocol.StatsPayload) error {
	stats := p.Statistics
	l.stats.Store(&stats)
	return l.events.StatisticsUpdated.Invoke(ctx, StatisticsUpdated{Label: l.label, Statistics: stats})
}

func (l *Link) runExtensions(ctx context.Context, payload protocol.Payload) {
	l.extMu.RLock()
	list := make([]namedExtension, len(l.extensions))
	copy(list, l.extensions)
	l.extMu.RUnlock()

	for _, e := range list {
		if err := runExtension(ctx, e.ext, payload); err != nil {
			l.logger.Warn().Err(err).Str("extension", e.name).Msg("extension failed")
		}
	}
}

func runExtension(ctx context.Context, ext Extension, payload protocol.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extension panicked: %v", r)
		}
	}()
	return ext.ProcessPayload(ctx, payload)
}
