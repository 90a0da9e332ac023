// Package queue decorates a player with a play queue, a bounded history,
// repeat modes and shuffle.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/internal/music/player"
	"github.com/keshon/lavaplay/pkg/event"
	"github.com/rs/zerolog"
)

var ErrNegativeCount = errors.New("count must not be negative")

type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatTrack
	RepeatQueue
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatNone:
		return "none"
	case RepeatTrack:
		return "track"
	case RepeatQueue:
		return "queue"
	}
	return "unknown"
}

func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return RepeatNone, nil
	case "track":
		return RepeatTrack, nil
	case "queue":
		return RepeatQueue, nil
	}
	return RepeatNone, fmt.Errorf("unknown repeat mode %q", s)
}

func (m *RepeatMode) UnmarshalText(text []byte) error {
	mode, err := ParseRepeatMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

type Options struct {
	HistoryCapacity     int
	ClearQueueOnStop    bool
	ClearHistoryOnStop  bool
	ResetRepeatOnStop   bool
	ResetShuffleOnStop  bool
	RespectRepeatOnSkip bool
	DefaultRepeatMode   RepeatMode

	// Rand returns a value in [0, n). Defaults to math/rand.
	Rand func(n int) int
}

func DefaultOptions() Options {
	return Options{
		HistoryCapacity:     8,
		ClearQueueOnStop:    true,
		ResetRepeatOnStop:   true,
		ResetShuffleOnStop:  true,
		RespectRepeatOnSkip: true,
	}
}

// Enqueued is published when an item is appended instead of played.
type Enqueued struct {
	GuildID  snowflake.ID
	Item     Item
	Position int
}

// Player is a player.Controller that plays its queue.
type Player struct {
	player.Controller

	opts    Options
	queue   *Queue
	history *History
	logger  zerolog.Logger

	// Enqueued observers run synchronously inside PlayItem.
	Enqueued event.Handlers[Enqueued]

	mu      sync.Mutex
	current *Item
	next    *Item
	repeat  RepeatMode
	shuffle bool
}

// New wraps inner. The current track of inner, if any, becomes the current item.
func New(inner player.Controller, opts Options, logger zerolog.Logger) *Player {
	r := opts.Rand
	if r == nil {
		r = rand.IntN
	}
	p := &Player{
		Controller: inner,
		opts:       opts,
		queue:      &Queue{rand: r},
		history:    NewHistory(opts.HistoryCapacity),
		logger:     logger.With().Str("component", "queue").Str("guild_id", inner.GuildID().String()).Logger(),
		repeat:     opts.DefaultRepeatMode,
	}
	if t := inner.CurrentTrack(); t != nil {
		item := TrackItem(*t)
		p.current = &item
	}
	return p
}

// Factory builds queued players around the default player.
func Factory(opts Options) player.Factory {
	return func(ctx context.Context, props player.Properties) (player.Controller, error) {
		inner, err := player.DefaultFactory(ctx, props)
		if err != nil {
			return nil, err
		}
		return New(inner, opts, props.Logger), nil
	}
}

func (p *Player) Queue() *Queue { return p.queue }

func (p *Player) History() *History { return p.history }

// CurrentItem returns the item being played, or nil.
func (p *Player) CurrentItem() *Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	item := *p.current
	return &item
}

func (p *Player) RepeatMode() RepeatMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

func (p *Player) SetRepeatMode(mode RepeatMode) {
	p.mu.Lock()
	p.repeat = mode
	p.mu.Unlock()
	p.logger.Info().Str("repeat", mode.String()).Msg("repeat mode changed")
}

func (p *Player) Shuffle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shuffle
}

func (p *Player) SetShuffle(shuffle bool) {
	p.mu.Lock()
	p.shuffle = shuffle
	p.mu.Unlock()
	p.logger.Info().Bool("shuffle", shuffle).Msg("shuffle changed")
}

// Play enqueues ref, or plays it right away when nothing is playing.
func (p *Player) Play(ctx context.Context, ref player.TrackReference, opts player.PlayOptions) error {
	_, err := p.PlayItem(ctx, Item{Reference: ref}, true, opts)
	return err
}

// PlayItem plays item. With enqueue set and a non-empty queue or an active
// track, item is appended instead and its 1-based position returned.
// Otherwise it replaces the current track and 0 is returned.
func (p *Player) PlayItem(ctx context.Context, item Item, enqueue bool, opts player.PlayOptions) (int, error) {
	if !item.Reference.Valid() {
		return 0, player.ErrInvalidTrack
	}
	state := p.State()
	if state == player.StateDestroyed {
		return 0, player.ErrDestroyed
	}

	if enqueue && (!p.queue.IsEmpty() || state == player.StatePlaying || state == player.StatePaused) {
		pos := p.queue.Add(item)
		p.logger.Debug().Str("track", item.Reference.String()).Int("position", pos).Msg("enqueued")
		if err := p.Enqueued.Invoke(ctx, Enqueued{GuildID: p.GuildID(), Item: item, Position: pos}); err != nil {
			p.logger.Warn().Err(err).Msg("enqueued handler failed")
		}
		return pos, nil
	}

	p.mu.Lock()
	p.next = &item
	if p.current == nil {
		p.current = &item
	}
	p.mu.Unlock()

	return 0, p.Controller.Play(ctx, item.Reference, opts)
}

// Skip advances count items. A zero count does nothing.
func (p *Player) Skip(ctx context.Context, count int) error {
	if count < 0 {
		return ErrNegativeCount
	}
	if count == 0 {
		return nil
	}
	if p.State() == player.StateDestroyed {
		return player.ErrDestroyed
	}
	return p.playNext(ctx, count, p.opts.RespectRepeatOnSkip)
}

// Stop clears the current item and, depending on the options, the queue,
// the history, the repeat mode and shuffle.
func (p *Player) Stop(ctx context.Context) error {
	if p.State() == player.StateDestroyed {
		return player.ErrDestroyed
	}
	if p.opts.ClearQueueOnStop {
		p.queue.Clear()
	}
	if p.opts.ClearHistoryOnStop {
		p.history.Clear()
	}

	p.mu.Lock()
	if p.opts.ResetRepeatOnStop {
		p.repeat = p.opts.DefaultRepeatMode
	}
	if p.opts.ResetShuffleOnStop {
		p.shuffle = false
	}
	p.current = nil
	p.mu.Unlock()

	return p.Controller.Stop(ctx)
}

func (p *Player) NotifyTrackStarted(ctx context.Context, track protocol.Track) error {
	p.mu.Lock()
	if p.next != nil && matches(*p.next, track) {
		item := *p.next
		item.Reference = player.FromTrack(track)
		p.current = &item
	} else {
		item := TrackItem(track)
		p.current = &item
	}
	p.next = nil
	p.mu.Unlock()

	return p.Controller.NotifyTrackStarted(ctx, track)
}

func (p *Player) NotifyTrackEnded(ctx context.Context, track protocol.Track, reason protocol.TrackEndReason) error {
	p.mu.Lock()
	ended := TrackItem(track)
	if p.current != nil && matches(*p.current, track) {
		ended = *p.current
	}
	p.mu.Unlock()

	p.history.Add(ended)

	if err := p.Controller.NotifyTrackEnded(ctx, track, reason); err != nil {
		return err
	}

	if !reason.MayStartNext() {
		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
		return nil
	}
	return p.playNext(ctx, 1, true)
}

func (p *Player) playNext(ctx context.Context, count int, respectRepeat bool) error {
	item, ok := p.nextItem(count, respectRepeat)
	if !ok {
		return p.Stop(ctx)
	}

	p.mu.Lock()
	p.next = &item
	p.mu.Unlock()

	return p.Controller.Play(ctx, item.Reference, player.PlayOptions{})
}

// nextItem selects the item count positions ahead. In queue repeat mode
// every dequeued item is appended again, so skipping rotates the queue.
func (p *Player) nextItem(count int, respectRepeat bool) (Item, bool) {
	p.mu.Lock()
	repeat, shuffle, current := p.repeat, p.shuffle, p.current
	p.mu.Unlock()

	if respectRepeat && repeat == RepeatTrack && current != nil {
		return *current, true
	}

	for ; count > 1; count-- {
		item, ok := p.queue.Dequeue(shuffle)
		if !ok {
			break
		}
		if repeat == RepeatQueue {
			p.queue.Add(item)
		}
	}

	item, ok := p.queue.Dequeue(shuffle)
	if !ok {
		return Item{}, false
	}
	if repeat == RepeatQueue {
		p.queue.Add(item)
	}
	return item, true
}

// matches reports whether item refers to track. An identifier is assumed to
// resolve to whatever the node started.
func matches(item Item, track protocol.Track) bool {
	if item.Reference.Track == nil {
		return true
	}
	return item.Reference.Track.Encoded == track.Encoded
}
