package tracking_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/music/player"
	"github.com/keshon/lavaplay/internal/music/player/playertest"
	"github.com/keshon/lavaplay/internal/tracking"
	"github.com/keshon/lavaplay/internal/voice"
	"github.com/keshon/lavaplay/internal/voice/voicetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	guild   = snowflake.ID(42)
	channel = snowflake.ID(7)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.Unix(1000, 0).Add(d)
}

func newClock() *clock {
	c := &clock{}
	c.Set(0)
	return c
}

// switchTracker reports inactive while the flag is set.
func switchTracker(inactive *atomic.Bool) tracking.Tracker {
	return tracking.Tracker{
		Name: "switch",
		Check: func(context.Context, player.Controller, voice.Client) (bool, error) {
			return inactive.Load(), nil
		},
	}
}

type fixture struct {
	api     *playertest.API
	gateway *voicetest.Client
	manager *player.Manager
	service *tracking.Service
	clock   *clock

	mu     sync.Mutex
	events []tracking.StatusUpdated
}

func newFixture(t *testing.T, factory player.Factory, trackers ...tracking.Tracker) *fixture {
	t.Helper()
	f := &fixture{api: playertest.NewAPI(), gateway: voicetest.New(1), clock: newClock()}
	f.manager = player.NewManager(player.ManagerConfig{
		Sessions: playertest.Sessions{API: f.api},
		Voice:    f.gateway,
		Factory:  factory,
		Options:  player.DefaultOptions(),
		Logger:   zerolog.Nop(),
	})

	opts := tracking.DefaultOptions()
	opts.DisconnectDelay = 5 * time.Second
	opts.Trackers = trackers
	opts.Now = f.clock.Now
	f.service = tracking.New(f.manager, f.gateway, opts)
	f.service.StatusUpdated.Add(func(_ context.Context, e tracking.StatusUpdated) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
		return nil
	})

	ctx := context.Background()
	id := channel
	require.NoError(t, f.manager.UpdateVoiceServer(ctx, guild, voice.Server{Token: "t", Endpoint: "e"}))
	require.NoError(t, f.manager.UpdateVoiceState(ctx, guild, voice.State{ChannelID: &id, SessionID: "s"}))
	require.True(t, f.manager.Has(guild))
	return f
}

func (f *fixture) statuses() []tracking.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tracking.Status
	for _, e := range f.events {
		out = append(out, e.Status)
	}
	return out
}

func TestActiveAgainBeforeDeadline(t *testing.T) {
	ctx := context.Background()
	var inactive atomic.Bool
	f := newFixture(t, nil, switchTracker(&inactive))

	inactive.Store(true)
	require.NoError(t, f.service.Poll(ctx))
	assert.Equal(t, tracking.StatusTracked, f.service.Status(guild))

	f.clock.Set(4 * time.Second)
	inactive.Store(false)
	require.NoError(t, f.service.Poll(ctx))

	f.clock.Set(5 * time.Second)
	require.NoError(t, f.service.Poll(ctx))
	f.clock.Set(60 * time.Second)
	require.NoError(t, f.service.Poll(ctx))

	assert.True(t, f.manager.Has(guild))
	assert.Empty(t, f.api.Destroyed())
	assert.Equal(t, []tracking.Status{tracking.StatusTracked, tracking.StatusUntracked}, f.statuses())
	assert.Equal(t, tracking.StatusUntracked, f.service.Status(guild))
}

func TestDestroyAfterDeadline(t *testing.T) {
	ctx := context.Background()
	var inactive atomic.Bool
	inactive.Store(true)
	f := newFixture(t, nil, switchTracker(&inactive))

	require.NoError(t, f.service.Poll(ctx))

	f.clock.Set(5 * time.Second)
	require.NoError(t, f.service.Poll(ctx))
	assert.True(t, f.manager.Has(guild), "deadline is exclusive")
	assert.Equal(t, tracking.StatusTracked, f.service.Status(guild))

	f.clock.Set(5*time.Second + time.Millisecond)
	assert.Equal(t, tracking.StatusInactive, f.service.Status(guild))
	require.NoError(t, f.service.Poll(ctx))

	assert.False(t, f.manager.Has(guild))
	assert.Equal(t, []snowflake.ID{guild}, f.api.Destroyed())
	assert.Equal(t, []tracking.Status{tracking.StatusTracked, tracking.StatusUntracked}, f.statuses())
	assert.Equal(t, tracking.StatusUntracked, f.service.Status(guild))

	updates := f.gateway.Updates()
	require.Len(t, updates, 1)
	assert.Nil(t, updates[0].ChannelID)
}

func TestVetoKeepsPlayer(t *testing.T) {
	ctx := context.Background()
	var inactive atomic.Bool
	inactive.Store(true)
	f := newFixture(t, nil, switchTracker(&inactive))

	var vetoed int
	f.service.InactivePlayer.Add(func(_ context.Context, e *tracking.InactivePlayer) error {
		assert.Equal(t, guild, e.GuildID)
		e.ShouldStop = false
		vetoed++
		return nil
	})

	require.NoError(t, f.service.Poll(ctx))
	f.clock.Set(10 * time.Second)
	require.NoError(t, f.service.Poll(ctx))

	assert.Equal(t, 1, vetoed)
	assert.True(t, f.manager.Has(guild))
	assert.Equal(t, tracking.StatusInactive, f.service.Status(guild))
}

func TestPlayerGoneBeforeDeadline(t *testing.T) {
	ctx := context.Background()
	var inactive atomic.Bool
	inactive.Store(true)
	f := newFixture(t, nil, switchTracker(&inactive))

	require.NoError(t, f.service.Poll(ctx))

	p, ok := f.manager.Player(guild)
	require.True(t, ok)
	require.NoError(t, p.Destroy(ctx))
	require.False(t, f.manager.Has(guild))

	f.clock.Set(10 * time.Second)
	require.NoError(t, f.service.Poll(ctx))

	assert.Equal(t, tracking.StatusUntracked, f.service.Status(guild))
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.events, 2)
	assert.Nil(t, f.events[1].Player)
	assert.Equal(t, tracking.StatusUntracked, f.events[1].Status)
}

func TestDefaultTrackers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, tracking.DefaultTrackers(tracking.DefaultUsersOptions())...)

	f.gateway.Join(channel, 100, true)
	require.NoError(t, f.service.Poll(ctx))
	assert.Equal(t, tracking.StatusTracked, f.service.Status(guild))

	f.gateway.Join(channel, 101, false)
	require.NoError(t, f.service.Poll(ctx))
	assert.Equal(t, tracking.StatusUntracked, f.service.Status(guild))
}

func TestUsersTrackerThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p, ok := f.manager.Player(guild)
	require.True(t, ok)

	tr := tracking.UsersTracker(tracking.UsersOptions{Threshold: 2, ExcludeBots: false})

	f.gateway.Join(channel, 100, true)
	inactive, err := tr.Check(ctx, p, f.gateway)
	require.NoError(t, err)
	assert.True(t, inactive)

	f.gateway.Join(channel, 101, false)
	inactive, err = tr.Check(ctx, p, f.gateway)
	require.NoError(t, err)
	assert.False(t, inactive)
}

func TestTrackerList(t *testing.T) {
	var inactive atomic.Bool
	f := newFixture(t, nil, switchTracker(&inactive))

	f.service.AddTracker(tracking.ChannelTracker)
	assert.Len(t, f.service.Trackers(), 2)
	assert.True(t, f.service.RemoveTracker("switch"))
	assert.False(t, f.service.RemoveTracker("switch"))
	f.service.ClearTrackers()
	assert.Empty(t, f.service.Trackers())
}

type listeningPlayer struct {
	player.Controller

	mu    sync.Mutex
	calls []string
}

func (p *listeningPlayer) record(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
	return nil
}

func (p *listeningPlayer) NotifyTracked(context.Context) error  { return p.record("tracked") }
func (p *listeningPlayer) NotifyActive(context.Context) error   { return p.record("active") }
func (p *listeningPlayer) NotifyInactive(context.Context) error { return p.record("inactive") }

func TestPlayerListener(t *testing.T) {
	ctx := context.Background()
	var lp *listeningPlayer
	factory := func(ctx context.Context, props player.Properties) (player.Controller, error) {
		inner, err := player.DefaultFactory(ctx, props)
		if err != nil {
			return nil, err
		}
		lp = &listeningPlayer{Controller: inner}
		return lp, nil
	}

	var inactive atomic.Bool
	inactive.Store(true)
	f := newFixture(t, factory, switchTracker(&inactive))
	require.NotNil(t, lp)

	require.NoError(t, f.service.Poll(ctx))
	inactive.Store(false)
	require.NoError(t, f.service.Poll(ctx))
	inactive.Store(true)
	require.NoError(t, f.service.Poll(ctx))
	f.clock.Set(time.Minute)
	require.NoError(t, f.service.Poll(ctx))

	assert.Equal(t, []string{"tracked", "active", "tracked", "inactive"}, lp.calls)
}

func TestRunPollsImmediately(t *testing.T) {
	var inactive atomic.Bool
	inactive.Store(true)
	f := newFixture(t, nil, switchTracker(&inactive))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.service.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.service.Status(guild) == tracking.StatusTracked
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunSurvivesFailedPasses(t *testing.T) {
	f := newFixture(t, nil)

	var calls atomic.Int32
	flaky := tracking.Tracker{
		Name: "flaky",
		Check: func(context.Context, player.Controller, voice.Client) (bool, error) {
			if calls.Add(1) <= 2 {
				return false, errors.New("voice state unavailable")
			}
			return true, nil
		},
	}

	opts := tracking.DefaultOptions()
	opts.PollInterval = 10 * time.Millisecond
	opts.Trackers = []tracking.Tracker{flaky}
	opts.Now = f.clock.Now
	service := tracking.New(f.manager, f.gateway, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	require.Eventually(t, func() bool {
		return service.Status(guild) == tracking.StatusTracked
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
