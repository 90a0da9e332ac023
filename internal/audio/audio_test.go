package audio_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"
	"github.com/keshon/lavaplay/internal/audio"
	"github.com/keshon/lavaplay/internal/lavalink/node"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/internal/music/player"
	"github.com/keshon/lavaplay/internal/music/queue"
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

type request struct {
	Method string
	Path   string
	Update protocol.PlayerUpdate
}

// fakeNode serves the REST and websocket endpoints of a node.
type fakeNode struct {
	frames chan string

	mu       sync.Mutex
	requests []request
}

func newFakeNode(t *testing.T) (*fakeNode, string) {
	t.Helper()
	n := &fakeNode{frames: make(chan string, 8)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v4/websocket", n.serveWebsocket)
	mux.HandleFunc("PATCH /v4/sessions/{session}/players/{guild}", n.updatePlayer)
	mux.HandleFunc("DELETE /v4/sessions/{session}/players/{guild}", func(w http.ResponseWriter, r *http.Request) {
		n.record(request{Method: r.Method, Path: r.URL.Path})
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return n, srv.URL
}

func (n *fakeNode) record(r request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, r)
}

func (n *fakeNode) Requests() []request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]request(nil), n.requests...)
}

func (n *fakeNode) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","resumed":false,"sessionId":"abc"}`)); err != nil {
		return
	}
	for {
		select {
		case f := <-n.frames:
			if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (n *fakeNode) updatePlayer(w http.ResponseWriter, r *http.Request) {
	var u protocol.PlayerUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	n.record(request{Method: r.Method, Path: r.URL.Path, Update: u})

	id, _ := snowflake.Parse(r.PathValue("guild"))
	p := protocol.Player{GuildID: id, Volume: 100, Filters: protocol.Filters{}}
	if u.Track != nil && u.Track.Identifier != "" {
		p.Track = &protocol.Track{Encoded: "enc:" + u.Track.Identifier, Info: protocol.TrackInfo{Title: u.Track.Identifier, Length: 1000}}
	}
	if u.Voice != nil {
		p.Voice = *u.Voice
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

func newService(t *testing.T, url string, gateway *voicetest.Client) *audio.Service {
	t.Helper()
	qopts := queue.DefaultOptions()
	svc, err := audio.New(gateway, audio.Config{
		Node:   audio.NodeConfig{Label: "test", URL: url, Passphrase: "secret"},
		Player: player.DefaultOptions(),
		Queue:  &qopts,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return svc
}

func TestPlaybackThroughNode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fake, url := newFakeNode(t)
	gateway := voicetest.New(1)
	svc := newService(t, url, gateway)
	require.NoError(t, svc.Start())

	id, err := svc.Link().WaitReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	type result struct {
		c   player.Controller
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := svc.Retrieve(ctx, guild, channel, player.RetrieveOptions{Join: true})
		done <- result{c, err}
	}()

	require.Eventually(t, func() bool { return len(gateway.Updates()) == 1 }, 5*time.Second, 5*time.Millisecond)
	join := gateway.Updates()[0]
	require.NotNil(t, join.ChannelID)
	assert.Equal(t, channel, *join.ChannelID)

	ch := channel
	require.NoError(t, gateway.DeliverServer(ctx, guild, voice.Server{Token: "t", Endpoint: "e"}))
	require.NoError(t, gateway.DeliverState(ctx, guild, voice.State{ChannelID: &ch, SessionID: "s"}))

	res := <-done
	require.NoError(t, res.err)
	q, ok := res.c.(*queue.Player)
	require.True(t, ok)

	pos, err := q.PlayItem(ctx, queue.IdentifierItem("ytsearch:song"), true, player.PlayOptions{})
	require.NoError(t, err)
	assert.Zero(t, pos)
	assert.Equal(t, player.StatePlaying, q.State())

	fake.frames <- `{"op":"event","type":"TrackStartEvent","guildId":"42","track":{"encoded":"enc:ytsearch:song","info":{"title":"ytsearch:song","length":1000}}}`
	require.Eventually(t, func() bool {
		item := q.CurrentItem()
		return item != nil && item.Reference.Track != nil && item.Reference.Track.Encoded == "enc:ytsearch:song"
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Close(ctx))
	assert.False(t, svc.Players().Has(guild))
	select {
	case <-svc.Done():
	default:
		t.Fatal("link still running after Close")
	}
	assert.NoError(t, svc.Err())

	reqs := fake.Requests()
	require.Len(t, reqs, 3)
	require.NotNil(t, reqs[0].Update.Voice)
	assert.Equal(t, protocol.VoiceState{Token: "t", Endpoint: "e", SessionID: "s"}, *reqs[0].Update.Voice)
	assert.Equal(t, "ytsearch:song", reqs[1].Update.Track.Identifier)
	assert.Equal(t, http.MethodDelete, reqs[2].Method)
	assert.Equal(t, "/v4/sessions/abc/players/42", reqs[2].Path)

	updates := gateway.Updates()
	require.Len(t, updates, 2)
	assert.Nil(t, updates[1].ChannelID)
}

func TestLeftVoiceDestroysPlayer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, url := newFakeNode(t)
	gateway := voicetest.New(1)
	svc := newService(t, url, gateway)
	require.NoError(t, svc.Start())
	defer svc.Close(ctx)

	ch := channel
	require.NoError(t, gateway.DeliverServer(ctx, guild, voice.Server{Token: "t", Endpoint: "e"}))
	require.NoError(t, gateway.DeliverState(ctx, guild, voice.State{ChannelID: &ch, SessionID: "s"}))
	require.True(t, svc.Players().Has(guild))

	require.NoError(t, gateway.DeliverState(ctx, guild, voice.State{SessionID: "s"}))
	assert.False(t, svc.Players().Has(guild))
	assert.Empty(t, gateway.Updates())
}

func TestSessionAfterClose(t *testing.T) {
	ctx := context.Background()
	_, url := newFakeNode(t)
	svc := newService(t, url, voicetest.New(1))

	require.NoError(t, svc.Close(ctx))
	_, err := svc.Session(ctx, guild)
	assert.Error(t, err)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := audio.New(voicetest.New(1), audio.Config{Node: audio.NodeConfig{URL: "ftp://node"}, Logger: zerolog.Nop()})
	assert.Error(t, err)

	_, err = audio.New(nil, audio.Config{Node: audio.NodeConfig{URL: "http://node"}})
	assert.Error(t, err)
}

func TestReadyTimeoutStopsService(t *testing.T) {
	_, url := newFakeNode(t)
	gateway := voicetest.New(1)
	gateway.Ready = make(chan struct{})

	svc, err := audio.New(gateway, audio.Config{
		Node:   audio.NodeConfig{Label: "test", URL: url, ReadyTimeout: 50 * time.Millisecond},
		Player: player.DefaultOptions(),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.NoError(t, svc.Err())
	require.NoError(t, svc.Start())

	select {
	case <-svc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("link did not stop after the ready timeout")
	}
	assert.ErrorIs(t, svc.Err(), node.ErrReadyTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, svc.Close(ctx), node.ErrReadyTimeout)
}
