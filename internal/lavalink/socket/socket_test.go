package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	headers chan http.Header
	frames  []string
	hold    bool
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v4/websocket" {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Authorization") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if n.headers != nil {
		n.headers <- r.Header.Clone()
	}

	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	for _, f := range n.frames {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
	if n.hold {
		_, _, _ = ws.ReadMessage()
	}
}

func startNode(t *testing.T, n *fakeNode) string {
	t.Helper()
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestReceiveUntilEndOfStream(t *testing.T) {
	url := startNode(t, &fakeNode{frames: []string{
		`{"op":"ready","resumed":false,"sessionId":"abc"}`,
		`not json`,
		`{"op":"playerUpdate","guildId":"42","state":{"time":1,"position":2,"connected":true,"ping":0}}`,
	}})

	conn := NewFactory(zerolog.Nop()).New(Options{URL: url, Passphrase: "secret", UserID: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() { _ = conn.Run(ctx) }()

	p, err := conn.Receive(ctx)
	require.NoError(t, err)
	ready, ok := p.(protocol.ReadyPayload)
	require.True(t, ok)
	assert.Equal(t, "abc", ready.SessionID)

	p, err = conn.Receive(ctx)
	require.NoError(t, err)
	update, ok := p.(protocol.PlayerUpdatePayload)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(42), update.Guild)

	p, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestHandshakeHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	url := startNode(t, &fakeNode{headers: headers, hold: true})

	conn := NewFactory(zerolog.Nop()).New(Options{
		URL:        url,
		Passphrase: "secret",
		UserID:     snowflake.ID(1234),
		ShardCount: 2,
		SessionID:  "previous",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	h := <-headers
	assert.Equal(t, "1234", h.Get("User-Id"))
	assert.Equal(t, "2", h.Get("Num-Shards"))
	assert.Equal(t, DefaultClientName, h.Get("Client-Name"))
	assert.Equal(t, "previous", h.Get("Session-Id"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestReceiveHonoursContext(t *testing.T) {
	conn := NewFactory(zerolog.Nop()).New(Options{URL: "http://127.0.0.1:1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:2333":          "ws://localhost:2333/v4/websocket",
		"https://node.example/":          "wss://node.example/v4/websocket",
		"ws://node:2333/v4/websocket":    "ws://node:2333/v4/websocket",
		"http://proxy.example/lavalink/": "ws://proxy.example/lavalink/v4/websocket",
	}
	for in, want := range cases {
		got, err := websocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := websocketURL("ftp://node")
	assert.Error(t, err)
}
