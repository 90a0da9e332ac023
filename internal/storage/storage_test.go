package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datastore.json")

	s, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(100, 0) }

	_, ok := s.LoadSession("main")
	assert.False(t, ok)

	require.NoError(t, s.SaveSession("main", "abc"))
	require.NoError(t, s.Close())

	s, err = New(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	id, ok := s.LoadSession("main")
	require.True(t, ok)
	assert.Equal(t, "abc", id)

	sessions, err := s.Sessions()
	require.NoError(t, err)
	assert.Equal(t, map[string]SessionRecord{"main": {SessionID: "abc", UpdatedAt: time.Unix(100, 0).UTC()}}, sessions)
}

func TestSaveAfterClose(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "datastore.json"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.SaveSession("main", "abc"))
	_, ok := s.LoadSession("main")
	assert.False(t, ok)
}
