package jobmgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndStopAll(t *testing.T) {
	m := NewManager(zerolog.Nop())

	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	require.NoError(t, m.StartAsync("link", block))
	require.NoError(t, m.StartAsync("poller", block))
	assert.Error(t, m.StartAsync("link", block))
	assert.Equal(t, []string{"link", "poller"}, m.List())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.StopAll(ctx))
	assert.Empty(t, m.List())
}

func TestFailedJobIsRemoved(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.StartAsync("broken", func(ctx context.Context) error {
		return errors.New("startup failed")
	}))

	done := m.Done("broken")
	if done != nil {
		<-done
	}
	assert.Eventually(t, func() bool { return len(m.List()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Error(t, m.Stop(context.Background(), "broken"))
}
