package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeOrderAndIsolation(t *testing.T) {
	var h Handlers[int]
	var calls []string

	h.Add(func(ctx context.Context, v int) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	h.Add(func(ctx context.Context, v int) error {
		calls = append(calls, "second")
		panic("kaput")
	})
	h.Add(func(ctx context.Context, v int) error {
		calls = append(calls, "third")
		return nil
	})

	err := h.Invoke(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "kaput")
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestRemove(t *testing.T) {
	var h Handlers[string]
	hits := 0
	remove := h.Add(func(ctx context.Context, v string) error {
		hits++
		return nil
	})

	require.NoError(t, h.Invoke(context.Background(), "a"))
	remove()
	remove()
	require.NoError(t, h.Invoke(context.Background(), "b"))

	assert.Equal(t, 1, hits)
	assert.Equal(t, 0, h.Len())
}
