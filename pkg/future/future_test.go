package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOnce(t *testing.T) {
	f := New[string]()
	assert.False(t, f.Completed())

	assert.True(t, f.Resolve("a"))
	assert.False(t, f.Resolve("b"))
	assert.False(t, f.Fail(errors.New("late")))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestWaitersSeeFailure(t *testing.T) {
	f := New[int]()
	errs := make(chan error, 3)
	for range 3 {
		go func() {
			_, err := f.Wait(context.Background())
			errs <- err
		}()
	}

	boom := errors.New("boom")
	f.Fail(boom)
	for range 3 {
		assert.ErrorIs(t, <-errs, boom)
	}
}

func TestWaitCancelled(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, _, ok := f.Result()
	assert.False(t, ok)
}
