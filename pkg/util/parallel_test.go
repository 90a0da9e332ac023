package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelProcessesEveryInput(t *testing.T) {
	var sum atomic.Int64
	boom := errors.New("boom")

	err := Parallel(context.Background(), []int{1, 2, 3, 4, 5}, 2, func(ctx context.Context, v int) error {
		sum.Add(int64(v))
		if v == 3 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(15), sum.Load())
}

func TestParallelEmpty(t *testing.T) {
	assert.NoError(t, Parallel(context.Background(), []string(nil), 4, func(context.Context, string) error {
		return errors.New("never")
	}))
}
