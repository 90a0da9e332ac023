package util

import (
	"context"
	"errors"
	"sync"
)

// Parallel runs fn for every input with at most workerLimit concurrent calls.
// Every input is processed even when some fail; the failures are joined.
// Cancelling ctx stops feeding new inputs.
func Parallel[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}

	workerLimit = min(max(workerLimit, 1), len(inputs))

	tasks := make(chan T)

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)

	for range workerLimit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(ctx, item); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}

	func() {
		defer close(tasks)
		for _, item := range inputs {
			select {
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, ctx.Err())
				mu.Unlock()
				return
			case tasks <- item:
			}
		}
	}()

	wg.Wait()
	return errors.Join(errs...)
}
