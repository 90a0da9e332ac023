package player

import (
	"context"
	"slices"
)

// Precondition is checked against a player before Retrieve returns it.
type Precondition interface {
	Check(ctx context.Context, p Controller) (bool, error)
}

type PreconditionFunc func(ctx context.Context, p Controller) (bool, error)

func (f PreconditionFunc) Check(ctx context.Context, p Controller) (bool, error) {
	return f(ctx, p)
}

// Func wraps a synchronous predicate.
func Func(fn func(p Controller) bool) Precondition {
	return PreconditionFunc(func(_ context.Context, p Controller) (bool, error) {
		return fn(p), nil
	})
}

// Status holds when the player is in one of states.
func Status(states ...State) Precondition {
	return Func(func(p Controller) bool {
		return slices.Contains(states, p.State())
	})
}

var (
	Playing    = Status(StatePlaying)
	NotPlaying = Status(StateNotPlaying)
	Paused     = Status(StatePaused)
	NotPaused  = Func(func(p Controller) bool { return p.State() != StatePaused })
)

// Any holds when at least one of preconditions holds.
func Any(preconditions ...Precondition) Precondition {
	return PreconditionFunc(func(ctx context.Context, p Controller) (bool, error) {
		for _, pre := range preconditions {
			ok, err := pre.Check(ctx, p)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})
}

// All holds when every precondition holds.
func All(preconditions ...Precondition) Precondition {
	return PreconditionFunc(func(ctx context.Context, p Controller) (bool, error) {
		for _, pre := range preconditions {
			ok, err := pre.Check(ctx, p)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}
