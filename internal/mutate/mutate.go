// Package mutate runs an action behind an optimistic local update that is undone when the action
// fails.
package mutate

import (
	"context"
	"errors"
	"fmt"
)

// Optimistic describes the local side of a mutation. S is whatever Snapshot captures.
type Optimistic[S any] struct {
	// Snapshot captures the state Apply is about to change.
	Snapshot func(ctx context.Context) (S, error)
	// Apply performs the optimistic change.
	Apply func(ctx context.Context) error
	// Compensate restores the snapshot after the action failed.
	Compensate func(ctx context.Context, snapshot S) error
}

// Run snapshots, applies, then runs action. When Apply or action fails the snapshot is handed to
// Compensate; a compensation failure is joined into the returned error.
func Run[S, R any](ctx context.Context, o Optimistic[S], action func(ctx context.Context) (R, error)) (R, error) {
	var zero R

	snap, err := o.Snapshot(ctx)
	if err != nil {
		return zero, fmt.Errorf("snapshot: %w", err)
	}

	if err := o.Apply(ctx); err != nil {
		return zero, compensate(ctx, o, snap, fmt.Errorf("apply: %w", err))
	}

	res, err := action(ctx)
	if err != nil {
		return zero, compensate(ctx, o, snap, err)
	}
	return res, nil
}

func compensate[S any](ctx context.Context, o Optimistic[S], snap S, cause error) error {
	// rollback must run even if the caller gave up
	if cerr := o.Compensate(context.WithoutCancel(ctx), snap); cerr != nil {
		return errors.Join(cause, fmt.Errorf("compensate: %w", cerr))
	}
	return cause
}
