package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback. A returned
// error is stored on the event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IsRealError reports whether err is a failure rather than a cancelled or
// no-op transition.
func IsRealError(err error) bool {
	if err == nil {
		return false
	}

	var noTransition fsm.NoTransitionError
	var canceled fsm.CanceledError

	return !errors.As(err, &noTransition) && !errors.As(err, &canceled)
}

// IsCanceled reports whether a guard refused the transition.
func IsCanceled(err error) bool {
	var canceled fsm.CanceledError
	return errors.As(err, &canceled)
}
