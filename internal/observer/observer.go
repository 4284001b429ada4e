// internal/observer/observer.go
//
// Sequential, fail-fast change notification.
//
// Context
// -------
// The manager calls Notify after every committed mutation with one snapshot
// of the configuration.  Observers run one after another, in registration
// order.  An asynchronous observer is awaited before the next one starts, so
// a slow observer delays everything behind it.
//
// The first observer that is nil, returns an error, or panics stops the
// round.  Observers after it are never called and the caller receives a
// single *DispatchError naming the failing position.
//
// Notes
// -----
//   - There is no per-observer timeout.  Cancel ctx to abandon a hung
//     asynchronous observer.
//   - Observers receive the snapshot by reference.  The manager hands out
//     a private copy per round, so observers may read it freely but should
//     not rely on mutating it.
package observer

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotCallable marks a nil observer or a nil function adapter.
var ErrNotCallable = errors.New("observer is not callable")

// Observer receives configuration snapshots.
type Observer interface {
	Notify(ctx context.Context, snapshot map[string]any) error
}

// Func adapts a synchronous callback.
type Func func(snapshot map[string]any) error

// Notify runs f to completion.
func (f Func) Notify(_ context.Context, snapshot map[string]any) error {
	if f == nil {
		return ErrNotCallable
	}
	return f(snapshot)
}

// AsyncFunc adapts a callback that starts work and reports completion on
// the returned channel.  A nil channel means the work is already done.
type AsyncFunc func(ctx context.Context, snapshot map[string]any) <-chan error

// Notify starts f and waits for its result or for ctx to end.
func (f AsyncFunc) Notify(ctx context.Context, snapshot map[string]any) error {
	if f == nil {
		return ErrNotCallable
	}
	done := f(ctx, snapshot)
	if done == nil {
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go wraps a blocking callback as an AsyncFunc that runs on its own
// goroutine.  Handy for callers who already have a plain function.
func Go(fn func(ctx context.Context, snapshot map[string]any) error) AsyncFunc {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context, snapshot map[string]any) <-chan error {
		ch := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					ch <- fmt.Errorf("panic: %v", r)
				}
			}()
			ch <- fn(ctx, snapshot)
		}()
		return ch
	}
}

// DispatchError reports the observer that stopped a notification round.
type DispatchError struct {
	Index int
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("observer %d failed: %v", e.Index, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Notify invokes observers in order with snapshot.  It returns nil when all
// of them succeed, otherwise a *DispatchError for the first failure.
func Notify(ctx context.Context, observers []Observer, snapshot map[string]any) error {
	for i, o := range observers {
		if err := call(ctx, o, snapshot); err != nil {
			return &DispatchError{Index: i, Err: err}
		}
	}
	return nil
}

func call(ctx context.Context, o Observer, snapshot map[string]any) (err error) {
	if o == nil {
		return ErrNotCallable
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.Notify(ctx, snapshot)
}
