package observer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snapshot = map[string]any{"test": "data"}

func TestNotifyRunsSyncAndAsync(t *testing.T) {
	var syncSeen, asyncSeen map[string]any

	sync := Func(func(s map[string]any) error {
		syncSeen = s
		return nil
	})
	async := Go(func(_ context.Context, s map[string]any) error {
		time.Sleep(10 * time.Millisecond)
		asyncSeen = s
		return nil
	})

	require.NoError(t, Notify(context.Background(), []Observer{sync, async}, snapshot))
	assert.Equal(t, snapshot, syncSeen)
	// The async observer has finished because Notify awaited it.
	assert.Equal(t, snapshot, asyncSeen)
}

func TestNotifyPreservesOrder(t *testing.T) {
	var order []int
	mk := func(n int) Observer {
		return Func(func(map[string]any) error {
			order = append(order, n)
			return nil
		})
	}
	slow := Go(func(context.Context, map[string]any) error {
		time.Sleep(20 * time.Millisecond)
		order = append(order, 2)
		return nil
	})

	require.NoError(t, Notify(context.Background(), []Observer{mk(1), slow, mk(3)}, snapshot))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestNotifyStopsAtNil(t *testing.T) {
	var calls int
	valid := Func(func(map[string]any) error { calls++; return nil })

	err := Notify(context.Background(), []Observer{valid, nil, valid}, snapshot)
	require.Error(t, err)

	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Index)
	assert.ErrorIs(t, err, ErrNotCallable)
	assert.Contains(t, err.Error(), "not callable")
	assert.Equal(t, 1, calls)
}

func TestNotifyRejectsNilFunc(t *testing.T) {
	var f Func
	err := Notify(context.Background(), []Observer{f}, snapshot)
	assert.ErrorIs(t, err, ErrNotCallable)

	var a AsyncFunc
	err = Notify(context.Background(), []Observer{a}, snapshot)
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestNotifyStopsOnFirstError(t *testing.T) {
	var called []string
	boom := errors.New("deliberate test failure")

	obs := []Observer{
		Func(func(map[string]any) error { called = append(called, "good1"); return nil }),
		Func(func(map[string]any) error { called = append(called, "failing"); return boom }),
		Func(func(map[string]any) error { called = append(called, "good2"); return nil }),
	}

	err := Notify(context.Background(), obs, snapshot)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"good1", "failing"}, called)
}

func TestNotifyRecoversPanics(t *testing.T) {
	var after bool
	obs := []Observer{
		Func(func(map[string]any) error { panic("kaboom") }),
		Func(func(map[string]any) error { after = true; return nil }),
	}

	err := Notify(context.Background(), obs, snapshot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.False(t, after)
}

func TestAsyncFailureSurfaces(t *testing.T) {
	boom := errors.New("async failure")
	obs := []Observer{Go(func(context.Context, map[string]any) error { return boom })}

	err := Notify(context.Background(), obs, snapshot)
	assert.ErrorIs(t, err, boom)
}

func TestAsyncHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	hung := AsyncFunc(func(context.Context, map[string]any) <-chan error {
		return make(chan error) // never completes
	})

	err := Notify(ctx, []Observer{hung}, snapshot)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAsyncNilChannelMeansDone(t *testing.T) {
	done := AsyncFunc(func(context.Context, map[string]any) <-chan error { return nil })
	assert.NoError(t, Notify(context.Background(), []Observer{done}, snapshot))
}
