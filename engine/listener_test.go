package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaderwatch/core"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestNewListenerRequiresDependencies(t *testing.T) {
	_, err := NewListener(nil, newFakePusher(), nil, Options{})
	assert.ErrorIs(t, err, ErrNilStore)
	_, err = NewListener(newFakeStore(nil), nil, nil, Options{})
	assert.ErrorIs(t, err, ErrNilPusher)
}

func TestRunBootstrapFailure(t *testing.T) {
	store := newFakeStore(nil)
	store.loadErr = errBoom
	l := newTestListener(t, store, newFakePusher(), Options{})

	err := l.Run(context.Background())
	require.ErrorIs(t, err, ErrBootstrap)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateTerminated, l.State())
}

func TestRunStreamFailureIsFatal(t *testing.T) {
	store := newFakeStore(map[core.UserID]core.Score{"A": 1})
	l := newTestListener(t, store, newFakePusher(), Options{})
	assert.Equal(t, StateUninitialized, l.State())

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	require.Eventually(t, func() bool { return l.State() == StateListening }, timeout, tick)
	assert.Equal(t, core.Score(1), l.Cache().Get("A"), "bootstrap loads the snapshot before listening")

	store.stream.errs <- errBoom
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrStreamFailed)
		require.ErrorIs(t, err, errBoom)
	case <-time.After(timeout):
		t.Fatal("listener did not stop on stream error")
	}
	assert.Equal(t, StateTerminated, l.State())
	select {
	case <-store.stream.closed:
	default:
		t.Fatal("stream should be closed on exit")
	}
}

func TestRunTwice(t *testing.T) {
	store := newFakeStore(nil)
	store.loadErr = errBoom
	l := newTestListener(t, store, newFakePusher(), Options{})
	_ = l.Run(context.Background())
	assert.ErrorIs(t, l.Run(context.Background()), ErrStarted)
}

func TestRunProcessesBatchesInOrder(t *testing.T) {
	store := newFakeStore(map[core.UserID]core.Score{"B": 5})
	store.tokens["B"] = []string{"b"}
	pusher := newFakePusher()
	l := newTestListener(t, store, pusher, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	// A climbs past B, then drops back, then climbs again: two notifications
	store.setScore("A", 6)
	store.stream.batches <- []core.ChangeEvent{change("A", "Ana", 6), change("A", "Ana", 1)}
	store.stream.batches <- []core.ChangeEvent{change("A", "Ana", 7)}

	require.Eventually(t, func() bool { return len(pusher.all()) == 2 }, timeout, tick)
	sent := pusher.all()
	assert.Equal(t, "Ana te passou com 6 pontos.", sent[0].N.Body)
	assert.Equal(t, "Ana te passou com 7 pontos.", sent[1].N.Body)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "terminated", StateTerminated.String())
}
