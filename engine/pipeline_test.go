package engine

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaderwatch/core"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestListener(t *testing.T, store *fakeStore, pusher *fakePusher, opts Options) *Listener {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	l, err := NewListener(store, pusher, nil, opts)
	require.NoError(t, err)
	return l
}

func sortedIDs(ids []core.UserID) []core.UserID {
	out := append([]core.UserID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestCacheReflectsLatestEvent(t *testing.T) {
	cache := NewScoreCache()
	rng := rand.New(rand.NewPCG(1, 2))
	users := []core.UserID{"a", "b", "c"}
	last := map[core.UserID]core.Score{}
	for i := 0; i < 500; i++ {
		u := users[rng.IntN(len(users))]
		s := core.Score(rng.IntN(100))
		Classify(cache, change(u, "", s))
		last[u] = s
	}
	for u, s := range last {
		assert.Equal(t, s, cache.Get(u), "user %s", u)
	}
}

func TestClassify(t *testing.T) {
	cache := NewScoreCache()

	c := Classify(cache, change("a", "Ana", 5))
	assert.True(t, c.Increase, "first sighting with positive score is an increase from zero")
	assert.Equal(t, core.Score(0), c.OldScore)
	assert.Equal(t, "Ana", c.Name)

	c = Classify(cache, change("a", "", 3))
	assert.False(t, c.Increase)
	assert.Equal(t, core.Score(3), cache.Get("a"), "decreases still update the cache")
	assert.Equal(t, core.DefaultDisplayName, c.Name)

	c = Classify(cache, change("a", "", 3))
	assert.False(t, c.Increase, "equal score is a no-op")

	c = Classify(cache, change("z", "", 0))
	assert.False(t, c.Increase, "zero from unseen user is not an increase")
	_, seen := cache.Lookup("z")
	assert.True(t, seen)
}

func TestResolveHalfOpenRange(t *testing.T) {
	store := newFakeStore(map[core.UserID]core.Score{"A": 20, "B": 12, "C": 19, "D": 20, "E": 9})
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), Classification{Increase: true, UserID: "A", OldScore: 10, NewScore: 20})
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{"B", "C"}, sortedIDs(got))
}

func TestResolveExcludesActorFromStaleSnapshot(t *testing.T) {
	store := newFakeStore(map[core.UserID]core.Score{"B": 12})
	store.extraRange = []core.ScoreRecord{{UserID: "A", Score: 11}}
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), Classification{Increase: true, UserID: "A", OldScore: 10, NewScore: 20})
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{"B"}, got)
}

func TestResolveError(t *testing.T) {
	store := newFakeStore(nil)
	store.rangeErr = errBoom
	_, err := NewResolver(store).Resolve(context.Background(), Classification{UserID: "A", OldScore: 1, NewScore: 2})
	require.ErrorIs(t, err, errBoom)
}

func TestNonIncreaseNeverResolves(t *testing.T) {
	store := newFakeStore(map[core.UserID]core.Score{"A": 10, "B": 5})
	l := newTestListener(t, store, newFakePusher(), Options{})
	l.Cache().Load([]core.ScoreRecord{{UserID: "A", Score: 10}, {UserID: "B", Score: 5}})

	l.HandleChange(context.Background(), change("A", "Ana", 10))
	l.HandleChange(context.Background(), change("A", "Ana", 7))
	assert.Equal(t, 0, store.calls())
}

func TestOvertakeNotificationText(t *testing.T) {
	n := OvertakeNotification("Ana", 15)
	assert.Equal(t, "Você foi ultrapassado!", n.Title)
	assert.Equal(t, "Ana te passou com 15 pontos.", n.Body)
	assert.Equal(t, "Ana te passou com 7.5 pontos.", OvertakeNotification("Ana", 7.5).Body)
}

func TestDispatchWithoutTokensIsSilent(t *testing.T) {
	store := newFakeStore(nil)
	pusher := newFakePusher()
	tokens, outcomes, err := NewDispatcher(store, pusher).Dispatch(context.Background(), "B", OvertakeNotification("Ana", 1))
	require.NoError(t, err)
	assert.Empty(t, tokens)
	assert.Empty(t, outcomes)
	assert.Empty(t, pusher.all())
}

func TestReconcileRemovesOnlyInvalidTokens(t *testing.T) {
	store := newFakeStore(nil)
	store.tokens["B"] = []string{"t1", "t2"}
	pusher := newFakePusher()
	pusher.results["t1"] = core.InvalidToken("UNREGISTERED", nil)
	pusher.results["t2"] = core.Transient("UNAVAILABLE", errBoom)

	tokens, outcomes, err := NewDispatcher(store, pusher).Dispatch(context.Background(), "B", OvertakeNotification("Ana", 1))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	pruned, err := NewReconciler(store).Reconcile(context.Background(), "B", tokens, outcomes)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, pruned)
	assert.Equal(t, []string{"t2"}, store.tokens["B"])
	assert.Equal(t, [][]string{{"t1"}}, store.removals["B"], "a single removal call naming only t1")
}

func TestReconcileNoWriteWithoutInvalidTokens(t *testing.T) {
	store := newFakeStore(nil)
	outcomes := []core.DispatchOutcome{core.NewOutcome("t1", nil), core.NewOutcome("t2", errBoom)}
	pruned, err := NewReconciler(store).Reconcile(context.Background(), "B", []string{"t1", "t2"}, outcomes)
	require.NoError(t, err)
	assert.Empty(t, pruned)
	assert.Empty(t, store.removals)
}

func TestEndToEndScenario(t *testing.T) {
	store := newFakeStore(map[core.UserID]core.Score{"A": 5, "B": 5})
	store.tokens["B"] = []string{"x"}
	pusher := newFakePusher()
	bus := NewEventBus(DispatchSync)
	var events []core.EventType
	for _, typ := range []core.EventType{core.EventScoreIncreased, core.EventUserOvertaken, core.EventNotificationDelivered, core.EventTokensPruned} {
		bus.Subscribe(typ, func(_ context.Context, e core.Event) { events = append(events, e.Type) })
	}
	l := newTestListener(t, store, pusher, Options{Bus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	store.setScore("A", 15)
	store.stream.batches <- []core.ChangeEvent{change("A", "Ana", 15)}
	// a second, empty batch proves the first one has been fully processed
	store.stream.batches <- nil
	require.Eventually(t, func() bool { return len(store.stream.batches) == 0 && l.State() == StateListening && len(pusher.all()) == 1 }, timeout, tick)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateTerminated, l.State())

	assert.Equal(t, core.Score(15), l.Cache().Get("A"))
	assert.Equal(t, core.Score(5), l.Cache().Get("B"))
	assert.Equal(t, []string{"x"}, store.tokens["B"])

	sent := pusher.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "x", sent[0].Token)
	assert.Contains(t, sent[0].N.Body, "Ana")
	assert.Contains(t, sent[0].N.Body, "15")
	assert.Equal(t, []core.EventType{core.EventScoreIncreased, core.EventUserOvertaken, core.EventNotificationDelivered}, events)
}

func TestDuplicateReplayIsNoOp(t *testing.T) {
	store := newFakeStore(map[core.UserID]core.Score{"A": 5, "B": 5})
	store.tokens["B"] = []string{"x"}
	pusher := newFakePusher()
	l := newTestListener(t, store, pusher, Options{})
	l.Cache().Load([]core.ScoreRecord{{UserID: "A", Score: 5}, {UserID: "B", Score: 5}})
	store.setScore("A", 15)

	first := l.HandleChange(context.Background(), change("A", "Ana", 15))
	second := l.HandleChange(context.Background(), change("A", "Ana", 15))

	assert.True(t, first.Classification.Increase)
	assert.False(t, second.Classification.Increase)
	assert.Len(t, pusher.all(), 1)
	assert.Equal(t, 1, store.calls())
}

func TestPerTargetFailuresDoNotStopOthers(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		store := newFakeStore(map[core.UserID]core.Score{"A": 30, "B": 12, "C": 15, "D": 18})
		store.tokens["B"] = []string{"b1"}
		store.tokensErr["C"] = errBoom
		store.tokens["D"] = []string{"d1", "d2"}
		store.removeErr = errBoom
		pusher := newFakePusher()
		pusher.results["d1"] = core.InvalidToken("UNREGISTERED", nil)
		l := newTestListener(t, store, pusher, Options{ParallelDispatch: parallel, MaxParallel: 2})
		l.Cache().Load([]core.ScoreRecord{{UserID: "A", Score: 10}})

		report := l.HandleChange(context.Background(), change("A", "Ana", 30))
		require.NoError(t, report.Err)
		require.Len(t, report.Targets, 3)

		byTarget := map[core.UserID]TargetReport{}
		for _, tr := range report.Targets {
			byTarget[tr.Target] = tr
		}
		assert.Equal(t, 1, byTarget["B"].Delivered)
		assert.ErrorIs(t, byTarget["C"].Err, errBoom)
		assert.Equal(t, 1, byTarget["D"].Delivered)
		assert.Equal(t, 1, byTarget["D"].Failed)
		assert.ErrorIs(t, byTarget["D"].Err, errBoom, "removal failure is reported, not retried")
		assert.Len(t, pusher.all(), 3)
	}
}

func TestResolutionFailureContinuesWithNextEvent(t *testing.T) {
	store := newFakeStore(map[core.UserID]core.Score{"B": 5})
	store.rangeErr = errBoom
	l := newTestListener(t, store, newFakePusher(), Options{})

	report := l.HandleChange(context.Background(), change("A", "Ana", 10))
	require.ErrorIs(t, report.Err, errBoom)
	assert.Equal(t, core.Score(10), l.Cache().Get("A"), "cache is updated even when resolution fails")

	store.rangeErr = nil
	report = l.HandleChange(context.Background(), change("A", "Ana", 20))
	require.NoError(t, report.Err)
}

func TestChangeWithoutUserIDIsIgnored(t *testing.T) {
	l := newTestListener(t, newFakeStore(nil), newFakePusher(), Options{})
	report := l.HandleChange(context.Background(), change("", "", 10))
	assert.ErrorIs(t, report.Err, core.ErrEmptyUserID)
	assert.Equal(t, 0, l.Cache().Len())
}

func TestEveryChangeIsPublished(t *testing.T) {
	store := newFakeStore(map[core.UserID]core.Score{"A": 5})
	bus := NewEventBus(DispatchSync)
	var kinds []string
	bus.Subscribe(core.EventChangeReceived, func(_ context.Context, e core.Event) {
		kinds = append(kinds, e.Metadata["kind"].(string))
	})
	l := newTestListener(t, store, newFakePusher(), Options{Bus: bus})
	l.Cache().Load([]core.ScoreRecord{{UserID: "A", Score: 5}})

	ctx := context.Background()
	l.HandleChange(ctx, core.ChangeEvent{Kind: core.ChangeModified, Record: core.ScoreRecord{UserID: "A", Score: 3}})
	l.HandleChange(ctx, core.ChangeEvent{Kind: core.ChangeModified, Record: core.ScoreRecord{UserID: "A", Score: 3}})
	l.HandleChange(ctx, core.ChangeEvent{Kind: core.ChangeRemoved, Record: core.ScoreRecord{UserID: "A", Score: 3}})

	assert.Equal(t, []string{"modified", "modified", "removed"}, kinds)
	assert.Equal(t, 0, store.calls())
}
