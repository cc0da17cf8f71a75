package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"leaderwatch/core"
)

// fakeStore is an in-memory Store with hooks for failure injection.
type fakeStore struct {
	mu         sync.Mutex
	scores     map[core.UserID]core.Score
	tokens     map[core.UserID][]string
	extraRange []core.ScoreRecord // stale records appended to every range result
	rangeCalls int
	removals   map[core.UserID][][]string
	rangeErr   error
	tokensErr  map[core.UserID]error
	removeErr  error
	loadErr    error
	stream     *fakeStream
}

func newFakeStore(scores map[core.UserID]core.Score) *fakeStore {
	if scores == nil {
		scores = map[core.UserID]core.Score{}
	}
	return &fakeStore{
		scores:    scores,
		tokens:    map[core.UserID][]string{},
		removals:  map[core.UserID][][]string{},
		tokensErr: map[core.UserID]error{},
		stream:    newFakeStream(),
	}
}

func (s *fakeStore) LoadScores(context.Context) ([]core.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]core.ScoreRecord, 0, len(s.scores))
	for u, sc := range s.scores {
		out = append(out, core.ScoreRecord{UserID: u, Score: sc})
	}
	return out, nil
}

func (s *fakeStore) Watch(context.Context) (ChangeStream, error) { return s.stream, nil }

func (s *fakeStore) ScoresInRange(_ context.Context, min, max core.Score) ([]core.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rangeCalls++
	if s.rangeErr != nil {
		return nil, s.rangeErr
	}
	var out []core.ScoreRecord
	for u, sc := range s.scores {
		if sc >= min && sc < max {
			out = append(out, core.ScoreRecord{UserID: u, Score: sc})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return append(out, s.extraRange...), nil
}

func (s *fakeStore) DeviceTokens(_ context.Context, user core.UserID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tokensErr[user]; err != nil {
		return nil, err
	}
	return append([]string(nil), s.tokens[user]...), nil
}

func (s *fakeStore) RemoveDeviceTokens(_ context.Context, user core.UserID, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removals[user] = append(s.removals[user], append([]string(nil), tokens...))
	drop := map[string]struct{}{}
	for _, t := range tokens {
		drop[t] = struct{}{}
	}
	var keep []string
	for _, t := range s.tokens[user] {
		if _, ok := drop[t]; !ok {
			keep = append(keep, t)
		}
	}
	s.tokens[user] = keep
	return nil
}

func (s *fakeStore) setScore(user core.UserID, score core.Score) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[user] = score
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rangeCalls
}

type fakeStream struct {
	batches chan []core.ChangeEvent
	errs    chan error
	closed  chan struct{}
	once    sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		batches: make(chan []core.ChangeEvent, 16),
		errs:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeStream) Next(ctx context.Context) ([]core.ChangeEvent, error) {
	select {
	case b := <-f.batches:
		return b, nil
	case err := <-f.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// fakePusher returns a scripted error per token and records every push.
type fakePusher struct {
	mu      sync.Mutex
	results map[string]error
	sent    []sentNotification
}

type sentNotification struct {
	Token string
	N     core.Notification
}

func newFakePusher() *fakePusher { return &fakePusher{results: map[string]error{}} }

func (p *fakePusher) Push(_ context.Context, tokens []string, n core.Notification) []core.DispatchOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.DispatchOutcome, len(tokens))
	for i, tok := range tokens {
		p.sent = append(p.sent, sentNotification{Token: tok, N: n})
		out[i] = core.NewOutcome(tok, p.results[tok])
	}
	return out
}

func (p *fakePusher) all() []sentNotification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentNotification(nil), p.sent...)
}

var errBoom = errors.New("boom")

func change(user core.UserID, name string, score core.Score) core.ChangeEvent {
	return core.ChangeEvent{Kind: core.ChangeModified, Record: core.ScoreRecord{UserID: user, DisplayName: name, Score: score}}
}
