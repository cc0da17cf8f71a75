package memory

import (
	"context"
	"errors"
	"sync"

	"leaderwatch/core"
	"leaderwatch/engine"
	"leaderwatch/leaderboard"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("memory change stream closed")

// Store is a concurrent in-process engine.Store. Scores are indexed by a skip
// list so range queries do not scan the whole board.
type Store struct {
	mu       sync.RWMutex
	board    *leaderboard.SkipList
	names    map[core.UserID]string
	tokens   map[core.UserID][]string
	watchers map[int]*stream
	nextID   int
}

func New() *Store {
	return &Store{
		board:    leaderboard.NewSkipList(),
		names:    map[core.UserID]string{},
		tokens:   map[core.UserID][]string{},
		watchers: map[int]*stream{},
	}
}

// SetScore upserts a leaderboard record and notifies watchers.
func (s *Store) SetScore(_ context.Context, rec core.ScoreRecord) error {
	if err := core.ValidateUserID(rec.UserID); err != nil {
		return err
	}
	s.mu.Lock()
	kind := core.ChangeModified
	if _, ok := s.board.Get(rec.UserID); !ok {
		kind = core.ChangeAdded
	}
	s.board.Update(rec.UserID, rec.Score)
	s.names[rec.UserID] = rec.DisplayName
	s.notifyLocked(core.ChangeEvent{Kind: kind, Record: rec})
	s.mu.Unlock()
	return nil
}

// RemoveScore deletes a leaderboard record and notifies watchers with its
// last known values.
func (s *Store) RemoveScore(_ context.Context, user core.UserID) error {
	s.mu.Lock()
	entry, ok := s.board.Get(user)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	rec := core.ScoreRecord{UserID: user, Score: entry.Score, DisplayName: s.names[user]}
	s.board.Remove(user)
	delete(s.names, user)
	s.notifyLocked(core.ChangeEvent{Kind: core.ChangeRemoved, Record: rec})
	s.mu.Unlock()
	return nil
}

// AddDeviceTokens registers tokens for a user, skipping ones already present.
func (s *Store) AddDeviceTokens(_ context.Context, user core.UserID, tokens ...string) error {
	if err := core.ValidateUserID(user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	have := make(map[string]struct{}, len(s.tokens[user]))
	for _, t := range s.tokens[user] {
		have[t] = struct{}{}
	}
	for _, t := range tokens {
		if _, ok := have[t]; ok || t == "" {
			continue
		}
		have[t] = struct{}{}
		s.tokens[user] = append(s.tokens[user], t)
	}
	return nil
}

func (s *Store) LoadScores(_ context.Context) ([]core.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.board.TopN(s.board.Len())
	out := make([]core.ScoreRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, core.ScoreRecord{UserID: e.User, Score: e.Score, DisplayName: s.names[e.User]})
	}
	return out, nil
}

func (s *Store) ScoresInRange(_ context.Context, min, max core.Score) ([]core.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.board.Range(min, max)
	out := make([]core.ScoreRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, core.ScoreRecord{UserID: e.User, Score: e.Score, DisplayName: s.names[e.User]})
	}
	return out, nil
}

func (s *Store) DeviceTokens(_ context.Context, user core.UserID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tokens[user]...), nil
}

func (s *Store) RemoveDeviceTokens(_ context.Context, user core.UserID, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		drop[t] = struct{}{}
	}
	kept := s.tokens[user][:0:0]
	for _, t := range s.tokens[user] {
		if _, ok := drop[t]; !ok {
			kept = append(kept, t)
		}
	}
	s.tokens[user] = kept
	return nil
}

// Watch returns a stream receiving every change made after the call.
func (s *Store) Watch(_ context.Context) (engine.ChangeStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	w := &stream{notify: make(chan struct{}, 1), done: make(chan struct{})}
	w.unregister = func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
	s.watchers[id] = w
	return w, nil
}

// Tokens returns a copy of every user's tokens.
func (s *Store) Tokens() map[core.UserID][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[core.UserID][]string, len(s.tokens))
	for u, ts := range s.tokens {
		out[u] = append([]string(nil), ts...)
	}
	return out
}

// notifyLocked queues ev on every watcher while s.mu is held, so streams see
// changes in the order they were applied to the board. push never blocks.
func (s *Store) notifyLocked(ev core.ChangeEvent) {
	for _, w := range s.watchers {
		w.push(ev)
	}
}

// stream queues changes without bound; Next drains everything queued so far
// as one batch.
type stream struct {
	mu         sync.Mutex
	pending    []core.ChangeEvent
	notify     chan struct{}
	done       chan struct{}
	once       sync.Once
	unregister func()
}

func (w *stream) push(ev core.ChangeEvent) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *stream) Next(ctx context.Context) ([]core.ChangeEvent, error) {
	for {
		w.mu.Lock()
		if len(w.pending) > 0 {
			batch := w.pending
			w.pending = nil
			w.mu.Unlock()
			return batch, nil
		}
		w.mu.Unlock()
		select {
		case <-w.notify:
		case <-w.done:
			return nil, ErrStreamClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (w *stream) Close() error {
	w.once.Do(func() {
		close(w.done)
		w.unregister()
	})
	return nil
}

var _ engine.Store = (*Store)(nil)
