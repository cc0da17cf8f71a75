package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"leaderwatch/adapters/memory"
	"leaderwatch/core"
	"leaderwatch/engine"
)

// Store keeps the leaderboard and device tokens in a single JSON file laid out
// like the two document collections it stands in for:
//
//	{"leaderboard": {"<uid>": {"score": 10, "name": "Ana"}},
//	 "users":       {"<uid>": {"tokens": ["..."]}}}
//
// Suitable for demos and small deployments. Reads and the change stream are
// served by an in-memory store; every write is persisted.
type Store struct {
	*memory.Store
	path string
	mu   sync.Mutex
}

type fileData struct {
	Leaderboard map[string]map[string]any `json:"leaderboard"`
	Users       map[string]userDoc        `json:"users"`
}

type userDoc struct {
	Tokens []string `json:"tokens"`
}

func New(path string) (*Store, error) {
	s := &Store{Store: memory.New(), path: path}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw fileData
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	ctx := context.Background()
	for id, doc := range raw.Leaderboard {
		name, _ := doc["name"].(string)
		rec := core.ScoreRecord{UserID: core.UserID(id), Score: core.NumericScore(doc["score"]), DisplayName: name}
		if err := s.Store.SetScore(ctx, rec); err != nil {
			return err
		}
	}
	for id, u := range raw.Users {
		if err := s.Store.AddDeviceTokens(ctx, core.UserID(id), u.Tokens...); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.Store.LoadScores(ctx)
	if err != nil {
		return err
	}
	raw := fileData{
		Leaderboard: make(map[string]map[string]any, len(records)),
		Users:       map[string]userDoc{},
	}
	for _, r := range records {
		doc := map[string]any{"score": float64(r.Score)}
		if r.DisplayName != "" {
			doc["name"] = r.DisplayName
		}
		raw.Leaderboard[string(r.UserID)] = doc
	}
	for u, tokens := range s.Store.Tokens() {
		raw.Users[string(u)] = userDoc{Tokens: tokens}
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) SetScore(ctx context.Context, rec core.ScoreRecord) error {
	if err := s.Store.SetScore(ctx, rec); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) RemoveScore(ctx context.Context, user core.UserID) error {
	if err := s.Store.RemoveScore(ctx, user); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) AddDeviceTokens(ctx context.Context, user core.UserID, tokens ...string) error {
	if err := s.Store.AddDeviceTokens(ctx, user, tokens...); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) RemoveDeviceTokens(ctx context.Context, user core.UserID, tokens []string) error {
	if err := s.Store.RemoveDeviceTokens(ctx, user, tokens); err != nil {
		return err
	}
	return s.persist(ctx)
}

var _ engine.Store = (*Store)(nil)
