package engine

import (
	"sync"

	"leaderwatch/core"
	"leaderwatch/leaderboard"
)

// ScoreCache holds the last observed score per user. The listener is its only
// writer; the lock lets status readers observe it safely.
type ScoreCache struct {
	mu     sync.RWMutex
	scores map[core.UserID]core.Score
}

func NewScoreCache() *ScoreCache {
	return &ScoreCache{scores: make(map[core.UserID]core.Score)}
}

// Get returns the cached score, or 0 for unseen users.
func (c *ScoreCache) Get(user core.UserID) core.Score {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scores[user]
}

// Lookup is Get that also reports whether the user has been seen.
func (c *ScoreCache) Lookup(user core.UserID) (core.Score, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scores[user]
	return s, ok
}

func (c *ScoreCache) Set(user core.UserID, score core.Score) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scores[user] = score
}

// Load seeds the cache from a full snapshot.
func (c *ScoreCache) Load(records []core.ScoreRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		c.scores[r.UserID] = r.Score
	}
}

func (c *ScoreCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scores)
}

// Top returns the n highest cached scores.
func (c *ScoreCache) Top(n int) []leaderboard.Entry {
	board := leaderboard.NewSkipList()
	c.mu.RLock()
	for u, s := range c.scores {
		board.Update(u, s)
	}
	c.mu.RUnlock()
	return board.TopN(n)
}
