package leaderboard

import (
	"math/rand/v2"
	"sync"

	"leaderwatch/core"
)

// SkipList orders entries by score descending, then user ascending, so equal
// scores have a stable order and range scans start at the highest score.

const (
	maxLevel = 16
	pFactor  = 0.25
)

type node struct {
	e    Entry
	next []*node
}

type SkipList struct {
	mu     sync.RWMutex
	head   *node
	lvl    int
	byUser map[core.UserID]*node
	rng    *rand.Rand
}

func NewSkipList() *SkipList {
	return &SkipList{
		head:   &node{next: make([]*node, maxLevel)},
		lvl:    1,
		byUser: map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func before(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.User < b.User
}

// predecessors returns, per level, the last node ordered before e.
func (s *SkipList) predecessors(e Entry) [maxLevel]*node {
	var prev [maxLevel]*node
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && before(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		prev[i] = cur
	}
	return prev
}

// Update inserts user or moves it to score. Same-score updates are no-ops.
func (s *SkipList) Update(user core.UserID, score core.Score) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		if n.e.Score == score {
			return
		}
		s.unlink(n)
	}
	e := Entry{User: user, Score: score}
	prev := s.predecessors(e)
	lvl := s.randomLevel()
	for ; s.lvl < lvl; s.lvl++ {
		prev[s.lvl] = s.head
	}
	n := &node{e: e, next: make([]*node, lvl)}
	for i := range n.next {
		n.next[i] = prev[i].next[i]
		prev[i].next[i] = n
	}
	s.byUser[user] = n
}

func (s *SkipList) unlink(n *node) {
	prev := s.predecessors(n.e)
	for i := range n.next {
		if prev[i].next[i] == n {
			prev[i].next[i] = n.next[i]
		}
	}
	delete(s.byUser, n.e.User)
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
}

func (s *SkipList) Remove(user core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		s.unlink(n)
	}
}

func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for cur := s.head.next[0]; cur != nil && len(out) < n; cur = cur.next[0] {
		out = append(out, cur.e)
	}
	return out
}

func (s *SkipList) Get(user core.UserID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byUser[user]; ok {
		return n.e, true
	}
	return Entry{}, false
}

// Range walks down to the first entry below max, then collects entries
// until the score drops under min.
func (s *SkipList) Range(min, max core.Score) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if max <= min {
		return nil
	}
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && cur.next[i].e.Score >= max {
			cur = cur.next[i]
		}
	}
	var out []Entry
	for n := cur.next[0]; n != nil && n.e.Score >= min; n = n.next[0] {
		out = append(out, n.e)
	}
	return out
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser)
}

var _ Board = (*SkipList)(nil)
