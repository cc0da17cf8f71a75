package engine

import "leaderwatch/core"

// Classification is the outcome of comparing a change against the cache.
type Classification struct {
	Increase bool
	UserID   core.UserID
	Name     string
	OldScore core.Score
	NewScore core.Score
}

// Classify records the event's score in the cache and reports whether it is a
// strict increase. The cache is written for increases, decreases and no-ops
// alike, so it always reflects the latest event per user.
func Classify(cache *ScoreCache, ev core.ChangeEvent) Classification {
	rec := ev.Record
	oldScore := cache.Get(rec.UserID)
	newScore := rec.Score
	cache.Set(rec.UserID, newScore)
	return Classification{
		Increase: newScore > oldScore,
		UserID:   rec.UserID,
		Name:     rec.Name(),
		OldScore: oldScore,
		NewScore: newScore,
	}
}
