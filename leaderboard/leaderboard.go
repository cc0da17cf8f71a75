package leaderboard

import "leaderwatch/core"

// Entry represents a score entry.
type Entry struct {
	User  core.UserID `json:"user"`
	Score core.Score  `json:"score"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(user core.UserID, score core.Score)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	// Range returns entries with min <= score < max, highest score first.
	Range(min, max core.Score) []Entry
	Len() int
}
