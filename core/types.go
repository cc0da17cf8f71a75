package core

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// UserID uniquely identifies a leaderboard participant.
type UserID string

// Score is a leaderboard score. Integer scores are represented exactly.
type Score float64

// DefaultDisplayName is used when a record carries no usable name.
const DefaultDisplayName = "Alguém"

// ErrEmptyUserID is returned when a record has a blank identifier.
var ErrEmptyUserID = errors.New("empty user id")

// ScoreRecord is a user's current leaderboard entry.
type ScoreRecord struct {
	UserID      UserID `json:"user_id"`
	Score       Score  `json:"score"`
	DisplayName string `json:"name,omitempty"`
}

// Name returns the display name, falling back to DefaultDisplayName.
func (r ScoreRecord) Name() string {
	if strings.TrimSpace(r.DisplayName) == "" {
		return DefaultDisplayName
	}
	return r.DisplayName
}

// ChangeKind mirrors the document change types a store reports.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent is a single observed mutation on the leaderboard, carrying the
// affected user's full current record.
type ChangeEvent struct {
	Kind   ChangeKind  `json:"kind"`
	Record ScoreRecord `json:"record"`
}

// ValidateUserID rejects blank identifiers. Identifiers are otherwise opaque
// and are never rewritten.
func ValidateUserID(id UserID) error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrEmptyUserID
	}
	return nil
}

// ParseScore converts a stored string field into a Score. Missing or
// non-numeric values count as zero.
func ParseScore(raw string) Score {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return finite(v)
}

// NumericScore converts a decoded document field into a Score. Only numeric
// kinds are accepted; strings, booleans and nil count as zero.
func NumericScore(v any) Score {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return Score(n)
	case int32:
		return Score(n)
	case int64:
		return Score(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return finite(f)
	default:
		return 0
	}
}

func finite(v float64) Score {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return Score(v)
}

// String formats the score in its shortest decimal form (15, 15.5).
func (s Score) String() string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}
