package engine

import (
	"context"

	"leaderwatch/core"
)

// Store abstracts the authoritative leaderboard and device-token store.
type Store interface {
	// LoadScores reads every leaderboard record once.
	LoadScores(ctx context.Context) ([]core.ScoreRecord, error)
	// Watch opens the live change subscription. Changes committed after Watch
	// returns are delivered by the stream.
	Watch(ctx context.Context) (ChangeStream, error)
	// ScoresInRange returns records with min <= score < max.
	ScoresInRange(ctx context.Context, min, max core.Score) ([]core.ScoreRecord, error)
	// DeviceTokens returns a user's registered tokens; unknown users have none.
	DeviceTokens(ctx context.Context, user core.UserID) ([]string, error)
	// RemoveDeviceTokens removes exactly the given tokens, leaving any others
	// (including ones added concurrently) in place.
	RemoveDeviceTokens(ctx context.Context, user core.UserID, tokens []string) error
}

// ChangeStream is a blocking, non-restartable sequence of change batches.
type ChangeStream interface {
	// Next blocks until the next batch is available. Any error other than a
	// context error is unrecoverable.
	Next(ctx context.Context) ([]core.ChangeEvent, error)
	Close() error
}

// Pusher delivers one notification to a list of tokens and returns outcomes
// aligned with the input order.
type Pusher interface {
	Push(ctx context.Context, tokens []string, n core.Notification) []core.DispatchOutcome
}
