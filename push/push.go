// Package push adapts per-token notification senders to the engine's Pusher.
package push

import (
	"context"
	"log/slog"

	"leaderwatch/core"
	"leaderwatch/engine"
)

// Sender delivers one notification to one device token. Errors should be
// built with core.InvalidToken or core.Transient; anything else is treated
// as transient.
type Sender interface {
	Send(ctx context.Context, token string, n core.Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, token string, n core.Notification) error

func (f SenderFunc) Send(ctx context.Context, token string, n core.Notification) error {
	return f(ctx, token, n)
}

// Sequential sends to each token in order with no delay between calls. One
// token's failure never aborts the remaining sends.
type Sequential struct {
	sender Sender
}

// NewSequential wraps a Sender.
func NewSequential(sender Sender) *Sequential {
	return &Sequential{sender: sender}
}

// Push implements engine.Pusher. Outcomes are aligned with tokens.
func (p *Sequential) Push(ctx context.Context, tokens []string, n core.Notification) []core.DispatchOutcome {
	out := make([]core.DispatchOutcome, len(tokens))
	for i, tok := range tokens {
		out[i] = core.NewOutcome(tok, p.sender.Send(ctx, tok, n))
	}
	return out
}

// LogSender writes notifications to a logger instead of a device. Every send
// succeeds.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{log: logger}
}

func (s *LogSender) Send(ctx context.Context, token string, n core.Notification) error {
	s.log.InfoContext(ctx, "push notification", "token", token, "title", n.Title, "body", n.Body)
	return nil
}

var _ engine.Pusher = (*Sequential)(nil)
