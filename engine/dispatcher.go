package engine

import (
	"context"
	"fmt"

	"leaderwatch/core"
)

const (
	overtakeTitle    = "Você foi ultrapassado!"
	overtakeTemplate = "%s te passou com %s pontos."
)

// OvertakeNotification builds the payload sent to an overtaken user.
func OvertakeNotification(name string, newScore core.Score) core.Notification {
	return core.Notification{
		Title: overtakeTitle,
		Body:  fmt.Sprintf(overtakeTemplate, name, newScore),
	}
}

// Dispatcher loads a user's tokens and pushes one notification per token.
type Dispatcher struct {
	store  Store
	pusher Pusher
}

func NewDispatcher(store Store, pusher Pusher) *Dispatcher {
	return &Dispatcher{store: store, pusher: pusher}
}

// Dispatch returns the tokens it attempted and their aligned outcomes. A user
// without tokens yields no outcomes and no error.
func (d *Dispatcher) Dispatch(ctx context.Context, target core.UserID, n core.Notification) ([]string, []core.DispatchOutcome, error) {
	tokens, err := d.store.DeviceTokens(ctx, target)
	if err != nil {
		return nil, nil, fmt.Errorf("load tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil, nil
	}
	outcomes := d.pusher.Push(ctx, tokens, n)
	if len(outcomes) != len(tokens) {
		return tokens, nil, fmt.Errorf("pusher returned %d outcomes for %d tokens", len(outcomes), len(tokens))
	}
	return tokens, outcomes, nil
}
