package engine

import (
	"context"
	"fmt"

	"leaderwatch/core"
)

// Reconciler prunes tokens the provider reported as permanently invalid.
type Reconciler struct {
	store Store
}

func NewReconciler(store Store) *Reconciler { return &Reconciler{store: store} }

// InvalidTokens selects tokens whose outcome is FailureInvalidToken.
func InvalidTokens(tokens []string, outcomes []core.DispatchOutcome) []string {
	var out []string
	for i, o := range outcomes {
		if i >= len(tokens) {
			break
		}
		if o.Failure == core.FailureInvalidToken {
			out = append(out, tokens[i])
		}
	}
	return out
}

// Reconcile issues at most one removal and returns the tokens it removed.
// Transient failures never lead to removal.
func (r *Reconciler) Reconcile(ctx context.Context, user core.UserID, tokens []string, outcomes []core.DispatchOutcome) ([]string, error) {
	invalid := InvalidTokens(tokens, outcomes)
	if len(invalid) == 0 {
		return nil, nil
	}
	if err := r.store.RemoveDeviceTokens(ctx, user, invalid); err != nil {
		return nil, fmt.Errorf("remove %d invalid tokens: %w", len(invalid), err)
	}
	return invalid, nil
}
