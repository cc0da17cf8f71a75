package engine

import (
	"context"
	"fmt"

	"leaderwatch/core"
)

// Resolver computes who an increase passed, using the store rather than the
// cache so that resolution sees the authoritative scores.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

// Resolve returns users with old <= score < new, excluding the acting user
// even if the snapshot already holds its updated record.
func (r *Resolver) Resolve(ctx context.Context, inc Classification) ([]core.UserID, error) {
	records, err := r.store.ScoresInRange(ctx, inc.OldScore, inc.NewScore)
	if err != nil {
		return nil, fmt.Errorf("overtake query [%s, %s): %w", inc.OldScore, inc.NewScore, err)
	}
	out := make([]core.UserID, 0, len(records))
	seen := make(map[core.UserID]struct{}, len(records))
	for _, rec := range records {
		if rec.UserID == inc.UserID {
			continue
		}
		if _, dup := seen[rec.UserID]; dup {
			continue
		}
		seen[rec.UserID] = struct{}{}
		out = append(out, rec.UserID)
	}
	return out, nil
}
