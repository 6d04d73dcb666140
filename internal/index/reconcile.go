package index

import (
	"context"
	"errors"
	"fmt"
)

// upsertOutcome says whether reconcile inserted or updated a row.
type upsertOutcome int

const (
	outcomeCreated upsertOutcome = iota + 1
	outcomeUpdated
)

// reconcile writes freshly read metadata for one path into the store:
// the live row at (parent, name) is replaced keeping its id, or a new row is
// inserted when there is none. Lookup and write are two separate round trips.
func reconcile(ctx context.Context, store Store, w *WalkEntry) (upsertOutcome, error) {
	fresh := NewEntry(w)

	existing, err := store.Lookup(ctx, w.Parent, w.Name)
	switch {
	case err == nil:
		fresh.ID = existing.ID
		count, err := store.Update(ctx, fresh)
		if err != nil {
			return 0, fmt.Errorf("updating %s: %w", fresh.Path(), err)
		}
		if err := checkUpdated(fresh, count); err != nil {
			return 0, err
		}
		return outcomeUpdated, nil
	case errors.Is(err, ErrNotFound):
		if _, err := store.Insert(ctx, fresh); err != nil {
			return 0, fmt.Errorf("inserting %s: %w", fresh.Path(), err)
		}
		return outcomeCreated, nil
	default:
		return 0, fmt.Errorf("looking up %s: %w", fresh.Path(), err)
	}
}
