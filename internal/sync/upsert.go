package sync

import (
	"context"
	"fmt"

	"github.com/njoerd114/fewssync/internal/model"
)

// Outcome is what [Upserter.Apply] did with one observation.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeInserted
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

// Upserter writes observations by natural key.
type Upserter struct {
	store FactStore
}

// NewUpserter returns an Upserter backed by store.
func NewUpserter(store FactStore) *Upserter {
	return &Upserter{store: store}
}

// Apply inserts o when its natural key is new, rewrites the existing row in
// place when the raw value or upstream timestamp changed, and leaves it
// untouched otherwise. Any error leaves the database unchanged for o and
// reports [OutcomeSkipped].
func (u *Upserter) Apply(ctx context.Context, ids model.DimensionIDs, o *model.Observation) (Outcome, error) {
	key := o.Key(ids)

	existing, err := u.store.GetObservation(ctx, key)
	if err != nil {
		return OutcomeSkipped, err
	}

	if existing == nil {
		if _, err := u.store.InsertObservation(ctx, ids, o); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomeInserted, nil
	}

	if !o.ChangedFrom(existing) {
		return OutcomeSkipped, nil
	}

	if err := u.store.UpdateObservation(ctx, existing.ID, ids.SourceID, o); err != nil {
		return OutcomeSkipped, fmt.Errorf("updating %s: %w", key, err)
	}
	return OutcomeUpdated, nil
}
