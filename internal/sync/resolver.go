package sync

import (
	"context"
	"fmt"

	"github.com/njoerd114/fewssync/internal/model"
)

// Resolver maps the dimension descriptors of a record to surrogate keys,
// creating missing dimension rows on first reference. It remembers every key
// it has resolved, so one instance should live for one run.
type Resolver struct {
	store    DimensionStore
	markets  map[model.MarketKey]int64
	products map[model.ProductKey]int64
	units    map[string]int64
	sources  map[int64]int64
}

// NewResolver returns a Resolver backed by store.
func NewResolver(store DimensionStore) *Resolver {
	return &Resolver{
		store:    store,
		markets:  make(map[model.MarketKey]int64),
		products: make(map[model.ProductKey]int64),
		units:    make(map[string]int64),
		sources:  make(map[int64]int64),
	}
}

// Resolve returns the surrogate keys for rec. Resolving the same natural key
// twice yields the same id and creates at most one row.
func (r *Resolver) Resolve(ctx context.Context, rec model.Record) (model.DimensionIDs, error) {
	var ids model.DimensionIDs
	var err error

	if ids.MarketID, err = lookup(r.markets, rec.Market.Key(), func() (int64, error) {
		return r.store.FindOrCreateMarket(ctx, rec.Market)
	}); err != nil {
		return ids, fmt.Errorf("resolving market %d: %w", rec.Market.FewsID, err)
	}

	if ids.ProductID, err = lookup(r.products, rec.Product.Key(), func() (int64, error) {
		return r.store.FindOrCreateProduct(ctx, rec.Product)
	}); err != nil {
		return ids, fmt.Errorf("resolving product %q: %w", rec.Product.Name, err)
	}

	if ids.UnitID, err = lookup(r.units, rec.Unit.Name, func() (int64, error) {
		return r.store.FindOrCreateUnit(ctx, rec.Unit)
	}); err != nil {
		return ids, fmt.Errorf("resolving unit %q: %w", rec.Unit.Name, err)
	}

	if rec.Source != nil {
		id, err := lookup(r.sources, rec.Source.FewsID, func() (int64, error) {
			return r.store.FindOrCreateSource(ctx, *rec.Source)
		})
		if err != nil {
			return ids, fmt.Errorf("resolving data source %d: %w", rec.Source.FewsID, err)
		}
		ids.SourceID = &id
	}

	return ids, nil
}

func lookup[K comparable](cache map[K]int64, key K, create func() (int64, error)) (int64, error) {
	if id, ok := cache[key]; ok {
		return id, nil
	}
	id, err := create()
	if err != nil {
		return 0, err
	}
	cache[key] = id
	return id, nil
}
