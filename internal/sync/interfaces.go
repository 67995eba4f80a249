// Package sync implements the incremental price synchronisation pipeline. It
// pages through FEWS NET price facts, maps them onto the star schema, resolves
// dimension keys and upserts each observation, recording every run in the
// import log.
//
// The package contains four components:
//
//   - [Resolver] turns dimension descriptors into surrogate keys.
//   - [Upserter] decides insert, update or skip for one observation.
//   - [RunLogger] opens and closes import_log entries.
//   - [Syncer] drives a single run through its phases; [Engine] plans the
//     date window and records telemetry around it.
package sync

import (
	"context"
	"iter"
	"time"

	"github.com/njoerd114/fewssync/internal/fews"
	"github.com/njoerd114/fewssync/internal/model"
)

// Source yields raw price pages for a query.
// Implemented by [fews.Client].
type Source interface {
	Pages(ctx context.Context, q fews.Query) iter.Seq2[fews.Page, error]
}

// Mapper converts one raw record into star-schema form.
// Implemented by [transform.Mapper].
type Mapper interface {
	Map(r fews.Record) (model.Record, error)
}

// DimensionStore finds or creates dimension rows by natural key.
// Implemented by [store.Store].
type DimensionStore interface {
	FindOrCreateMarket(ctx context.Context, m model.Market) (int64, error)
	FindOrCreateProduct(ctx context.Context, p model.Product) (int64, error)
	FindOrCreateUnit(ctx context.Context, u model.Unit) (int64, error)
	FindOrCreateSource(ctx context.Context, ds model.DataSource) (int64, error)
}

// FactStore reads and writes price observations.
// Implemented by [store.Store].
type FactStore interface {
	GetObservation(ctx context.Context, key model.ObservationKey) (*model.StoredObservation, error)
	InsertObservation(ctx context.Context, ids model.DimensionIDs, o *model.Observation) (int64, error)
	UpdateObservation(ctx context.Context, id int64, sourceID *int64, o *model.Observation) error
}

// RunStore persists import_log entries.
// Implemented by [store.Store].
type RunStore interface {
	OpenRun(ctx context.Context, run *model.ImportRun) error
	CloseRun(ctx context.Context, run *model.ImportRun) error
	LastSuccessfulRangeEnd(ctx context.Context) (*time.Time, error)
}

// Store is everything a [Syncer] needs from the database.
// Implemented by [store.Store].
type Store interface {
	DimensionStore
	FactStore
	RunStore
	Ping(ctx context.Context) error
}
