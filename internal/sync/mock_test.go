package sync

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/njoerd114/fewssync/internal/fews"
	"github.com/njoerd114/fewssync/internal/model"
	"github.com/njoerd114/fewssync/internal/store"
)

// --- Mock Source ------------------------------------------------------------

type mockSource struct {
	mu      sync.Mutex
	pages   [][]fews.Record
	failAt  int // 1-based page that fails; 0 never fails
	failErr error
	queries []fews.Query
}

func newMockSource(pages ...[]fews.Record) *mockSource {
	return &mockSource{pages: pages}
}

func (m *mockSource) Pages(_ context.Context, q fews.Query) iter.Seq2[fews.Page, error] {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()

	return func(yield func(fews.Page, error) bool) {
		for i, recs := range m.pages {
			if m.failAt == i+1 {
				yield(fews.Page{}, m.failErr)
				return
			}
			if !yield(fews.Page{Number: i + 1, Records: recs, Total: -1}, nil) {
				return
			}
		}
	}
}

func (m *mockSource) lastQuery() fews.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[len(m.queries)-1]
}

// --- Mock Store --------------------------------------------------------------

type mockStore struct {
	mu sync.Mutex

	nextID       int64
	markets      map[model.MarketKey]int64
	products     map[model.ProductKey]int64
	units        map[string]int64
	sources      map[int64]int64
	observations map[model.ObservationKey]*model.StoredObservation
	runs         []*model.ImportRun

	dimensionCalls int

	// Fault injection.
	insertErr  func(o *model.Observation) error
	marketErr  error
	pingErr    error
	openRunErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		markets:      make(map[model.MarketKey]int64),
		products:     make(map[model.ProductKey]int64),
		units:        make(map[string]int64),
		sources:      make(map[int64]int64),
		observations: make(map[model.ObservationKey]*model.StoredObservation),
	}
}

func findOrCreate[K comparable](m *mockStore, table map[K]int64, key K) int64 {
	m.dimensionCalls++
	if id, ok := table[key]; ok {
		return id
	}
	m.nextID++
	table[key] = m.nextID
	return m.nextID
}

func (m *mockStore) FindOrCreateMarket(_ context.Context, mk model.Market) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marketErr != nil {
		return 0, m.marketErr
	}
	return findOrCreate(m, m.markets, mk.Key()), nil
}

func (m *mockStore) FindOrCreateProduct(_ context.Context, p model.Product) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return findOrCreate(m, m.products, p.Key()), nil
}

func (m *mockStore) FindOrCreateUnit(_ context.Context, u model.Unit) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return findOrCreate(m, m.units, u.Name), nil
}

func (m *mockStore) FindOrCreateSource(_ context.Context, ds model.DataSource) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return findOrCreate(m, m.sources, ds.FewsID), nil
}

func (m *mockStore) GetObservation(_ context.Context, key model.ObservationKey) (*model.StoredObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.observations[key]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *mockStore) InsertObservation(_ context.Context, ids model.DimensionIDs, o *model.Observation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		if err := m.insertErr(o); err != nil {
			return 0, err
		}
	}
	key := o.Key(ids)
	if _, ok := m.observations[key]; ok {
		return 0, fmt.Errorf("inserting %s: %w", key, store.ErrConstraintViolation)
	}
	m.nextID++
	m.observations[key] = &model.StoredObservation{ID: m.nextID, DimensionIDs: ids, Observation: *o}
	return m.nextID, nil
}

func (m *mockStore) UpdateObservation(_ context.Context, id int64, sourceID *int64, o *model.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, stored := range m.observations {
		if stored.ID == id {
			stored.Observation = *o
			stored.SourceID = sourceID
			m.observations[key] = stored
			return nil
		}
	}
	return &store.WriteError{Op: fmt.Sprintf("updating observation id=%d", id), Err: fmt.Errorf("not found")}
}

func (m *mockStore) OpenRun(_ context.Context, run *model.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openRunErr != nil {
		return m.openRunErr
	}
	m.nextID++
	run.ID = m.nextID
	run.Status = model.StatusRunning
	cp := *run
	m.runs = append(m.runs, &cp)
	return nil
}

func (m *mockStore) CloseRun(ctx context.Context, run *model.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range m.runs {
		if r.ID != run.ID {
			continue
		}
		if r.Status != model.StatusRunning {
			return store.ErrRunClosed
		}
		*r = *run
		return nil
	}
	return fmt.Errorf("run %d not found", run.ID)
}

func (m *mockStore) LastSuccessfulRangeEnd(_ context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Status == model.StatusSuccess && !m.runs[i].Window.End.IsZero() {
			end := m.runs[i].Window.End
			return &end, nil
		}
	}
	return nil, nil
}

func (m *mockStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *mockStore) observationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observations)
}

func (m *mockStore) allRuns() []model.ImportRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ImportRun, len(m.runs))
	for i, r := range m.runs {
		out[i] = *r
	}
	return out
}
