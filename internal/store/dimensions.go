package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/njoerd114/fewssync/internal/model"
)

// dimension describes one find-or-create lookup: the natural key that
// identifies a row and the full column set written when it is missing.
type dimension struct {
	table  string
	key    []column
	insert []column
}

type column struct {
	name  string
	value any
}

// findOrCreate returns the surrogate id of the row matching d.key, inserting
// it when absent. Existing rows are never modified.
func (s *Store) findOrCreate(ctx context.Context, d dimension) (int64, error) {
	where := make([]string, len(d.key))
	args := make([]any, len(d.key))
	for i, c := range d.key {
		where[i] = c.name + " = ?"
		args[i] = c.value
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM "+d.table+" WHERE "+strings.Join(where, " AND "), args...).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, &WriteError{Op: "looking up " + d.table, Err: err}
	}

	cols := make([]string, 0, len(d.insert)+1)
	vals := make([]any, 0, len(d.insert)+1)
	for _, c := range d.insert {
		cols = append(cols, c.name)
		vals = append(vals, c.value)
	}
	cols = append(cols, "created_at")
	vals = append(vals, formatTime(s.now()))

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	res, err := s.db.ExecContext(ctx, q, vals...)
	if err != nil {
		return 0, classify("inserting into "+d.table, err)
	}
	return res.LastInsertId()
}

// FindOrCreateMarket resolves m by (fews_id, fnid).
func (s *Store) FindOrCreateMarket(ctx context.Context, m model.Market) (int64, error) {
	return s.findOrCreate(ctx, dimension{
		table: "markets",
		key:   []column{{"fews_id", m.FewsID}, {"fnid", m.FNID}},
		insert: []column{
			{"fews_id", m.FewsID},
			{"fnid", m.FNID},
			{"name", m.Name},
			{"admin_1", m.Admin1},
			{"admin_2", m.Admin2},
			{"country_code", m.CountryCode},
			{"latitude", nullFloat(m.Latitude)},
			{"longitude", nullFloat(m.Longitude)},
		},
	})
}

// FindOrCreateProduct resolves p by (name, product_source).
func (s *Store) FindOrCreateProduct(ctx context.Context, p model.Product) (int64, error) {
	return s.findOrCreate(ctx, dimension{
		table: "products",
		key:   []column{{"name", p.Name}, {"product_source", p.Source}},
		insert: []column{
			{"name", p.Name},
			{"product_source", p.Source},
			{"cpcv2", p.CPCV2},
			{"cpcv2_description", p.CPCV2Description},
			{"is_staple_food", p.IsStapleFood},
		},
	})
}

// FindOrCreateUnit resolves u by name.
func (s *Store) FindOrCreateUnit(ctx context.Context, u model.Unit) (int64, error) {
	return s.findOrCreate(ctx, dimension{
		table: "units",
		key:   []column{{"name", u.Name}},
		insert: []column{
			{"name", u.Name},
			{"unit_type", u.UnitType},
			{"common_unit", u.CommonUnit},
			{"conversion_factor", nullFloat(u.ConversionFactor)},
		},
	})
}

// FindOrCreateSource resolves ds by its upstream id.
func (s *Store) FindOrCreateSource(ctx context.Context, ds model.DataSource) (int64, error) {
	return s.findOrCreate(ctx, dimension{
		table: "data_sources",
		key:   []column{{"fews_id", ds.FewsID}},
		insert: []column{
			{"fews_id", ds.FewsID},
			{"name", ds.Name},
			{"document_name", ds.DocumentName},
		},
	})
}
