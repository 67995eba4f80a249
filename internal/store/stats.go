package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/njoerd114/fewssync/internal/model"
)

// Stats summarises the row counts and the period range of the database.
func (s *Store) Stats(ctx context.Context) (*model.DBStats, error) {
	const q = `
		SELECT
		    (SELECT COUNT(*) FROM price_observations),
		    (SELECT COUNT(*) FROM markets),
		    (SELECT COUNT(*) FROM products),
		    (SELECT COUNT(*) FROM units),
		    (SELECT COUNT(*) FROM data_sources),
		    (SELECT MIN(period_date) FROM price_observations),
		    (SELECT MAX(period_date) FROM price_observations)`

	var st model.DBStats
	var minDate, maxDate sql.NullString
	err := s.db.QueryRowContext(ctx, q).Scan(
		&st.Observations, &st.Markets, &st.Products, &st.Units, &st.Sources, &minDate, &maxDate)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	st.DateMin = datePtr(minDate)
	st.DateMax = datePtr(maxDate)
	return &st, nil
}

// ListMarkets returns every market ordered by region and name.
func (s *Store) ListMarkets(ctx context.Context) ([]model.MarketSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, admin_1 FROM markets ORDER BY admin_1, name`)
	if err != nil {
		return nil, fmt.Errorf("listing markets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var markets []model.MarketSummary
	for rows.Next() {
		var m model.MarketSummary
		if err := rows.Scan(&m.ID, &m.Name, &m.Admin1); err != nil {
			return nil, fmt.Errorf("scanning market row: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// ListProducts returns the distinct product names in alphabetical order.
func (s *Store) ListProducts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM products ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning product row: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SeriesRows returns the v_price_series view ordered by period, market and
// product.
func (s *Store) SeriesRows(ctx context.Context) ([]model.SeriesRow, error) {
	const q = `
		SELECT observation_id, market, admin_1, admin_2, product, unit, common_unit,
		       price_type, period_date, currency, value,
		       common_unit_price, common_currency_price, source
		FROM v_price_series
		ORDER BY period_date, market, product, unit, price_type`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying price series: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SeriesRow
	for rows.Next() {
		var (
			r                        model.SeriesRow
			period                   string
			unitPrice, currencyPrice sql.NullFloat64
		)
		if err := rows.Scan(&r.ObservationID, &r.Market, &r.Admin1, &r.Admin2, &r.Product, &r.Unit,
			&r.CommonUnit, &r.PriceType, &period, &r.Currency, &r.Value,
			&unitPrice, &currencyPrice, &r.Source); err != nil {
			return nil, fmt.Errorf("scanning price series row: %w", err)
		}
		if r.PeriodDate, err = parseDate(period); err != nil {
			return nil, fmt.Errorf("parsing period_date %q: %w", period, err)
		}
		r.CommonUnitPrice = floatPtr(unitPrice)
		r.CommonCurrencyPrice = floatPtr(currencyPrice)
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryResult is the tabular output of [Store.Query].
type QueryResult struct {
	Columns []string
	Rows    [][]string
}

// Query runs a read-only SQL statement and renders every value as text.
// NULL renders as "NULL". Statements that write are rejected by SQLite.
func (s *Store) Query(ctx context.Context, sqlText string) (*QueryResult, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `PRAGMA query_only = ON`); err != nil {
		return nil, fmt.Errorf("enabling read-only mode: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `PRAGMA query_only = OFF`)
	}()

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	res := &QueryResult{Columns: cols}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning query row: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = renderValue(v)
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	return res, nil
}

func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
