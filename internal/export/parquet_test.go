package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/njoerd114/fewssync/internal/model"
)

func ptr[T any](v T) *T { return &v }

type fakeSource struct {
	rows []model.SeriesRow
	err  error
}

func (f fakeSource) SeriesRows(context.Context) ([]model.SeriesRow, error) { return f.rows, f.err }

func sampleRows() []model.SeriesRow {
	return []model.SeriesRow{
		{
			ObservationID:       1,
			Market:              "Port-au-Prince, Croix-des-Bossales",
			Admin1:              "Ouest",
			Product:             "Rice (Imported)",
			Unit:                "lb",
			CommonUnit:          "kg",
			PriceType:           "Retail",
			PeriodDate:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			Currency:            "HTG",
			Value:               130,
			CommonUnitPrice:     ptr(286.6),
			CommonCurrencyPrice: ptr(1.0),
			Source:              "CNSA",
		},
		{
			ObservationID: 2,
			Market:        "Jacmel",
			Admin1:        "Sud-Est",
			Admin2:        "Jacmel",
			Product:       "Beans (Black)",
			Unit:          "Marmite",
			PriceType:     "Retail",
			PeriodDate:    time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
			Currency:      "HTG",
			Value:         410,
		},
	}
}

func TestWriteSeries_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "prices.parquet")
	want := sampleRows()

	if err := WriteSeries(path, want); err != nil {
		t.Fatalf("WriteSeries: %v", err)
	}
	got, err := readSeries(path)
	if err != nil {
		t.Fatalf("ReadSeries: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}

	for i := range want {
		g, w := got[i], want[i]
		if g.ObservationID != w.ObservationID || g.Market != w.Market || g.Admin2 != w.Admin2 ||
			g.Product != w.Product || g.Value != w.Value || g.Source != w.Source {
			t.Errorf("row %d = %+v, want %+v", i, g, w)
		}
		if !g.PeriodDate.Equal(w.PeriodDate) {
			t.Errorf("row %d period = %s, want %s", i, g.PeriodDate, w.PeriodDate)
		}
		if (g.CommonUnitPrice == nil) != (w.CommonUnitPrice == nil) {
			t.Errorf("row %d common_unit_price nil mismatch", i)
		} else if g.CommonUnitPrice != nil && *g.CommonUnitPrice != *w.CommonUnitPrice {
			t.Errorf("row %d common_unit_price = %v, want %v", i, *g.CommonUnitPrice, *w.CommonUnitPrice)
		}
		if (g.CommonCurrencyPrice == nil) != (w.CommonCurrencyPrice == nil) {
			t.Errorf("row %d common_currency_price nil mismatch", i)
		}
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}

func TestExport(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "prices.parquet")

	n, err := Export(context.Background(), fakeSource{rows: sampleRows()}, path, logger)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d rows, want 2", n)
	}

	boom := errors.New("boom")
	if _, err := Export(context.Background(), fakeSource{err: boom}, path, logger); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}

	// The earlier file survives the failed export.
	rows, err := readSeries(path)
	if err != nil || len(rows) != 2 {
		t.Errorf("after failed export: %d rows, err %v", len(rows), err)
	}
}

// readSeries loads a file written by WriteSeries back into rows.
func readSeries(path string) ([]model.SeriesRow, error) {
	records, err := parquet.ReadFile[SeriesRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	rows := make([]model.SeriesRow, len(records))
	for i, r := range records {
		row, err := fromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows[i] = row
	}
	return rows, nil
}

func fromRecord(r SeriesRecord) (model.SeriesRow, error) {
	period, err := time.Parse(model.DateLayout, r.PeriodDate)
	if err != nil {
		return model.SeriesRow{}, fmt.Errorf("parsing period date %q: %w", r.PeriodDate, err)
	}
	return model.SeriesRow{
		ObservationID:       r.ObservationID,
		Market:              r.Market,
		Admin1:              r.Admin1,
		Admin2:              r.Admin2,
		Product:             r.Product,
		Unit:                r.Unit,
		CommonUnit:          r.CommonUnit,
		PriceType:           r.PriceType,
		PeriodDate:          period,
		Currency:            r.Currency,
		Value:               r.Value,
		CommonUnitPrice:     r.CommonUnitPrice,
		CommonCurrencyPrice: r.CommonCurrencyPrice,
		Source:              r.Source,
	}, nil
}
