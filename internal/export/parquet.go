// Package export writes the denormalised price series to Parquet files.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/njoerd114/fewssync/internal/model"
)

// SeriesSource supplies the rows to export. Implemented by [store.Store].
type SeriesSource interface {
	SeriesRows(ctx context.Context) ([]model.SeriesRow, error)
}

// SeriesRecord is the Parquet schema of one exported observation.
type SeriesRecord struct {
	ObservationID       int64    `parquet:"observation_id"`
	Market              string   `parquet:"market"`
	Admin1              string   `parquet:"admin_1"`
	Admin2              string   `parquet:"admin_2"`
	Product             string   `parquet:"product"`
	Unit                string   `parquet:"unit"`
	CommonUnit          string   `parquet:"common_unit"`
	PriceType           string   `parquet:"price_type"`
	PeriodDate          string   `parquet:"period_date"` // YYYY-MM-DD
	Currency            string   `parquet:"currency"`
	Value               float64  `parquet:"value"`
	CommonUnitPrice     *float64 `parquet:"common_unit_price,optional"`
	CommonCurrencyPrice *float64 `parquet:"common_currency_price,optional"`
	Source              string   `parquet:"source"`
}

// Export reads every series row from src and writes them to path. The file is
// replaced atomically, so a failed export leaves any previous file intact.
func Export(ctx context.Context, src SeriesSource, path string, logger *slog.Logger) (int, error) {
	rows, err := src.SeriesRows(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading price series: %w", err)
	}
	if err := WriteSeries(path, rows); err != nil {
		return 0, err
	}
	logger.Info("price series exported", "path", path, "rows", len(rows))
	return len(rows), nil
}

// WriteSeries writes rows to a Parquet file at path.
func WriteSeries(path string, rows []model.SeriesRow) error {
	records := make([]SeriesRecord, len(rows))
	for i, r := range rows {
		records[i] = toRecord(r)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func toRecord(r model.SeriesRow) SeriesRecord {
	return SeriesRecord{
		ObservationID:       r.ObservationID,
		Market:              r.Market,
		Admin1:              r.Admin1,
		Admin2:              r.Admin2,
		Product:             r.Product,
		Unit:                r.Unit,
		CommonUnit:          r.CommonUnit,
		PriceType:           r.PriceType,
		PeriodDate:          r.PeriodDate.Format(model.DateLayout),
		Currency:            r.Currency,
		Value:               r.Value,
		CommonUnitPrice:     r.CommonUnitPrice,
		CommonCurrencyPrice: r.CommonCurrencyPrice,
		Source:              r.Source,
	}
}
