package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/njoerd114/fewssync/internal/model"
)

const observationColumns = `
	id, market_id, product_id, unit_id, source_id,
	period_date, start_date, price_type, currency, value,
	exchange_rate, common_unit_price, common_currency_price,
	collection_status, fews_dataseries_id, api_modified_at, imported_at`

// GetObservation returns the fact row with the given natural key,
// or (nil, nil) if no such row exists.
func (s *Store) GetObservation(ctx context.Context, key model.ObservationKey) (*model.StoredObservation, error) {
	q := `SELECT ` + observationColumns + `
		FROM price_observations
		WHERE market_id = ? AND product_id = ? AND unit_id = ?
		  AND period_date = ? AND price_type = ?`
	row := s.db.QueryRowContext(ctx, q,
		key.MarketID, key.ProductID, key.UnitID, formatDate(key.PeriodDate), key.PriceType)
	obs, err := scanObservation(row)
	if err != nil {
		return nil, &WriteError{Op: "reading observation " + key.String(), Err: err}
	}
	return obs, nil
}

// InsertObservation writes a new fact row and returns its id. A row with the
// same natural key yields [ErrConstraintViolation].
func (s *Store) InsertObservation(ctx context.Context, ids model.DimensionIDs, o *model.Observation) (int64, error) {
	const q = `
		INSERT INTO price_observations
		    (market_id, product_id, unit_id, source_id,
		     period_date, start_date, price_type, currency, value,
		     exchange_rate, common_unit_price, common_currency_price,
		     collection_status, fews_dataseries_id, api_modified_at, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		ids.MarketID,
		ids.ProductID,
		ids.UnitID,
		nullInt(ids.SourceID),
		formatDate(o.PeriodDate),
		nullDate(o.StartDate),
		o.PriceType,
		o.Currency,
		o.Value,
		nullFloat(o.ExchangeRate),
		nullFloat(o.CommonUnitPrice),
		nullFloat(o.CommonCurrencyPrice),
		o.CollectionStatus,
		nullInt(o.DataSeriesID),
		nullTime(o.APIModifiedAt),
		formatTime(s.now()),
	)
	if err != nil {
		return 0, classify("inserting observation "+o.Key(ids).String(), err)
	}
	return res.LastInsertId()
}

// UpdateObservation overwrites the mutable fields of the fact row id in
// place. The id and natural key are preserved; imported_at is refreshed.
func (s *Store) UpdateObservation(ctx context.Context, id int64, sourceID *int64, o *model.Observation) error {
	const q = `
		UPDATE price_observations SET
		    source_id             = ?,
		    start_date            = ?,
		    currency              = ?,
		    value                 = ?,
		    exchange_rate         = ?,
		    common_unit_price     = ?,
		    common_currency_price = ?,
		    collection_status     = ?,
		    fews_dataseries_id    = ?,
		    api_modified_at       = ?,
		    imported_at           = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, q,
		nullInt(sourceID),
		nullDate(o.StartDate),
		o.Currency,
		o.Value,
		nullFloat(o.ExchangeRate),
		nullFloat(o.CommonUnitPrice),
		nullFloat(o.CommonCurrencyPrice),
		o.CollectionStatus,
		nullInt(o.DataSeriesID),
		nullTime(o.APIModifiedAt),
		formatTime(s.now()),
		id,
	)
	if err != nil {
		return classify(fmt.Sprintf("updating observation id=%d", id), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &WriteError{Op: fmt.Sprintf("updating observation id=%d", id), Err: sql.ErrNoRows}
	}
	return nil
}

func scanObservation(s scanner) (*model.StoredObservation, error) {
	var (
		o                              model.StoredObservation
		sourceID, dataSeries           sql.NullInt64
		period, importedAt             string
		startDate, modifiedAt          sql.NullString
		rate, unitPrice, currencyPrice sql.NullFloat64
	)
	err := s.Scan(
		&o.ID,
		&o.MarketID,
		&o.ProductID,
		&o.UnitID,
		&sourceID,
		&period,
		&startDate,
		&o.PriceType,
		&o.Currency,
		&o.Value,
		&rate,
		&unitPrice,
		&currencyPrice,
		&o.CollectionStatus,
		&dataSeries,
		&modifiedAt,
		&importedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning observation row: %w", err)
	}

	if o.PeriodDate, err = parseDate(period); err != nil {
		return nil, fmt.Errorf("parsing period_date %q: %w", period, err)
	}
	o.SourceID = intPtr(sourceID)
	o.StartDate = datePtr(startDate)
	o.ExchangeRate = floatPtr(rate)
	o.CommonUnitPrice = floatPtr(unitPrice)
	o.CommonCurrencyPrice = floatPtr(currencyPrice)
	o.DataSeriesID = intPtr(dataSeries)
	o.APIModifiedAt = timePtr(modifiedAt)
	o.ImportedAt, _ = parseTime(importedAt)

	return &o, nil
}
