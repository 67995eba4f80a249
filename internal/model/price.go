// Package model defines the star-schema types shared by the mapper, the store
// and the sync engine.
package model

import (
	"fmt"
	"time"
)

// DateLayout is the on-disk and on-wire layout for period dates.
const DateLayout = "2006-01-02"

// Market is a physical market location. Its identity is (FewsID, FNID).
// Location data does not change upstream, so a market row is never updated
// after it is created.
type Market struct {
	FewsID      int64
	FNID        string
	Name        string
	Admin1      string
	Admin2      string
	CountryCode string
	Latitude    *float64
	Longitude   *float64
}

// MarketKey is the natural key of a [Market].
type MarketKey struct {
	FewsID int64
	FNID   string
}

// Key returns the market's natural key.
func (m Market) Key() MarketKey { return MarketKey{FewsID: m.FewsID, FNID: m.FNID} }

// Product is a traded commodity. Its identity is (Name, Source).
type Product struct {
	Name             string
	Source           string
	CPCV2            string
	CPCV2Description string
	IsStapleFood     bool
}

// ProductKey is the natural key of a [Product].
type ProductKey struct {
	Name   string
	Source string
}

// Key returns the product's natural key.
func (p Product) Key() ProductKey { return ProductKey{Name: p.Name, Source: p.Source} }

// Unit is a unit of measure. Its identity is Name.
type Unit struct {
	Name       string
	UnitType   string
	CommonUnit string

	// ConversionFactor is the number of CommonUnit in one Unit (e.g. 0.4536
	// for lb→kg). Nil when unknown; never zero or negative.
	ConversionFactor *float64
}

// DataSource is the organisation that collected an observation. Its identity
// is FewsID.
type DataSource struct {
	FewsID       int64
	Name         string
	DocumentName string
}

// DimensionIDs holds the surrogate keys a fact row references.
// SourceID is nil when the upstream record names no data source.
type DimensionIDs struct {
	MarketID  int64
	ProductID int64
	UnitID    int64
	SourceID  *int64
}

// ObservationKey is the natural key of a price observation. The tuple is
// globally unique in the store.
type ObservationKey struct {
	MarketID   int64
	ProductID  int64
	UnitID     int64
	PeriodDate time.Time
	PriceType  string
}

// String renders the key for log output.
func (k ObservationKey) String() string {
	return fmt.Sprintf("market=%d product=%d unit=%d period=%s type=%s",
		k.MarketID, k.ProductID, k.UnitID, k.PeriodDate.Format(DateLayout), k.PriceType)
}

// Observation is a single price fact as produced by the mapper.
type Observation struct {
	PeriodDate       time.Time
	StartDate        *time.Time
	PriceType        string
	Currency         string
	Value            float64
	CollectionStatus string
	DataSeriesID     *int64

	// ExchangeRate is the multiplier converting Currency into USD.
	ExchangeRate *float64

	// CommonUnitPrice and CommonCurrencyPrice are derived; see [Derive].
	CommonUnitPrice     *float64
	CommonCurrencyPrice *float64

	// APIModifiedAt is the upstream last-modified timestamp, if any.
	APIModifiedAt *time.Time
}

// Key builds the natural key of o once its dimensions are resolved.
func (o *Observation) Key(ids DimensionIDs) ObservationKey {
	return ObservationKey{
		MarketID:   ids.MarketID,
		ProductID:  ids.ProductID,
		UnitID:     ids.UnitID,
		PeriodDate: o.PeriodDate,
		PriceType:  o.PriceType,
	}
}

// StoredObservation is a persisted fact row.
type StoredObservation struct {
	ID int64
	DimensionIDs
	Observation
	ImportedAt time.Time
}

// ChangedFrom reports whether o carries a different raw value or upstream
// timestamp than the stored row. Only those two fields decide whether an
// existing fact is rewritten.
func (o *Observation) ChangedFrom(stored *StoredObservation) bool {
	if o.Value != stored.Value {
		return true
	}
	return !sameInstant(o.APIModifiedAt, stored.APIModifiedAt)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Record bundles an observation with the dimension descriptors it references.
// It is the unit of work handed from the mapper to the sync engine.
type Record struct {
	Market      Market
	Product     Product
	Unit        Unit
	Source      *DataSource
	Observation Observation
}

// Derive fills the standardized prices of o from its raw value.
//
// CommonUnitPrice is value / conversionFactor and stays nil when the factor is
// nil or not positive. CommonCurrencyPrice is value * ExchangeRate and stays
// nil when no rate is known.
func Derive(o *Observation, conversionFactor *float64) {
	o.CommonUnitPrice = nil
	if conversionFactor != nil && *conversionFactor > 0 {
		v := o.Value / *conversionFactor
		o.CommonUnitPrice = &v
	}

	o.CommonCurrencyPrice = nil
	if o.ExchangeRate != nil {
		v := o.Value * *o.ExchangeRate
		o.CommonCurrencyPrice = &v
	}
}
