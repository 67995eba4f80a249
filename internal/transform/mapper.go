// Package transform maps raw FEWS NET price records onto the star-schema
// model: dimension descriptors plus one observation with its standardized
// prices derived.
package transform

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/njoerd114/fewssync/internal/fews"
	"github.com/njoerd114/fewssync/internal/model"
)

var (
	// ErrIncomplete is returned for records that lack a field the fact table
	// requires.
	ErrIncomplete = errors.New("incomplete record")

	// ErrInvalid is returned for records whose fields cannot be interpreted.
	ErrInvalid = errors.New("invalid record")
)

// UnitConversion converts a source unit into its canonical unit.
type UnitConversion struct {
	CommonUnit string
	Factor     float64
}

// Options configures a [Mapper].
type Options struct {
	DefaultPriceType string
	DefaultCurrency  string

	// LocalPerUSD is the fixed rate for DefaultCurrency. Nil when unknown.
	LocalPerUSD *float64

	// MonthlyLocalPerUSD overrides LocalPerUSD per "YYYY-MM" period.
	MonthlyLocalPerUSD map[string]float64

	// Units maps a source unit name to its conversion.
	Units map[string]UnitConversion
}

// Mapper turns API records into [model.Record] values.
type Mapper struct {
	opts Options
	log  *slog.Logger
}

// NewMapper returns a Mapper using opts.
func NewMapper(opts Options, logger *slog.Logger) *Mapper {
	if opts.DefaultPriceType == "" {
		opts.DefaultPriceType = "Retail"
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "HTG"
	}
	opts.DefaultCurrency = strings.ToUpper(opts.DefaultCurrency)
	return &Mapper{opts: opts, log: logger}
}

// Map converts one API record. Records missing a market, product, unit,
// period date or value return an error wrapping [ErrIncomplete].
func (m *Mapper) Map(r fews.Record) (model.Record, error) {
	switch {
	case r.MarketID == 0:
		return model.Record{}, fmt.Errorf("%w: missing market_id", ErrIncomplete)
	case strings.TrimSpace(r.Product) == "":
		return model.Record{}, fmt.Errorf("%w: missing product", ErrIncomplete)
	case strings.TrimSpace(r.Unit) == "":
		return model.Record{}, fmt.Errorf("%w: missing unit", ErrIncomplete)
	case strings.TrimSpace(r.PeriodDate) == "":
		return model.Record{}, fmt.Errorf("%w: missing period_date", ErrIncomplete)
	case r.Value == nil:
		return model.Record{}, fmt.Errorf("%w: missing value", ErrIncomplete)
	}

	period, err := parseDate(r.PeriodDate)
	if err != nil {
		return model.Record{}, fmt.Errorf("%w: period_date %q", ErrInvalid, r.PeriodDate)
	}
	if *r.Value < 0 {
		return model.Record{}, fmt.Errorf("%w: negative value %v", ErrInvalid, *r.Value)
	}

	rec := model.Record{
		Market: model.Market{
			FewsID:      r.MarketID,
			FNID:        strings.TrimSpace(r.FNID),
			Name:        strings.TrimSpace(r.Market),
			Admin1:      strings.TrimSpace(r.Admin1),
			Admin2:      strings.TrimSpace(r.Admin2),
			CountryCode: strings.ToUpper(strings.TrimSpace(r.CountryCode)),
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
		},
		Product: model.Product{
			Name:             strings.TrimSpace(r.Product),
			Source:           strings.TrimSpace(r.ProductSource),
			CPCV2:            strings.TrimSpace(r.CPCV2),
			CPCV2Description: strings.TrimSpace(r.CPCV2Description),
			IsStapleFood:     r.IsStapleFood,
		},
		Unit: m.unit(r),
		Observation: model.Observation{
			PeriodDate:       period,
			PriceType:        orDefault(r.PriceType, m.opts.DefaultPriceType),
			Currency:         strings.ToUpper(orDefault(r.Currency, m.opts.DefaultCurrency)),
			Value:            *r.Value,
			CollectionStatus: strings.TrimSpace(r.CollectionStatus),
			DataSeriesID:     r.DataSeries,
		},
	}
	if rec.Market.Name == "" {
		rec.Market.Name = fmt.Sprintf("market %d", r.MarketID)
	}

	if r.SourceOrganizationID != nil {
		rec.Source = &model.DataSource{
			FewsID:       *r.SourceOrganizationID,
			Name:         strings.TrimSpace(r.SourceOrganization),
			DocumentName: strings.TrimSpace(r.SourceDocument),
		}
	}

	if s := strings.TrimSpace(r.StartDate); s != "" {
		if t, err := parseDate(s); err == nil {
			rec.Observation.StartDate = &t
		}
	}
	if s := strings.TrimSpace(r.Modified); s != "" {
		t, err := parseTimestamp(s)
		if err != nil {
			m.log.Warn("ignoring unparseable modified timestamp", "market_id", r.MarketID, "modified", s)
		} else {
			rec.Observation.APIModifiedAt = &t
		}
	}

	rec.Observation.ExchangeRate = m.usdMultiplier(rec.Observation.Currency, period, r.ExchangeRate)
	model.Derive(&rec.Observation, rec.Unit.ConversionFactor)

	return rec, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(model.DateLayout) {
		s = s[:len(model.DateLayout)]
	}
	return time.Parse(model.DateLayout, s)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	model.DateLayout,
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
