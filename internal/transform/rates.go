package transform

import (
	"strings"
	"time"

	"github.com/njoerd114/fewssync/internal/fews"
	"github.com/njoerd114/fewssync/internal/model"
)

// usdMultiplier returns the factor converting one unit of currency into USD,
// or nil when no rate is known for the period.
//
// For the configured local currency the monthly override wins over the rate
// carried by the record, which wins over the fixed rate. Other currencies
// only use the record's own rate.
func (m *Mapper) usdMultiplier(currency string, period time.Time, recordRate *float64) *float64 {
	if strings.EqualFold(currency, "USD") {
		one := 1.0
		return &one
	}

	var perUSD float64
	local := strings.EqualFold(currency, m.opts.DefaultCurrency)
	switch {
	case local && m.opts.MonthlyLocalPerUSD[period.Format("2006-01")] > 0:
		perUSD = m.opts.MonthlyLocalPerUSD[period.Format("2006-01")]
	case recordRate != nil && *recordRate > 0:
		perUSD = *recordRate
	case local && m.opts.LocalPerUSD != nil && *m.opts.LocalPerUSD > 0:
		perUSD = *m.opts.LocalPerUSD
	default:
		return nil
	}

	rate := 1 / perUSD
	return &rate
}

// unit builds the unit dimension, attaching a conversion factor from the
// configured table when one exists.
func (m *Mapper) unit(r fews.Record) model.Unit {
	u := model.Unit{
		Name:       strings.TrimSpace(r.Unit),
		UnitType:   strings.TrimSpace(r.UnitType),
		CommonUnit: strings.TrimSpace(r.CommonUnit),
	}

	if conv, ok := m.opts.Units[u.Name]; ok {
		if conv.CommonUnit != "" {
			u.CommonUnit = conv.CommonUnit
		}
		if conv.Factor > 0 {
			f := conv.Factor
			u.ConversionFactor = &f
			return u
		}
		m.log.Warn("ignoring non-positive conversion factor", "unit", u.Name, "factor", conv.Factor)
		return u
	}

	if u.CommonUnit != "" && strings.EqualFold(u.CommonUnit, u.Name) {
		one := 1.0
		u.ConversionFactor = &one
	}
	return u
}
