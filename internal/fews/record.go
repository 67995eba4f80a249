package fews

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Record is one row of the marketpricefacts endpoint as delivered upstream.
// Optional upstream values are pointers so that "absent" and "zero" differ.
type Record struct {
	MarketID    int64    `json:"market_id"`
	FNID        string   `json:"fnid"`
	Market      string   `json:"market"`
	Admin1      string   `json:"admin_1"`
	Admin2      string   `json:"admin_2"`
	CountryCode string   `json:"country_code"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`

	Product          string `json:"product"`
	CPCV2            string `json:"cpcv2"`
	CPCV2Description string `json:"cpcv2_description"`
	ProductSource    string `json:"product_source"`
	IsStapleFood     bool   `json:"is_staple_food"`

	Unit       string `json:"unit"`
	UnitType   string `json:"unit_type"`
	CommonUnit string `json:"common_unit"`

	SourceOrganizationID *int64 `json:"datasourceorganization"`
	SourceOrganization   string `json:"source_organization"`
	SourceDocument       string `json:"source_document"`

	PeriodDate       string   `json:"period_date"`
	StartDate        string   `json:"start_date"`
	PriceType        string   `json:"price_type"`
	Currency         string   `json:"currency"`
	Value            *float64 `json:"value"`
	ExchangeRate     *float64 `json:"exchange_rate"`
	CollectionStatus string   `json:"collection_status"`
	DataSeries       *int64   `json:"dataseries"`
	Modified         string   `json:"modified"`
}

// MarketInfo is one row of the market endpoint.
type MarketInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Admin1      string `json:"admin_1"`
	CountryCode string `json:"country_code"`
}

// Page is one response of a paginated listing.
type Page struct {
	// Number is 1 for the first page of an iteration.
	Number  int
	Records []Record
	// Total is the upstream record count when the API reports it, else -1.
	Total int
}

// envelope is the paginated response shape. Unpaginated responses are a bare
// JSON array instead.
type envelope[T any] struct {
	Count   *int    `json:"count"`
	Next    *string `json:"next"`
	Results *[]T    `json:"results"`
}

var errUnexpectedPayload = errors.New("unexpected payload shape")

// decodeList decodes either a bare array or a paginated envelope. next is empty
// when there are no further pages; total is -1 when unknown.
func decodeList[T any](body []byte) (items []T, next string, total int, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, "", -1, fmt.Errorf("%w: empty body", errUnexpectedPayload)
	}

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, "", -1, fmt.Errorf("decoding list: %w", err)
		}
		return items, "", len(items), nil
	case '{':
		var env envelope[T]
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, "", -1, fmt.Errorf("decoding page: %w", err)
		}
		if env.Results == nil {
			return nil, "", -1, fmt.Errorf("%w: object without results", errUnexpectedPayload)
		}
		total = -1
		if env.Count != nil {
			total = *env.Count
		}
		if env.Next != nil {
			next = *env.Next
		}
		return *env.Results, next, total, nil
	default:
		return nil, "", -1, fmt.Errorf("%w: starts with %q", errUnexpectedPayload, trimmed[0])
	}
}
