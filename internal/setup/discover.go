package setup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/njoerd114/fewssync/internal/fews"
)

// API is the part of the FEWS NET client the wizard needs.
// Implemented by [fews.Client].
type API interface {
	Ping(ctx context.Context) error
	Markets(ctx context.Context, countryCode string) ([]fews.MarketInfo, error)
}

// Region groups the markets of one first-level administrative unit.
type Region struct {
	Admin1  string
	Markets []string
}

// NewAPI builds a client for the wizard's connectivity checks. Retries are
// kept short so a typo in the URL fails fast.
func NewAPI(baseURL, countryCode string) (API, error) {
	c, err := fews.NewClient(fews.Config{
		BaseURL:         baseURL,
		CountryCode:     countryCode,
		Timeout:         30 * time.Second,
		MaxAttempts:     2,
		BreakerFailures: 3,
		RetryBaseDelay:  500 * time.Millisecond,
	}, discardLogger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DiscoverMarkets lists the markets the API knows for countryCode, grouped by
// region and sorted by name.
func DiscoverMarkets(ctx context.Context, api API, countryCode string) ([]Region, error) {
	markets, err := api.Markets(ctx, countryCode)
	if err != nil {
		return nil, fmt.Errorf("listing markets: %w", err)
	}

	byRegion := make(map[string][]string)
	for _, m := range markets {
		region := m.Admin1
		if region == "" {
			region = "(unknown region)"
		}
		byRegion[region] = append(byRegion[region], m.Name)
	}

	regions := make([]Region, 0, len(byRegion))
	for admin1, names := range byRegion {
		sort.Strings(names)
		regions = append(regions, Region{Admin1: admin1, Markets: names})
	}
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Admin1 < regions[j].Admin1
	})
	return regions, nil
}
