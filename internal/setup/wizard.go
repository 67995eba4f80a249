package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/njoerd114/fewssync/internal/config"
	"github.com/njoerd114/fewssync/internal/store"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// priceTypes are the price_type values the API publishes.
var priceTypes = []string{"Retail", "Wholesale", "Producer"}

// Wizard guides the user through first-run configuration.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer

	// newAPI is replaced in tests.
	newAPI func(baseURL, countryCode string) (API, error)
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		logger: logger,
		w:      w,
		newAPI: NewAPI,
	}
}

// Run walks through the API connection, market discovery, price options and
// database location, then writes the config to cfgPath and optionally
// creates the database.
func (wiz *Wizard) Run(ctx context.Context, cfgPath string) error {
	fmt.Fprintf(wiz.w, "\nWelcome to fewssync setup!\n")
	fmt.Fprintf(wiz.w, "This wizard writes a configuration for syncing FEWS NET market prices.\n\n")

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	cfg := config.Default()

	// Step 1: API connection.
	fmt.Fprintf(wiz.w, "Step 1/4: FEWS NET API\n")

	cfg.API.BaseURL = wiz.prompt.String("API base URL", cfg.API.BaseURL)
	cfg.API.CountryCode = strings.ToUpper(wiz.prompt.String("Country code", cfg.API.CountryCode))

	api, err := wiz.newAPI(cfg.API.BaseURL, cfg.API.CountryCode)
	if err != nil {
		return fmt.Errorf("invalid API settings: %w", err)
	}
	fmt.Fprintf(wiz.w, "  Connecting to %s...", cfg.API.BaseURL)
	if err := api.Ping(ctx); err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot reach the FEWS NET API: %w\n\n  Check the URL and try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n\n")

	// Step 2: market discovery. Informational only.
	fmt.Fprintf(wiz.w, "Step 2/4: Markets\n")
	wiz.showMarkets(ctx, api, cfg.API.CountryCode)

	// Step 3: price options.
	fmt.Fprintf(wiz.w, "Step 3/4: Prices\n")

	cfg.Sync.HistoryStart = wiz.prompt.Date("Fetch history from", cfg.Sync.HistoryStart)
	idx, err := wiz.prompt.Select("Default price type", priceTypes)
	if err != nil {
		return fmt.Errorf("selecting price type: %w", err)
	}
	cfg.Sync.DefaultPriceType = priceTypes[idx]
	cfg.Sync.DefaultCurrency = strings.ToUpper(wiz.prompt.String("Local currency", cfg.Sync.DefaultCurrency))
	cfg.ExchangeRates.HTGPerUSD = wiz.prompt.OptionalFloat(
		fmt.Sprintf("Fixed %s per USD rate", cfg.Sync.DefaultCurrency))
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: database and save.
	fmt.Fprintf(wiz.w, "Step 4/4: Save Configuration\n")

	defaultDB, err := config.DefaultDBPath()
	if err != nil {
		return fmt.Errorf("resolving database path: %w", err)
	}
	if dbPath := wiz.prompt.String("Database path", defaultDB); dbPath != defaultDB {
		cfg.Database.Path = dbPath
	}

	if err := cfg.Write(cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)

	return wiz.offerInit(cfg)
}

func (wiz *Wizard) showMarkets(ctx context.Context, api API, countryCode string) {
	fmt.Fprintf(wiz.w, "  Discovering markets in %s...\n", countryCode)
	regions, err := DiscoverMarkets(ctx, api, countryCode)
	if err != nil {
		wiz.logger.Warn("could not discover markets", "error", err)
		fmt.Fprintf(wiz.w, "  ⚠ Could not list markets; prices will still sync.\n\n")
		return
	}

	total := 0
	for _, r := range regions {
		total += len(r.Markets)
	}
	fmt.Fprintf(wiz.w, "  Found %d market(s) in %d region(s):\n", total, len(regions))
	for _, r := range regions {
		fmt.Fprintf(wiz.w, "    • %s (%d): %s\n", r.Admin1, len(r.Markets), strings.Join(r.Markets, ", "))
	}
	fmt.Fprintf(wiz.w, "\n")
}

// offerInit asks whether to create the database right away.
func (wiz *Wizard) offerInit(cfg *config.Config) error {
	dbPath, err := cfg.DBPath()
	if err != nil {
		return fmt.Errorf("resolving database path: %w", err)
	}

	if !wiz.prompt.Confirm("Create the database now?", true) {
		fmt.Fprintf(wiz.w, "\n  Skipping database creation.\n")
		fmt.Fprintf(wiz.w, "  Create it later with: fewssync init\n\n")
		return nil
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	if err := st.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Database ready at %s\n", dbPath)

	fmt.Fprintf(wiz.w, "\nSetup complete!\n")
	fmt.Fprintf(wiz.w, "  Load the full history:  fewssync full\n")
	fmt.Fprintf(wiz.w, "  Fetch new prices:       fewssync sync\n")
	fmt.Fprintf(wiz.w, "  Show what is stored:    fewssync stats\n\n")
	return nil
}
