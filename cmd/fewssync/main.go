// fewssync keeps a local SQLite copy of the FEWS NET market price data for
// one country, fetching only what changed since the last successful run.
//
// Usage:
//
//	fewssync init   [--config <path>] [--db <path>]   # create the database
//	fewssync full   [--config ...] [--verbose]        # fetch the whole history
//	fewssync sync   [--config ...] [--verbose]        # fetch new periods only
//	fewssync stats  [--config ...] [--run <id>]       # summarise the database
//	fewssync query  [--config ...] "<SQL>"            # run a read-only query
//	fewssync export [--config ...] --out prices.parquet
//	fewssync ping   [--config ...]                    # check the API is reachable
//	fewssync setup                                    # interactive first-run wizard
//	fewssync version
//
// The flag form is still accepted:
//
//	fewssync --init | --full | --sync | --stats | --query "<SQL>"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/njoerd114/fewssync/internal/config"
	"github.com/njoerd114/fewssync/internal/export"
	"github.com/njoerd114/fewssync/internal/fews"
	"github.com/njoerd114/fewssync/internal/model"
	"github.com/njoerd114/fewssync/internal/setup"
	"github.com/njoerd114/fewssync/internal/store"
	syncp "github.com/njoerd114/fewssync/internal/sync"
	"github.com/njoerd114/fewssync/internal/telemetry"
	"github.com/njoerd114/fewssync/internal/transform"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

// errUsage marks command-line mistakes; they exit with status 2.
var errUsage = errors.New("usage error")

func main() {
	err := run(os.Args[1:])
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to a subcommand or falls back to the legacy flags.
func run(args []string) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return fmt.Errorf("%w: no command given", errUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return withApp("init", rest, 0, cmdInit)
	case "full":
		return withApp("full", rest, 0, func(ctx context.Context, a *app) error {
			return cmdSync(ctx, a, model.ModeFull)
		})
	case "sync":
		return withApp("sync", rest, 0, func(ctx context.Context, a *app) error {
			return cmdSync(ctx, a, model.ModeIncremental)
		})
	case "stats":
		return runStats(rest)
	case "query":
		return withApp("query", rest, 1, func(ctx context.Context, a *app) error {
			return cmdQuery(ctx, a, a.args[0])
		})
	case "export":
		return runExport(rest)
	case "ping":
		return withApp("ping", rest, 0, cmdPing)
	case "setup":
		return runSetup(rest)
	case "version":
		fmt.Println("fewssync", version)
		return nil
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return nil
	}

	if strings.HasPrefix(cmd, "-") {
		return runLegacy(args)
	}

	printUsage(os.Stderr)
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "fewssync: sync FEWS NET market prices into a local SQLite database")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  fewssync init                 Create the database schema")
	fmt.Fprintln(w, "  fewssync full                 Fetch the full price history")
	fmt.Fprintln(w, "  fewssync sync                 Fetch periods after the last successful run")
	fmt.Fprintln(w, "  fewssync stats [--run <id>]   Show database statistics or one import run")
	fmt.Fprintln(w, "  fewssync query \"<SQL>\"        Run a read-only SQL query")
	fmt.Fprintln(w, "  fewssync export --out <file>  Write the price series as Parquet")
	fmt.Fprintln(w, "  fewssync ping                 Check the API is reachable")
	fmt.Fprintln(w, "  fewssync setup                Interactive first-run wizard")
	fmt.Fprintln(w, "  fewssync version              Print version")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Common flags: --config <path>  --db <path>  --verbose")
}

// --- Shared plumbing ---------------------------------------------------------

// commonFlags are accepted by every command that touches the database.
type commonFlags struct {
	config  string
	db      string
	verbose bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "path to config.yaml (default ~/.config/fewssync/config.yaml)")
	fs.StringVar(&c.db, "db", "", "path to the SQLite database (overrides the config)")
	fs.BoolVar(&c.verbose, "verbose", false, "enable debug logging")
}

// app holds what every command needs once flags are parsed.
type app struct {
	cfg    *config.Config
	dbPath string
	logger *slog.Logger
	out    io.Writer
	args   []string
}

// newApp sets up logging and loads the config. An explicit --config must
// exist; the default path is optional.
func newApp(flags commonFlags, args []string) (*app, error) {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	} else if v := os.Getenv("FEWSSYNC_LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("%w: FEWSSYNC_LOG_LEVEL: %v", errUsage, err)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if flags.config != "" {
		cfg, err = config.Load(flags.config)
	} else {
		var path string
		if path, err = config.DefaultPath(); err == nil {
			cfg, err = config.LoadOrDefault(path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flags.db != "" {
		cfg.Database.Path = flags.db
	}

	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}
	return &app{cfg: cfg, dbPath: dbPath, logger: logger, out: stdout, args: args}, nil
}

// withApp parses the common flags for name, expects nargs positional
// arguments, and runs fn under a signal-aware context.
func withApp(name string, args []string, nargs int, fn func(context.Context, *app) error) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var flags commonFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != nargs {
		return fmt.Errorf("%w: %s takes %d argument(s), got %d", errUsage, name, nargs, fs.NArg())
	}
	return execute(flags, fs.Args(), fn)
}

func execute(flags commonFlags, args []string, fn func(context.Context, *app) error) error {
	a, err := newApp(flags, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return fn(ctx, a)
}

func (a *app) openStore() (*store.Store, error) {
	st, err := store.Open(a.dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database at %q: %w", a.dbPath, err)
	}
	return st, nil
}

func (a *app) closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		a.logger.Error("closing database", "error", err)
	}
}

func (a *app) newClient() (*fews.Client, error) {
	api := a.cfg.API
	ua := api.UserAgent
	if ua == "" {
		ua = "fewssync/" + version
	}
	return fews.NewClient(fews.Config{
		BaseURL:           api.BaseURL,
		CountryCode:       api.CountryCode,
		PageSize:          api.PageSize,
		Timeout:           api.Timeout,
		MaxAttempts:       api.MaxAttempts,
		RequestsPerSecond: api.RequestsPerSecond,
		BreakerFailures:   api.BreakerFailures,
		UserAgent:         ua,
	}, a.logger)
}

func (a *app) newMapper() *transform.Mapper {
	units := make(map[string]transform.UnitConversion, len(a.cfg.Units))
	for name, u := range a.cfg.Units {
		units[name] = transform.UnitConversion{CommonUnit: u.CommonUnit, Factor: u.ConversionFactor}
	}
	return transform.NewMapper(transform.Options{
		DefaultPriceType:   a.cfg.Sync.DefaultPriceType,
		DefaultCurrency:    a.cfg.Sync.DefaultCurrency,
		LocalPerUSD:        a.cfg.ExchangeRates.HTGPerUSD,
		MonthlyLocalPerUSD: a.cfg.ExchangeRates.Monthly,
		Units:              units,
	}, a.logger)
}

// startTelemetry installs the OTLP exporters when configured. The returned
// func flushes them and is always safe to defer.
func (a *app) startTelemetry(ctx context.Context) func() {
	telCfg, ok := telemetry.FromConfig(a.cfg.Telemetry, version)
	if !ok {
		return func() {}
	}
	shutdown, err := telemetry.Setup(ctx, telCfg)
	if err != nil {
		a.logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		return func() {}
	}
	a.logger.Info("telemetry enabled", "endpoint", telCfg.OTLPEndpoint)
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			a.logger.Error("telemetry shutdown error", "error", err)
		}
	}
}

// --- Commands ----------------------------------------------------------------

func cmdInit(_ context.Context, a *app) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	a.closeStore(st)
	fmt.Fprintf(a.out, "Database initialised at %s\n", a.dbPath)
	return nil
}

// cmdSync runs a full or incremental sync. The summary line is printed even
// when the run fails or never starts.
func cmdSync(ctx context.Context, a *app, mode model.RunMode) error {
	defer a.startTelemetry(ctx)()

	var res syncp.Result
	defer func() {
		if res.UpToDate {
			fmt.Fprintln(a.out, "Database is up to date.")
		}
		fmt.Fprintln(a.out, summaryLine(res))
	}()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer a.closeStore(st)

	client, err := a.newClient()
	if err != nil {
		return fmt.Errorf("initialising API client: %w", err)
	}

	a.logger.Info("checking API connectivity", "url", a.cfg.API.BaseURL)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to the FEWS NET API at %q: %w", a.cfg.API.BaseURL, err)
	}

	syncer := syncp.NewSyncer(client, a.newMapper(), st, a.logger)
	engine := syncp.NewEngine(syncer, st, a.cfg.HistoryStartDate(), a.logger)

	if mode == model.ModeFull {
		res, err = engine.Full(ctx)
	} else {
		res, err = engine.Incremental(ctx)
	}
	if err != nil {
		return fmt.Errorf("%s sync failed: %w", mode, err)
	}
	return nil
}

func cmdStats(ctx context.Context, a *app) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer a.closeStore(st)

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	markets, err := st.ListMarkets(ctx)
	if err != nil {
		return err
	}
	products, err := st.ListProducts(ctx)
	if err != nil {
		return err
	}
	runs, err := st.RecentRuns(ctx, 5)
	if err != nil {
		return err
	}

	printStats(a.out, stats, markets, products, runs)
	return nil
}

// runStats prints the database summary, or one import run with --run.
func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	var flags commonFlags
	flags.register(fs)
	runID := fs.String("run", "", "show the import run with this id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("%w: stats takes no arguments", errUsage)
	}
	if *runID == "" {
		return execute(flags, nil, cmdStats)
	}
	return execute(flags, nil, func(ctx context.Context, a *app) error {
		return cmdRun(ctx, a, *runID)
	})
}

func cmdRun(ctx context.Context, a *app, runID string) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer a.closeStore(st)

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no import run with id %q", runID)
	}
	printRun(a.out, run)
	return nil
}

func cmdQuery(ctx context.Context, a *app, sqlText string) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer a.closeStore(st)

	res, err := st.Query(ctx, sqlText)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	printTable(a.out, res)
	return nil
}

func cmdPing(ctx context.Context, a *app) error {
	client, err := a.newClient()
	if err != nil {
		return fmt.Errorf("initialising API client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to the FEWS NET API at %q: %w", a.cfg.API.BaseURL, err)
	}
	fmt.Fprintf(a.out, "FEWS NET API reachable at %s (country %s)\n", a.cfg.API.BaseURL, a.cfg.API.CountryCode)
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var flags commonFlags
	flags.register(fs)
	out := fs.String("out", "", "Parquet file to write")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *out == "" || fs.NArg() != 0 {
		return fmt.Errorf("%w: export requires --out <file> and no arguments", errUsage)
	}

	return execute(flags, nil, func(ctx context.Context, a *app) error {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer a.closeStore(st)

		n, err := export.Export(ctx, st, *out, a.logger)
		if err != nil {
			return fmt.Errorf("exporting: %w", err)
		}
		fmt.Fprintf(a.out, "Exported %d rows to %s\n", n, *out)
		return nil
	})
}

// runSetup launches the interactive setup wizard.
func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "where to write config.yaml (default ~/.config/fewssync/config.yaml)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		*cfgPath = p
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return setup.NewWizard(os.Stdin, os.Stdout, logger).Run(ctx, *cfgPath)
}

// legacyCommand is the result of parsing the flag form.
type legacyCommand struct {
	name  string // init, full, sync, stats or query
	query string
	flags commonFlags
}

// parseLegacy parses --init / --full / --sync / --stats / --query SQL.
// Exactly one of them must be given.
func parseLegacy(args []string) (legacyCommand, error) {
	fs := flag.NewFlagSet("fewssync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var lc legacyCommand
	lc.flags.register(fs)
	initDB := fs.Bool("init", false, "initialise the database schema")
	full := fs.Bool("full", false, "full sync (all historical data)")
	incr := fs.Bool("sync", false, "incremental sync (new data only)")
	stats := fs.Bool("stats", false, "show database statistics")
	query := fs.String("query", "", "run a SQL query")
	if err := fs.Parse(args); err != nil {
		return lc, fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 0 {
		return lc, fmt.Errorf("%w: unexpected arguments %q", errUsage, fs.Args())
	}

	var chosen []string
	for name, set := range map[string]bool{
		"init": *initDB, "full": *full, "sync": *incr, "stats": *stats, "query": *query != "",
	} {
		if set {
			chosen = append(chosen, name)
		}
	}
	switch len(chosen) {
	case 0:
		return lc, fmt.Errorf("%w: one of --init, --full, --sync, --stats or --query is required", errUsage)
	case 1:
		lc.name, lc.query = chosen[0], *query
		return lc, nil
	default:
		return lc, fmt.Errorf("%w: --init, --full, --sync, --stats and --query are mutually exclusive", errUsage)
	}
}

// runLegacy supports the flag form of the CLI.
func runLegacy(args []string) error {
	lc, err := parseLegacy(args)
	if err != nil {
		printUsage(os.Stderr)
		return err
	}

	var fn func(context.Context, *app) error
	switch lc.name {
	case "init":
		fn = cmdInit
	case "full":
		fn = func(ctx context.Context, a *app) error { return cmdSync(ctx, a, model.ModeFull) }
	case "sync":
		fn = func(ctx context.Context, a *app) error { return cmdSync(ctx, a, model.ModeIncremental) }
	case "stats":
		fn = cmdStats
	case "query":
		fn = func(ctx context.Context, a *app) error { return cmdQuery(ctx, a, lc.query) }
	}
	return execute(lc.flags, nil, fn)
}
