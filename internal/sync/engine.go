package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/fewssync/internal/model"
)

const (
	otelScope      = "fewssync/sync"
	spanRun        = "sync.run"
	metricFetched  = "fewssync.sync.records.fetched"
	metricInserted = "fewssync.sync.records.inserted"
	metricUpdated  = "fewssync.sync.records.updated"
	metricSkipped  = "fewssync.sync.records.skipped"
	metricErrors   = "fewssync.sync.records.errors"
	metricRuns     = "fewssync.sync.runs"
)

// RunHistory reports where the last successful run ended.
// Implemented by [store.Store].
type RunHistory interface {
	LastSuccessfulRangeEnd(ctx context.Context) (*time.Time, error)
}

// Engine plans the date window of a run, executes it with a [Syncer], and
// records a trace span and metrics around it.
type Engine struct {
	syncer       *Syncer
	history      RunHistory
	historyStart time.Time
	now          func() time.Time
	log          *slog.Logger

	// OTel instruments; no-ops when telemetry is disabled.
	tracer      trace.Tracer
	cntFetched  metric.Int64Counter
	cntInserted metric.Int64Counter
	cntUpdated  metric.Int64Counter
	cntSkipped  metric.Int64Counter
	cntErrors   metric.Int64Counter
	cntRuns     metric.Int64Counter
}

// NewEngine creates an Engine. historyStart is the first period fetched by a
// full run and by an incremental run against an empty import log.
func NewEngine(syncer *Syncer, history RunHistory, historyStart time.Time, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		syncer:       syncer,
		history:      history,
		historyStart: truncateDay(historyStart),
		now:          time.Now,
		log:          logger,

		tracer:      tracer,
		cntFetched:  mustCounter(metricFetched, "Number of price records fetched from the API"),
		cntInserted: mustCounter(metricInserted, "Number of price observations inserted"),
		cntUpdated:  mustCounter(metricUpdated, "Number of price observations updated"),
		cntSkipped:  mustCounter(metricSkipped, "Number of price records skipped"),
		cntErrors:   mustCounter(metricErrors, "Number of price records that failed to write"),
		cntRuns:     mustCounter(metricRuns, "Number of sync runs by terminal status"),
	}
}

// Plan returns the window for a run in mode. For incremental runs the second
// result is false when the database already covers every period up to today.
func (e *Engine) Plan(ctx context.Context, mode model.RunMode) (model.Window, bool, error) {
	today := truncateDay(e.now())
	w := model.Window{Mode: mode, Start: e.historyStart, End: today}

	switch mode {
	case model.ModeFull:
		return w, true, nil
	case model.ModeIncremental:
		last, err := e.history.LastSuccessfulRangeEnd(ctx)
		if err != nil {
			return w, false, fmt.Errorf("reading last successful run: %w", err)
		}
		if last == nil {
			e.log.Info("no previous successful run, fetching full history")
			return w, true, nil
		}
		w.Start = truncateDay(*last).AddDate(0, 0, 1)
		if w.Start.After(today) {
			return w, false, nil
		}
		return w, true, nil
	default:
		return w, false, fmt.Errorf("unknown run mode %q", mode)
	}
}

// Full re-fetches the whole history. Existing rows are updated or skipped, so
// a full run is safe to repeat.
func (e *Engine) Full(ctx context.Context) (Result, error) {
	return e.run(ctx, model.ModeFull)
}

// Incremental fetches everything after the last successful run.
func (e *Engine) Incremental(ctx context.Context) (Result, error) {
	return e.run(ctx, model.ModeIncremental)
}

// run plans and executes one run, recording a trace span and metrics.
func (e *Engine) run(ctx context.Context, mode model.RunMode) (Result, error) {
	ctx, span := e.tracer.Start(ctx, spanRun, trace.WithAttributes(attribute.String("sync.mode", string(mode))))
	defer span.End()

	w, needed, err := e.Plan(ctx, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{Window: w, Phase: PhaseFailed, FailedIn: PhaseStarted, Status: model.StatusFailed}, err
	}
	if !needed {
		e.log.Info("database is up to date", "last_period", w.Start.AddDate(0, 0, -1).Format(model.DateLayout))
		span.SetAttributes(attribute.Bool("sync.up_to_date", true))
		return Result{Window: w, Phase: PhaseCompleted, Status: model.StatusSuccess, UpToDate: true}, nil
	}

	span.SetAttributes(
		attribute.String("sync.window.start", w.Start.Format(model.DateLayout)),
		attribute.String("sync.window.end", w.End.Format(model.DateLayout)),
	)

	res, err := e.syncer.Run(ctx, w)

	// Counters are recorded whether or not the run failed.
	c := res.Counts
	if c.Fetched > 0 {
		e.cntFetched.Add(ctx, int64(c.Fetched))
	}
	if c.Inserted > 0 {
		e.cntInserted.Add(ctx, int64(c.Inserted))
	}
	if c.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(c.Updated))
	}
	if c.Skipped > 0 {
		e.cntSkipped.Add(ctx, int64(c.Skipped))
	}
	if c.Errors > 0 {
		e.cntErrors.Add(ctx, int64(c.Errors))
	}
	e.cntRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("status", string(res.Status)),
	))

	span.SetAttributes(
		attribute.String("sync.run_id", res.RunID),
		attribute.String("sync.status", string(res.Status)),
		attribute.Int("sync.fetched", c.Fetched),
		attribute.Int("sync.inserted", c.Inserted),
		attribute.Int("sync.updated", c.Updated),
		attribute.Int("sync.skipped", c.Skipped),
		attribute.Int("sync.errors", c.Errors),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
