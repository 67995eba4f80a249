package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/fewssync/internal/fews"
	"github.com/njoerd114/fewssync/internal/model"
	"github.com/njoerd114/fewssync/internal/store"
)

// Phase is a step of a run. Runs move strictly forward:
// Started → Fetching → Transforming → Writing → Completed, or to Failed from
// any phase.
type Phase string

const (
	PhaseStarted      Phase = "started"
	PhaseFetching     Phase = "fetching"
	PhaseTransforming Phase = "transforming"
	PhaseWriting      Phase = "writing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// Result summarises one run. Counts are the best known at the point the run
// ended, including when it failed.
type Result struct {
	RunID  string
	Window model.Window
	Counts model.Counts
	Status model.RunStatus

	// Phase is the last phase entered; PhaseFailed when the run aborted.
	Phase Phase

	// FailedIn is the phase that was active when the run aborted.
	FailedIn Phase

	// UpToDate is set when an incremental run had nothing to fetch. No
	// import_log entry is written in that case.
	UpToDate bool
}

// Syncer executes a single run over a fixed window.
type Syncer struct {
	source Source
	mapper Mapper
	store  Store
	runs   *RunLogger
	log    *slog.Logger
}

// NewSyncer wires a Syncer to its collaborators.
func NewSyncer(source Source, mapper Mapper, st Store, logger *slog.Logger) *Syncer {
	return &Syncer{
		source: source,
		mapper: mapper,
		store:  st,
		runs:   NewRunLogger(st, logger),
		log:    logger,
	}
}

// Run fetches every page of w, maps the records and writes them. The
// import_log entry opened at the start is always closed before Run returns.
// A non-nil error means the run aborted; per-record failures only show up in
// Result.Counts.
func (s *Syncer) Run(ctx context.Context, w model.Window) (Result, error) {
	res := Result{Window: w, Phase: PhaseStarted}

	run, err := s.runs.Open(ctx, w)
	if err != nil {
		res.Phase, res.FailedIn, res.Status = PhaseFailed, PhaseStarted, model.StatusFailed
		return res, err
	}
	res.RunID = run.RunID

	log := s.log.With("run_id", run.RunID, "mode", w.Mode)
	log.Info("sync run started", "start", dateOrOpen(w.Start), "end", dateOrOpen(w.End))

	runErr := s.execute(ctx, w, &res, log)
	if runErr != nil {
		res.FailedIn = res.Phase
		res.Phase = PhaseFailed
	} else {
		res.Phase = PhaseCompleted
	}

	closeErr := s.runs.Close(ctx, run, res.Counts, runErr)
	res.Status = run.Status

	log.Info("sync run finished",
		"status", res.Status,
		"fetched", res.Counts.Fetched,
		"inserted", res.Counts.Inserted,
		"updated", res.Counts.Updated,
		"skipped", res.Counts.Skipped,
		"errors", res.Counts.Errors,
	)

	if closeErr != nil {
		log.Error("closing import log entry", "error", closeErr)
		return res, errors.Join(runErr, closeErr)
	}
	return res, runErr
}

// execute walks the phases. A panic is turned into an error so that the log
// entry can still be closed.
func (s *Syncer) execute(ctx context.Context, w model.Window, res *Result, log *slog.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sync panicked in %s phase: %v", res.Phase, p)
		}
	}()

	res.Phase = PhaseFetching
	raw, err := s.fetch(ctx, w, res, log)
	if err != nil {
		return err
	}

	res.Phase = PhaseTransforming
	records := s.transform(raw, res, log)

	res.Phase = PhaseWriting
	return s.write(ctx, records, res, log)
}

func (s *Syncer) fetch(ctx context.Context, w model.Window, res *Result, log *slog.Logger) ([]fews.Record, error) {
	var raw []fews.Record
	pages := 0
	for page, err := range s.source.Pages(ctx, fews.Query{Start: w.Start, End: w.End}) {
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", pages+1, err)
		}
		pages++
		raw = append(raw, page.Records...)
		res.Counts.Fetched += len(page.Records)
		log.Debug("page fetched", "page", page.Number, "records", len(page.Records), "fetched", res.Counts.Fetched)
	}
	log.Info("fetch complete", "pages", pages, "records", res.Counts.Fetched)
	return raw, nil
}

// transform maps raw records. Unmappable records are skipped with a logged
// reason; they are data problems upstream, not failures of the run.
func (s *Syncer) transform(raw []fews.Record, res *Result, log *slog.Logger) []model.Record {
	records := make([]model.Record, 0, len(raw))
	for i, r := range raw {
		rec, err := s.mapper.Map(r)
		if err != nil {
			res.Counts.Skipped++
			log.Warn("skipping record", "index", i, "market_id", r.MarketID, "product", r.Product, "reason", err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (s *Syncer) write(ctx context.Context, records []model.Record, res *Result, log *slog.Logger) error {
	resolver := NewResolver(s.store)
	upserter := NewUpserter(s.store)

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync cancelled: %w", err)
		}

		outcome, err := s.writeOne(ctx, resolver, upserter, rec)
		switch {
		case err == nil:
			switch outcome {
			case OutcomeInserted:
				res.Counts.Inserted++
			case OutcomeUpdated:
				res.Counts.Updated++
			default:
				res.Counts.Skipped++
			}

		case errors.Is(err, store.ErrConstraintViolation):
			res.Counts.Skipped++
			log.Warn("skipping record", "index", i, "reason", err)

		default:
			res.Counts.Skipped++
			res.Counts.Errors++
			log.Warn("skipping record", "index", i, "reason", err)
			if pingErr := s.store.Ping(ctx); pingErr != nil {
				return fmt.Errorf("database unavailable: %w", errors.Join(err, pingErr))
			}
		}
	}
	return nil
}

func (s *Syncer) writeOne(ctx context.Context, resolver *Resolver, upserter *Upserter, rec model.Record) (Outcome, error) {
	ids, err := resolver.Resolve(ctx, rec)
	if err != nil {
		return OutcomeSkipped, err
	}
	return upserter.Apply(ctx, ids, &rec.Observation)
}

func dateOrOpen(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format(model.DateLayout)
}
