package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/njoerd114/fewssync/internal/model"
)

// ErrRunClosed is returned when closing an import_log entry that is no longer
// running.
var ErrRunClosed = errors.New("import run already closed")

// OpenRun inserts run with status running and sets run.ID.
func (s *Store) OpenRun(ctx context.Context, run *model.ImportRun) error {
	const q = `
		INSERT INTO import_log
		    (run_id, mode, import_date, date_range_start, date_range_end, status)
		VALUES (?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		run.RunID,
		string(run.Mode),
		formatTime(run.StartedAt),
		windowBound(run.Window.Start),
		windowBound(run.Window.End),
		string(model.StatusRunning),
	)
	if err != nil {
		return classify("opening import run "+run.RunID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return &WriteError{Op: "opening import run " + run.RunID, Err: err}
	}
	run.ID = id
	run.Status = model.StatusRunning
	return nil
}

// CloseRun writes the final counts and status of run. An entry can be closed
// exactly once; later attempts return [ErrRunClosed].
func (s *Store) CloseRun(ctx context.Context, run *model.ImportRun) error {
	if run.Status == model.StatusRunning {
		return fmt.Errorf("closing import run %s: status must be terminal", run.RunID)
	}
	const q = `
		UPDATE import_log SET
		    finished_at      = ?,
		    records_fetched  = ?,
		    records_inserted = ?,
		    records_updated  = ?,
		    records_skipped  = ?,
		    records_errored  = ?,
		    status           = ?,
		    error_message    = ?
		WHERE id = ? AND status = 'running'`

	var msg any
	if run.ErrorMessage != "" {
		msg = run.ErrorMessage
	}
	res, err := s.db.ExecContext(ctx, q,
		nullTime(run.FinishedAt),
		run.Counts.Fetched,
		run.Counts.Inserted,
		run.Counts.Updated,
		run.Counts.Skipped,
		run.Counts.Errors,
		string(run.Status),
		msg,
		run.ID,
	)
	if err != nil {
		return classify("closing import run "+run.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("closing import run %s: %w", run.RunID, ErrRunClosed)
	}
	return nil
}

// LastSuccessfulRangeEnd returns the date_range_end of the most recent
// successful run, or nil when there is none.
func (s *Store) LastSuccessfulRangeEnd(ctx context.Context) (*time.Time, error) {
	const q = `
		SELECT date_range_end FROM import_log
		WHERE status = 'success' AND date_range_end IS NOT NULL
		ORDER BY id DESC
		LIMIT 1`

	var end string
	err := s.db.QueryRowContext(ctx, q).Scan(&end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("reading last successful run: %w", err)
	}
	t, err := parseDate(end)
	if err != nil {
		return nil, fmt.Errorf("parsing date_range_end %q: %w", end, err)
	}
	return &t, nil
}

// RecentRuns returns up to limit import_log entries, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	const q = `
		SELECT id, run_id, mode, import_date, finished_at, date_range_start, date_range_end,
		       records_fetched, records_inserted, records_updated, records_skipped, records_errored,
		       status, error_message
		FROM import_log
		ORDER BY id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("querying import log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.ImportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns the import_log entry with the given run id, or (nil, nil).
func (s *Store) GetRun(ctx context.Context, runID string) (*model.ImportRun, error) {
	const q = `
		SELECT id, run_id, mode, import_date, finished_at, date_range_start, date_range_end,
		       records_fetched, records_inserted, records_updated, records_skipped, records_errored,
		       status, error_message
		FROM import_log WHERE run_id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, q, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func scanRun(s scanner) (model.ImportRun, error) {
	var (
		run                       model.ImportRun
		mode, status, started     string
		finished, start, end, msg sql.NullString
	)
	err := s.Scan(
		&run.ID,
		&run.RunID,
		&mode,
		&started,
		&finished,
		&start,
		&end,
		&run.Counts.Fetched,
		&run.Counts.Inserted,
		&run.Counts.Updated,
		&run.Counts.Skipped,
		&run.Counts.Errors,
		&status,
		&msg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return run, err
	}
	if err != nil {
		return run, fmt.Errorf("scanning import log row: %w", err)
	}

	run.Mode = model.RunMode(mode)
	run.Window.Mode = run.Mode
	run.Status = model.RunStatus(status)
	run.StartedAt, _ = parseTime(started)
	run.FinishedAt = timePtr(finished)
	if t := datePtr(start); t != nil {
		run.Window.Start = *t
	}
	if t := datePtr(end); t != nil {
		run.Window.End = *t
	}
	run.ErrorMessage = msg.String
	return run, nil
}

func windowBound(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatDate(t)
}
