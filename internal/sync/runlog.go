package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/fewssync/internal/model"
)

// RunLogger opens an import_log entry at the start of a run and closes it
// exactly once at the end.
type RunLogger struct {
	store RunStore
	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// NewRunLogger returns a RunLogger writing to store.
func NewRunLogger(store RunStore, logger *slog.Logger) *RunLogger {
	return &RunLogger{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		log:   logger,
	}
}

// Open records the start of a run over w.
func (l *RunLogger) Open(ctx context.Context, w model.Window) (*model.ImportRun, error) {
	run := &model.ImportRun{
		RunID:     l.newID(),
		Mode:      w.Mode,
		StartedAt: l.now().UTC(),
		Window:    w,
	}
	if err := l.store.OpenRun(ctx, run); err != nil {
		return nil, fmt.Errorf("opening import log entry: %w", err)
	}
	l.log.Debug("import run opened", "run_id", run.RunID, "mode", run.Mode)
	return run, nil
}

// Close writes the final counts and derives the terminal status from them
// and runErr. The entry is written even when ctx is already cancelled.
func (l *RunLogger) Close(ctx context.Context, run *model.ImportRun, counts model.Counts, runErr error) error {
	finished := l.now().UTC()
	run.FinishedAt = &finished
	run.Counts = counts
	run.Status = runStatus(counts, runErr)
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}

	if err := l.store.CloseRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("closing import log entry %s: %w", run.RunID, err)
	}
	l.log.Debug("import run closed", "run_id", run.RunID, "status", run.Status)
	return nil
}

// runStatus is success for a clean run, partial when records failed or the
// run aborted after writing, and failed when it aborted before any write.
func runStatus(c model.Counts, runErr error) model.RunStatus {
	switch {
	case runErr == nil && c.Errors == 0:
		return model.StatusSuccess
	case runErr == nil:
		return model.StatusPartial
	case c.Inserted+c.Updated > 0:
		return model.StatusPartial
	default:
		return model.StatusFailed
	}
}
