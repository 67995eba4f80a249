package model

import "time"

// RunMode identifies how a sync run chose its date window.
type RunMode string

const (
	ModeFull        RunMode = "full"
	ModeIncremental RunMode = "incremental"
)

// RunStatus is the terminal (or open) state of an import_log entry.
type RunStatus string

const (
	// StatusRunning marks an entry that has been opened but not yet closed.
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	// StatusPartial means some rows were written but the run did not finish
	// cleanly, or individual records failed.
	StatusPartial RunStatus = "partial"
	StatusFailed  RunStatus = "failed"
)

// Window is the requested date range of a run. A zero Start or End means the
// bound is open.
type Window struct {
	Mode  RunMode
	Start time.Time
	End   time.Time
}

// Counts tallies what a run did with the records it fetched.
type Counts struct {
	Fetched  int
	Inserted int
	Updated  int
	Skipped  int
	// Errors counts skipped records whose skip was caused by a failure rather
	// than by an unchanged value. Errors is always <= Skipped.
	Errors int
}

// ImportRun is one row of the import_log table.
type ImportRun struct {
	ID           int64
	RunID        string
	Mode         RunMode
	StartedAt    time.Time
	FinishedAt   *time.Time
	Window       Window
	Counts       Counts
	Status       RunStatus
	ErrorMessage string
}

// DBStats summarises the contents of the database.
type DBStats struct {
	Observations int
	Markets      int
	Products     int
	Units        int
	Sources      int
	DateMin      *time.Time
	DateMax      *time.Time
}

// MarketSummary is a market as listed by the stats command.
type MarketSummary struct {
	ID     int64
	Name   string
	Admin1 string
}

// SeriesRow is one denormalised row of the v_price_series view.
type SeriesRow struct {
	ObservationID       int64
	Market              string
	Admin1              string
	Admin2              string
	Product             string
	Unit                string
	CommonUnit          string
	PriceType           string
	PeriodDate          time.Time
	Currency            string
	Value               float64
	CommonUnitPrice     *float64
	CommonCurrencyPrice *float64
	Source              string
}
