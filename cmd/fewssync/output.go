package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/njoerd114/fewssync/internal/model"
	"github.com/njoerd114/fewssync/internal/store"
	syncp "github.com/njoerd114/fewssync/internal/sync"
)

// summaryLine renders the machine-readable result of a sync run.
func summaryLine(res syncp.Result) string {
	c := res.Counts
	status := res.Status
	if status == "" {
		status = model.StatusFailed
	}
	return fmt.Sprintf("fetched=%d inserted=%d updated=%d skipped=%d errors=%d status=%s",
		c.Fetched, c.Inserted, c.Updated, c.Skipped, c.Errors, status)
}

func printStats(w io.Writer, st *model.DBStats, markets []model.MarketSummary, products []string, runs []model.ImportRun) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "FEWS NET Database Statistics")
	fmt.Fprintln(w, rule)

	fmt.Fprintf(w, "\n  Total observations: %s\n", thousands(st.Observations))
	fmt.Fprintf(w, "  Total markets:      %d\n", st.Markets)
	fmt.Fprintf(w, "  Total products:     %d\n", st.Products)
	fmt.Fprintf(w, "  Date range:         %s to %s\n", dateOrNone(st.DateMin), dateOrNone(st.DateMax))

	fmt.Fprintln(w, "\n  Markets:")
	for _, m := range markets {
		fmt.Fprintf(w, "    - %s (%s)\n", m.Name, m.Admin1)
	}

	fmt.Fprintln(w, "\n  Products:")
	for _, p := range products {
		fmt.Fprintf(w, "    - %s\n", p)
	}

	fmt.Fprintln(w, "\n  Recent imports:")
	if len(runs) == 0 {
		fmt.Fprintln(w, "    (none)")
	}
	for _, r := range runs {
		fmt.Fprintf(w, "    %s  %-11s %d fetched, %d inserted, %d updated (%s)  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Mode,
			r.Counts.Fetched, r.Counts.Inserted, r.Counts.Updated, r.Status, r.RunID)
	}
}

func printRun(w io.Writer, r *model.ImportRun) {
	fmt.Fprintf(w, "Run:       %s (%s)\n", r.RunID, r.Mode)
	fmt.Fprintf(w, "Started:   %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if r.FinishedAt != nil {
		fmt.Fprintf(w, "Finished:  %s\n", r.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Window:    %s to %s\n", dateOrOpen(r.Window.Start), dateOrOpen(r.Window.End))
	fmt.Fprintf(w, "Status:    %s\n", r.Status)
	c := r.Counts
	fmt.Fprintf(w, "Records:   fetched=%d inserted=%d updated=%d skipped=%d errors=%d\n",
		c.Fetched, c.Inserted, c.Updated, c.Skipped, c.Errors)
	if r.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:     %s\n", r.ErrorMessage)
	}
}

func dateOrOpen(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format(model.DateLayout)
}

// printTable renders a query result as aligned columns followed by the row
// count.
func printTable(w io.Writer, res *store.QueryResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	seps := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		seps[i] = strings.Repeat("-", max(3, len(c)))
	}
	fmt.Fprintln(tw, strings.Join(seps, "\t"))
	for _, row := range res.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n(%d rows)\n", len(res.Rows))
}

func dateOrNone(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(model.DateLayout)
}

var numbers = message.NewPrinter(language.English)

// thousands formats n with comma separators.
func thousands(n int) string {
	return numbers.Sprintf("%d", n)
}
