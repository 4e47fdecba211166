package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	"vidbatch/internal/batch"
	"vidbatch/internal/store"
)

// DefaultColWidth bounds table columns unless the caller overrides it.
const DefaultColWidth uint = 60

// SummaryTable renders the end-of-run report.
func SummaryTable(s batch.Summary) string {
	tbl := uitable.New()
	tbl.AddRow("--- Download Summary ---")
	tbl.AddRow("Processed lines:", strconv.Itoa(s.TotalLines))
	tbl.AddRow("Successfully downloaded:", strconv.Itoa(s.Downloaded))
	tbl.AddRow("Skipped (already existed):", strconv.Itoa(s.Skipped))
	tbl.AddRow("Errors during download:", strconv.Itoa(s.Errored))
	tbl.AddRow("Skipped lines (format issues):", strconv.Itoa(s.Malformed))
	if s.Interrupted {
		tbl.AddRow("Status:", "interrupted")
	}
	if s.RunID != "" {
		tbl.AddRow("Run:", ShortID(s.RunID))
	}
	tbl.AddRow("Elapsed:", s.Elapsed.Round(time.Millisecond).String())
	tbl.AddRow("Videos stored in:", s.OutputDir)
	return tbl.String()
}

// RunsTable renders one row per run, most recent first.
func RunsTable(runs []store.Run, colWidth uint) string {
	tbl := newTable(colWidth)
	tbl.AddRow("RUN", "STARTED", "STATUS", "LINES", "DOWNLOADED", "SKIPPED", "ERRORED", "MALFORMED", "MANIFEST")
	for _, r := range runs {
		tbl.AddRow(
			ShortID(r.ID),
			humanize.Time(r.StartedAt),
			r.Status,
			r.Totals.TotalLines,
			r.Totals.Downloaded,
			r.Totals.Skipped,
			r.Totals.Errored,
			r.Totals.Malformed,
			r.Manifest,
		)
	}
	return tbl.String()
}

// EntriesTable renders the per-line results of a run.
func EntriesTable(entries []store.Entry, colWidth uint) string {
	tbl := newTable(colWidth)
	tbl.AddRow("LINE", "NAME", "OUTCOME", "SIZE", "DETAIL")
	for _, e := range entries {
		size := "-"
		if e.SizeBytes > 0 {
			size = humanize.Bytes(uint64(e.SizeBytes))
		}
		name := e.Name
		if name == "" {
			name = "-"
		}
		tbl.AddRow(e.Line, TruncateWithEllipsis(name, int(width(colWidth))), e.Outcome, size, e.ErrorMessage)
	}
	return tbl.String()
}

// EncodeJSON writes v as indented JSON.
func EncodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("unable to write JSON output: %w", err)
	}
	return nil
}

func newTable(colWidth uint) *uitable.Table {
	tbl := uitable.New()
	tbl.MaxColWidth = width(colWidth)
	return tbl
}

func width(colWidth uint) uint {
	if colWidth == 0 {
		return DefaultColWidth
	}
	return colWidth
}
