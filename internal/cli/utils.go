// Package cli provides CLI output helpers for utsushi.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/hyperjump/utsushi/internal/indexer"
	"github.com/hyperjump/utsushi/internal/models"
	"github.com/hyperjump/utsushi/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact prints one search result per line.
	OutputCompact OutputFormat = "compact"
)

// ParseOutputFormat validates s against the formats a command accepts.
func ParseOutputFormat(s string, allowed ...OutputFormat) (OutputFormat, error) {
	for _, f := range allowed {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for i, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.6f\t%s\t%s\n", i+1, r.Distance, r.ID, r.URL)
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d similar images in %dms\n\n", response.Total, response.QueryTime)
	for i, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Distance: %.4f\n", i+1, r.Distance)
		fmt.Fprintf(w, "ID:  %s\n", r.ID)
		fmt.Fprintf(w, "URL: %s\n", utils.Truncate(r.URL, 200))
	}
	if len(response.Results) > 0 {
		fmt.Fprintln(w)
	}
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteStatus writes a status report.
func WriteStatus(w io.Writer, status *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "state:              %s\n", status.State)
	fmt.Fprintf(w, "records:            %d   # images in the collection\n", status.Records)
	fmt.Fprintf(w, "dimensions:         %d\n", status.Dimensions)
	fmt.Fprintf(w, "index_type:         %s\n", status.IndexType)
	fmt.Fprintf(w, "catalog_count:      %d   # uploads recorded in the catalog\n", status.CatalogCount)
	fmt.Fprintf(w, "backing_files:      %d   # image files on disk\n", status.BackingFiles)
	fmt.Fprintf(w, "disk_usage:         %s\n", HumanBytes(status.DiskUsageBytes))
	return nil
}

// WriteImportStats writes the outcome of a bulk import.
func WriteImportStats(w io.Writer, dir string, stats indexer.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, struct {
			Dir string `json:"dir"`
			indexer.Stats
		}{dir, stats})
	}
	fmt.Fprintf(w, "Imported %d image(s) from %s (%d skipped, %d failed)\n",
		stats.Imported, dir, stats.Skipped, stats.Failed)
	return nil
}

// WriteReconcile writes the outcome of a reconciliation run.
func WriteReconcile(w io.Writer, res *models.ReconcileResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Reconciled in %dms: %d -> %d record(s)\n", res.DurationMS, res.Before, res.After)
	for _, id := range res.Removed {
		fmt.Fprintf(w, "  removed %s\n", id)
	}
	return nil
}

// HumanBytes formats n with a binary unit suffix.
func HumanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
