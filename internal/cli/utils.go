// Package cli renders search results, cache stats, and index reports for the
// gazou command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hyperjump/gazou/internal/indexer"
	"github.com/hyperjump/gazou/internal/models"
	"github.com/hyperjump/gazou/internal/vectorcache"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("invalid output format %q (use text or json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (model: %s)\n", response.Total, response.QueryTime, response.Model)
	if response.Skipped > 0 {
		fmt.Fprintf(w, "Skipped %d cached embeddings that could not be compared\n", response.Skipped)
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		fmt.Fprintf(w, "%3d. %.4f  %s\n", result.Rank, result.Score, result.Path)
	}
	return nil
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteStats writes stats for one or more model namespaces.
func WriteStats(w io.Writer, stats []vectorcache.Stats, format OutputFormat) error {
	if format == OutputJSON {
		if len(stats) == 1 {
			return writeJSON(w, stats[0])
		}
		return writeJSON(w, stats)
	}
	if len(stats) == 0 {
		fmt.Fprintln(w, "No cached models")
		return nil
	}
	for i, s := range stats {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Model:  %s\n", s.Model)
		fmt.Fprintf(w, "Images: %d\n", s.ImageCount)
		fmt.Fprintf(w, "Size:   %s\n", FormatBytes(s.CacheSizeBytes))
		if len(s.Folders) > 0 {
			fmt.Fprintln(w, "Folders:")
			for _, f := range s.Folders {
				fmt.Fprintf(w, "  %s\n", f)
			}
		}
	}
	return nil
}

// WriteIndexReport writes the summary of an embedding batch.
func WriteIndexReport(w io.Writer, report *indexer.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Embedded %d of %d images in %s", report.Processed, report.Total, report.Duration.Round(time.Millisecond))
	if report.Skipped > 0 {
		fmt.Fprintf(w, " (%d already cached)", report.Skipped)
	}
	fmt.Fprintln(w)
	if report.Canceled {
		fmt.Fprintln(w, "Canceled before all images were processed")
	}
	if report.Failed > 0 {
		fmt.Fprintf(w, "%d failed:\n", report.Failed)
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s: %s\n", f.Path, Truncate(f.Error, 120))
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
